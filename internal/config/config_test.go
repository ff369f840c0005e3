package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8090" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.FlushInterval != 10*time.Second {
		t.Errorf("flush interval = %v", cfg.FlushInterval)
	}
	if len(cfg.RedisAddrs) != 1 || cfg.RedisAddrs[0] != "localhost:6379" {
		t.Errorf("redis addrs = %v", cfg.RedisAddrs)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("FLUSH_INTERVAL", "30s")
	t.Setenv("REDIS_URL", "redis-a:6379, redis-b:6379")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Errorf("flush interval = %v", cfg.FlushInterval)
	}
	if !reflect.DeepEqual(cfg.RedisAddrs, []string{"redis-a:6379", "redis-b:6379"}) {
		t.Errorf("redis addrs = %v", cfg.RedisAddrs)
	}
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	t.Setenv("FLUSH_INTERVAL", "not a duration")
	if cfg := Load(); cfg.FlushInterval != 10*time.Second {
		t.Errorf("flush interval = %v", cfg.FlushInterval)
	}
}
