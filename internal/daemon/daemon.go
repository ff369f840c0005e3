// Package daemon supervises the message source adapter. It guarantees at
// most one authoritative adapter by biasing toward adoption: it spawns a
// new process only after nobody announces themselves on the heartbeat
// channel. Every relayed status is stamped with the daemon's own process
// id so downstream consumers always see the daemon as the authority.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/galnet/marketsync/internal/bus"
	"github.com/galnet/marketsync/internal/model"
)

// Default supervision windows. Deliberately slow: an adapter crash is only
// detected via heartbeat silence, and the daemon never restarts more
// aggressively than these windows, to avoid restart storms.
const (
	DefaultAdoptWait         = 60 * time.Second
	DefaultRetryInterval     = 10 * time.Second
	DefaultRetries           = 3
	DefaultSilenceThreshold  = 180 * time.Second
	DefaultRepublishInterval = 5 * time.Second
	DefaultReceiveTimeout    = 1 * time.Second
)

// Daemon relays adapter heartbeats onto the status channel and respawns
// the adapter when it falls silent.
type Daemon struct {
	Bus        bus.Bus
	AdapterCmd []string

	AdoptWait         time.Duration
	RetryInterval     time.Duration
	Retries           int
	SilenceThreshold  time.Duration
	RepublishInterval time.Duration
	ReceiveTimeout    time.Duration

	// Spawn starts a new adapter process. Overridable in tests; the
	// default execs AdapterCmd and relays its output.
	Spawn func(ctx context.Context) error

	pid        int
	adapterPID int // last spawned adapter pid, for crash-recovery visibility
}

// New creates a daemon with production supervision windows.
func New(b bus.Bus, adapterCmd []string) *Daemon {
	d := &Daemon{
		Bus:               b,
		AdapterCmd:        adapterCmd,
		AdoptWait:         DefaultAdoptWait,
		RetryInterval:     DefaultRetryInterval,
		Retries:           DefaultRetries,
		SilenceThreshold:  DefaultSilenceThreshold,
		RepublishInterval: DefaultRepublishInterval,
		ReceiveTimeout:    DefaultReceiveTimeout,
		pid:               os.Getpid(),
	}
	d.Spawn = d.execAdapter
	return d
}

// Run supervises until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	sub, err := d.Bus.Subscribe(ctx, bus.HeartbeatChannel)
	if err != nil {
		return err
	}
	defer sub.Close()

	var lastStatus *model.StatusRecord
	if hb := d.ensureAdapter(ctx, sub); hb != nil {
		lastStatus = d.relay(ctx, hb)
	}

	lastSeen := time.Now()
	var lastPublish time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, err := sub.Receive(ctx, d.ReceiveTimeout)
		switch {
		case err == nil:
			if rec := parseHeartbeat(payload); rec != nil {
				lastStatus = d.relay(ctx, rec)
				lastSeen = time.Now()
				lastPublish = time.Now()
			}
		case errors.Is(err, bus.ErrTimeout):
			// Idle; fall through to the periodic checks.
		case ctx.Err() != nil:
			return nil
		default:
			slog.Warn("heartbeat receive failed", "err", err)
		}

		// Keep idle observers fed with the last-known status.
		if lastStatus != nil && time.Since(lastPublish) >= d.RepublishInterval {
			d.publish(ctx, *lastStatus)
			lastPublish = time.Now()
		}

		if time.Since(lastSeen) > d.SilenceThreshold {
			slog.Warn("adapter silent beyond threshold, rediscovering",
				"silence", time.Since(lastSeen).Round(time.Second),
				"last_spawned_pid", d.adapterPID)
			d.publish(ctx, model.StatusRecord{
				State: model.StateOffline, OwnerPID: d.pid, ReceivedAt: time.Now().UTC(),
			})
			if hb := d.ensureAdapter(ctx, sub); hb != nil {
				lastStatus = d.relay(ctx, hb)
			}
			lastSeen = time.Now()
		}
	}
}

// ensureAdapter makes sure exactly one adapter exists: wait for a
// self-announcement, retry the discovery a few times, and only then
// spawn. Returns the adopted heartbeat, if any, so it gets relayed.
func (d *Daemon) ensureAdapter(ctx context.Context, sub bus.Subscription) *model.StatusRecord {
	if hb := d.awaitHeartbeat(ctx, sub, d.AdoptWait); hb != nil {
		slog.Info("adopted running adapter", "adapter_pid", hb.OwnerPID, "token", hb.Token)
		return hb
	}

	for i := 0; i < d.Retries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		slog.Info("no adapter announcement, retrying discovery", "attempt", i+1)
		if hb := d.awaitHeartbeat(ctx, sub, d.RetryInterval); hb != nil {
			slog.Info("adopted running adapter", "adapter_pid", hb.OwnerPID, "token", hb.Token)
			return hb
		}
	}

	slog.Info("spawning new adapter")
	if err := d.Spawn(ctx); err != nil {
		slog.Error("adapter spawn failed", "err", err)
	}
	return nil
}

// awaitHeartbeat waits up to window for one parseable heartbeat.
func (d *Daemon) awaitHeartbeat(ctx context.Context, sub bus.Subscription, window time.Duration) *model.StatusRecord {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining > d.ReceiveTimeout {
			remaining = d.ReceiveTimeout
		}
		payload, err := sub.Receive(ctx, remaining)
		if err == nil {
			if rec := parseHeartbeat(payload); rec != nil {
				return rec
			}
			continue
		}
		if !errors.Is(err, bus.ErrTimeout) {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("heartbeat receive failed", "err", err)
		}
	}
	return nil
}

// relay stamps the daemon as owner and republishes immediately.
func (d *Daemon) relay(ctx context.Context, rec *model.StatusRecord) *model.StatusRecord {
	rec.OwnerPID = d.pid
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	d.publish(ctx, *rec)
	return rec
}

func (d *Daemon) publish(ctx context.Context, rec model.StatusRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := d.Bus.Publish(ctx, bus.StatusChannel, payload); err != nil {
		slog.Warn("status publish failed", "err", err)
	}
}

func parseHeartbeat(payload []byte) *model.StatusRecord {
	var rec model.StatusRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		slog.Warn("dropping malformed heartbeat", "err", err)
		return nil
	}
	return &rec
}

// execAdapter spawns the configured adapter command, relays its output
// into the daemon's log, and records its pid.
func (d *Daemon) execAdapter(ctx context.Context) error {
	if len(d.AdapterCmd) == 0 {
		return errors.New("no adapter command configured")
	}

	cmd := exec.CommandContext(ctx, d.AdapterCmd[0], d.AdapterCmd[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	d.adapterPID = cmd.Process.Pid
	slog.Info("adapter spawned", "adapter_pid", d.adapterPID)

	go relayOutput("adapter stdout", stdout)
	go relayOutput("adapter stderr", stderr)
	go func() {
		// Reap; restart decisions are driven by heartbeat silence alone.
		if err := cmd.Wait(); err != nil {
			slog.Warn("adapter exited", "err", err)
		}
	}()
	return nil
}

func relayOutput(label string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		slog.Info(label, "line", sc.Text())
	}
}
