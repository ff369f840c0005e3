package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/galnet/marketsync/internal/metrics"
	"github.com/galnet/marketsync/internal/model"
	"github.com/galnet/marketsync/internal/store"
)

// PowerBuffer accumulates the latest controlling-power declaration per
// system. Same overwrite semantics as the commodity buffer.
type PowerBuffer struct {
	decls map[string]model.PowerDeclaration
}

// NewPowerBuffer creates an empty buffer.
func NewPowerBuffer() *PowerBuffer {
	return &PowerBuffer{decls: make(map[string]model.PowerDeclaration)}
}

// Accept stores a declaration, overwriting any earlier one for the system.
func (b *PowerBuffer) Accept(decl model.PowerDeclaration) {
	b.decls[store.DirectoryKey(decl.SystemName, "")] = decl
}

// Len returns the number of buffered systems.
func (b *PowerBuffer) Len() int { return len(b.decls) }

// Flush writes every buffered declaration that differs from the stored
// value, all in one transaction. Returns the number of systems changed.
// On error the buffer is retained for the next cycle.
func (b *PowerBuffer) Flush(ctx context.Context, st store.Store) (int, error) {
	if len(b.decls) == 0 {
		return 0, nil
	}

	var changed []model.PowerDeclaration
	for _, decl := range b.decls {
		power, state, err := st.GetSystemPower(ctx, decl.SystemName)
		if errors.Is(err, store.ErrSystemUnknown) {
			metrics.FramesSkipped.WithLabelValues("unknown_system").Inc()
			slog.Warn("skipping unknown system", "system", decl.SystemName)
			continue
		}
		if err != nil {
			return 0, err
		}
		if power == decl.Power && state == decl.PowerState {
			continue
		}
		changed = append(changed, decl)
	}

	if len(changed) > 0 {
		start := time.Now()
		err := st.UpdateSystemPowers(ctx, changed)
		metrics.FlushDuration.WithLabelValues("power").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.FlushFailures.WithLabelValues("power").Inc()
			return 0, err
		}
		metrics.PowersChanged.Add(float64(len(changed)))
	}

	b.decls = make(map[string]model.PowerDeclaration)
	return len(changed), nil
}
