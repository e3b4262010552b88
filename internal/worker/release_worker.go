package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/observability"
	"github.com/voyagepay/settlement-engine/internal/service"
)

// ReleaseWorker sweeps held escrows whose hold windows have expired and
// releases them. Safe to run alongside manual releases and other instances;
// the per-escrow row lock decides every race.
type ReleaseWorker struct {
	escrows  *service.EscrowService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReleaseWorker constructs a worker with a default two-minute sweep.
func NewReleaseWorker(escrows *service.EscrowService) *ReleaseWorker {
	return &ReleaseWorker{
		escrows:  escrows,
		interval: 2 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *ReleaseWorker) WithInterval(interval time.Duration) *ReleaseWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *ReleaseWorker) Start(ctx context.Context) {
	zap.L().Info("release worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("release worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("release worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *ReleaseWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// RunOnce performs a single sweep immediately. Used by tests.
func (w *ReleaseWorker) RunOnce(ctx context.Context) (int, error) {
	return w.escrows.ProcessAutoReleases(ctx)
}

func (w *ReleaseWorker) runOnce(ctx context.Context) {
	released, err := w.escrows.ProcessAutoReleases(ctx)
	if err != nil {
		observability.RecordWorkerRun("release", "error")
		zap.L().Error("escrow release sweep failed", zap.Error(err))
		return
	}
	observability.RecordWorkerRun("release", "ok")
	if released > 0 {
		zap.L().Info("escrow release sweep finished", zap.Int("released", released))
	}
}
