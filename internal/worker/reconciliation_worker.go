package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voyagepay/settlement-engine/internal/observability"
	"github.com/voyagepay/settlement-engine/internal/service"
)

// ReconciliationWorker periodically audits stale payment intents against the
// gateway's authoritative state.
type ReconciliationWorker struct {
	svc      *service.ReconciliationService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciliationWorker constructs a worker with a default five-minute
// interval.
func NewReconciliationWorker(svc *service.ReconciliationService) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: 5 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and reconciles at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	updated, err := w.svc.ReconcileStaleIntents(ctx)
	if err != nil {
		observability.RecordWorkerRun("reconciliation", "error")
		zap.L().Error("intent reconciliation failed", zap.Error(err))
		return
	}
	observability.RecordWorkerRun("reconciliation", "ok")
	if updated > 0 {
		zap.L().Info("intent reconciliation finished", zap.Int("updated", updated))
	}
}
