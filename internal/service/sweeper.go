package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/config"
	"github.com/vesabooks/printapi/internal/metrics"
	"github.com/vesabooks/printapi/internal/repository"
)

const sweepBatchLimit = 100

var sweepMu sync.Mutex

// RunReconciliationSweepOnce polls the fulfiller for print orders that have
// been stuck in creating beyond the configured threshold and feeds the
// current status through the reconciler. The transient-retry path otherwise
// depends entirely on the fulfiller re-sending callbacks; this sweep is the
// active fallback for when it does not.
// Does not block; logs errors per order.
func RunReconciliationSweepOnce(ctx context.Context, cfg config.SweepConfig, repos *repository.Repositories, reconciler *Reconciler, gw FulfillerGateway, logger *zap.Logger) {
	cutoff := time.Now().Add(-cfg.StuckThreshold)
	stuck, err := repos.PrintOrder.ListStuckCreating(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		logger.Error("Sweep: failed to list stuck print orders", zap.Error(err))
		return
	}
	if len(stuck) == 0 {
		logger.Debug("Sweep: no stuck print orders")
		return
	}

	// Many print orders share one fulfiller order; poll each batch once.
	seen := make(map[string]bool)
	for _, po := range stuck {
		if po.FulfillerOrderID == nil || *po.FulfillerOrderID == "" {
			continue
		}
		fulfillerOrderID := *po.FulfillerOrderID
		if seen[fulfillerOrderID] {
			continue
		}
		seen[fulfillerOrderID] = true

		payload, err := gw.GetOrder(ctx, fulfillerOrderID)
		if err != nil {
			logger.Warn("Sweep: fulfiller status poll failed",
				zap.String("fulfiller_order_id", fulfillerOrderID), zap.Error(err))
			continue
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("Sweep: failed to re-encode fulfiller status payload",
				zap.String("fulfiller_order_id", fulfillerOrderID), zap.Error(err))
			continue
		}

		event, err := payload.ToEvent(raw)
		if err != nil {
			logger.Warn("Sweep: unusable fulfiller status payload",
				zap.String("fulfiller_order_id", fulfillerOrderID), zap.Error(err))
			continue
		}

		if err := reconciler.HandleEvent(ctx, event); err != nil {
			logger.Error("Sweep: reconciliation failed",
				zap.String("fulfiller_order_id", fulfillerOrderID), zap.Error(err))
			continue
		}

		metrics.SweepRecoveries.Inc()
		logger.Info("Sweep: re-drove stuck print order batch",
			zap.String("fulfiller_order_id", fulfillerOrderID),
			zap.String("stage", string(event.Stage)))
	}
}

// RunReconciliationSweepLoop runs the sweep once, then every interval. Call
// from a goroutine.
func RunReconciliationSweepLoop(ctx context.Context, cfg config.SweepConfig, repos *repository.Repositories, reconciler *Reconciler, gw FulfillerGateway, logger *zap.Logger) {
	sweepMu.Lock()
	RunReconciliationSweepOnce(ctx, cfg, repos, reconciler, gw, logger)
	sweepMu.Unlock()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepMu.Lock()
			RunReconciliationSweepOnce(ctx, cfg, repos, reconciler, gw, logger)
			sweepMu.Unlock()
		}
	}
}
