package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"outreach-engine/internal/engine"
	"outreach-engine/internal/payout"
)

// dedupTTL keeps per-payout dispatch markers long enough to survive any
// realistic crash-and-restart gap.
const dedupTTL = 30 * 24 * time.Hour

// Releaser periodically releases due payouts and queues them for the
// external payment pipeline on a redis list. A redis marker per payout
// keeps a crashed run from queueing the same row twice.
type Releaser struct {
	log      *zap.Logger
	engine   *engine.Engine
	rdb      *redis.Client
	interval time.Duration
	queueKey string
}

func NewReleaser(log *zap.Logger, eng *engine.Engine, rdb *redis.Client, interval time.Duration, queueKey string) *Releaser {
	return &Releaser{
		log:      log,
		engine:   eng,
		rdb:      rdb,
		interval: interval,
		queueKey: queueKey,
	}
}

// Run blocks until ctx is cancelled. The first cycle runs immediately.
func (r *Releaser) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("payout release worker started", zap.Duration("interval", r.interval))
	r.release(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("payout release worker stopping")
			return ctx.Err()
		case <-ticker.C:
			r.release(ctx)
		}
	}
}

func (r *Releaser) release(ctx context.Context) {
	now := time.Now().UTC()
	if _, err := r.engine.ReleasablePayouts(now); err != nil {
		r.log.Error("releasable payouts query failed", zap.Error(err))
		return
	}
	// Queue from the full released backlog, not just the rows released this
	// cycle: a push that failed last time left no dedup marker, so the row
	// comes around again here instead of stranding.
	payouts, err := r.engine.OutstandingPayouts()
	if err != nil {
		r.log.Error("outstanding payouts query failed", zap.Error(err))
		return
	}

	queued := 0
	for _, p := range payouts {
		key := fmt.Sprintf("dispatched_%s_%d", p.Kind, p.ID)
		exists, err := r.rdb.Exists(ctx, key).Result()
		if err != nil {
			r.log.Error("redis dedup check failed", zap.Error(err))
			continue
		}
		if exists != 0 {
			continue
		}
		payload, err := json.Marshal(p)
		if err != nil {
			r.log.Error("marshal payout", zap.Error(err))
			continue
		}
		if err := r.rdb.LPush(ctx, r.queueKey, payload).Err(); err != nil {
			r.log.Error("queue payout for dispatch", zap.Error(err))
			continue
		}
		r.rdb.Set(ctx, key, "true", dedupTTL)
		queued++
	}
	if queued > 0 {
		r.log.Info("queued payouts for dispatch",
			zap.Int("queued", queued),
			zap.Int("outstanding", len(payouts)))
	}
}

// Confirm marks externally dispatched payouts as paid. Failed dispatches are
// simply not confirmed; the rows stay released and retryable.
func (r *Releaser) Confirm(refs []payout.Ref) error {
	return r.engine.MarkPaid(refs)
}
