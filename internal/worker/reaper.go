// Package worker runs the background sweep that reclaims abandoned
// queue entries booth-wide.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talenthall/backend/config"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/internal/realtime"
	"github.com/talenthall/backend/pkg/metrics"
)

// EntryStore is the slice of the queue store the reaper needs.
type EntryStore interface {
	StaleEntries(ctx context.Context, statuses []models.QueueStatus, before time.Time) ([]models.QueueEntry, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.QueueStatus, now time.Time) (bool, error)
}

// CallChecker answers whether an entry's call is still live.
type CallChecker interface {
	HasActiveCallForEntry(ctx context.Context, entryID uuid.UUID) (bool, error)
}

// Reaper periodically reclaims entries whose owners silently
// disappeared. It is deliberately conservative: the sweep threshold is
// hours where the admission-time checks are minutes, so it only
// catches what admission never got a chance to.
type Reaper struct {
	store  EntryStore
	calls  CallChecker
	bc     realtime.Broadcaster
	cfg    config.QueueConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewReaper creates a reaper.
func NewReaper(store EntryStore, calls CallChecker, bc realtime.Broadcaster, cfg config.QueueConfig, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, calls: calls, bc: bc, cfg: cfg, logger: logger, now: time.Now}
}

// Run sweeps on the configured interval until the context is
// cancelled. One sweep runs immediately on start.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started",
		zap.Duration("interval", r.cfg.ReaperInterval),
		zap.Duration("threshold", r.cfg.ReaperThreshold))

	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	if n, err := r.Sweep(ctx); err != nil {
		r.logger.Error("sweep failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("sweep reclaimed entries", zap.Int("count", n))
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("sweep reclaimed entries", zap.Int("count", n))
			}
		}
	}
}

// Sweep reclaims waiting and in_meeting entries idle beyond the
// threshold. An in_meeting entry is re-checked against the live call
// table immediately before reclamation; a live call always wins.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.cfg.ReaperThreshold)
	stale, err := r.store.StaleEntries(ctx, []models.QueueStatus{models.QueueWaiting, models.QueueInMeeting}, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for i := range stale {
		e := &stale[i]
		if e.Status == models.QueueInMeeting {
			active, err := r.calls.HasActiveCallForEntry(ctx, e.ID)
			if err != nil {
				r.logger.Warn("call check failed, keeping entry",
					zap.String("entry_id", e.ID.String()), zap.Error(err))
				continue
			}
			if active {
				continue
			}
		}
		ok, err := r.store.TransitionStatus(ctx, e.ID, e.Status, models.QueueLeft, now)
		if err != nil {
			r.logger.Warn("reclaim failed", zap.String("entry_id", e.ID.String()), zap.Error(err))
			continue
		}
		if !ok {
			// Someone moved the entry since we listed it.
			continue
		}
		reclaimed++
		metrics.TrackReclaim(string(e.Status))
		payload := map[string]interface{}{
			"action":   realtime.ActionLeft,
			"entry_id": e.ID,
			"booth_id": e.BoothID,
			"status":   models.QueueLeft,
		}
		r.bc.Publish(realtime.BoothWaitingTopic(e.BoothID), realtime.EventQueueUpdated, payload)
		r.bc.Publish(realtime.BoothManagementTopic(e.BoothID), realtime.EventQueueUpdated, payload)
	}
	return reclaimed, nil
}
