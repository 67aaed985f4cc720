package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stirka/internal/booking"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverFlowRepository serves from primary and switches to fallback
// while primary is failing. Every recoveryInterval one request probes
// primary again. Users whose flow changed during an outage are pending:
// the fallback holds their latest flow (or its absence) until it is
// copied back into primary.
type FailoverFlowRepository struct {
	primary  booking.FlowStore
	fallback booking.FlowStore
	logger   zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	pending   map[int64]struct{}
}

func NewFailoverFlowRepository(primary, fallback booking.FlowStore, logger *zerolog.Logger) *FailoverFlowRepository {
	return &FailoverFlowRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "flow_failover").Logger(),
		pending:  make(map[int64]struct{}),
	}
}

func (r *FailoverFlowRepository) Get(ctx context.Context, userID int64) (*booking.Flow, error) {
	if !r.usePrimary() {
		return r.fallback.Get(ctx, userID)
	}
	if r.isPending(userID) {
		flow, err := r.fallback.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := r.promote(ctx, userID, flow); err != nil {
			r.markDown(err)
			return flow, nil
		}
		r.markUp()
		return flow, nil
	}
	flow, err := r.primary.Get(ctx, userID)
	if err == nil {
		r.markUp()
		return flow, nil
	}
	r.markDown(err)
	return r.fallback.Get(ctx, userID)
}

func (r *FailoverFlowRepository) Put(ctx context.Context, flow *booking.Flow) error {
	if r.usePrimary() {
		err := r.primary.Put(ctx, flow)
		if err == nil {
			r.markUp()
			r.settle(ctx, flow.UserID)
			return nil
		}
		r.markDown(err)
	}
	r.setPending(flow.UserID)
	return r.fallback.Put(ctx, flow)
}

// Delete clears both stores. While primary is down the delete is
// remembered and replayed on recovery.
func (r *FailoverFlowRepository) Delete(ctx context.Context, userID int64) error {
	if r.usePrimary() {
		if err := r.primary.Delete(ctx, userID); err != nil {
			r.markDown(err)
			r.setPending(userID)
		} else {
			r.markUp()
			r.clearPending(userID)
		}
	} else {
		r.setPending(userID)
	}
	return r.fallback.Delete(ctx, userID)
}

// promote writes the fallback's view of userID into primary: the flow
// itself, or a delete when the fallback has none.
func (r *FailoverFlowRepository) promote(ctx context.Context, userID int64, flow *booking.Flow) error {
	var err error
	if flow != nil {
		err = r.primary.Put(ctx, flow)
	} else {
		err = r.primary.Delete(ctx, userID)
	}
	if err != nil {
		return err
	}
	r.settle(ctx, userID)
	return nil
}

// settle drops the fallback copy once primary holds the latest state.
func (r *FailoverFlowRepository) settle(ctx context.Context, userID int64) {
	if !r.isPending(userID) {
		return
	}
	if err := r.fallback.Delete(ctx, userID); err != nil {
		r.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to drop fallback flow")
		return
	}
	r.clearPending(userID)
}

func (r *FailoverFlowRepository) isPending(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[userID]
	return ok
}

func (r *FailoverFlowRepository) setPending(userID int64) {
	r.mu.Lock()
	r.pending[userID] = struct{}{}
	r.mu.Unlock()
}

func (r *FailoverFlowRepository) clearPending(userID int64) {
	r.mu.Lock()
	delete(r.pending, userID)
	r.mu.Unlock()
}

func (r *FailoverFlowRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) < recoveryInterval {
		return false
	}
	r.lastCheck = time.Now()
	return true
}

func (r *FailoverFlowRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Warn().Err(err).Msg("flow store primary failed, using fallback")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverFlowRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("flow store primary recovered")
	}
}
