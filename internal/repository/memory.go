// Package repository stores in-progress booking flows.
package repository

import (
	"context"
	"sync"
	"time"

	"stirka/internal/booking"
)

// MemoryFlowRepository keeps flows in process memory. Flows idle longer
// than ttl are treated as absent.
type MemoryFlowRepository struct {
	mu    sync.Mutex
	flows map[int64]booking.Flow
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryFlowRepository(ttl time.Duration) *MemoryFlowRepository {
	return &MemoryFlowRepository{
		flows: make(map[int64]booking.Flow),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (r *MemoryFlowRepository) Get(_ context.Context, userID int64) (*booking.Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flows[userID]
	if !ok {
		return nil, nil
	}
	if r.ttl > 0 && r.now().Sub(f.UpdatedAt) > r.ttl {
		delete(r.flows, userID)
		return nil, nil
	}
	f.Options = append([]booking.Option(nil), f.Options...)
	return &f, nil
}

func (r *MemoryFlowRepository) Put(_ context.Context, flow *booking.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := *flow
	f.Options = append([]booking.Option(nil), flow.Options...)
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = r.now()
	}
	r.flows[flow.UserID] = f
	return nil
}

func (r *MemoryFlowRepository) Delete(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, userID)
	return nil
}
