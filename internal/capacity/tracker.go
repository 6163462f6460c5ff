// Package capacity tracks per-broker active-lead counts and load, and
// rebalances pending assignments between overloaded and idle brokers.
//
// All mutations of a broker's capacity record are serialized through a
// per-broker mutex, so concurrent Assign/Release calls for the same broker
// cannot lose updates. Calls for different brokers proceed independently.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// DefaultMaxCapacity is assigned when a capacity record is created lazily.
const DefaultMaxCapacity = 10

// Max capacity bounds for SetMaxCapacity.
const (
	MinCapacityLimit = 1
	MaxCapacityLimit = 100
)

// slaConversionNudge is added to a broker's SLA compliance rate on each
// converted release, capped at 100.
const slaConversionNudge = 0.5

// ErrInvalidCapacityRange is returned when a max capacity falls outside
// [MinCapacityLimit, MaxCapacityLimit].
var ErrInvalidCapacityRange = errors.New("max capacity outside valid range")

// Tracker manages broker capacity records and the pending assignment
// ledger behind them.
type Tracker struct {
	capacity    store.CapacityStore
	assignments store.AssignmentStore
	logger      *zap.Logger

	// locks holds one mutex per broker id. Entries are never removed;
	// the set of brokers is small and stable.
	locks sync.Map

	defaultMax int
}

// TrackerOption customizes the tracker.
type TrackerOption func(*Tracker)

// WithDefaultMaxCapacity sets the max capacity used when lazily creating
// a capacity record. Values outside [MinCapacityLimit, MaxCapacityLimit]
// are ignored.
func WithDefaultMaxCapacity(max int) TrackerOption {
	return func(t *Tracker) {
		if max >= MinCapacityLimit && max <= MaxCapacityLimit {
			t.defaultMax = max
		}
	}
}

// NewTracker creates a capacity tracker over the given stores.
func NewTracker(capacity store.CapacityStore, assignments store.AssignmentStore, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		capacity:    capacity,
		assignments: assignments,
		logger:      logger,
		defaultMax:  DefaultMaxCapacity,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// lock acquires the per-broker mutex and returns its unlock function.
func (t *Tracker) lock(brokerID string) func() {
	v, _ := t.locks.LoadOrStore(brokerID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the broker's capacity record, or nil when the broker has
// never been assigned a lead.
func (t *Tracker) Get(ctx context.Context, brokerID string) (*domain.BrokerCapacity, error) {
	c, err := t.capacity.Get(ctx, brokerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// Assign records one more active lead for the broker, creating the
// capacity record with the default max capacity if absent, and writes a
// pending assignment record for the lead.
//
// Not idempotent: calling twice for the same lead double-counts. Callers
// must not retry blindly.
func (t *Tracker) Assign(ctx context.Context, brokerID, leadID string, leadValue float64) error {
	unlock := t.lock(brokerID)
	defer unlock()

	c, err := t.capacity.Get(ctx, brokerID)
	if errors.Is(err, store.ErrNotFound) {
		c = &domain.BrokerCapacity{
			BrokerID:    brokerID,
			MaxCapacity: t.defaultMax,
		}
	} else if err != nil {
		return fmt.Errorf("loading capacity: %w", err)
	}

	c.ActiveLeads++
	c.Recompute()
	c.UpdatedAt = time.Now()

	if err := t.capacity.Put(ctx, c); err != nil {
		return fmt.Errorf("storing capacity: %w", err)
	}

	assignment := &domain.LeadAssignment{
		ID:         uuid.NewString(),
		LeadID:     leadID,
		BrokerID:   brokerID,
		Status:     domain.AssignmentPending,
		LeadValue:  leadValue,
		AssignedAt: time.Now(),
	}
	if err := t.assignments.Create(ctx, assignment); err != nil {
		return fmt.Errorf("recording assignment: %w", err)
	}

	t.logger.Debug("lead assigned",
		zap.String("broker_id", brokerID),
		zap.String("lead_id", leadID),
		zap.Float64("load_percent", c.LoadPercent))
	return nil
}

// RecordResponse stamps the broker's first action on a pending lead,
// recording minutes elapsed since assignment. Later calls keep the first
// recorded value.
func (t *Tracker) RecordResponse(ctx context.Context, brokerID, leadID string) error {
	unlock := t.lock(brokerID)
	defer unlock()

	pending, err := t.assignments.ListPending(ctx, brokerID)
	if err != nil {
		return fmt.Errorf("listing pending assignments: %w", err)
	}
	for _, a := range pending {
		if a.LeadID != leadID {
			continue
		}
		if a.ResponseMinutes > 0 {
			return nil
		}
		a.ResponseMinutes = time.Since(a.AssignedAt).Minutes()
		return t.assignments.Update(ctx, a)
	}
	return store.ErrNotFound
}

// Release closes out a lead for the broker, decrements the active count
// (floored at zero), and records the outcome on the pending assignment.
// Conversions nudge the broker's SLA compliance upward.
func (t *Tracker) Release(ctx context.Context, brokerID, leadID string, outcome domain.Outcome) error {
	unlock := t.lock(brokerID)
	defer unlock()

	c, err := t.capacity.Get(ctx, brokerID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no capacity record for broker %s", brokerID)
	}
	if err != nil {
		return fmt.Errorf("loading capacity: %w", err)
	}

	if c.ActiveLeads > 0 {
		c.ActiveLeads--
	}
	if outcome == domain.OutcomeConverted {
		c.SLAComplianceRate += slaConversionNudge
		if c.SLAComplianceRate > 100 {
			c.SLAComplianceRate = 100
		}
	}
	c.Recompute()
	c.UpdatedAt = time.Now()

	if err := t.capacity.Put(ctx, c); err != nil {
		return fmt.Errorf("storing capacity: %w", err)
	}

	if err := t.closeAssignment(ctx, brokerID, leadID, outcome); err != nil {
		// Capacity already adjusted; the ledger entry is best-effort.
		t.logger.Warn("failed to close assignment record",
			zap.String("broker_id", brokerID),
			zap.String("lead_id", leadID),
			zap.Error(err))
	}
	return nil
}

// closeAssignment marks the lead's pending assignment with its outcome.
func (t *Tracker) closeAssignment(ctx context.Context, brokerID, leadID string, outcome domain.Outcome) error {
	pending, err := t.assignments.ListPending(ctx, brokerID)
	if err != nil {
		return err
	}
	for _, a := range pending {
		if a.LeadID != leadID {
			continue
		}
		now := time.Now()
		a.Status = domain.AssignmentStatus(outcome)
		a.CompletedAt = &now
		a.ProcessingMinutes = now.Sub(a.AssignedAt).Minutes()
		if a.ResponseMinutes == 0 {
			// Closing the lead is the broker's first recorded action.
			a.ResponseMinutes = a.ProcessingMinutes
		}
		return t.assignments.Update(ctx, a)
	}
	return store.ErrNotFound
}

// SetMaxCapacity updates the broker's maximum, creating the record if
// absent. Values outside [1,100] are rejected and the existing record is
// left unchanged.
func (t *Tracker) SetMaxCapacity(ctx context.Context, brokerID string, max int) error {
	if max < MinCapacityLimit || max > MaxCapacityLimit {
		return fmt.Errorf("%w: %d", ErrInvalidCapacityRange, max)
	}

	unlock := t.lock(brokerID)
	defer unlock()

	c, err := t.capacity.Get(ctx, brokerID)
	if errors.Is(err, store.ErrNotFound) {
		c = &domain.BrokerCapacity{BrokerID: brokerID}
	} else if err != nil {
		return fmt.Errorf("loading capacity: %w", err)
	}

	c.MaxCapacity = max
	c.Recompute()
	c.UpdatedAt = time.Now()
	return t.capacity.Put(ctx, c)
}

// Reset zeroes a broker's active count. Capacity records are never
// deleted, only reset.
func (t *Tracker) Reset(ctx context.Context, brokerID string) error {
	unlock := t.lock(brokerID)
	defer unlock()

	c, err := t.capacity.Get(ctx, brokerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading capacity: %w", err)
	}

	c.ActiveLeads = 0
	c.Recompute()
	c.UpdatedAt = time.Now()
	return t.capacity.Put(ctx, c)
}
