// Package store defines the persistence interfaces for the routing
// subsystem and provides two implementations: an in-memory store for tests
// and local runs, and a Postgres store backed by pgx.
//
// All interfaces follow get/create/update/list semantics. Implementations
// must be safe for concurrent use; callers own any cross-record
// coordination (the capacity tracker serializes per-broker mutations, the
// stores do not).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

// Common store errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// BrokerStore provides read access to the broker roster. Brokers are
// mutated by external agent-management flows, so this subsystem only
// needs lookup and listing (plus Upsert for seeding and tests).
type BrokerStore interface {
	Get(ctx context.Context, id string) (*domain.Broker, error)
	// List returns all brokers except those whose ids appear in exclude.
	List(ctx context.Context, exclude []string) ([]*domain.Broker, error)
	Upsert(ctx context.Context, broker *domain.Broker) error
}

// MetricsStore holds per-broker performance snapshots.
type MetricsStore interface {
	Get(ctx context.Context, brokerID string) (*domain.BrokerMetrics, error)
	Put(ctx context.Context, m *domain.BrokerMetrics) error
	List(ctx context.Context) ([]*domain.BrokerMetrics, error)
}

// CapacityStore persists broker capacity records. Get returns ErrNotFound
// for brokers that have never been assigned a lead.
type CapacityStore interface {
	Get(ctx context.Context, brokerID string) (*domain.BrokerCapacity, error)
	Put(ctx context.Context, c *domain.BrokerCapacity) error
	List(ctx context.Context) ([]*domain.BrokerCapacity, error)
}

// DecisionStore persists routing decisions. Decisions are append-only;
// there is no update operation.
type DecisionStore interface {
	Create(ctx context.Context, d *domain.RoutingDecision) error
	Get(ctx context.Context, id string) (*domain.RoutingDecision, error)
	// ListSince returns decisions created at or after the given time,
	// newest first. Used by the efficiency analytics.
	ListSince(ctx context.Context, since time.Time) ([]*domain.RoutingDecision, error)
}

// ExperimentStore persists experiments and their arm assignments.
type ExperimentStore interface {
	Create(ctx context.Context, e *domain.Experiment) error
	Get(ctx context.Context, id string) (*domain.Experiment, error)
	Update(ctx context.Context, e *domain.Experiment) error
	ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error)

	// GetAssignment returns ErrNotFound when the lead has no recorded arm.
	GetAssignment(ctx context.Context, experimentID, leadID string) (*domain.ExperimentAssignment, error)
	// CreateAssignment returns ErrAlreadyExists when an assignment for the
	// (experiment, lead) pair is already recorded; the existing record wins.
	CreateAssignment(ctx context.Context, a *domain.ExperimentAssignment) error
	ListAssignments(ctx context.Context, experimentID string) ([]*domain.ExperimentAssignment, error)
	// MarkConverted flags an assignment's lead as converted for analysis.
	MarkConverted(ctx context.Context, experimentID, leadID string) error
}

// AssignmentStore persists lead assignment history. The metrics recompute
// job and the load rebalancer read these records.
type AssignmentStore interface {
	Create(ctx context.Context, a *domain.LeadAssignment) error
	Update(ctx context.Context, a *domain.LeadAssignment) error
	// ListByBroker returns assignments for a broker created at or after
	// since.
	ListByBroker(ctx context.Context, brokerID string, since time.Time) ([]*domain.LeadAssignment, error)
	// ListPending returns a broker's pending assignments, oldest first.
	ListPending(ctx context.Context, brokerID string) ([]*domain.LeadAssignment, error)
}

// Stores bundles every repository the services need. Wired once at startup
// and passed down by reference; there are no package-level singletons.
type Stores struct {
	Brokers     BrokerStore
	Metrics     MetricsStore
	Capacity    CapacityStore
	Decisions   DecisionStore
	Experiments ExperimentStore
	Assignments AssignmentStore
}
