package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

// NewMemoryStores creates a store bundle backed entirely by in-memory maps.
// Used by tests and local runs without Postgres.
func NewMemoryStores() *Stores {
	return &Stores{
		Brokers:     NewMemoryBrokerStore(),
		Metrics:     NewMemoryMetricsStore(),
		Capacity:    NewMemoryCapacityStore(),
		Decisions:   NewMemoryDecisionStore(),
		Experiments: NewMemoryExperimentStore(),
		Assignments: NewMemoryAssignmentStore(),
	}
}

// MemoryBrokerStore is an in-memory BrokerStore.
type MemoryBrokerStore struct {
	mu      sync.RWMutex
	brokers map[string]*domain.Broker
}

// NewMemoryBrokerStore creates an empty broker store.
func NewMemoryBrokerStore() *MemoryBrokerStore {
	return &MemoryBrokerStore{brokers: make(map[string]*domain.Broker)}
}

func (s *MemoryBrokerStore) Get(ctx context.Context, id string) (*domain.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.brokers[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryBrokerStore) List(ctx context.Context, exclude []string) ([]*domain.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	out := []*domain.Broker{}
	for _, b := range s.brokers {
		if excluded[b.ID] {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	// Deterministic order so tie-breaking is stable.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryBrokerStore) Upsert(ctx context.Context, broker *domain.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *broker
	s.brokers[broker.ID] = &cp
	return nil
}

// MemoryMetricsStore is an in-memory MetricsStore.
type MemoryMetricsStore struct {
	mu      sync.RWMutex
	metrics map[string]*domain.BrokerMetrics
}

// NewMemoryMetricsStore creates an empty metrics store.
func NewMemoryMetricsStore() *MemoryMetricsStore {
	return &MemoryMetricsStore{metrics: make(map[string]*domain.BrokerMetrics)}
}

func (s *MemoryMetricsStore) Get(ctx context.Context, brokerID string) (*domain.BrokerMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.metrics[brokerID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryMetricsStore) Put(ctx context.Context, m *domain.BrokerMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.metrics[m.BrokerID] = &cp
	return nil
}

func (s *MemoryMetricsStore) List(ctx context.Context) ([]*domain.BrokerMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.BrokerMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrokerID < out[j].BrokerID })
	return out, nil
}

// MemoryCapacityStore is an in-memory CapacityStore.
type MemoryCapacityStore struct {
	mu       sync.RWMutex
	capacity map[string]*domain.BrokerCapacity
}

// NewMemoryCapacityStore creates an empty capacity store.
func NewMemoryCapacityStore() *MemoryCapacityStore {
	return &MemoryCapacityStore{capacity: make(map[string]*domain.BrokerCapacity)}
}

func (s *MemoryCapacityStore) Get(ctx context.Context, brokerID string) (*domain.BrokerCapacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.capacity[brokerID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryCapacityStore) Put(ctx context.Context, c *domain.BrokerCapacity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.capacity[c.BrokerID] = &cp
	return nil
}

func (s *MemoryCapacityStore) List(ctx context.Context) ([]*domain.BrokerCapacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.BrokerCapacity, 0, len(s.capacity))
	for _, c := range s.capacity {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrokerID < out[j].BrokerID })
	return out, nil
}

// MemoryDecisionStore is an in-memory DecisionStore.
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[string]*domain.RoutingDecision
}

// NewMemoryDecisionStore creates an empty decision store.
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{decisions: make(map[string]*domain.RoutingDecision)}
}

func (s *MemoryDecisionStore) Create(ctx context.Context, d *domain.RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decisions[d.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *d
	s.decisions[d.ID] = &cp
	return nil
}

func (s *MemoryDecisionStore) Get(ctx context.Context, id string) (*domain.RoutingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.decisions[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryDecisionStore) ListSince(ctx context.Context, since time.Time) ([]*domain.RoutingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.RoutingDecision{}
	for _, d := range s.decisions {
		if d.CreatedAt.Before(since) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MemoryExperimentStore is an in-memory ExperimentStore.
type MemoryExperimentStore struct {
	mu          sync.RWMutex
	experiments map[string]*domain.Experiment
	arms        map[string]*domain.ExperimentAssignment // experimentID + "/" + leadID
}

// NewMemoryExperimentStore creates an empty experiment store.
func NewMemoryExperimentStore() *MemoryExperimentStore {
	return &MemoryExperimentStore{
		experiments: make(map[string]*domain.Experiment),
		arms:        make(map[string]*domain.ExperimentAssignment),
	}
}

func armKey(experimentID, leadID string) string {
	return experimentID + "/" + leadID
}

func (s *MemoryExperimentStore) Create(ctx context.Context, e *domain.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[e.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *e
	s.experiments[e.ID] = &cp
	return nil
}

func (s *MemoryExperimentStore) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.experiments[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryExperimentStore) Update(ctx context.Context, e *domain.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	s.experiments[e.ID] = &cp
	return nil
}

func (s *MemoryExperimentStore) ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Experiment{}
	for _, e := range s.experiments {
		if e.Status != status {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryExperimentStore) GetAssignment(ctx context.Context, experimentID, leadID string) (*domain.ExperimentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.arms[armKey(experimentID, leadID)]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryExperimentStore) CreateAssignment(ctx context.Context, a *domain.ExperimentAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := armKey(a.ExperimentID, a.LeadID)
	if _, ok := s.arms[key]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	s.arms[key] = &cp
	return nil
}

func (s *MemoryExperimentStore) ListAssignments(ctx context.Context, experimentID string) ([]*domain.ExperimentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.ExperimentAssignment{}
	for _, a := range s.arms {
		if a.ExperimentID != experimentID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeadID < out[j].LeadID })
	return out, nil
}

func (s *MemoryExperimentStore) MarkConverted(ctx context.Context, experimentID, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.arms[armKey(experimentID, leadID)]
	if !ok {
		return ErrNotFound
	}
	a.Converted = true
	return nil
}

// MemoryAssignmentStore is an in-memory AssignmentStore.
type MemoryAssignmentStore struct {
	mu          sync.RWMutex
	assignments map[string]*domain.LeadAssignment
}

// NewMemoryAssignmentStore creates an empty assignment store.
func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{assignments: make(map[string]*domain.LeadAssignment)}
}

func (s *MemoryAssignmentStore) Create(ctx context.Context, a *domain.LeadAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[a.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

func (s *MemoryAssignmentStore) Update(ctx context.Context, a *domain.LeadAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

func (s *MemoryAssignmentStore) ListByBroker(ctx context.Context, brokerID string, since time.Time) ([]*domain.LeadAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.LeadAssignment{}
	for _, a := range s.assignments {
		if a.BrokerID != brokerID || a.AssignedAt.Before(since) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (s *MemoryAssignmentStore) ListPending(ctx context.Context, brokerID string) ([]*domain.LeadAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.LeadAssignment{}
	for _, a := range s.assignments {
		if a.BrokerID != brokerID || a.Status != domain.AssignmentPending {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}
