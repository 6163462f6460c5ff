package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

// Schema is the DDL for the routing subsystem tables. Applied by
// `brokerd migrate` and by integration test setup.
const Schema = `
CREATE TABLE IF NOT EXISTS brokers (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	specialties TEXT[] NOT NULL DEFAULT '{}',
	state       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS broker_metrics (
	broker_id              TEXT PRIMARY KEY,
	conversion_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_lead_value         DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_processing_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
	sla_compliance_rate    DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_assigned         INTEGER NOT NULL DEFAULT 0,
	total_converted        INTEGER NOT NULL DEFAULT 0,
	revenue_generated      DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_response_minutes   DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS broker_capacity (
	broker_id              TEXT PRIMARY KEY,
	active_leads           INTEGER NOT NULL DEFAULT 0 CHECK (active_leads >= 0),
	max_capacity           INTEGER NOT NULL DEFAULT 10,
	load_percent           DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_processing_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
	sla_compliance_rate    DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS routing_decisions (
	id              TEXT PRIMARY KEY,
	lead_id         TEXT NOT NULL,
	broker_id       TEXT NOT NULL,
	total_score     DOUBLE PRECISION NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	method          TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	alternatives    TEXT[] NOT NULL DEFAULT '{}',
	predicted_conversion DOUBLE PRECISION NOT NULL DEFAULT 0,
	predicted_minutes    DOUBLE PRECISION NOT NULL DEFAULT 0,
	predicted_revenue    DOUBLE PRECISION NOT NULL DEFAULT 0,
	experiment_id   TEXT NOT NULL DEFAULT '',
	experiment_arm  TEXT NOT NULL DEFAULT '',
	fallback_reason TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_created ON routing_decisions (created_at DESC);

CREATE TABLE IF NOT EXISTS routing_experiments (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	status             TEXT NOT NULL,
	control_strategy   JSONB NOT NULL,
	treatment_strategy JSONB NOT NULL,
	segment            JSONB NOT NULL,
	traffic_allocation DOUBLE PRECISION NOT NULL,
	confidence_level   DOUBLE PRECISION NOT NULL,
	target_sample_size INTEGER NOT NULL DEFAULT 0,
	sample_size        INTEGER NOT NULL DEFAULT 0,
	winner             TEXT NOT NULL DEFAULT '',
	improvement_pct    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS experiment_assignments (
	experiment_id TEXT NOT NULL,
	lead_id       TEXT NOT NULL,
	arm           TEXT NOT NULL,
	converted     BOOLEAN NOT NULL DEFAULT FALSE,
	assigned_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (experiment_id, lead_id)
);

CREATE TABLE IF NOT EXISTS lead_assignments (
	id                 TEXT PRIMARY KEY,
	lead_id            TEXT NOT NULL,
	broker_id          TEXT NOT NULL,
	status             TEXT NOT NULL,
	lead_value         DOUBLE PRECISION NOT NULL DEFAULT 0,
	assigned_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ,
	processing_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
	response_minutes   DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_lead_assignments_broker ON lead_assignments (broker_id, assigned_at);
`

// NewPostgresStores connects to Postgres and returns the store bundle.
// The pool is shared by every store; callers close it via the returned
// cleanup function.
func NewPostgresStores(ctx context.Context, connString string) (*Stores, func(), error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging postgres: %w", err)
	}

	stores := &Stores{
		Brokers:     &PostgresBrokerStore{pool: pool},
		Metrics:     &PostgresMetricsStore{pool: pool},
		Capacity:    &PostgresCapacityStore{pool: pool},
		Decisions:   &PostgresDecisionStore{pool: pool},
		Experiments: &PostgresExperimentStore{pool: pool},
		Assignments: &PostgresAssignmentStore{pool: pool},
	}
	return stores, pool.Close, nil
}

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, connString string) error {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// PostgresBrokerStore implements BrokerStore on pgx.
type PostgresBrokerStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresBrokerStore) Get(ctx context.Context, id string) (*domain.Broker, error) {
	var b domain.Broker
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, specialties, state FROM brokers WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Specialties, &b.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying broker %s: %w", id, err)
	}
	return &b, nil
}

func (s *PostgresBrokerStore) List(ctx context.Context, exclude []string) ([]*domain.Broker, error) {
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, specialties, state FROM brokers WHERE NOT (id = ANY($1)) ORDER BY id`, exclude)
	if err != nil {
		return nil, fmt.Errorf("listing brokers: %w", err)
	}
	defer rows.Close()

	out := []*domain.Broker{}
	for rows.Next() {
		var b domain.Broker
		if err := rows.Scan(&b.ID, &b.Name, &b.Specialties, &b.State); err != nil {
			return nil, fmt.Errorf("scanning broker: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *PostgresBrokerStore) Upsert(ctx context.Context, b *domain.Broker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO brokers (id, name, specialties, state) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, specialties = $3, state = $4`,
		b.ID, b.Name, b.Specialties, b.State)
	if err != nil {
		return fmt.Errorf("upserting broker %s: %w", b.ID, err)
	}
	return nil
}

// PostgresMetricsStore implements MetricsStore on pgx.
type PostgresMetricsStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresMetricsStore) Get(ctx context.Context, brokerID string) (*domain.BrokerMetrics, error) {
	var m domain.BrokerMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT broker_id, conversion_rate, avg_lead_value, avg_processing_minutes,
			sla_compliance_rate, total_assigned, total_converted, revenue_generated,
			avg_response_minutes, updated_at
		FROM broker_metrics WHERE broker_id = $1`, brokerID,
	).Scan(&m.BrokerID, &m.ConversionRate, &m.AvgLeadValue, &m.AvgProcessingMinutes,
		&m.SLAComplianceRate, &m.TotalAssigned, &m.TotalConverted, &m.RevenueGenerated,
		&m.AvgResponseMinutes, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying metrics for %s: %w", brokerID, err)
	}
	return &m, nil
}

func (s *PostgresMetricsStore) Put(ctx context.Context, m *domain.BrokerMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO broker_metrics (broker_id, conversion_rate, avg_lead_value,
			avg_processing_minutes, sla_compliance_rate, total_assigned, total_converted,
			revenue_generated, avg_response_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (broker_id) DO UPDATE SET
			conversion_rate = $2, avg_lead_value = $3, avg_processing_minutes = $4,
			sla_compliance_rate = $5, total_assigned = $6, total_converted = $7,
			revenue_generated = $8, avg_response_minutes = $9, updated_at = $10`,
		m.BrokerID, m.ConversionRate, m.AvgLeadValue, m.AvgProcessingMinutes,
		m.SLAComplianceRate, m.TotalAssigned, m.TotalConverted, m.RevenueGenerated,
		m.AvgResponseMinutes, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing metrics for %s: %w", m.BrokerID, err)
	}
	return nil
}

func (s *PostgresMetricsStore) List(ctx context.Context) ([]*domain.BrokerMetrics, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT broker_id, conversion_rate, avg_lead_value, avg_processing_minutes,
			sla_compliance_rate, total_assigned, total_converted, revenue_generated,
			avg_response_minutes, updated_at
		FROM broker_metrics ORDER BY broker_id`)
	if err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}
	defer rows.Close()

	out := []*domain.BrokerMetrics{}
	for rows.Next() {
		var m domain.BrokerMetrics
		if err := rows.Scan(&m.BrokerID, &m.ConversionRate, &m.AvgLeadValue,
			&m.AvgProcessingMinutes, &m.SLAComplianceRate, &m.TotalAssigned,
			&m.TotalConverted, &m.RevenueGenerated, &m.AvgResponseMinutes, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning metrics: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// PostgresCapacityStore implements CapacityStore on pgx.
type PostgresCapacityStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresCapacityStore) Get(ctx context.Context, brokerID string) (*domain.BrokerCapacity, error) {
	var c domain.BrokerCapacity
	err := s.pool.QueryRow(ctx, `
		SELECT broker_id, active_leads, max_capacity, load_percent,
			avg_processing_minutes, sla_compliance_rate, updated_at
		FROM broker_capacity WHERE broker_id = $1`, brokerID,
	).Scan(&c.BrokerID, &c.ActiveLeads, &c.MaxCapacity, &c.LoadPercent,
		&c.AvgProcessingMinutes, &c.SLAComplianceRate, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying capacity for %s: %w", brokerID, err)
	}
	return &c, nil
}

func (s *PostgresCapacityStore) Put(ctx context.Context, c *domain.BrokerCapacity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO broker_capacity (broker_id, active_leads, max_capacity, load_percent,
			avg_processing_minutes, sla_compliance_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (broker_id) DO UPDATE SET
			active_leads = $2, max_capacity = $3, load_percent = $4,
			avg_processing_minutes = $5, sla_compliance_rate = $6, updated_at = $7`,
		c.BrokerID, c.ActiveLeads, c.MaxCapacity, c.LoadPercent,
		c.AvgProcessingMinutes, c.SLAComplianceRate, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing capacity for %s: %w", c.BrokerID, err)
	}
	return nil
}

func (s *PostgresCapacityStore) List(ctx context.Context) ([]*domain.BrokerCapacity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT broker_id, active_leads, max_capacity, load_percent,
			avg_processing_minutes, sla_compliance_rate, updated_at
		FROM broker_capacity ORDER BY broker_id`)
	if err != nil {
		return nil, fmt.Errorf("listing capacity: %w", err)
	}
	defer rows.Close()

	out := []*domain.BrokerCapacity{}
	for rows.Next() {
		var c domain.BrokerCapacity
		if err := rows.Scan(&c.BrokerID, &c.ActiveLeads, &c.MaxCapacity, &c.LoadPercent,
			&c.AvgProcessingMinutes, &c.SLAComplianceRate, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning capacity: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// PostgresDecisionStore implements DecisionStore on pgx.
type PostgresDecisionStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresDecisionStore) Create(ctx context.Context, d *domain.RoutingDecision) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO routing_decisions (id, lead_id, broker_id, total_score, confidence,
			method, strategy, alternatives, predicted_conversion, predicted_minutes,
			predicted_revenue, experiment_id, experiment_arm, fallback_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.LeadID, d.BrokerID, d.TotalScore, d.Confidence,
		string(d.Method), d.Strategy, d.Alternatives,
		d.Predicted.ConversionRate, d.Predicted.ProcessingMinutes, d.Predicted.Revenue,
		d.ExperimentID, string(d.ExperimentArm), d.FallbackReason, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("storing decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *PostgresDecisionStore) Get(ctx context.Context, id string) (*domain.RoutingDecision, error) {
	var d domain.RoutingDecision
	var method, arm string
	err := s.pool.QueryRow(ctx, `
		SELECT id, lead_id, broker_id, total_score, confidence, method, strategy,
			alternatives, predicted_conversion, predicted_minutes, predicted_revenue,
			experiment_id, experiment_arm, fallback_reason, created_at
		FROM routing_decisions WHERE id = $1`, id,
	).Scan(&d.ID, &d.LeadID, &d.BrokerID, &d.TotalScore, &d.Confidence, &method,
		&d.Strategy, &d.Alternatives, &d.Predicted.ConversionRate,
		&d.Predicted.ProcessingMinutes, &d.Predicted.Revenue,
		&d.ExperimentID, &arm, &d.FallbackReason, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying decision %s: %w", id, err)
	}
	d.Method = domain.RoutingMethod(method)
	d.ExperimentArm = domain.Arm(arm)
	return &d, nil
}

func (s *PostgresDecisionStore) ListSince(ctx context.Context, since time.Time) ([]*domain.RoutingDecision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, broker_id, total_score, confidence, method, strategy,
			alternatives, predicted_conversion, predicted_minutes, predicted_revenue,
			experiment_id, experiment_arm, fallback_reason, created_at
		FROM routing_decisions WHERE created_at >= $1 ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	defer rows.Close()

	out := []*domain.RoutingDecision{}
	for rows.Next() {
		var d domain.RoutingDecision
		var method, arm string
		if err := rows.Scan(&d.ID, &d.LeadID, &d.BrokerID, &d.TotalScore, &d.Confidence,
			&method, &d.Strategy, &d.Alternatives, &d.Predicted.ConversionRate,
			&d.Predicted.ProcessingMinutes, &d.Predicted.Revenue,
			&d.ExperimentID, &arm, &d.FallbackReason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		d.Method = domain.RoutingMethod(method)
		d.ExperimentArm = domain.Arm(arm)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// PostgresExperimentStore implements ExperimentStore on pgx. Strategy and
// segment definitions are stored as JSONB.
type PostgresExperimentStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresExperimentStore) Create(ctx context.Context, e *domain.Experiment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO routing_experiments (id, name, status, control_strategy,
			treatment_strategy, segment, traffic_allocation, confidence_level,
			target_sample_size, sample_size, winner, improvement_pct, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.Name, string(e.Status), e.Control, e.Treatment, e.Segment,
		e.TrafficAllocation, e.ConfidenceLevel, e.TargetSampleSize, e.SampleSize,
		e.Winner, e.ImprovementPct, e.CreatedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("storing experiment %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresExperimentStore) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	var e domain.Experiment
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, status, control_strategy, treatment_strategy, segment,
			traffic_allocation, confidence_level, target_sample_size, sample_size,
			winner, improvement_pct, created_at, completed_at
		FROM routing_experiments WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &status, &e.Control, &e.Treatment, &e.Segment,
		&e.TrafficAllocation, &e.ConfidenceLevel, &e.TargetSampleSize, &e.SampleSize,
		&e.Winner, &e.ImprovementPct, &e.CreatedAt, &e.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying experiment %s: %w", id, err)
	}
	e.Status = domain.ExperimentStatus(status)
	return &e, nil
}

func (s *PostgresExperimentStore) Update(ctx context.Context, e *domain.Experiment) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE routing_experiments SET name = $2, status = $3, control_strategy = $4,
			treatment_strategy = $5, segment = $6, traffic_allocation = $7,
			confidence_level = $8, target_sample_size = $9, sample_size = $10,
			winner = $11, improvement_pct = $12, completed_at = $13
		WHERE id = $1`,
		e.ID, e.Name, string(e.Status), e.Control, e.Treatment, e.Segment,
		e.TrafficAllocation, e.ConfidenceLevel, e.TargetSampleSize, e.SampleSize,
		e.Winner, e.ImprovementPct, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("updating experiment %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresExperimentStore) ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, status, control_strategy, treatment_strategy, segment,
			traffic_allocation, confidence_level, target_sample_size, sample_size,
			winner, improvement_pct, created_at, completed_at
		FROM routing_experiments WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}
	defer rows.Close()

	out := []*domain.Experiment{}
	for rows.Next() {
		var e domain.Experiment
		var st string
		if err := rows.Scan(&e.ID, &e.Name, &st, &e.Control, &e.Treatment, &e.Segment,
			&e.TrafficAllocation, &e.ConfidenceLevel, &e.TargetSampleSize, &e.SampleSize,
			&e.Winner, &e.ImprovementPct, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning experiment: %w", err)
		}
		e.Status = domain.ExperimentStatus(st)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresExperimentStore) GetAssignment(ctx context.Context, experimentID, leadID string) (*domain.ExperimentAssignment, error) {
	var a domain.ExperimentAssignment
	var arm string
	err := s.pool.QueryRow(ctx, `
		SELECT experiment_id, lead_id, arm, converted, assigned_at
		FROM experiment_assignments WHERE experiment_id = $1 AND lead_id = $2`,
		experimentID, leadID,
	).Scan(&a.ExperimentID, &a.LeadID, &arm, &a.Converted, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assignment: %w", err)
	}
	a.Arm = domain.Arm(arm)
	return &a, nil
}

func (s *PostgresExperimentStore) CreateAssignment(ctx context.Context, a *domain.ExperimentAssignment) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO experiment_assignments (experiment_id, lead_id, arm, converted, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (experiment_id, lead_id) DO NOTHING`,
		a.ExperimentID, a.LeadID, string(a.Arm), a.Converted, a.AssignedAt)
	if err != nil {
		return fmt.Errorf("storing assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresExperimentStore) ListAssignments(ctx context.Context, experimentID string) ([]*domain.ExperimentAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT experiment_id, lead_id, arm, converted, assigned_at
		FROM experiment_assignments WHERE experiment_id = $1 ORDER BY lead_id`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	defer rows.Close()

	out := []*domain.ExperimentAssignment{}
	for rows.Next() {
		var a domain.ExperimentAssignment
		var arm string
		if err := rows.Scan(&a.ExperimentID, &a.LeadID, &arm, &a.Converted, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.Arm = domain.Arm(arm)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresExperimentStore) MarkConverted(ctx context.Context, experimentID, leadID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE experiment_assignments SET converted = TRUE
		WHERE experiment_id = $1 AND lead_id = $2`, experimentID, leadID)
	if err != nil {
		return fmt.Errorf("marking conversion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresAssignmentStore implements AssignmentStore on pgx.
type PostgresAssignmentStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresAssignmentStore) Create(ctx context.Context, a *domain.LeadAssignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lead_assignments (id, lead_id, broker_id, status, lead_value,
			assigned_at, completed_at, processing_minutes, response_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.LeadID, a.BrokerID, string(a.Status), a.LeadValue,
		a.AssignedAt, a.CompletedAt, a.ProcessingMinutes, a.ResponseMinutes)
	if err != nil {
		return fmt.Errorf("storing assignment %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresAssignmentStore) Update(ctx context.Context, a *domain.LeadAssignment) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lead_assignments SET lead_id = $2, broker_id = $3, status = $4,
			lead_value = $5, assigned_at = $6, completed_at = $7,
			processing_minutes = $8, response_minutes = $9
		WHERE id = $1`,
		a.ID, a.LeadID, a.BrokerID, string(a.Status), a.LeadValue,
		a.AssignedAt, a.CompletedAt, a.ProcessingMinutes, a.ResponseMinutes)
	if err != nil {
		return fmt.Errorf("updating assignment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresAssignmentStore) ListByBroker(ctx context.Context, brokerID string, since time.Time) ([]*domain.LeadAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, broker_id, status, lead_value, assigned_at, completed_at,
			processing_minutes, response_minutes
		FROM lead_assignments WHERE broker_id = $1 AND assigned_at >= $2
		ORDER BY assigned_at`, brokerID, since)
	if err != nil {
		return nil, fmt.Errorf("listing assignments for %s: %w", brokerID, err)
	}
	defer rows.Close()
	return scanLeadAssignments(rows)
}

func (s *PostgresAssignmentStore) ListPending(ctx context.Context, brokerID string) ([]*domain.LeadAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, broker_id, status, lead_value, assigned_at, completed_at,
			processing_minutes, response_minutes
		FROM lead_assignments WHERE broker_id = $1 AND status = 'pending'
		ORDER BY assigned_at`, brokerID)
	if err != nil {
		return nil, fmt.Errorf("listing pending assignments for %s: %w", brokerID, err)
	}
	defer rows.Close()
	return scanLeadAssignments(rows)
}

func scanLeadAssignments(rows pgx.Rows) ([]*domain.LeadAssignment, error) {
	out := []*domain.LeadAssignment{}
	for rows.Next() {
		var a domain.LeadAssignment
		var status string
		if err := rows.Scan(&a.ID, &a.LeadID, &a.BrokerID, &status, &a.LeadValue,
			&a.AssignedAt, &a.CompletedAt, &a.ProcessingMinutes, &a.ResponseMinutes); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.Status = domain.AssignmentStatus(status)
		out = append(out, &a)
	}
	return out, rows.Err()
}
