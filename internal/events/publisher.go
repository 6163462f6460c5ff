// Package events publishes routing activity to NATS so downstream
// consumers (CRM sync, notification fan-out, audit) can react without
// polling the database.
//
// Publishing is strictly best-effort: a failed publish is logged and
// never fails the routing path.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

// Subjects for published events.
const (
	SubjectDecisions   = "brokerd.decisions"
	SubjectExperiments = "brokerd.experiments"
)

// Publisher emits routing events.
type Publisher interface {
	PublishDecision(ctx context.Context, d *domain.RoutingDecision) error
	PublishExperiment(ctx context.Context, e *domain.Experiment) error
}

// NATSPublisher publishes JSON events to NATS subjects keyed by entity id.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(conn *nats.Conn, logger *zap.Logger) (*NATSPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

func (p *NATSPublisher) PublishDecision(ctx context.Context, d *domain.RoutingDecision) error {
	return p.publish(SubjectDecisions+"."+d.BrokerID, d)
}

func (p *NATSPublisher) PublishExperiment(ctx context.Context, e *domain.Experiment) error {
	return p.publish(SubjectExperiments+"."+e.ID, e)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

// NopPublisher drops every event. Used when NATS is not configured and in
// tests.
type NopPublisher struct{}

func (NopPublisher) PublishDecision(ctx context.Context, d *domain.RoutingDecision) error {
	return nil
}

func (NopPublisher) PublishExperiment(ctx context.Context, e *domain.Experiment) error {
	return nil
}
