package capacity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

// Move records one assignment transferred during rebalancing.
type Move struct {
	LeadID     string `json:"lead_id"`
	FromBroker string `json:"from_broker"`
	ToBroker   string `json:"to_broker"`
}

// RebalanceReport summarizes one rebalancing pass.
type RebalanceReport struct {
	TargetLoadPercent float64 `json:"target_load_percent"`
	Moves             []Move  `json:"moves"`
	Failed            int     `json:"failed"`
}

// RebalanceLoad moves the oldest pending assignments from overloaded
// brokers to underutilized ones, round-robin across targets, until each
// source is at or below targetPct or no targets remain.
//
// The per-move capacity updates are an application-level sequence, not a
// database transaction: a failure mid-move can leave the two sides split
// inconsistently. Failed moves are counted and skipped, never retried.
func (t *Tracker) RebalanceLoad(ctx context.Context, targetPct float64) (*RebalanceReport, error) {
	if targetPct <= 0 || targetPct > 100 {
		return nil, fmt.Errorf("target load must be in (0,100], got %.1f", targetPct)
	}

	all, err := t.capacity.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing capacity: %w", err)
	}

	var sources, targets []*domain.BrokerCapacity
	for _, c := range all {
		switch c.Status() {
		case domain.StatusOverloaded:
			sources = append(sources, c)
		case domain.StatusUnderutilized:
			targets = append(targets, c)
		}
	}

	report := &RebalanceReport{
		TargetLoadPercent: targetPct,
		Moves:             []Move{},
	}
	if len(sources) == 0 || len(targets) == 0 {
		return report, nil
	}

	next := 0 // round-robin cursor over targets
sources:
	for _, src := range sources {
		pending, err := t.assignments.ListPending(ctx, src.BrokerID)
		if err != nil {
			t.logger.Warn("rebalance: listing pending failed",
				zap.String("broker_id", src.BrokerID),
				zap.Error(err))
			report.Failed++
			continue
		}

		for _, a := range pending {
			if src.LoadPercent <= targetPct {
				break
			}

			dst := nextTarget(targets, &next)
			if dst == nil {
				// Every target filled up; nothing left to move anywhere.
				break sources
			}

			if err := t.moveAssignment(ctx, a, src, dst); err != nil {
				t.logger.Warn("rebalance: move failed",
					zap.String("lead_id", a.LeadID),
					zap.String("from", src.BrokerID),
					zap.String("to", dst.BrokerID),
					zap.Error(err))
				report.Failed++
				continue
			}
			report.Moves = append(report.Moves, Move{
				LeadID:     a.LeadID,
				FromBroker: src.BrokerID,
				ToBroker:   dst.BrokerID,
			})
		}
	}

	t.logger.Info("load rebalance complete",
		zap.Float64("target_pct", targetPct),
		zap.Int("moved", len(report.Moves)),
		zap.Int("failed", report.Failed))
	return report, nil
}

// nextTarget scans the target ring from the cursor for a broker that is
// still under the utilization threshold, advancing the cursor past the
// chosen one. Returns nil when every target has filled up.
func nextTarget(targets []*domain.BrokerCapacity, cursor *int) *domain.BrokerCapacity {
	for i := 0; i < len(targets); i++ {
		dst := targets[(*cursor+i)%len(targets)]
		if dst.LoadPercent < domain.UnderutilizedThreshold {
			*cursor += i + 1
			return dst
		}
	}
	return nil
}

// moveAssignment transfers one pending assignment and adjusts both
// capacity records. src and dst are mutated in place so the caller's loop
// sees updated loads.
func (t *Tracker) moveAssignment(ctx context.Context, a *domain.LeadAssignment, src, dst *domain.BrokerCapacity) error {
	a.BrokerID = dst.BrokerID
	if err := t.assignments.Update(ctx, a); err != nil {
		return fmt.Errorf("reassigning lead: %w", err)
	}

	if src.ActiveLeads > 0 {
		src.ActiveLeads--
	}
	src.Recompute()
	src.UpdatedAt = time.Now()
	if err := t.capacity.Put(ctx, src); err != nil {
		return fmt.Errorf("updating source capacity: %w", err)
	}

	dst.ActiveLeads++
	dst.Recompute()
	dst.UpdatedAt = time.Now()
	if err := t.capacity.Put(ctx, dst); err != nil {
		return fmt.Errorf("updating target capacity: %w", err)
	}
	return nil
}
