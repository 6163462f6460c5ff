// Package specialty computes lead-to-broker affinity from declared
// insurance specialties.
//
// The primary path asks a semantic index (vector similarity over specialty
// profiles); when no index is configured or the lookup fails, the matcher
// falls back to set overlap. Brokers and leads with no declared types get
// a neutral score rather than a penalty, so data-poor brokers are not
// starved.
package specialty

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

// NeutralScore is returned when either side declares no types.
const NeutralScore = 50.0

// Matcher scores lead/broker specialty affinity in [0,100].
type Matcher struct {
	semantic *SemanticIndex // nil disables the semantic path
	logger   *zap.Logger
}

// NewMatcher creates a matcher. semantic may be nil, leaving only the
// overlap path.
func NewMatcher(semantic *SemanticIndex, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{semantic: semantic, logger: logger}
}

// Score returns the affinity between the lead's required insurance types
// and the broker's declared specialties.
func (m *Matcher) Score(ctx context.Context, lead *domain.Lead, broker *domain.Broker) float64 {
	if len(lead.InsuranceTypes) == 0 || len(broker.Specialties) == 0 {
		return NeutralScore
	}

	if m.semantic != nil {
		score, err := m.semantic.Similarity(ctx, lead.InsuranceTypes, broker.ID)
		if err == nil {
			return score
		}
		m.logger.Debug("semantic match unavailable, using overlap",
			zap.String("broker_id", broker.ID),
			zap.Error(err))
	}

	return OverlapScore(lead.InsuranceTypes, broker.Specialties)
}

// OverlapScore is the fallback: the fraction of required types present in
// the declared set, scaled to 100. Comparison is case-insensitive.
func OverlapScore(required, declared []string) float64 {
	if len(required) == 0 {
		return NeutralScore
	}

	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[strings.ToLower(strings.TrimSpace(d))] = true
	}

	matched := 0
	for _, r := range required {
		if declaredSet[strings.ToLower(strings.TrimSpace(r))] {
			matched++
		}
	}
	return float64(matched) / float64(len(required)) * 100
}
