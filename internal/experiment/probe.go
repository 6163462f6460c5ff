package experiment

import (
	"context"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

// Probe decides whether a lead with no explicit experiment id should be
// considered for an experiment at all, before the segment/eligibility
// checks run. Pluggable so deployments can swap the sampling policy.
type Probe interface {
	ShouldProbe(ctx context.Context, exp *domain.Experiment, lead *domain.Lead) bool
}

// RatioProbe admits a flat fraction of leads, independent of lead
// attributes.
type RatioProbe struct {
	Rate    float64
	sampler Sampler
}

// NewRatioProbe creates a probe that admits leads at the given rate.
// sampler may be nil to use the default random source.
func NewRatioProbe(rate float64, sampler Sampler) *RatioProbe {
	if sampler == nil {
		sampler = NewRandomSampler()
	}
	return &RatioProbe{Rate: rate, sampler: sampler}
}

func (p *RatioProbe) ShouldProbe(ctx context.Context, exp *domain.Experiment, lead *domain.Lead) bool {
	return p.sampler.Float64() < p.Rate
}

// AlwaysProbe admits every lead. Useful in tests and for experiments that
// rely on segment rules alone.
type AlwaysProbe struct{}

func (AlwaysProbe) ShouldProbe(ctx context.Context, exp *domain.Experiment, lead *domain.Lead) bool {
	return true
}
