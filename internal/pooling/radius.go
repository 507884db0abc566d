package pooling

import (
	"time"

	"github.com/example/ride-pooling/internal/config"
)

// RadiusPolicy maps a request's elapsed search time to a pickup search
// radius. The mapping widens monotonically: the longer a rider has waited,
// the farther afield we look, until the search window lapses.
type RadiusPolicy struct {
	base    float64
	steps   []config.RadiusStep
	max     float64
	timeout time.Duration
}

func NewRadiusPolicy(cfg config.PoolingConfig) RadiusPolicy {
	return RadiusPolicy{
		base:    cfg.BaseRadiusM,
		steps:   cfg.RadiusSteps,
		max:     cfg.MaxRadiusM,
		timeout: cfg.SearchTimeout,
	}
}

// RadiusFor returns the search radius in meters for the given elapsed wait.
func (p RadiusPolicy) RadiusFor(elapsed time.Duration) float64 {
	r := p.base
	for _, s := range p.steps {
		if elapsed > s.After {
			r = s.RadiusMeters
		}
	}
	if p.max > 0 && r > p.max {
		r = p.max
	}
	return r
}

// TimedOut reports whether the request has searched past the timeout window.
func (p RadiusPolicy) TimedOut(elapsed time.Duration) bool {
	return elapsed > p.timeout
}
