package trigger

import (
	"fmt"
	"time"
)

// Policy configures the engine.
type Policy struct {
	// Cooldown is the minimum spacing between any two accepted events.
	Cooldown time.Duration
	// Debounce is the minimum spacing between accepted events with the
	// same kind and scope.
	Debounce time.Duration
	// StallDegraded and StallCritical classify heartbeat stalls.
	StallDegraded time.Duration
	StallCritical time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:      30 * time.Second,
		Debounce:      2 * time.Second,
		StallDegraded: 2 * time.Second,
		StallCritical: 10 * time.Second,
	}
}

// Validate rejects negative windows and inconsistent thresholds.
func (p Policy) Validate() error {
	switch {
	case p.Cooldown < 0:
		return fmt.Errorf("%w: cooldown must be non-negative", ErrInvalidPolicy)
	case p.Debounce < 0:
		return fmt.Errorf("%w: debounce must be non-negative", ErrInvalidPolicy)
	case p.StallDegraded <= 0 || p.StallCritical <= 0:
		return fmt.Errorf("%w: stall thresholds must be > 0", ErrInvalidPolicy)
	case p.StallCritical < p.StallDegraded:
		return fmt.Errorf("%w: stall critical threshold must be >= degraded threshold", ErrInvalidPolicy)
	}
	return nil
}
