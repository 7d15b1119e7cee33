// Package retention keeps the incident directory within age, count and
// size limits.
package retention

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid retention policy")

// Policy bounds the bundle directory. Zero MaxCount or MaxTotalBytes and a
// nil MaxAge disable the respective limit.
type Policy struct {
	MaxCount      int
	MaxTotalBytes int64
	MaxAge        *time.Duration
}

// NewPolicy validates and builds a Policy.
func NewPolicy(maxCount int, maxTotalBytes int64, maxAge *time.Duration) (Policy, error) {
	p := Policy{MaxCount: maxCount, MaxTotalBytes: maxTotalBytes}
	if maxAge != nil {
		age := *maxAge
		p.MaxAge = &age
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects negative limits.
func (p Policy) Validate() error {
	switch {
	case p.MaxCount < 0:
		return fmt.Errorf("%w: max count must be >= 0", ErrInvalidPolicy)
	case p.MaxTotalBytes < 0:
		return fmt.Errorf("%w: max total bytes must be >= 0", ErrInvalidPolicy)
	case p.MaxAge != nil && *p.MaxAge < 0:
		return fmt.Errorf("%w: max age must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

func (p Policy) String() string {
	age := "unlimited"
	if p.MaxAge != nil {
		age = p.MaxAge.String()
	}
	return fmt.Sprintf("maxCount=%d maxTotalBytes=%d maxAge=%s", p.MaxCount, p.MaxTotalBytes, age)
}

// Stats describes one enforcement pass.
type Stats struct {
	Scanned        int
	Deleted        int
	BytesDeleted   int64
	DeleteFailures int
	FinalBytes     int64
	FinalCount     int
}
