package throttle

import (
	"context"

	"github.com/chrismeisner/makethetake/internal/domain"
)

// Noop is the disabled throttle: the OTP provider's own protections are the
// only gate.
type Noop struct{}

func NewNoop() Noop {
	return Noop{}
}

func (Noop) Allow(ctx context.Context, key string) error {
	return nil
}

var _ domain.Throttle = Noop{}
