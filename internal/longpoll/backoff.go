package longpoll

import (
	"time"

	"github.com/keepmind9/chatlink/pkg/constants"
)

// Backoff is an exponential delay bounded by Max. The zero value is not
// usable; start from DefaultBackoff or fill every field.
type Backoff struct {
	Min    time.Duration // First delay and the value restored by Reset
	Max    time.Duration // Upper bound, never exceeded
	Factor float64       // Growth multiplier applied after each delay

	current time.Duration
}

// DefaultBackoff returns 100ms growing threefold up to 10s.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    constants.DefaultMinBackoff,
		Max:    constants.DefaultMaxBackoff,
		Factor: constants.DefaultBackoffFactor,
	}
}

// withDefaults fills zero fields and clamps nonsense values.
func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Min <= 0 {
		b.Min = def.Min
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	if b.Factor < 1 {
		b.Factor = def.Factor
	}
	b.current = b.Min
	return b
}

// Next returns the delay to sleep now and grows the following one.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Min
	}
	delay := b.current

	grown := time.Duration(float64(b.current) * b.Factor)
	if grown > b.Max || grown <= 0 {
		grown = b.Max
	}
	b.current = grown
	return delay
}

// Reset makes the next delay Min again.
func (b *Backoff) Reset() {
	b.current = b.Min
}

// Current is the delay Next would return.
func (b *Backoff) Current() time.Duration {
	if b.current <= 0 {
		return b.Min
	}
	return b.current
}
