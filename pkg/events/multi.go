package events

import (
	"context"
	"errors"
	"fmt"
)

// MultiSink fans each envelope out to every sink. One sink failing does not
// stop delivery to the others; all failures are joined.
type MultiSink []EventSink

// NewMultiSink drops nil sinks. With none left it returns a no-op sink.
func NewMultiSink(sinks ...EventSink) EventSink {
	var out MultiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return NoOpEventSink{}
	case 1:
		return out[0]
	}
	return out
}

// Append implements EventSink.
func (m MultiSink) Append(ctx context.Context, envelope Envelope) error {
	var errs []error
	for i, s := range m {
		if err := s.Append(ctx, envelope); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
