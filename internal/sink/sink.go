package sink

import (
	"context"
	"errors"

	"github.com/nao1215/pdfcrawl/internal/model"
)

// Sink receives crawl events.
type Sink interface {
	// Publish delivers one event. Implementations must be safe for
	// concurrent use.
	Publish(ctx context.Context, ev model.Event) error

	// Close releases the underlying client.
	Close() error
}

// Multi fans events out to several sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a sink publishing to every non-nil sink in sinks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Publish delivers ev to every sink. A failing sink does not prevent
// delivery to the others; all errors are joined.
func (m *Multi) Publish(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins the errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
