package attestation

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/concord-cpg-engine/internal/domain"
)

// BreakerStore guards a remote Store with a circuit breaker. Once consecutive failures
// reach the configured threshold, calls fail fast with gobreaker.ErrOpenState until
// the timeout elapses.
type BreakerStore struct {
	next    Store
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next. A zero failure threshold trips after five consecutive
// failures.
func NewBreakerStore(name string, next Store, cfg domain.BreakerConfig, logger *logrus.Logger) *BreakerStore {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Attestation store circuit breaker changed state")
			}
		},
	}
	return &BreakerStore{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the breaker's current state.
func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *BreakerStore) run(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (s *BreakerStore) Save(ctx context.Context, a *Attestation) error {
	return s.run(func() error { return s.next.Save(ctx, a) })
}

func (s *BreakerStore) Get(ctx context.Context, subjectID, guideline, variableID string) (*Attestation, error) {
	var out *Attestation
	err := s.run(func() (err error) {
		out, err = s.next.Get(ctx, subjectID, guideline, variableID)
		return err
	})
	return out, err
}

func (s *BreakerStore) ListForSubject(ctx context.Context, subjectID, guideline string) ([]*Attestation, error) {
	var out []*Attestation
	err := s.run(func() (err error) {
		out, err = s.next.ListForSubject(ctx, subjectID, guideline)
		return err
	})
	return out, err
}

func (s *BreakerStore) List(ctx context.Context, limit, offset int) ([]*Attestation, error) {
	var out []*Attestation
	err := s.run(func() (err error) {
		out, err = s.next.List(ctx, limit, offset)
		return err
	})
	return out, err
}

func (s *BreakerStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.run(func() (err error) {
		n, err = s.next.Count(ctx)
		return err
	})
	return n, err
}

func (s *BreakerStore) Delete(ctx context.Context, id string) error {
	return s.run(func() error { return s.next.Delete(ctx, id) })
}

func (s *BreakerStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return s.run(func() error { return s.next.ExportJSON(ctx, writer) })
}

func (s *BreakerStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	err = s.run(func() (err error) {
		imported, skipped, err = s.next.ImportJSON(ctx, reader)
		return err
	})
	return imported, skipped, err
}

// Close closes the wrapped store without going through the breaker.
func (s *BreakerStore) Close() error {
	return s.next.Close()
}
