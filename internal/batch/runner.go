// Package batch evaluates one guideline against many subjects concurrently.
package batch

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
	"github.com/concord-cpg-engine/internal/report"
)

// Result is the outcome for one subject document.
type Result struct {
	Subject  string         `json:"subject"`
	Outcome  engine.Outcome `json:"outcome"`
	Report   *report.Report `json:"report,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
	Pending  []string       `json:"pending,omitempty"`
}

// Summary counts results by outcome.
type Summary map[engine.Outcome]int

// Runner fans evaluations out over a bounded worker pool.
type Runner struct {
	engine  *engine.Engine
	workers int
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewRunner creates a runner. Workers below one default to one; a rate of zero
// disables limiting.
func NewRunner(e *engine.Engine, cfg domain.BatchConfig, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return &Runner{engine: e, workers: workers, limiter: limiter, logger: logger}
}

// Run evaluates every subject against the guideline. Results are returned in the
// order of subjectPaths. A failing subject never stops the others; the returned
// error is non-nil only when ctx ends before all subjects were started.
func (r *Runner) Run(ctx context.Context, guidelinePath string, subjectPaths []string) ([]Result, error) {
	results := make([]Result, len(subjectPaths))

	r.logger.WithFields(logrus.Fields{
		"guideline": guidelinePath,
		"subjects":  len(subjectPaths),
		"workers":   r.workers,
	}).Info("Starting batch evaluation")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var failed atomic.Int64
	for i, path := range subjectPaths {
		if err := r.limiter.Wait(gctx); err != nil {
			results[i] = Result{Subject: path, Outcome: engine.OutcomeError, Error: err.Error()}
			for j := i + 1; j < len(subjectPaths); j++ {
				results[j] = Result{Subject: subjectPaths[j], Outcome: engine.OutcomeError, Error: err.Error()}
			}
			_ = g.Wait()
			return results, err
		}

		g.Go(func() error {
			results[i] = r.evaluate(gctx, guidelinePath, path)
			if results[i].Outcome == engine.OutcomeError {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.WithFields(logrus.Fields{
		"subjects": len(subjectPaths),
		"failed":   failed.Load(),
	}).Info("Batch evaluation finished")
	return results, nil
}

func (r *Runner) evaluate(ctx context.Context, guidelinePath, subjectPath string) Result {
	start := time.Now()
	rep, err := r.engine.Evaluate(ctx, engine.Request{
		GuidelinePath: guidelinePath,
		SubjectPath:   subjectPath,
	})

	res := Result{
		Subject:  subjectPath,
		Outcome:  engine.OutcomeOf(err),
		Report:   rep,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Error = err.Error()
	}
	var needs *domain.NeedsAttestationError
	if errors.As(err, &needs) {
		res.Pending = needs.Pending()
	}

	entry := r.logger.WithFields(logrus.Fields{
		"subject":  subjectPath,
		"outcome":  res.Outcome,
		"duration": res.Duration,
	})
	if res.Outcome == engine.OutcomeError {
		entry.WithError(err).Error("Subject evaluation failed")
	} else {
		entry.Debug("Subject evaluated")
	}
	return res
}

// Summarize counts results by outcome.
func Summarize(results []Result) Summary {
	s := Summary{}
	for _, res := range results {
		s[res.Outcome]++
	}
	return s
}
