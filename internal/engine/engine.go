// Package engine runs one guideline against one subject from raw documents to a
// report. The CLI, HTTP, MCP and batch front ends all evaluate through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/attestation"
	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/guideline"
	"github.com/concord-cpg-engine/internal/healthdata"
	"github.com/concord-cpg-engine/internal/report"
	"github.com/concord-cpg-engine/internal/service"
)

var (
	// ErrIneligible is returned when the subject does not meet the eligibility criteria.
	ErrIneligible = errors.New("subject is not eligible")
	// ErrInvalidSubject is returned for subject documents that cannot be read.
	ErrInvalidSubject = errors.New("invalid subject")
	// ErrMissingInput is returned when a request names no guideline or subject.
	ErrMissingInput = errors.New("missing input")
)

// Request describes one evaluation. The guideline and subject are given either as a
// path or as document bytes; bytes win when both are set.
type Request struct {
	GuidelinePath string
	GuidelineData []byte
	SubjectPath   string
	SubjectData   []byte

	// SubjectID overrides the id in the subject document.
	SubjectID string
	// Persona overrides the persona in the subject document.
	Persona domain.Persona
	// Until drops observations dated after it; zero keeps everything.
	Until time.Time

	// Attestations are values supplied up front, keyed by variable id.
	Attestations map[string]*domain.Value
	// Answers are textual attestations parsed against each variable's type.
	Answers map[string]string
	// Collector is asked for values still pending after stored attestations are replayed.
	Collector  attestation.Collector
	AttestedBy string
}

// Engine evaluates requests. It is safe for concurrent use.
type Engine struct {
	registry  *guideline.Registry
	store     attestation.Store
	functions domain.FunctionResolver
	cfg       domain.EvaluationConfig
	logger    *logrus.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists attestations and replays them on later runs.
func WithStore(store attestation.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithFunctions replaces the built-in evaluation functions.
func WithFunctions(functions domain.FunctionResolver) Option {
	return func(e *Engine) { e.functions = functions }
}

// New creates an engine loading guidelines through registry.
func New(registry *guideline.Registry, cfg domain.EvaluationConfig, logger *logrus.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	e := &Engine{
		registry:  registry,
		functions: service.NewFunctionRegistry(),
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the guideline registry.
func (e *Engine) Registry() *guideline.Registry {
	return e.registry
}

// Store returns the attestation store, or nil.
func (e *Engine) Store() attestation.Store {
	return e.store
}

// Evaluate runs req through every stage it can reach. The returned report reflects
// the stages completed even when err is non-nil; it is nil only when the inputs could
// not be loaded. A NeedsAttestationError means the run stopped for values that no
// attestation source supplied.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*report.Report, error) {
	g, err := e.loadGuideline(req)
	if err != nil {
		return nil, err
	}
	hc, err := e.loadSubject(req, g)
	if err != nil {
		return nil, err
	}

	logger := e.logger.WithFields(logrus.Fields{
		"guideline": g.Identifier,
		"subject":   hc.SubjectID,
	})

	policy, err := domain.ParseUndeclaredPolicy(e.cfg.UndeclaredPolicy)
	if err != nil {
		return nil, err
	}
	c := service.NewConcord(g, hc,
		service.WithLogger(e.logger),
		service.WithFunctions(e.functions),
		service.WithUndeclaredPolicy(policy),
		service.WithStrictValidation(e.cfg.StrictValidation),
	)

	eligibility, err := c.Eligibility()
	if err != nil {
		return fail(c, fmt.Errorf("eligibility: %w", err))
	}
	if !eligibility.IsEligible() {
		logger.Info("Subject is not eligible")
		return fail(c, fmt.Errorf("%w for %s", ErrIneligible, g.Identifier))
	}
	if _, err := c.Sufficiency(); err != nil {
		return fail(c, fmt.Errorf("sufficiency: %w", err))
	}

	if err := e.attest(ctx, c, req, logger); err != nil {
		return fail(c, err)
	}

	if _, err := c.Assess(); err != nil {
		var needs *domain.NeedsAttestationError
		if errors.As(err, &needs) {
			logger.WithField("pending", needs.Pending()).Info("Evaluation waiting for attestation")
		}
		return fail(c, err)
	}
	if _, err := c.Recommend(); err != nil {
		return fail(c, err)
	}

	rep := report.Build(c)
	logger.WithField("applied", len(rep.Applied())).Info("Evaluation completed")
	return rep, nil
}

func fail(c *service.Concord, err error) (*report.Report, error) {
	rep := report.Build(c)
	rep.AddError(err)
	return rep, err
}

func (e *Engine) loadGuideline(req Request) (*domain.Guideline, error) {
	switch {
	case len(req.GuidelineData) > 0:
		return e.registry.Parse(req.GuidelineData)
	case req.GuidelinePath != "":
		return e.registry.Load(req.GuidelinePath)
	}
	return nil, fmt.Errorf("%w: no guideline given", ErrMissingInput)
}

func (e *Engine) loadSubject(req Request, g *domain.Guideline) (*domain.HealthContext, error) {
	var (
		doc *healthdata.Document
		err error
	)
	switch {
	case len(req.SubjectData) > 0:
		doc, err = healthdata.Parse(req.SubjectData)
	case req.SubjectPath != "":
		doc, err = healthdata.Load(req.SubjectPath)
	default:
		return nil, fmt.Errorf("%w: no subject given", ErrMissingInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubject, err)
	}
	if req.SubjectID != "" {
		doc.Subject.ID = req.SubjectID
	}

	fallback, err := domain.ParsePersona(e.cfg.Persona)
	if err != nil {
		fallback = domain.PATIENT
	}
	until := req.Until
	if until.IsZero() {
		until = healthdata.UntilYear(e.cfg.UntilYear)
	}

	hc, err := doc.HealthContext(g, fallback, until)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubject, err)
	}
	if req.Persona != "" {
		hc.Persona = req.Persona
	}
	return hc, nil
}

// attest applies values in priority order: values given with the request, then
// stored attestations, then the collector. Request and collector values are saved.
func (e *Engine) attest(ctx context.Context, c *service.Concord, req Request, logger *logrus.Entry) error {
	g := c.Guideline()
	subjectID := c.HealthContext().SubjectID

	supplied, err := suppliedValues(g, req)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(supplied))
	for id := range supplied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := c.Attest(id, supplied[id]); err != nil {
			return fmt.Errorf("attestation for %s: %w", id, err)
		}
		e.persist(ctx, subjectID, g.Identifier, id, supplied[id], req.AttestedBy, logger)
	}

	if e.store != nil && len(c.Pending()) > 0 {
		replay := &attestation.StoreCollector{Store: e.store, SubjectID: subjectID, Guideline: g.Identifier}
		stored, err := replay.Collect(ctx, c.Pending())
		if err != nil {
			logger.WithError(err).Warn("Could not replay stored attestations")
		}
		for id, v := range stored {
			if err := c.Attest(id, v); err != nil {
				logger.WithError(err).WithField("variable", id).Warn("Ignoring stored attestation")
			}
		}
	}

	if req.Collector != nil && len(c.Pending()) > 0 {
		collected, err := req.Collector.Collect(ctx, c.Pending())
		if err != nil {
			return fmt.Errorf("collecting attestations: %w", err)
		}
		for _, rec := range c.Pending() {
			v, ok := collected[rec.ID()]
			if !ok {
				continue
			}
			if err := c.Attest(rec.ID(), v); err != nil {
				return fmt.Errorf("attestation for %s: %w", rec.ID(), err)
			}
			e.persist(ctx, subjectID, g.Identifier, rec.ID(), v, req.AttestedBy, logger)
		}
	}
	return nil
}

// suppliedValues merges typed attestations with parsed answers. A typed value wins
// over an answer for the same variable.
func suppliedValues(g *domain.Guideline, req Request) (map[string]*domain.Value, error) {
	values := make(map[string]*domain.Value, len(req.Attestations)+len(req.Answers))
	for id, text := range req.Answers {
		v := g.Variable(id)
		if v == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrUndeclaredVariable, id)
		}
		parsed, err := attestation.ParseInput(v, text)
		if err != nil {
			return nil, err
		}
		values[id] = parsed
	}
	for id, val := range req.Attestations {
		values[id] = val
	}
	return values, nil
}

// persist saves an accepted attestation. Store failures are logged; the run goes on.
func (e *Engine) persist(ctx context.Context, subjectID, guidelineID, variableID string, v *domain.Value, attestedBy string, logger *logrus.Entry) {
	if e.store == nil || subjectID == "" {
		return
	}
	a, err := attestation.FromValue(subjectID, guidelineID, variableID, v, attestedBy)
	if err == nil {
		err = e.store.Save(ctx, a)
	}
	if err != nil {
		logger.WithError(err).WithField("variable", variableID).Warn("Could not save attestation")
		return
	}
	logger.WithField("variable", variableID).Debug("Saved attestation")
}
