package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
)

// State is the evaluation stage a Concord has reached.
type State int

const (
	StateUninitialized State = iota
	StateEligibilityEvaluated
	StateSufficiencyEvaluated
	StateAttestationPending
	StateAttestationCollected
	StateAssessmentEvaluated
	StateRecommendationsEvaluated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEligibilityEvaluated:
		return "eligibility_evaluated"
	case StateSufficiencyEvaluated:
		return "sufficiency_evaluated"
	case StateAttestationPending:
		return "attestation_pending"
	case StateAttestationCollected:
		return "attestation_collected"
	case StateAssessmentEvaluated:
		return "assessment_evaluated"
	case StateRecommendationsEvaluated:
		return "recommendations_evaluated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateUninitialized:
		return to == StateEligibilityEvaluated
	case StateEligibilityEvaluated:
		return to == StateSufficiencyEvaluated
	case StateSufficiencyEvaluated:
		return to == StateAttestationPending || to == StateAttestationCollected || to == StateAssessmentEvaluated
	case StateAttestationPending:
		return to == StateAttestationPending || to == StateAttestationCollected
	case StateAttestationCollected:
		return to == StateAttestationPending || to == StateAttestationCollected || to == StateAssessmentEvaluated
	case StateAssessmentEvaluated:
		return to == StateRecommendationsEvaluated
	default:
		return false
	}
}

// Option configures a Concord.
type Option func(*Concord)

// WithLogger sets the logger shared by every stage.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Concord) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFunctions sets the resolver for function-backed assessments.
func WithFunctions(functions domain.FunctionResolver) Option {
	return func(c *Concord) {
		c.functions = functions
	}
}

// WithUndeclaredPolicy sets how expressions treat references to unknown variables.
func WithUndeclaredPolicy(policy domain.UndeclaredPolicy) Option {
	return func(c *Concord) {
		c.policy = policy
	}
}

// WithStrictValidation makes implausible or panel-inconsistent subject values errors.
func WithStrictValidation(strict bool) Option {
	return func(c *Concord) {
		c.strict = strict
	}
}

// WithRecordOptions applies opts to every record the sufficiency stage creates.
func WithRecordOptions(opts ...domain.RecordOption) Option {
	return func(c *Concord) {
		c.recordOpts = append(c.recordOpts, opts...)
	}
}

// Concord runs one guideline against one subject through eligibility, sufficiency,
// attestation, assessment and recommendation. It is not safe for concurrent use;
// separate instances may share a Guideline.
type Concord struct {
	guideline  *domain.Guideline
	hc         *domain.HealthContext
	logger     *logrus.Logger
	functions  domain.FunctionResolver
	policy     domain.UndeclaredPolicy
	strict     bool
	recordOpts []domain.RecordOption

	state           State
	eligibility     *EligibilityResult
	sufficiency     *SufficiencyResult
	assessment      *AssessmentResult
	recommendations *RecommendationSet
}

// NewConcord creates an orchestrator for guideline and the subject's health context.
func NewConcord(guideline *domain.Guideline, hc *domain.HealthContext, opts ...Option) *Concord {
	c := &Concord{
		guideline: guideline,
		hc:        hc,
		logger:    discardLogger(),
		functions: NewFunctionRegistry(),
		policy:    domain.FAIL_FAST,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current stage.
func (c *Concord) State() State { return c.state }

// Guideline returns the guideline being evaluated.
func (c *Concord) Guideline() *domain.Guideline { return c.guideline }

// HealthContext returns the subject's health context.
func (c *Concord) HealthContext() *domain.HealthContext { return c.hc }

// EligibilityResult returns the eligibility outcome, or nil before that stage.
func (c *Concord) EligibilityResult() *EligibilityResult { return c.eligibility }

// SufficiencyResult returns the sufficiency outcome, or nil before that stage.
func (c *Concord) SufficiencyResult() *SufficiencyResult { return c.sufficiency }

// AssessmentResult returns the assessment outcome, or nil before that stage.
func (c *Concord) AssessmentResult() *AssessmentResult { return c.assessment }

// Recommendations returns the recommendation outcome, or nil before that stage.
func (c *Concord) Recommendations() *RecommendationSet { return c.recommendations }

func (c *Concord) transition(stage string, to State) error {
	if err := c.checkTransition(stage, to); err != nil {
		return err
	}
	c.state = to
	return nil
}

// Eligibility runs the eligibility criteria.
func (c *Concord) Eligibility() (*EligibilityResult, error) {
	if err := c.checkTransition("eligibility", StateEligibilityEvaluated); err != nil {
		return nil, err
	}

	evaluator := NewEligibilityEvaluator(c.guideline.Eligibility, c.policy, c.logger)
	result, err := evaluator.Evaluate(c.hc)
	if err != nil {
		return nil, err
	}

	c.eligibility = result
	return result, c.transition("eligibility", StateEligibilityEvaluated)
}

// Sufficiency binds the guideline variables to the subject's data.
func (c *Concord) Sufficiency() (*SufficiencyResult, error) {
	if len(c.guideline.Variables) == 0 {
		return nil, &domain.PreconditionError{Stage: "sufficiency", Msg: "no variables defined"}
	}
	if err := c.transition("sufficiency", StateSufficiencyEvaluated); err != nil {
		return nil, err
	}

	evaluator := NewSufficiencyEvaluator(c.guideline, c.logger, c.strict, c.recordOpts...)
	c.sufficiency = evaluator.Evaluate(c.hc)
	return c.sufficiency, nil
}

// Pending returns the records still waiting for attestation.
func (c *Concord) Pending() []*domain.Record {
	if c.sufficiency == nil {
		return nil
	}
	var out []*domain.Record
	for _, er := range c.sufficiency.AttestationVariables() {
		out = append(out, er.Record)
	}
	return out
}

// Attest assigns a user value to the sufficiency record for id.
func (c *Concord) Attest(id string, value *domain.Value) error {
	if c.sufficiency == nil {
		return &domain.PreconditionError{Stage: "attestation", Msg: "sufficiency has not been evaluated"}
	}
	er := c.sufficiency.Context.Get(id)
	if er == nil {
		return fmt.Errorf("attest %s: %w", id, domain.ErrUndeclaredVariable)
	}
	next := StateAttestationCollected
	if err := c.checkTransition("attestation", next); err != nil {
		return err
	}

	if err := er.Record.Attest(value, c.sufficiency.Records()...); err != nil {
		return err
	}
	if len(c.sufficiency.AttestationVariables()) > 0 {
		next = StateAttestationPending
	}

	c.logger.WithFields(logrus.Fields{
		"variable": id,
		"value":    value.Representation(),
	}).Info("Attestation accepted")
	return c.transition("attestation", next)
}

func (c *Concord) checkTransition(stage string, to State) error {
	if isAllowedTransition(c.state, to) {
		return nil
	}
	return &domain.PreconditionError{Stage: stage, Msg: fmt.Sprintf("disallowed transition %s -> %s", c.state, to)}
}

// Assess evaluates the guideline's assessments. It requires an eligible subject with
// sufficient data and no attestation pending; NeedsAttestationError names the
// records still waiting for a value.
func (c *Concord) Assess() (*AssessmentResult, error) {
	switch {
	case c.eligibility == nil:
		return nil, &domain.PreconditionError{Stage: "assessment", Msg: "eligibility has not been evaluated"}
	case !c.eligibility.IsEligible():
		return nil, &domain.PreconditionError{Stage: "assessment", Msg: "eligibility criteria not met"}
	case c.sufficiency == nil:
		return nil, &domain.PreconditionError{Stage: "assessment", Msg: "sufficiency has not been evaluated"}
	}

	if err := c.sufficiency.InsufficientError(); err != nil {
		return nil, err
	}

	if pending := c.Pending(); len(pending) > 0 {
		c.logger.WithField("pending", len(pending)).Info("Attestation needed before assessment")
		if c.state != StateAttestationPending {
			if err := c.transition("assessment", StateAttestationPending); err != nil {
				return nil, err
			}
		}
		return nil, &domain.NeedsAttestationError{Records: pending}
	}

	if err := c.checkTransition("assessment", StateAssessmentEvaluated); err != nil {
		return nil, err
	}

	evaluator := NewAssessmentEvaluator(c.functions, c.policy, c.logger)
	result, err := evaluator.Assess(c.guideline.Assessments, c.sufficiency.Records(), c.hc.Persona)
	if err != nil {
		return nil, err
	}

	c.assessment = result
	return result, c.transition("assessment", StateAssessmentEvaluated)
}

// Recommend evaluates the recommendations against the assessment results.
func (c *Concord) Recommend() (*RecommendationSet, error) {
	if c.assessment == nil {
		return nil, &domain.PreconditionError{Stage: "recommendation", Msg: "assessment has not been evaluated"}
	}
	if err := c.checkTransition("recommendation", StateRecommendationsEvaluated); err != nil {
		return nil, err
	}

	evaluator := NewRecommendationEvaluator(c.policy, c.logger)
	c.recommendations = evaluator.Evaluate(c.guideline.Recommendations,
		c.assessment.Records(), c.sufficiency.Records(), c.hc.Persona)
	return c.recommendations, c.transition("recommendation", StateRecommendationsEvaluated)
}

// Run chains every stage. It stops at the first stage that cannot proceed, including
// pending attestation.
func (c *Concord) Run() error {
	c.logger.WithFields(logrus.Fields{
		"guideline": c.guideline.Identifier,
		"subject":   c.hc.SubjectID,
		"persona":   c.hc.Persona,
	}).Info("Starting guideline evaluation")

	eligibility, err := c.Eligibility()
	if err != nil {
		return fmt.Errorf("eligibility: %w", err)
	}
	if !eligibility.IsEligible() {
		return &domain.PreconditionError{Stage: "assessment", Msg: "eligibility criteria not met"}
	}
	if _, err := c.Sufficiency(); err != nil {
		return fmt.Errorf("sufficiency: %w", err)
	}
	if _, err := c.Assess(); err != nil {
		return err
	}
	if _, err := c.Recommend(); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"guideline": c.guideline.Identifier,
		"subject":   c.hc.SubjectID,
		"applied":   len(c.recommendations.Applied()),
	}).Info("Completed guideline evaluation")
	return nil
}

// Resume continues a run stopped for attestation.
func (c *Concord) Resume() error {
	if _, err := c.Assess(); err != nil {
		return err
	}
	_, err := c.Recommend()
	return err
}
