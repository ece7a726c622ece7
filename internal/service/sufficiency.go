package service

import (
	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
)

// SufficiencyEvaluator decides whether a subject has enough data to run a guideline.
type SufficiencyEvaluator struct {
	guideline  *domain.Guideline
	logger     *logrus.Logger
	strict     bool
	recordOpts []domain.RecordOption
}

// NewSufficiencyEvaluator creates an evaluator for guideline. With strict set, values
// failing their plausibility or panel checks are recorded as errors instead of warnings.
func NewSufficiencyEvaluator(guideline *domain.Guideline, logger *logrus.Logger, strict bool, opts ...domain.RecordOption) *SufficiencyEvaluator {
	if logger == nil {
		logger = discardLogger()
	}
	return &SufficiencyEvaluator{
		guideline:  guideline,
		logger:     logger,
		strict:     strict,
		recordOpts: append([]domain.RecordOption{domain.WithRecordLogger(logger)}, opts...),
	}
}

// SufficiencyResult wraps the sufficiency stage's evaluation context.
type SufficiencyResult struct {
	Context *domain.EvaluationContext
}

// Evaluate binds every guideline variable to the subject's data and classifies it.
// Per-record failures are captured in the result.
func (e *SufficiencyEvaluator) Evaluate(hc *domain.HealthContext) *SufficiencyResult {
	ctx := domain.NewEvaluationContext("sufficiency")

	records := make([]*domain.Record, 0, len(e.guideline.Variables))
	for _, variable := range e.guideline.Variables {
		records = append(records, e.bind(hc, variable))
	}

	scope := make(map[string]*domain.Record, len(records))
	for _, r := range records {
		scope[r.ID()] = r
	}

	for _, r := range records {
		var err error
		for _, v := range r.RawValues() {
			if err = r.Validate(v, records, e.strict); err != nil {
				break
			}
		}
		r.ResolveNarrative(hc.Persona, scope)

		var er *domain.EvaluatedRecord
		if err != nil {
			er = ctx.AddUnevaluated(r, err)
		} else {
			er = ctx.AddEvaluated(r, nil)
		}
		if er.Err != nil {
			e.logger.WithFields(logrus.Fields{
				"variable": r.ID(),
				"status":   er.Status,
			}).WithError(er.Err).Debug("Variable not sufficient")
		}
	}

	result := &SufficiencyResult{Context: ctx}
	e.logger.WithFields(logrus.Fields{
		"guideline":    e.guideline.Identifier,
		"subject":      hc.SubjectID,
		"variables":    ctx.Len(),
		"insufficient": len(result.InsufficientVariables()),
		"attestation":  len(result.AttestationVariables()),
	}).Info("Completed sufficiency evaluation")
	return result
}

// bind finds the subject record for variable. A record matched by code under another
// id is rebound to the guideline's definition; an unmatched variable gets an empty record.
func (e *SufficiencyEvaluator) bind(hc *domain.HealthContext, variable *domain.Variable) *domain.Record {
	found := hc.Find(variable)
	switch {
	case found == nil:
		return domain.NewRecord(variable, nil, e.recordOpts...)
	case found.Variable() != variable:
		return domain.NewRecord(variable, found.RawValues(), e.recordOpts...)
	}
	return found
}

// IsExecutable reports whether no record is insufficient.
func (r *SufficiencyResult) IsExecutable() bool {
	return len(r.Context.Insufficient()) == 0
}

// InsufficientVariables returns the records that block execution.
func (r *SufficiencyResult) InsufficientVariables() []*domain.EvaluatedRecord {
	return r.Context.Insufficient()
}

// SufficientVariables returns the records with usable values.
func (r *SufficiencyResult) SufficientVariables() []*domain.EvaluatedRecord {
	return r.Context.Sufficient()
}

// AttestationVariables returns the attestable records still lacking a usable value.
func (r *SufficiencyResult) AttestationVariables() []*domain.EvaluatedRecord {
	return r.Context.NeedingAttestation()
}

// Records returns every bound record in guideline order.
func (r *SufficiencyResult) Records() []*domain.Record {
	return r.Context.RecordList()
}

// InsufficientError aggregates every insufficiency, or returns nil when executable.
func (r *SufficiencyResult) InsufficientError() error {
	insufficient := r.Context.Insufficient()
	if len(insufficient) == 0 {
		return nil
	}
	ids := make([]string, 0, len(insufficient))
	errs := make([]error, 0, len(insufficient))
	for _, er := range insufficient {
		ids = append(ids, er.ID())
		errs = append(errs, er.Err)
	}
	return domain.NewInsufficientDataError(ids, errs...)
}
