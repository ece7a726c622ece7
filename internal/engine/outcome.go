package engine

import (
	"errors"

	"github.com/concord-cpg-engine/internal/attestation"
	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/guideline"
)

// Outcome classifies how an evaluation ended.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeNeedsAttestation Outcome = "needs_attestation"
	OutcomeIneligible       Outcome = "ineligible"
	OutcomeInsufficient     Outcome = "insufficient"
	OutcomeInvalid          Outcome = "invalid"
	OutcomeError            Outcome = "error"
)

// OutcomeOf maps an Evaluate error to its outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, domain.ErrNeedsAttestation):
		return OutcomeNeedsAttestation
	case errors.Is(err, ErrIneligible):
		return OutcomeIneligible
	case errors.Is(err, domain.ErrInsufficientData):
		return OutcomeInsufficient
	case errors.Is(err, domain.ErrGuidelineValidation),
		errors.Is(err, guideline.ErrNotFound),
		errors.Is(err, ErrInvalidSubject),
		errors.Is(err, ErrMissingInput),
		errors.Is(err, domain.ErrInvalidValue),
		errors.Is(err, domain.ErrTypeMismatch),
		errors.Is(err, domain.ErrImplausibleValue),
		errors.Is(err, domain.ErrPanelInconsistent),
		errors.Is(err, domain.ErrNotAttestable),
		errors.Is(err, attestation.ErrInvalidAttestation),
		errors.Is(err, domain.ErrUndeclaredVariable):
		return OutcomeInvalid
	}
	return OutcomeError
}
