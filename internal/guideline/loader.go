// Package guideline reads guideline documents (YAML, or JSON) into validated
// domain guidelines and caches them by content.
package guideline

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/concord-cpg-engine/internal/domain"
)

var validate = validator.New()

// Parse decodes and validates a guideline document. Structural problems are reported
// together in a *domain.GuidelineValidationError.
func Parse(data []byte) (*domain.Guideline, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrGuidelineValidation)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGuidelineValidation, err)
	}

	if err := validate.Struct(&doc); err != nil {
		return nil, &domain.GuidelineValidationError{
			Guideline: doc.CPG.Identifier,
			Err:       domain.NewMultiError(fieldErrors(err)...),
		}
	}

	conv := &converter{}
	g := conv.guideline(&doc)
	if len(conv.errs) > 0 {
		return nil, &domain.GuidelineValidationError{
			Guideline: g.Identifier,
			Err:       domain.NewMultiError(conv.errs...),
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Load reads and parses the guideline at path.
func Load(path string) (*domain.Guideline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guideline: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func fieldErrors(err error) []error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{err}
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out = append(out, fmt.Errorf("%s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		out = append(out, fmt.Errorf("%s fails %s", fe.Namespace(), fe.Tag()))
	}
	return out
}
