package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
	"github.com/concord-cpg-engine/internal/guideline"
	"github.com/concord-cpg-engine/internal/report"
)

// ListGuidelinesInput takes no arguments.
type ListGuidelinesInput struct{}

// ValidateGuidelineInput is the validate_guideline argument.
type ValidateGuidelineInput struct {
	GuidelineYAML string `json:"guideline_yaml" jsonschema:"the guideline document as YAML or JSON"`
}

// EvaluateGuidelineInput is the evaluate_guideline argument. Either GuidelineYAML or
// Guideline must be set.
type EvaluateGuidelineInput struct {
	GuidelineYAML string            `json:"guideline_yaml,omitempty" jsonschema:"the guideline document as YAML or JSON"`
	Guideline     string            `json:"guideline,omitempty" jsonschema:"name of a guideline in the guideline directory"`
	SubjectYAML   string            `json:"subject_yaml" jsonschema:"the subject document with its observations"`
	SubjectID     string            `json:"subject_id,omitempty" jsonschema:"overrides the subject id in the document"`
	Persona       string            `json:"persona,omitempty" jsonschema:"patient, provider or guardian"`
	Attestations  map[string]string `json:"attestations,omitempty" jsonschema:"answers for attestable variables keyed by variable id"`
}

// ValidationResult is the validate_guideline response.
type ValidationResult struct {
	Valid           bool     `json:"valid"`
	Identifier      string   `json:"identifier,omitempty"`
	Title           string   `json:"title,omitempty"`
	Variables       int      `json:"variables,omitempty"`
	Recommendations int      `json:"recommendations,omitempty"`
	Problems        []string `json:"problems,omitempty"`
}

// EvaluationResult is the evaluate_guideline response.
type EvaluationResult struct {
	Outcome engine.Outcome `json:"outcome"`
	Pending []string       `json:"pending,omitempty"`
	Error   string         `json:"error,omitempty"`
	Report  *report.Report `json:"report,omitempty"`
}

func (s *Server) listGuidelines(ctx context.Context, req *mcp.CallToolRequest, _ ListGuidelinesInput) (*mcp.CallToolResult, any, error) {
	list, err := s.engine.Registry().List()
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		list = []guideline.Summary{}
	}
	result, err := textResult(list, false)
	return result, nil, err
}

func (s *Server) validateGuideline(ctx context.Context, req *mcp.CallToolRequest, in ValidateGuidelineInput) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "validate_guideline").Info("Tool invoked")

	out := validate(s.engine.Registry(), in.GuidelineYAML)
	result, err := textResult(out, !out.Valid)
	return result, nil, err
}

func validate(registry *guideline.Registry, doc string) ValidationResult {
	g, err := registry.Parse([]byte(doc))
	if err != nil {
		return ValidationResult{Problems: problems(err)}
	}
	return ValidationResult{
		Valid:           true,
		Identifier:      g.Identifier,
		Title:           g.Title,
		Variables:       len(g.Variables),
		Recommendations: len(g.Recommendations),
	}
}

func (s *Server) evaluateGuideline(ctx context.Context, req *mcp.CallToolRequest, in EvaluateGuidelineInput) (*mcp.CallToolResult, any, error) {
	logger := s.logger.WithField("tool", "evaluate_guideline")
	logger.Info("Tool invoked")

	out := s.evaluate(ctx, in)
	logger.WithField("outcome", out.Outcome).Info("Tool completed")

	isError := out.Outcome == engine.OutcomeInvalid || out.Outcome == engine.OutcomeError
	result, err := textResult(out, isError)
	return result, nil, err
}

func (s *Server) evaluate(ctx context.Context, in EvaluateGuidelineInput) EvaluationResult {
	persona, err := personaOf(in.Persona)
	if err != nil {
		return EvaluationResult{Outcome: engine.OutcomeInvalid, Error: err.Error()}
	}

	rep, err := s.engine.Evaluate(ctx, engine.Request{
		GuidelinePath: in.Guideline,
		GuidelineData: []byte(in.GuidelineYAML),
		SubjectData:   []byte(in.SubjectYAML),
		SubjectID:     in.SubjectID,
		Persona:       persona,
		Answers:       in.Attestations,
		AttestedBy:    "mcp",
	})

	out := EvaluationResult{Outcome: engine.OutcomeOf(err), Report: rep}
	if err != nil {
		out.Error = err.Error()
	}
	var needs *domain.NeedsAttestationError
	if errors.As(err, &needs) {
		out.Pending = needs.Pending()
	}
	return out
}

func problems(err error) []string {
	var gv *domain.GuidelineValidationError
	if !errors.As(err, &gv) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(gv.Problems()))
	for _, p := range gv.Problems() {
		out = append(out, p.Error())
	}
	return out
}
