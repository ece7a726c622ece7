package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
	"github.com/concord-cpg-engine/internal/middleware"
)

// ValidateRequest is the body of POST /api/v1/guidelines/validate.
type ValidateRequest struct {
	GuidelineYAML string `json:"guideline_yaml" binding:"required"`
}

// EvaluationRequest is the body of POST /api/v1/evaluations. The guideline is
// either a name from the guideline directory or an inline document.
type EvaluationRequest struct {
	Guideline     string            `json:"guideline" binding:"required_without=GuidelineYAML"`
	GuidelineYAML string            `json:"guideline_yaml"`
	SubjectYAML   string            `json:"subject_yaml" binding:"required"`
	SubjectID     string            `json:"subject_id"`
	Persona       string            `json:"persona" binding:"omitempty,oneof=patient provider guardian"`
	Attestations  map[string]string `json:"attestations"`
	AttestedBy    string            `json:"attested_by"`
}

func (s *Server) handleListGuidelines(c *gin.Context) {
	list, err := s.engine.Registry().List()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list guidelines"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guidelines": list, "count": len(list)})
}

func (s *Server) handleValidateGuideline(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	g, err := s.engine.Registry().Parse([]byte(req.GuidelineYAML))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "problems": problems(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":           true,
		"identifier":      g.Identifier,
		"title":           g.Title,
		"variables":       len(g.Variables),
		"assessments":     len(g.Assessments),
		"recommendations": len(g.Recommendations),
	})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ereq := engine.Request{
		GuidelinePath: req.Guideline,
		SubjectData:   []byte(req.SubjectYAML),
		SubjectID:     req.SubjectID,
		Persona:       domain.Persona(req.Persona),
		Answers:       req.Attestations,
		AttestedBy:    req.AttestedBy,
	}
	if req.GuidelineYAML != "" {
		ereq.GuidelineData = []byte(req.GuidelineYAML)
	}

	rep, err := s.engine.Evaluate(c.Request.Context(), ereq)
	outcome := engine.OutcomeOf(err)
	body := gin.H{
		"request_id": c.GetString(middleware.RequestIDKey),
		"outcome":    outcome,
	}
	if rep != nil {
		body["report"] = rep
	}

	switch outcome {
	case engine.OutcomeOK:
		c.JSON(http.StatusOK, body)
	case engine.OutcomeNeedsAttestation:
		var needs *domain.NeedsAttestationError
		if errors.As(err, &needs) {
			body["pending"] = needs.Pending()
		}
		c.JSON(http.StatusConflict, body)
	case engine.OutcomeIneligible, engine.OutcomeInsufficient:
		body["error"] = err.Error()
		c.JSON(http.StatusUnprocessableEntity, body)
	case engine.OutcomeInvalid:
		body["error"] = err.Error()
		body["problems"] = problems(err)
		c.JSON(http.StatusBadRequest, body)
	default:
		_ = c.Error(err)
		body["error"] = "evaluation failed"
		c.JSON(http.StatusInternalServerError, body)
	}
}

// problems lists every validation problem carried by err.
func problems(err error) []string {
	var gv *domain.GuidelineValidationError
	if !errors.As(err, &gv) {
		return []string{err.Error()}
	}
	var out []string
	for _, p := range gv.Problems() {
		out = append(out, p.Error())
	}
	return out
}
