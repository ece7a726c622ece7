// Package report turns the state of a guideline run into a serializable summary
// for terminals, HTTP clients and MCP tools.
package report

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/service"
)

// GuidelineInfo identifies the evaluated guideline.
type GuidelineInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	DOI        string `json:"doi,omitempty"`
	Publisher  string `json:"publisher,omitempty"`
}

// SubjectInfo identifies the evaluated subject.
type SubjectInfo struct {
	ID      string `json:"id"`
	Persona string `json:"persona"`
}

// Criterion is one evaluated eligibility criterion.
type Criterion struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Eligibility summarizes the eligibility stage.
type Eligibility struct {
	Eligible bool        `json:"eligible"`
	Criteria []Criterion `json:"criteria"`
}

// VariableRow is one guideline variable after sufficiency.
type VariableRow struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	Status     string     `json:"status"`
	Required   bool       `json:"required"`
	Attested   bool       `json:"attested"`
	Values     []string   `json:"values,omitempty"`
	LatestDate *time.Time `json:"latest_date,omitempty"`
	LatestAge  string     `json:"latest_age,omitempty"`
	Narrative  string     `json:"narrative,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Sufficiency summarizes the sufficiency stage.
type Sufficiency struct {
	Executable bool          `json:"executable"`
	Variables  []VariableRow `json:"variables"`
}

// AssessmentRow is one derived assessment.
type AssessmentRow struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Value     string `json:"value,omitempty"`
	Narrative string `json:"narrative,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecommendationRow is one evaluated recommendation.
type RecommendationRow struct {
	ID                    string   `json:"id"`
	Title                 string   `json:"title,omitempty"`
	Type                  string   `json:"type"`
	Applies               bool     `json:"applies"`
	ClassOfRecommendation string   `json:"class_of_recommendation,omitempty"`
	LevelOfEvidence       string   `json:"level_of_evidence,omitempty"`
	Grade                 string   `json:"grade,omitempty"`
	GradeMeaning          string   `json:"grade_meaning,omitempty"`
	Narrative             string   `json:"narrative,omitempty"`
	Compliance            string   `json:"compliance,omitempty"`
	ComplianceNarrative   string   `json:"compliance_narrative,omitempty"`
	Citations             []string `json:"citations,omitempty"`
	Error                 string   `json:"error,omitempty"`
}

// Pending is a variable waiting for a user-supplied value.
type Pending struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Type     string `json:"type,omitempty"`
	Question string `json:"question,omitempty"`
}

// Report is the full outcome of a run, including partial runs stopped early.
type Report struct {
	Guideline       GuidelineInfo       `json:"guideline"`
	Subject         SubjectInfo         `json:"subject"`
	State           string              `json:"state"`
	GeneratedAt     time.Time           `json:"generated_at"`
	Eligibility     *Eligibility        `json:"eligibility,omitempty"`
	Sufficiency     *Sufficiency        `json:"sufficiency,omitempty"`
	Assessments     []AssessmentRow     `json:"assessments,omitempty"`
	Recommendations []RecommendationRow `json:"recommendations,omitempty"`
	Pending         []Pending           `json:"pending,omitempty"`
	Errors          []string            `json:"errors,omitempty"`
}

// Build summarizes every stage c has completed.
func Build(c *service.Concord) *Report {
	g := c.Guideline()
	r := &Report{
		Guideline: GuidelineInfo{
			Identifier: g.Identifier,
			Title:      g.Title,
			DOI:        g.DOI,
			Publisher:  g.Publisher,
		},
		State:       c.State().String(),
		GeneratedAt: time.Now().UTC(),
	}
	if hc := c.HealthContext(); hc != nil {
		r.Subject = SubjectInfo{ID: hc.SubjectID, Persona: hc.Persona.String()}
	}

	if e := c.EligibilityResult(); e != nil {
		r.Eligibility = buildEligibility(g, e)
	}
	if s := c.SufficiencyResult(); s != nil {
		r.Sufficiency = buildSufficiency(s)
	}
	if a := c.AssessmentResult(); a != nil {
		r.Assessments = buildAssessments(g, a)
	}
	if set := c.Recommendations(); set != nil {
		r.Recommendations = buildRecommendations(set)
	}
	for _, rec := range c.Pending() {
		v := rec.Variable()
		r.Pending = append(r.Pending, Pending{
			ID:       v.ID,
			Title:    v.Title,
			Type:     v.Type.String(),
			Question: v.Question,
		})
	}
	return r
}

// AddError records a problem that stopped or degraded the run. Aggregates are
// flattened one entry per problem.
func (r *Report) AddError(err error) {
	if err == nil {
		return
	}
	var needs *domain.NeedsAttestationError
	if errors.As(err, &needs) {
		return
	}
	var insufficient *domain.InsufficientDataError
	if errors.As(err, &insufficient) && insufficient.Err != nil {
		for _, e := range insufficient.Err.WrappedErrors() {
			r.Errors = append(r.Errors, e.Error())
		}
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// Applied returns the recommendations that apply.
func (r *Report) Applied() []RecommendationRow {
	var out []RecommendationRow
	for _, rec := range r.Recommendations {
		if rec.Applies {
			out = append(out, rec)
		}
	}
	return out
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

func buildEligibility(g *domain.Guideline, e *service.EligibilityResult) *Eligibility {
	out := &Eligibility{Eligible: e.IsEligible()}
	types := make(map[string]string, len(g.Eligibility))
	for _, c := range g.Eligibility {
		types[c.ID] = c.CriteriaType.String()
	}
	for _, er := range e.Context.Records() {
		v := er.Record.Variable()
		out.Criteria = append(out.Criteria, Criterion{
			ID:    v.ID,
			Title: v.Title,
			Type:  types[v.ID],
			Value: valueText(er.Value()),
			Error: errText(er.Err),
		})
	}
	return out
}

func buildSufficiency(s *service.SufficiencyResult) *Sufficiency {
	out := &Sufficiency{Executable: s.IsExecutable()}
	for _, er := range s.Context.Records() {
		rec := er.Record
		v := rec.Variable()
		row := VariableRow{
			ID:        v.ID,
			Title:     v.Title,
			Status:    er.Status.String(),
			Required:  v.Required,
			Attested:  rec.Attested() != nil,
			Narrative: rec.Narrative(),
			Error:     errText(er.Err),
		}
		for _, val := range rec.Values() {
			row.Values = append(row.Values, val.Representation())
		}
		if latest := rec.Value(); latest != nil {
			date := latest.Date()
			row.LatestDate = &date
			row.LatestAge = humanize.Time(date)
		}
		out.Variables = append(out.Variables, row)
	}
	return out
}

// buildAssessments drops negative results unless the assessment asks to show them.
func buildAssessments(g *domain.Guideline, a *service.AssessmentResult) []AssessmentRow {
	var out []AssessmentRow
	for _, er := range a.Context.Records() {
		v := er.Record.Variable()
		if def := g.Assessment(v.ID); def != nil && !def.ShowIfNegative {
			if val := er.Value(); val != nil {
				if b, ok := val.Bool(); ok && !b {
					continue
				}
			}
		}
		out = append(out, AssessmentRow{
			ID:        v.ID,
			Title:     v.Title,
			Value:     valueText(er.Value()),
			Narrative: er.Record.Narrative(),
			Error:     errText(er.Err),
		})
	}
	return out
}

func buildRecommendations(set *service.RecommendationSet) []RecommendationRow {
	out := make([]RecommendationRow, 0, len(set.Results))
	for _, res := range set.Results {
		rec := res.Recommendation
		row := RecommendationRow{
			ID:                    rec.ID,
			Title:                 rec.Title,
			Type:                  rec.Type.String(),
			Applies:               res.Applies,
			ClassOfRecommendation: rec.ClassOfRecommendation.String(),
			LevelOfEvidence:       rec.LevelOfEvidence.String(),
			Grade:                 rec.Grade.String(),
			Narrative:             res.Narrative,
			Compliance:            valueText(res.Compliance),
			ComplianceNarrative:   res.ComplianceNarrative,
			Citations:             rec.Citations,
			Error:                 errText(res.Err),
		}
		if rec.Grade != "" {
			row.GradeMeaning = rec.Grade.Meaning()
		}
		if row.Error == "" && res.ComplianceErr != nil {
			row.Error = res.ComplianceErr.Error()
		}
		out = append(out, row)
	}
	return out
}

func valueText(v *domain.Value) string {
	if v == nil {
		return ""
	}
	return v.Representation()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
