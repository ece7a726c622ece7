package domain

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Assessment is a derived variable computed by an expression or a named function.
// Eligibility criteria are assessments that carry a criteria type.
type Assessment struct {
	*Variable
	Expression     *Expression
	Function       string
	ShowIfNegative bool
	CriteriaType   EligibilityCriteriaType
}

// Recommendation is an action gated by an applicability expression over assessments.
type Recommendation struct {
	*Variable
	Type                  RecommendationType
	Expression            *Expression
	Compliance            *Expression
	ClassOfRecommendation ClassOfRecommendation
	LevelOfEvidence       LevelOfEvidence
	Grade                 USPSTFGrade
	Citations             []string
}

// AppliesWithoutExpression reports whether the recommendation is a display type whose
// applicability depends only on persona.
func (r *Recommendation) AppliesWithoutExpression(persona Persona) (applies bool, ok bool) {
	switch r.Type {
	case DISPLAY:
		return true, true
	case DISPLAY_PROVIDER:
		return persona == PROVIDER, true
	case DISPLAY_PATIENT:
		return persona == PATIENT, true
	}
	return false, false
}

// Guideline is a parsed clinical practice guideline. It is read-only once validated
// and may be shared across concurrent evaluations.
type Guideline struct {
	Identifier      string
	Title           string
	DOI             string
	Publisher       string
	Codes           []Code
	Variables       []*Variable
	Eligibility     []*Assessment
	Assessments     []*Assessment
	Recommendations []*Recommendation
}

// Variable returns the variable definition with id, or nil.
func (g *Guideline) Variable(id string) *Variable {
	for _, v := range g.Variables {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// Assessment returns the assessment with id, or nil.
func (g *Guideline) Assessment(id string) *Assessment {
	for _, a := range g.Assessments {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Validate reports every structural problem at once as a GuidelineValidationError.
func (g *Guideline) Validate() error {
	var merr *multierror.Error
	add := func(format string, args ...interface{}) {
		merr = multierror.Append(merr, fmt.Errorf(format, args...))
	}

	if len(g.Variables) == 0 {
		add("no variables defined")
	}
	if len(g.Eligibility) == 0 {
		add("no eligibility criteria defined")
	}
	if len(g.Assessments) == 0 {
		add("no assessments defined")
	}
	if len(g.Recommendations) == 0 {
		add("no recommendations defined")
	}

	declared := map[string]string{}
	declare := func(id, section string) {
		if id == "" {
			add("%s entry without an id", section)
			return
		}
		if prev, ok := declared[id]; ok {
			add("duplicate id %q in %s (already declared in %s)", id, section, prev)
			return
		}
		declared[id] = section
	}

	variables := map[string]bool{}
	for _, v := range g.Variables {
		declare(v.ID, "variables")
		variables[v.ID] = true
	}
	for _, a := range g.Eligibility {
		declare(a.ID, "eligibility")
	}
	for _, a := range g.Assessments {
		declare(a.ID, "assessments")
	}
	for _, r := range g.Recommendations {
		declare(r.ID, "recommendations")
	}

	// Criteria see only variables; assessments also see assessments declared earlier.
	visible := map[string]bool{}
	for id := range variables {
		visible[id] = true
	}
	checkAssessment := func(a *Assessment, section string) {
		switch {
		case a.Expression != nil && a.Function != "":
			add("%s %q declares both an expression and a function", section, a.ID)
		case a.Expression == nil && a.Function == "":
			add("%s %q declares neither an expression nor a function", section, a.ID)
		case a.Expression != nil:
			for _, id := range a.Expression.Identifiers() {
				if !visible[id] {
					add("%s %q references undeclared $%s", section, a.ID, id)
				}
			}
		}
	}
	for _, a := range g.Eligibility {
		checkAssessment(a, "eligibility criterion")
	}
	assessments := map[string]bool{}
	for _, a := range g.Assessments {
		checkAssessment(a, "assessment")
		visible[a.ID] = true
		assessments[a.ID] = true
	}

	for _, r := range g.Recommendations {
		if r.Type == "" || !r.Type.IsValid() {
			add("recommendation %q has invalid type %q", r.ID, r.Type)
		}
		if r.Expression != nil {
			for _, id := range r.Expression.Identifiers() {
				if !assessments[id] {
					add("recommendation %q references $%s, which is not an assessment", r.ID, id)
				}
			}
		}
		if r.Compliance != nil {
			for _, id := range r.Compliance.Identifiers() {
				if !variables[id] {
					add("recommendation %q compliance references $%s, which is not a variable", r.ID, id)
				}
			}
		}
	}

	checkNarrative := func(v *Variable) {
		for _, id := range v.NarrativeVariables() {
			if _, ok := declared[id]; !ok {
				add("narrative of %q references undeclared $%s", v.ID, id)
			}
		}
	}
	for _, v := range g.Variables {
		checkNarrative(v)
	}
	for _, a := range g.Eligibility {
		checkNarrative(a.Variable)
	}
	for _, a := range g.Assessments {
		checkNarrative(a.Variable)
	}
	for _, r := range g.Recommendations {
		checkNarrative(r.Variable)
	}

	if merr == nil {
		return nil
	}
	return &GuidelineValidationError{Guideline: g.Identifier, Err: newMultiError(merr.Errors...)}
}
