package guideline

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/concord-cpg-engine/internal/domain"
)

// document is the on-disk guideline layout. JSON documents decode through the same
// YAML parser.
type document struct {
	CPG             header              `yaml:"CPG"`
	Variables       []variableDoc       `yaml:"variables" validate:"dive"`
	Eligibility     []assessmentDoc     `yaml:"eligibility" validate:"dive"`
	Assessments     []assessmentDoc     `yaml:"assessments" validate:"dive"`
	Recommendations []recommendationDoc `yaml:"recommendations" validate:"dive"`
}

type header struct {
	Identifier string              `yaml:"identifier" validate:"required"`
	Title      string              `yaml:"title" validate:"required"`
	DOI        string              `yaml:"doi"`
	Publisher  string              `yaml:"publisher"`
	Code       map[string][]string `yaml:"code"`
}

// Entry holds the fields shared by every kind of document entry. It is exported so
// the decoder and validator can reach its promoted fields.
type Entry struct {
	ID             string              `yaml:"id" validate:"required,excludesall=$"`
	Title          string              `yaml:"title"`
	Description    string              `yaml:"description"`
	Code           map[string][]string `yaml:"code"`
	Category       string              `yaml:"category"`
	Required       bool                `yaml:"required"`
	UserAttestable bool                `yaml:"user_attestable"`
	Question       string              `yaml:"question"`
	Narrative      *narrativeDoc       `yaml:"narrative"`
}

type variableDoc struct {
	Entry   `yaml:",inline"`
	Type      string       `yaml:"type"`
	Reconcile bool         `yaml:"reconcile"`
	Filter    *filterDoc   `yaml:"filter"`
	Validate  *validateDoc `yaml:"validate"`
}

type assessmentDoc struct {
	Entry        `yaml:",inline"`
	Expression     string `yaml:"expression"`
	Function       string `yaml:"function"`
	ShowIfNegative bool   `yaml:"show_if_negative"`
	// Type is inclusion or exclusion for eligibility criteria and the value type
	// otherwise.
	Type string `yaml:"type"`
}

type recommendationDoc struct {
	Entry               `yaml:",inline"`
	Type                  string   `yaml:"type" validate:"required"`
	Expression            string   `yaml:"expression"`
	Compliance            string   `yaml:"compliance"`
	ClassOfRecommendation string   `yaml:"class_of_recommendation"`
	LevelOfEvidence       string   `yaml:"level_of_evidence"`
	Grade                 string   `yaml:"uspstf_grade"`
	Citations             []string `yaml:"citations"`
}

type filterDoc struct {
	Before     int    `yaml:"before" validate:"gte=0"`
	After      int    `yaml:"after" validate:"gte=0"`
	Count      int    `yaml:"count" validate:"gte=0"`
	Expression string `yaml:"expression"`
	Upper      int    `yaml:"upper" validate:"gte=0"`
	Lower      int    `yaml:"lower" validate:"gte=0"`
}

type validateDoc struct {
	Plausible string `yaml:"plausible"`
	Panel     string `yaml:"panel"`
}

// narrativeDoc maps persona to outcome key to template. The reserved persona key
// "compliance" holds the compliance templates, one level deeper.
type narrativeDoc struct {
	Templates  map[string]map[string]string
	Compliance map[string]map[string]string
}

func (n *narrativeDoc) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return err
	}

	n.Templates = make(map[string]map[string]string, len(raw))
	for persona, node := range raw {
		if strings.EqualFold(persona, "compliance") {
			if err := node.Decode(&n.Compliance); err != nil {
				return fmt.Errorf("compliance narrative: %w", err)
			}
			continue
		}
		var templates map[string]string
		if err := node.Decode(&templates); err != nil {
			return fmt.Errorf("narrative for %s: %w", persona, err)
		}
		n.Templates[persona] = templates
	}
	return nil
}

// converter turns a decoded document into domain types, collecting every problem.
type converter struct {
	errs []error
}

func (c *converter) fail(format string, args ...interface{}) {
	c.errs = append(c.errs, fmt.Errorf(format, args...))
}

func (c *converter) guideline(doc *document) *domain.Guideline {
	g := &domain.Guideline{
		Identifier: doc.CPG.Identifier,
		Title:      doc.CPG.Title,
		DOI:        doc.CPG.DOI,
		Publisher:  doc.CPG.Publisher,
		Codes:      codes(doc.CPG.Code),
	}
	for i := range doc.Variables {
		g.Variables = append(g.Variables, c.variable(&doc.Variables[i]))
	}
	for i := range doc.Eligibility {
		g.Eligibility = append(g.Eligibility, c.assessment(&doc.Eligibility[i], true))
	}
	for i := range doc.Assessments {
		g.Assessments = append(g.Assessments, c.assessment(&doc.Assessments[i], false))
	}
	for i := range doc.Recommendations {
		g.Recommendations = append(g.Recommendations, c.recommendation(&doc.Recommendations[i]))
	}
	return g
}

func (c *converter) base(d *Entry) *domain.Variable {
	v := &domain.Variable{
		ID:             d.ID,
		Title:          d.Title,
		Description:    d.Description,
		Codes:          codes(d.Code),
		Category:       domain.ParseCategory(d.Category),
		Required:       d.Required,
		UserAttestable: d.UserAttestable,
		Question:       d.Question,
	}
	if d.Narrative != nil {
		n, err := domain.NewNarrative(d.Narrative.Templates, d.Narrative.Compliance)
		if err != nil {
			c.fail("narrative of %q: %w", d.ID, err)
		} else {
			v.Narrative = n
		}
	}
	return v
}

func (c *converter) variable(d *variableDoc) *domain.Variable {
	v := c.base(&d.Entry)
	v.Reconcile = d.Reconcile

	vt, err := domain.ParseValueType(d.Type)
	if err != nil {
		c.fail("variable %q: %w", d.ID, err)
	}
	v.Type = vt

	if f := d.Filter; f != nil {
		filter, err := domain.NewValueFilter(f.Before, f.After, f.Count, f.Expression, f.Upper, f.Lower)
		if err != nil {
			c.fail("filter of %q: %w", d.ID, err)
		}
		v.Filter = filter
	}
	if val := d.Validate; val != nil {
		validator, err := domain.NewValidator(val.Plausible, val.Panel)
		if err != nil {
			c.fail("validator of %q: %w", d.ID, err)
		}
		v.Validator = validator
	}
	return v
}

func (c *converter) assessment(d *assessmentDoc, criterion bool) *domain.Assessment {
	a := &domain.Assessment{
		Variable:       c.base(&d.Entry),
		Function:       d.Function,
		ShowIfNegative: d.ShowIfNegative,
	}
	if criterion {
		a.Category = domain.ELIGIBILITY_CRITERIA
		ct, err := domain.ParseEligibilityCriteriaType(d.Type)
		if err != nil {
			c.fail("criterion %q: %w", d.ID, err)
		}
		a.CriteriaType = ct
	} else {
		vt, err := domain.ParseValueType(d.Type)
		if err != nil {
			c.fail("assessment %q: %w", d.ID, err)
		}
		a.Type = vt
	}
	a.Expression = c.expression(d.ID, d.Expression)
	return a
}

func (c *converter) recommendation(d *recommendationDoc) *domain.Recommendation {
	r := &domain.Recommendation{
		Variable:   c.base(&d.Entry),
		Expression: c.expression(d.ID, d.Expression),
		Compliance: c.expression(d.ID, d.Compliance),
		Citations:  d.Citations,
	}

	// Guideline.Validate reports unknown types alongside the other structural problems.
	if rt, err := domain.ParseRecommendationType(d.Type); err == nil {
		r.Type = rt
	} else {
		r.Type = domain.RecommendationType(d.Type)
	}

	if d.ClassOfRecommendation != "" {
		cor, err := domain.ParseClassOfRecommendation(d.ClassOfRecommendation)
		if err != nil {
			c.fail("recommendation %q: %w", d.ID, err)
		}
		r.ClassOfRecommendation = cor
	}
	if d.LevelOfEvidence != "" {
		loe, err := domain.ParseLevelOfEvidence(d.LevelOfEvidence)
		if err != nil {
			c.fail("recommendation %q: %w", d.ID, err)
		}
		r.LevelOfEvidence = loe
	}
	if d.Grade != "" {
		grade, err := domain.ParseUSPSTFGrade(d.Grade)
		if err != nil {
			c.fail("recommendation %q: %w", d.ID, err)
		}
		r.Grade = grade
	}
	return r
}

func (c *converter) expression(owner, text string) *domain.Expression {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	e, err := domain.NewExpression(text)
	if err != nil {
		c.fail("expression of %q: %w", owner, err)
		return nil
	}
	return e
}

// codes flattens `{system: [code, ...]}` into Codes, ordered by system.
func codes(m map[string][]string) []domain.Code {
	if len(m) == 0 {
		return nil
	}
	systems := make([]string, 0, len(m))
	for system := range m {
		systems = append(systems, system)
	}
	sort.Strings(systems)

	var out []domain.Code
	for _, system := range systems {
		for _, code := range m[system] {
			out = append(out, domain.NewCode(system, code, ""))
		}
	}
	return out
}
