package guideline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-cpg-engine/internal/domain"
)

func TestLoad_Statin(t *testing.T) {
	g, err := Load(filepath.Join("testdata", "statin.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "statin-primary-prevention", g.Identifier)
	assert.Equal(t, "USPSTF", g.Publisher)
	assert.Equal(t, []domain.Code{domain.NewCode("concord", "statin-primary-prevention", "")}, g.Codes)
	assert.Len(t, g.Variables, 10)
	assert.Len(t, g.Eligibility, 1)
	assert.Len(t, g.Assessments, 6)
	assert.Len(t, g.Recommendations, 4)

	ldl := g.Variable("ldl")
	require.NotNil(t, ldl)
	assert.Equal(t, domain.DECIMAL_TYPE, ldl.Type)
	assert.Equal(t, domain.LABORATORY_BLOOD_TEST, ldl.Category)
	assert.True(t, ldl.Matches([]domain.Code{{System: domain.LOINC, Code: "18262-6"}}))
	require.NotNil(t, ldl.Filter)
	assert.Equal(t, 730, ldl.Filter.After)
	require.NotNil(t, ldl.Narrative)
	tmpl, ok := ldl.Narrative.Template(domain.PATIENT, domain.Outcome{Kind: domain.NoValueOutcome})
	assert.True(t, ok)
	assert.Equal(t, "We could not find an LDL cholesterol result.", tmpl)

	hdl := g.Variable("hdl")
	require.NotNil(t, hdl.Validator)
	assert.Equal(t, []string{"total_cholesterol"}, hdl.Validator.PanelPeers())

	smoker := g.Variable("smoker")
	assert.True(t, smoker.UserAttestable)
	assert.Equal(t, "Do you currently smoke tobacco?", smoker.Question)

	criterion := g.Eligibility[0]
	assert.Equal(t, domain.INCLUSION, criterion.CriteriaType)
	assert.Equal(t, domain.ELIGIBILITY_CRITERIA, criterion.Category)
	assert.Equal(t, []string{"age"}, criterion.Expression.Identifiers())

	risk := g.Assessment("ten_year_risk")
	require.NotNil(t, risk)
	assert.Equal(t, "ascvd_ten_year_risk", risk.Function)
	assert.Nil(t, risk.Expression)
	assert.Equal(t, domain.DECIMAL_TYPE, risk.Type)
	assert.True(t, g.Assessment("severe_ldl").ShowIfNegative)

	statin := g.Recommendations[0]
	assert.Equal(t, "statin_high_risk", statin.ID)
	assert.Equal(t, domain.MEDICATION, statin.Type)
	assert.Equal(t, domain.COR_I, statin.ClassOfRecommendation)
	assert.Equal(t, domain.LOE_A, statin.LevelOfEvidence)
	assert.Equal(t, domain.GRADE_B, statin.Grade)
	assert.Equal(t, []string{"10.1001/jama.2022.13044"}, statin.Citations)
	require.NotNil(t, statin.Compliance)
	assert.True(t, statin.Narrative.HasCompliance())

	about := g.Recommendations[3]
	assert.Equal(t, domain.DISPLAY, about.Type)
	assert.Nil(t, about.Expression)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
  "CPG": {"identifier": "mini", "title": "Minimal"},
  "variables": [{"id": "age", "type": "int", "required": true}],
  "eligibility": [{"id": "adult", "expression": "$age >= 18"}],
  "assessments": [{"id": "senior", "expression": "$age >= 65"}],
  "recommendations": [{"id": "flu_shot", "type": "evaluation", "expression": "$senior"}]
}`

	g, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "mini", g.Identifier)
	assert.Equal(t, domain.INTEGER_TYPE, g.Variables[0].Type)
	assert.Equal(t, domain.INCLUSION, g.Eligibility[0].CriteriaType)
	assert.Equal(t, domain.EVALUATION, g.Recommendations[0].Type)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		contains []string
	}{
		{
			name:     "empty",
			doc:      "   \n",
			contains: []string{"empty document"},
		},
		{
			name:     "malformed",
			doc:      "CPG: [unclosed",
			contains: []string{"guideline validation failed"},
		},
		{
			name: "missing header and ids",
			doc: `
variables:
  - title: nameless
recommendations:
  - id: r
`,
			contains: []string{"Identifier", "ID", "Type"},
		},
		{
			name: "unknown value type and bad grade",
			doc: `
CPG: {identifier: g, title: G}
variables:
  - id: age
    type: complex
eligibility:
  - id: adult
    expression: "$age >= 18"
    type: optional
assessments:
  - id: a
    expression: "$age >="
recommendations:
  - id: r
    type: medication
    uspstf_grade: Z
`,
			contains: []string{"unknown value type", "criterion \"adult\"", "expression of \"a\"", "recommendation \"r\""},
		},
		{
			name: "invalid narrative persona",
			doc: `
CPG: {identifier: g, title: G}
variables:
  - id: age
    narrative:
      nurse:
        hasvalue: "$age"
`,
			contains: []string{"narrative of \"age\""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrGuidelineValidation)
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestLoad_InvalidGuidelineReportsEveryProblem(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)

	var verr *domain.GuidelineValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "broken", verr.Guideline)
	assert.Len(t, verr.Problems(), 3)
	assert.Contains(t, err.Error(), "declares both an expression and a function")
	assert.Contains(t, err.Error(), `invalid type "vaccinate"`)
	assert.Contains(t, err.Error(), "not an assessment")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
