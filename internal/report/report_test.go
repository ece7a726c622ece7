package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/guideline"
	"github.com/concord-cpg-engine/internal/healthdata"
	"github.com/concord-cpg-engine/internal/service"
)

const subjectYAML = `
subject:
  id: patient-0107
observations:
  - code: {system: loinc, code: 30525-0}
    value: 66
  - code: {system: loinc, code: 76689-9}
    value: female
  - code: {system: loinc, code: 8480-6}
    value: 128
  - code: {system: loinc, code: 2093-3}
    value: 240
  - code: {system: loinc, code: 2085-9}
    value: 45
  - code: {system: loinc, code: 13457-7}
    value: 195
    unit: mg/dL
  - code: {system: concord, code: hypertension_treatment}
    value: false
`

func newConcord(t *testing.T) *service.Concord {
	t.Helper()
	g, err := guideline.Load(filepath.Join("..", "guideline", "testdata", "statin.yaml"))
	require.NoError(t, err)
	doc, err := healthdata.Parse([]byte(subjectYAML))
	require.NoError(t, err)
	hc, err := doc.HealthContext(g, domain.PATIENT, time.Time{})
	require.NoError(t, err)
	return service.NewConcord(g, hc)
}

func TestBuild_Pending(t *testing.T) {
	c := newConcord(t)
	err := c.Run()
	require.ErrorIs(t, err, domain.ErrNeedsAttestation)

	r := Build(c)
	assert.Equal(t, "statin-primary-prevention", r.Guideline.Identifier)
	assert.Equal(t, "USPSTF", r.Guideline.Publisher)
	assert.Equal(t, SubjectInfo{ID: "patient-0107", Persona: "patient"}, r.Subject)
	assert.Equal(t, "attestation_pending", r.State)

	require.NotNil(t, r.Eligibility)
	assert.True(t, r.Eligibility.Eligible)
	require.Len(t, r.Eligibility.Criteria, 1)
	assert.Equal(t, Criterion{ID: "adult_40_to_75", Title: "Adults aged 40 to 75", Type: "inclusion", Value: "Yes"}, r.Eligibility.Criteria[0])

	require.NotNil(t, r.Sufficiency)
	assert.True(t, r.Sufficiency.Executable)
	require.Len(t, r.Sufficiency.Variables, 10)
	ldl := r.Sufficiency.Variables[6]
	assert.Equal(t, "ldl", ldl.ID)
	assert.Equal(t, "Sufficient", ldl.Status)
	assert.Equal(t, []string{"195 mg/dL"}, ldl.Values)
	assert.Equal(t, "now", ldl.LatestAge)
	assert.Contains(t, ldl.Narrative, "Your most recent LDL cholesterol was 195 mg/dL")

	smoker := r.Sufficiency.Variables[8]
	assert.Equal(t, "SufficientWithUserAttestation", smoker.Status)
	assert.Empty(t, smoker.Values)
	assert.Nil(t, smoker.LatestDate)

	assert.Equal(t, []Pending{
		{ID: "smoker", Title: "Current smoker", Type: "boolean", Question: "Do you currently smoke tobacco?"},
		{ID: "diabetic", Title: "Diabetes", Type: "boolean", Question: "Have you been diagnosed with diabetes?"},
	}, r.Pending)
	assert.Nil(t, r.Recommendations)
}

func TestBuild_Complete(t *testing.T) {
	c := newConcord(t)
	require.ErrorIs(t, c.Run(), domain.ErrNeedsAttestation)
	require.NoError(t, c.Attest("smoker", domain.MustValue(false)))
	require.NoError(t, c.Attest("diabetic", domain.MustValue(false)))
	require.NoError(t, c.Resume())

	r := Build(c)
	assert.Equal(t, "recommendations_evaluated", r.State)
	assert.Empty(t, r.Pending)
	assert.True(t, r.Sufficiency.Variables[8].Attested)

	var ids []string
	for _, a := range r.Assessments {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "severe_ldl")
	assert.NotContains(t, ids, "risk_factor", "negative result without show_if_negative")

	applied := r.Applied()
	require.NotEmpty(t, applied)
	statin := applied[0]
	assert.Equal(t, "statin_high_risk", statin.ID)
	assert.Equal(t, "I", statin.ClassOfRecommendation)
	assert.Equal(t, "A", statin.LevelOfEvidence)
	assert.Equal(t, "B", statin.Grade)
	assert.NotEmpty(t, statin.GradeMeaning)
	assert.Equal(t, "No", statin.Compliance)
	assert.Equal(t, "Your LDL of 195 mg/dL is above goal.", statin.ComplianceNarrative)
	assert.Equal(t, []string{"10.1001/jama.2022.13044"}, statin.Citations)
}

func TestWriteText(t *testing.T) {
	c := newConcord(t)
	require.ErrorIs(t, c.Run(), domain.ErrNeedsAttestation)
	require.NoError(t, c.Attest("smoker", domain.MustValue(false)))
	require.NoError(t, c.Attest("diabetic", domain.MustValue(false)))
	require.NoError(t, c.Resume())

	r := Build(c)
	r.AddError(errors.New("something degraded"))

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "Statin Use for the Primary Prevention of Cardiovascular Disease in Adults\n=====")
	assert.Contains(t, out, "Subject: patient-0107 (patient)")
	assert.Contains(t, out, "Eligibility: eligible")
	assert.Contains(t, out, "No (attested)")
	assert.Contains(t, out, "* statin_high_risk [COR I, LOE A, Grade B]")
	assert.Contains(t, out, "We recommend starting a statin.")
	assert.NotContains(t, out, "statin_shared_decision")
	assert.Contains(t, out, "Errors\n  - something degraded")
}

func TestWriteJSON(t *testing.T) {
	c := newConcord(t)
	require.ErrorIs(t, c.Run(), domain.ErrNeedsAttestation)

	var buf bytes.Buffer
	require.NoError(t, Build(c).WriteJSON(&buf))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "attestation_pending", decoded["state"])
	assert.Len(t, decoded["pending"], 2)
	assert.NotContains(t, decoded, "assessments")
}

func TestAddError(t *testing.T) {
	r := &Report{}
	r.AddError(nil)
	r.AddError(&domain.NeedsAttestationError{})
	assert.Empty(t, r.Errors)

	r.AddError(domain.NewInsufficientDataError([]string{"hdl", "ldl"},
		errors.New("hdl missing"), errors.New("ldl missing")))
	r.AddError(errors.New("boom"))
	assert.Equal(t, []string{"hdl missing", "ldl missing", "boom"}, r.Errors)
}
