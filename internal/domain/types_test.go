package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersona(t *testing.T) {
	tests := []struct {
		in       string
		expected Persona
		wantErr  bool
	}{
		{"patient", PATIENT, false},
		{" Provider ", PROVIDER, false},
		{"GUARDIAN", GUARDIAN, false},
		{"doctor", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePersona(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, VITAL_SIGN, ParseCategory("vital-sign"))
	assert.Equal(t, LABORATORY_BLOOD_TEST, ParseCategory("Laboratory-Blood-Test"))
	assert.Equal(t, UNDETERMINED, ParseCategory("imaging"))
	assert.Equal(t, UNDETERMINED, ParseCategory(""))
}

func TestParseClassOfRecommendation(t *testing.T) {
	tests := []struct {
		in       string
		expected ClassOfRecommendation
	}{
		{"I", COR_I},
		{"IIa", COR_IIA},
		{"II_A", COR_IIA},
		{"II_B", COR_IIB},
		{"III: No Benefit", COR_III_NO_BENEFIT},
		{"III_Moderate", COR_III_NO_BENEFIT},
		{"III_Strong", COR_III_HARM},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseClassOfRecommendation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c)
			assert.True(t, c.IsValid())
		})
	}

	_, err := ParseClassOfRecommendation("IV")
	assert.Error(t, err)
}

func TestParseLevelOfEvidence(t *testing.T) {
	for in, expected := range map[string]LevelOfEvidence{
		"A": LOE_A, "B-R": LOE_B_R, "BR": LOE_B_R, "B-NR": LOE_B_NR, "C-LD": LOE_C_LD, "C_EO": LOE_C_EO,
	} {
		l, err := ParseLevelOfEvidence(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, l, in)
	}

	_, err := ParseLevelOfEvidence("Z")
	assert.Error(t, err)
}

func TestUSPSTFGrade(t *testing.T) {
	g, err := ParseUSPSTFGrade("b")
	require.NoError(t, err)
	assert.Equal(t, GRADE_B, g)
	assert.Equal(t, "Recommended", g.Meaning())
	assert.Equal(t, "Insufficient Evidence to make Recommendation", GRADE_I.Meaning())

	_, err = ParseUSPSTFGrade("E")
	assert.Error(t, err)
}

func TestParseValueType(t *testing.T) {
	for in, expected := range map[string]ValueType{
		"": "", "boolean": BOOLEAN_TYPE, "bool": BOOLEAN_TYPE, "int": INTEGER_TYPE,
		"Decimal": DECIMAL_TYPE, "date": DATE_TYPE, "string": STRING_TYPE,
	} {
		vt, err := ParseValueType(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, vt, in)
	}

	_, err := ParseValueType("blob")
	assert.Error(t, err)
}

func TestParseUndeclaredPolicy(t *testing.T) {
	p, err := ParseUndeclaredPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FAIL_FAST, p)

	p, err = ParseUndeclaredPolicy("Null_And_Continue")
	require.NoError(t, err)
	assert.Equal(t, NULL_AND_CONTINUE, p)

	_, err = ParseUndeclaredPolicy("ignore")
	assert.Error(t, err)
}

func TestRecommendationType(t *testing.T) {
	rt, err := ParseRecommendationType("display_provider")
	require.NoError(t, err)
	assert.True(t, rt.IsDisplay())
	assert.False(t, MEDICATION.IsDisplay())

	_, err = ParseRecommendationType("surgery")
	assert.Error(t, err)
}
