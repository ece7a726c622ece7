package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		value    *Value
		expected []string
	}{
		{"no value", nil, []string{"novalue", "none"}},
		{"true", MustValue(true), []string{"true", "hasvalue"}},
		{"false", MustValue(false), []string{"false"}},
		{"number", MustValue(7.5), []string{"7.5", "hasvalue", "true"}},
		{"code", MustValue(NewCode("snomed", "248153007", "Male")), []string{"248153007", "hasvalue", "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OutcomeOf(tt.value).Fallbacks())
		})
	}
}

func TestNarrative_Template(t *testing.T) {
	n, err := NewNarrative(map[string]map[string]string{
		"Patient":  {"HasValue": "You have $self", "NoValue": "Nothing", "High": "Too high"},
		"provider": {"true": "Positive", "None": "Unknown"},
	}, map[string]map[string]string{
		"patient": {"True": "Taking it", "False": "Not taking it"},
	})
	require.NoError(t, err)

	text, ok := n.Template(PATIENT, OutcomeOf(MustValue("high")))
	require.True(t, ok)
	assert.Equal(t, "Too high", text)

	text, ok = n.Template(PATIENT, OutcomeOf(MustValue(true)))
	require.True(t, ok)
	assert.Equal(t, "You have $self", text)

	_, ok = n.Template(PATIENT, OutcomeOf(MustValue(false)))
	assert.False(t, ok)

	text, ok = n.Template(PROVIDER, OutcomeOf(MustValue(12)))
	require.True(t, ok)
	assert.Equal(t, "Positive", text)

	text, ok = n.Template(PROVIDER, OutcomeOf(nil))
	require.True(t, ok)
	assert.Equal(t, "Unknown", text)

	_, ok = n.Template(GUARDIAN, OutcomeOf(nil))
	assert.False(t, ok)

	assert.True(t, n.HasCompliance())
	text, ok = n.ComplianceTemplate(PATIENT, OutcomeOf(MustValue(false)))
	require.True(t, ok)
	assert.Equal(t, "Not taking it", text)

	_, err = NewNarrative(map[string]map[string]string{"robot": {"true": "x"}}, nil)
	assert.Error(t, err)
}

func TestRenderTemplate(t *testing.T) {
	now := time.Now()
	ldl := NewRecord(&Variable{ID: "ldl"}, []*Value{
		MustValue(190, WithUnit("mg/dL"), WithDate(now.Add(-48*time.Hour))),
		MustValue(170, WithUnit("mg/dL"), WithDate(now.AddDate(-1, 0, 0))),
	})
	note := NewRecord(&Variable{ID: "note"}, []*Value{MustValue("see $ldl")})
	scope := map[string]*Record{"ldl": ldl, "note": note}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"substituted text is not expanded again", "Note: $note, LDL $ldl", "Note: see $ldl, LDL 190 mg/dL"},
		{"bare value", "LDL is $ldl.", "LDL is 190 mg/dL."},
		{"explicit value", "$ldl.value", "190 mg/dL"},
		{"values", "Values: $ldl.values", "Values: 190 mg/dL, 170 mg/dL"},
		{"count before bare", "$ldl.count readings, latest $ldl", "2 readings, latest 190 mg/dL"},
		{"humanized date", "measured $ldl.date", "measured 2 days ago"},
		{"missing record", "HDL $hdl", "HDL -n/a-"},
		{"unknown accessor", "$ldl.bogus", "-n/a-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RenderTemplate(tt.template, scope))
		})
	}
}

func TestResolveNarrative_LeastPrivilege(t *testing.T) {
	n, err := NewNarrative(map[string]map[string]string{
		"patient": {"True": "Risk is high because LDL is $ldl and age is $age"},
	}, nil)
	require.NoError(t, err)

	// The narrative mentions $ldl and $age; only those two are visible.
	risk := NewRecord(&Variable{ID: "risk", Narrative: n}, []*Value{MustValue(true)})
	ldl := NewRecord(&Variable{ID: "ldl"}, []*Value{MustValue(190)})
	secret := NewRecord(&Variable{ID: "hiv_status"}, []*Value{MustValue("positive")})

	text := risk.ResolveNarrative(PATIENT, map[string]*Record{"ldl": ldl, "hiv_status": secret})
	assert.Equal(t, "Risk is high because LDL is 190 and age is -n/a-", text)
	assert.NotContains(t, text, "positive")
}

func TestResolveNarrative_Defaults(t *testing.T) {
	ldl := NewRecord(&Variable{ID: "ldl"}, []*Value{MustValue(190), MustValue(170, WithDate(time.Now().AddDate(0, -1, 0)))})
	empty := NewRecord(&Variable{ID: "hdl"}, nil)

	assert.Equal(t, "Following results in your record: 190, 170", ldl.ResolveNarrative(PATIENT, nil))
	assert.Equal(t, "Following results in your record: 190, 170", ldl.ResolveNarrative(GUARDIAN, nil))
	assert.Equal(t, "Values: 190, 170", ldl.ResolveNarrative(PROVIDER, nil))
	assert.Equal(t, "Not found in your record", empty.ResolveNarrative(PATIENT, nil))
	assert.Equal(t, "Not in record", empty.ResolveNarrative(PROVIDER, nil))
}

func TestVariableNarrativeVariables(t *testing.T) {
	n, err := NewNarrative(map[string]map[string]string{
		"patient":  {"true": "$self with $b and $a.count"},
		"provider": {"true": "$c"},
	}, map[string]map[string]string{"patient": {"true": "$d"}})
	require.NoError(t, err)

	v := &Variable{ID: "x", Narrative: n}
	assert.Equal(t, []string{"a", "b", "c", "d"}, v.NarrativeVariables())
	assert.Nil(t, (&Variable{ID: "y"}).NarrativeVariables())
}
