package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-cpg-engine/internal/domain"
)

type stubResolver map[string]domain.EvaluationFunc

func (s stubResolver) Lookup(name string) (domain.EvaluationFunc, bool) {
	fn, ok := s[name]
	return fn, ok
}

func TestSufficiencyEvaluator_BindsByCode(t *testing.T) {
	ldlCode := domain.NewCode("loinc", "13457-7", "LDL")
	ldl := &domain.Variable{ID: "ldl", Required: true, Codes: []domain.Code{ldlCode}}
	bmi := &domain.Variable{ID: "bmi"}
	g := &domain.Guideline{Identifier: "g", Variables: []*domain.Variable{ldl, bmi}}

	observed := domain.NewRecord(&domain.Variable{ID: "ldl_cholesterol", Codes: []domain.Code{ldlCode}},
		[]*domain.Value{domain.MustValue(130)})
	hc := domain.NewHealthContext("s", domain.PATIENT, []*domain.Record{observed})

	result := NewSufficiencyEvaluator(g, nil, false).Evaluate(hc)
	require.True(t, result.IsExecutable())

	bound := result.Context.Get("ldl")
	require.NotNil(t, bound)
	assert.Same(t, ldl, bound.Record.Variable())
	assert.Equal(t, 130.0, bound.Value().Payload())
	assert.Equal(t, domain.SUFFICIENT, bound.Status)
	assert.Equal(t, domain.OPTIONAL, result.Context.Get("bmi").Status)
	assert.Len(t, result.SufficientVariables(), 1)
	assert.Len(t, result.Records(), 2)
	assert.NoError(t, result.InsufficientError())
	assert.Equal(t, "Following results in your record: 130", bound.Record.Narrative())
}

func TestSufficiencyEvaluator_Validation(t *testing.T) {
	validator, err := domain.NewValidator("$value < 1000", "")
	require.NoError(t, err)
	ldl := &domain.Variable{ID: "ldl", Required: true, Type: domain.DECIMAL_TYPE, Validator: validator}
	age := &domain.Variable{ID: "age", Required: true, Type: domain.INTEGER_TYPE}
	g := &domain.Guideline{Identifier: "g", Variables: []*domain.Variable{ldl, age}}

	subject := func() *domain.HealthContext {
		return domain.NewHealthContext("s", domain.PROVIDER, []*domain.Record{
			domain.NewRecord(ldl, []*domain.Value{domain.MustValue(5000)}),
			domain.NewRecord(age, []*domain.Value{domain.MustValue("old")}),
		})
	}

	t.Run("lenient", func(t *testing.T) {
		result := NewSufficiencyEvaluator(g, nil, false).Evaluate(subject())
		assert.Equal(t, domain.SUFFICIENT, result.Context.Get("ldl").Status)

		ageRec := result.Context.Get("age")
		assert.Equal(t, domain.INSUFFICIENT, ageRec.Status)
		assert.ErrorIs(t, ageRec.Err, domain.ErrTypeMismatch)
		assert.False(t, result.IsExecutable())
	})

	t.Run("strict", func(t *testing.T) {
		result := NewSufficiencyEvaluator(g, nil, true).Evaluate(subject())
		ldlRec := result.Context.Get("ldl")
		assert.Equal(t, domain.INSUFFICIENT, ldlRec.Status)
		assert.ErrorIs(t, ldlRec.Err, domain.ErrImplausibleValue)

		err := result.InsufficientError()
		var ide *domain.InsufficientDataError
		require.True(t, errors.As(err, &ide))
		assert.Equal(t, []string{"ldl", "age"}, ide.Variables)
	})
}

func TestEligibilityEvaluator(t *testing.T) {
	age := &domain.Variable{ID: "age"}
	hc := domain.NewHealthContext("s", domain.PATIENT, []*domain.Record{
		domain.NewRecord(age, []*domain.Value{domain.MustValue(50)}),
	})

	t.Run("all criteria met", func(t *testing.T) {
		e := NewEligibilityEvaluator([]*domain.Assessment{
			{Variable: &domain.Variable{ID: "adult"}, Expression: domain.MustExpression("$age >= 18")},
			{Variable: &domain.Variable{ID: "not_senior"}, Expression: domain.MustExpression("$age < 76")},
		}, domain.FAIL_FAST, nil)
		result, err := e.Evaluate(hc)
		require.NoError(t, err)
		assert.True(t, result.IsEligible())
		assert.Empty(t, result.Failed())
	})

	t.Run("non boolean criterion is not eligible", func(t *testing.T) {
		e := NewEligibilityEvaluator([]*domain.Assessment{
			{Variable: &domain.Variable{ID: "age_plus"}, Expression: domain.MustExpression("$age + 1")},
		}, domain.FAIL_FAST, nil)
		result, err := e.Evaluate(hc)
		require.NoError(t, err)
		assert.False(t, result.IsEligible())
	})

	t.Run("failures are aggregated", func(t *testing.T) {
		e := NewEligibilityEvaluator([]*domain.Assessment{
			{Variable: &domain.Variable{ID: "tall"}, Expression: domain.MustExpression("$height > 180")},
			{Variable: &domain.Variable{ID: "adult"}, Expression: domain.MustExpression("$age >= 18")},
			{Variable: &domain.Variable{ID: "heavy"}, Expression: domain.MustExpression("$weight > 100")},
		}, domain.FAIL_FAST, nil)
		result, err := e.Evaluate(hc)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, domain.ErrUndeclaredVariable)
		assert.Contains(t, err.Error(), "2 problem(s)")
	})

	t.Run("null and continue", func(t *testing.T) {
		e := NewEligibilityEvaluator([]*domain.Assessment{
			{Variable: &domain.Variable{ID: "tall"}, Expression: domain.MustExpression("$height == None and $age > 40")},
		}, domain.NULL_AND_CONTINUE, nil)
		result, err := e.Evaluate(hc)
		require.NoError(t, err)
		assert.True(t, result.IsEligible())
	})

	t.Run("no criteria", func(t *testing.T) {
		_, err := NewEligibilityEvaluator(nil, domain.FAIL_FAST, nil).Evaluate(hc)
		assert.Error(t, err)
	})
}

func TestAssessmentEvaluator(t *testing.T) {
	x := domain.NewRecord(&domain.Variable{ID: "x"}, []*domain.Value{domain.MustValue(2)})
	functions := stubResolver{
		"double": func(values map[string]*domain.Value) interface{} {
			f, _ := values["x"].Float()
			return f * 2
		},
		"boom":  func(map[string]*domain.Value) interface{} { panic("kaboom") },
		"empty": func(map[string]*domain.Value) interface{} { return nil },
		"bad":   func(map[string]*domain.Value) interface{} { return errors.New("bad input") },
	}

	assessments := []*domain.Assessment{
		{Variable: &domain.Variable{ID: "doubled"}, Function: "double"},
		{Variable: &domain.Variable{ID: "exploded"}, Function: "boom"},
		{Variable: &domain.Variable{ID: "nothing"}, Function: "empty"},
		{Variable: &domain.Variable{ID: "rejected"}, Function: "bad"},
		{Variable: &domain.Variable{ID: "big"}, Expression: domain.MustExpression("$doubled > 3")},
		{Variable: &domain.Variable{ID: "after_failure"}, Expression: domain.MustExpression("$exploded.count == 0")},
		{Variable: &domain.Variable{ID: "broken"}, Expression: domain.MustExpression("$x > 'text'")},
	}

	result, err := NewAssessmentEvaluator(functions, domain.FAIL_FAST, nil).
		Assess(assessments, []*domain.Record{x}, domain.PATIENT)
	require.NoError(t, err)
	assert.False(t, result.Completed())
	assert.Len(t, result.Records(), len(assessments))

	doubled := result.Context.Get("doubled")
	assert.Equal(t, 4.0, doubled.Value().Payload())
	assert.Equal(t, []*domain.Record{x}, doubled.Dependencies)

	assert.Equal(t, true, result.Context.Get("big").Value().Payload())
	assert.Equal(t, true, result.Context.Get("after_failure").Value().Payload())

	for _, id := range []string{"exploded", "nothing", "rejected", "broken"} {
		er := result.Context.Get(id)
		require.NotNil(t, er, id)
		assert.Equal(t, domain.FAILED, er.Result, id)
		assert.Nil(t, er.Value(), id)

		var vee *domain.VariableEvaluationError
		require.True(t, errors.As(er.Err, &vee), id)
		assert.Equal(t, id, vee.VariableID)
	}
	assert.Contains(t, result.Context.Get("exploded").Err.Error(), "kaboom")
	assert.ErrorIs(t, result.Context.Get("broken").Err, domain.ErrExpressionEvaluation)
}

func TestAssessmentEvaluator_LaterAssessmentIsUndeclared(t *testing.T) {
	x := domain.NewRecord(&domain.Variable{ID: "x"}, []*domain.Value{domain.MustValue(2)})
	assessments := []*domain.Assessment{
		{Variable: &domain.Variable{ID: "early"}, Expression: domain.MustExpression("$later > 1")},
		{Variable: &domain.Variable{ID: "later"}, Expression: domain.MustExpression("$x + 1")},
		{Variable: &domain.Variable{ID: "last"}, Expression: domain.MustExpression("$later == 3")},
	}

	for i := 0; i < 2; i++ {
		result, err := NewAssessmentEvaluator(nil, domain.FAIL_FAST, nil).
			Assess(assessments, []*domain.Record{x}, domain.PATIENT)
		require.NoError(t, err, "the stage continues past a failed assessment")
		require.Len(t, result.Records(), 3)

		early := result.Context.Get("early")
		var vee *domain.VariableEvaluationError
		require.True(t, errors.As(early.Err, &vee))
		assert.Equal(t, "early", vee.VariableID)
		assert.ErrorIs(t, early.Err, domain.ErrUndeclaredVariable)
		assert.Nil(t, early.Value())

		assert.Equal(t, 3.0, result.Context.Get("later").Value().Payload())
		assert.Equal(t, true, result.Context.Get("last").Value().Payload())
	}
}

func TestAssessmentEvaluator_UnknownFunctionIsFatal(t *testing.T) {
	_, err := NewAssessmentEvaluator(stubResolver{}, domain.FAIL_FAST, nil).Assess([]*domain.Assessment{
		{Variable: &domain.Variable{ID: "risk"}, Function: "missing"},
	}, nil, domain.PATIENT)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownFunction)
}

func TestAssessmentEvaluator_NarrativeScope(t *testing.T) {
	n, err := domain.NewNarrative(map[string]map[string]string{
		"patient": {"true": "LDL $ldl is high"},
	}, nil)
	require.NoError(t, err)

	ldl := domain.NewRecord(&domain.Variable{ID: "ldl"}, []*domain.Value{domain.MustValue(200)})
	result, err := NewAssessmentEvaluator(nil, domain.FAIL_FAST, nil).Assess([]*domain.Assessment{
		{Variable: &domain.Variable{ID: "high", Narrative: n}, Expression: domain.MustExpression("$ldl > 190")},
	}, []*domain.Record{ldl}, domain.PATIENT)
	require.NoError(t, err)
	assert.Equal(t, "LDL 200 is high", result.Context.Get("high").Record.Narrative())
}

func TestRecommendationEvaluator(t *testing.T) {
	high := domain.NewRecord(&domain.Variable{ID: "high"}, []*domain.Value{domain.MustValue(true)})
	score := domain.NewRecord(&domain.Variable{ID: "score"}, []*domain.Value{domain.MustValue(7.5)})
	ldl := domain.NewRecord(&domain.Variable{ID: "ldl"}, []*domain.Value{domain.MustValue(80)})

	compliance, err := domain.NewNarrative(nil, map[string]map[string]string{
		"patient": {"true": "Your LDL of $ldl is at goal", "false": "Your LDL is above goal"},
	})
	require.NoError(t, err)

	recs := []*domain.Recommendation{
		{Variable: &domain.Variable{ID: "no_expr"}, Type: domain.MEDICATION},
		{Variable: &domain.Variable{ID: "by_score"}, Type: domain.EVALUATION, Expression: domain.MustExpression("$score")},
		{Variable: &domain.Variable{ID: "statin", Narrative: compliance}, Type: domain.MEDICATION,
			Expression: domain.MustExpression("$high"), Compliance: domain.MustExpression("$ldl < 100")},
		{Variable: &domain.Variable{ID: "unknown_compliance"}, Type: domain.BEHAVIORAL,
			Expression: domain.MustExpression("not $high"), Compliance: domain.MustExpression("$hba1c < 7")},
	}

	set := NewRecommendationEvaluator(domain.FAIL_FAST, nil).
		Evaluate(recs, []*domain.Record{high, score}, []*domain.Record{ldl}, domain.PATIENT)
	require.Len(t, set.Results, 4)

	statin := set.Results[0]
	assert.Equal(t, "statin", statin.ID())
	assert.True(t, statin.Applies)
	assert.Equal(t, []*domain.Record{high}, statin.Dependencies)
	require.NotNil(t, statin.Compliance)
	assert.Equal(t, true, statin.Compliance.Payload())
	assert.Equal(t, "Your LDL of 80 is at goal", statin.ComplianceNarrative)

	byID := map[string]*RecommendationResult{}
	for _, r := range set.Results {
		byID[r.ID()] = r
	}
	assert.ErrorIs(t, byID["no_expr"].Err, domain.ErrInvalidExpression)
	assert.ErrorIs(t, byID["by_score"].Err, domain.ErrTypeMismatch)
	assert.False(t, byID["unknown_compliance"].Applies)
	assert.NoError(t, byID["unknown_compliance"].Err)
	assert.ErrorIs(t, byID["unknown_compliance"].ComplianceErr, domain.ErrUndeclaredVariable)

	assert.Len(t, set.Errors(), 2)
	assert.Len(t, set.Applied(), 1)
	assert.Len(t, set.Context.Errors(), 2)
}
