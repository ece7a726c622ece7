package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolRecord(id string, b bool) *Record {
	return NewRecord(&Variable{ID: id}, []*Value{MustValue(b)})
}

func TestNewExpression(t *testing.T) {
	e, err := NewExpression("$A and $B.count > 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, e.Identifiers())
	assert.Equal(t, "$A and $B.count > 1", e.Text())

	_, err = NewExpression("1 + 1")
	assert.ErrorIs(t, err, ErrInvalidExpression)

	_, err = NewExpression("$A and (")
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestExpression_Evaluate(t *testing.T) {
	a := boolRecord("A", true)
	b := boolRecord("B", true)
	e := MustExpression("$A and $B")

	result, err := e.Evaluate([]*Record{a, b}, FAIL_FAST)
	require.NoError(t, err)
	require.NotNil(t, result.Value)
	assert.Equal(t, true, result.Value.Payload())
	assert.Equal(t, []*Record{a, b}, result.Dependencies)
	assert.Equal(t, []interface{}{a, b}, result.Value.Source())
	assert.Empty(t, result.Undeclared)
}

func TestExpression_UndeclaredPolicy(t *testing.T) {
	a := boolRecord("A", true)
	e := MustExpression("$A and $B")

	t.Run("fail fast", func(t *testing.T) {
		_, err := e.Evaluate([]*Record{a}, FAIL_FAST)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUndeclaredVariable))

		var exprErr *ExpressionError
		require.True(t, errors.As(err, &exprErr))
		assert.Equal(t, "$B", exprErr.Token)
		assert.Equal(t, "$A and $B", exprErr.Expression)
	})

	t.Run("null and continue", func(t *testing.T) {
		result, err := e.Evaluate([]*Record{a}, NULL_AND_CONTINUE)
		require.NoError(t, err)
		assert.Nil(t, result.Value)
		assert.Equal(t, []string{"B"}, result.Undeclared)
		assert.Equal(t, []*Record{a}, result.Dependencies)
		assert.Contains(t, result.Names, "B")
	})
}

func TestExpression_Idempotent(t *testing.T) {
	records := []*Record{boolRecord("A", true), boolRecord("B", false)}
	e := MustExpression("$A or $B")

	first, err := e.Evaluate(records, FAIL_FAST)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := e.Evaluate(records, FAIL_FAST)
	require.NoError(t, err)

	assert.True(t, first.Value.Equal(second.Value))
}

func TestExpression_Accessors(t *testing.T) {
	now := time.Now()
	ldl := NewRecord(&Variable{ID: "ldl"}, []*Value{
		MustValue(190, WithDate(now)),
		MustValue(170, WithDate(now.AddDate(0, -6, 0))),
	})
	sex := NewRecord(&Variable{ID: "sex"}, []*Value{MustValue(NewCode("snomed", "248153007", "Male"))})
	empty := NewRecord(&Variable{ID: "hdl"}, nil)

	tests := []struct {
		name     string
		text     string
		expected interface{}
	}{
		{"count", "$ldl.count == 2", true},
		{"bare id is newest payload", "$ldl", 190.0},
		{"date accessor", "$ldl.date != None", true},
		{"code compares as system|code", "$sex == 'http://snomed.info/sct|248153007'", true},
		{"empty record count", "$hdl.count", 0.0},
		{"empty record is null", "$hdl == None", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MustExpression(tt.text).Evaluate([]*Record{ldl, sex, empty}, FAIL_FAST)
			require.NoError(t, err)
			require.NotNil(t, result.Value)
			assert.Equal(t, tt.expected, result.Value.Payload())
		})
	}
}

func TestExpression_EvaluationError(t *testing.T) {
	rec := NewRecord(&Variable{ID: "x"}, []*Value{MustValue("text")})

	_, err := MustExpression("$x > 1").Evaluate([]*Record{rec}, FAIL_FAST)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpressionEvaluation)

	var exprErr *ExpressionError
	require.True(t, errors.As(err, &exprErr))
	assert.Equal(t, "text", exprErr.Names["x"])

	_, err = MustExpression("$x.unknown").Evaluate([]*Record{rec}, FAIL_FAST)
	assert.ErrorIs(t, err, ErrExpressionEvaluation)
}

func TestExpression_EvaluateRecommendation(t *testing.T) {
	high := boolRecord("high_risk", true)
	diabetic := boolRecord("diabetic", false)
	score := NewRecord(&Variable{ID: "score"}, []*Value{MustValue(7.5)})
	empty := NewRecord(&Variable{ID: "pending"}, nil)

	result, err := MustExpression("$high_risk and not $diabetic").
		EvaluateRecommendation("statin", []*Record{high, diabetic})
	require.NoError(t, err)
	assert.Equal(t, true, result.Value.Payload())

	_, err = MustExpression("$high_risk and $score and $pending and $missing").
		EvaluateRecommendation("statin", []*Record{high, score, empty})
	require.Error(t, err)

	var vee *VariableEvaluationError
	require.True(t, errors.As(err, &vee))
	assert.Equal(t, "statin", vee.VariableID)
	assert.Len(t, vee.Errors, 3)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.ErrorIs(t, err, ErrMissingValue)
	assert.ErrorIs(t, err, ErrUndeclaredVariable)
	assert.ErrorIs(t, err, ErrVariableEvaluation)
}

func TestExpression_EvaluateRecommendationNonBoolean(t *testing.T) {
	a := boolRecord("a", true)
	_, err := MustExpression("1 if $a else 0").EvaluateRecommendation("r", []*Record{a})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpressionEvaluation)
}
