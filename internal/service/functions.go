package service

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/concord-cpg-engine/internal/domain"
)

// Input ids read by the pooled cohort risk functions.
const (
	InputSex              = "sex"
	InputAfricanAmerican  = "african_american"
	InputAge              = "age"
	InputSmoker           = "smoker"
	InputDiabetic         = "diabetic"
	InputHypertensionMeds = "hypertension_treatment"
	InputSystolicBP       = "systolic_bp"
	InputTotalCholesterol = "total_cholesterol"
	InputHDL              = "hdl"
)

// maleSexCode is the SNOMED code for the male sex.
const maleSexCode = "248153007"

// ErrRiskInput is returned (as a function result) when a risk input is missing or out of range.
var ErrRiskInput = errors.New("invalid risk input")

// FunctionRegistry maps assessment function names to their implementations.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]domain.EvaluationFunc
}

// NewFunctionRegistry creates a registry holding the built-in functions.
func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{functions: make(map[string]domain.EvaluationFunc)}
	r.Register("ascvd_ten_year_risk", ASCVDTenYearRisk)
	r.Register("optimal_ascvd_ten_year_risk", OptimalASCVDTenYearRisk)
	return r
}

// Register adds or replaces a function.
func (r *FunctionRegistry) Register(name string, fn domain.EvaluationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[strings.ToLower(name)] = fn
}

// Lookup implements domain.FunctionResolver.
func (r *FunctionRegistry) Lookup(name string) (domain.EvaluationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[strings.ToLower(name)]
	return fn, ok
}

// Names returns the registered function names, sorted.
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RiskFactors are the pooled cohort equation inputs.
type RiskFactors struct {
	Male             bool
	AfricanAmerican  bool
	Smoker           bool
	Hypertensive     bool
	Diabetic         bool
	Age              float64
	SystolicBP       float64
	TotalCholesterol float64
	HDL              float64
}

// TenYearRisk computes the pooled cohort ten-year ASCVD risk as a percentage rounded
// to one decimal. Age must be within 40-79.
func TenYearRisk(f RiskFactors) (float64, error) {
	if f.Age < 40 || f.Age > 79 {
		return 0, fmt.Errorf("%w: age %v must be between 40 and 79", ErrRiskInput, f.Age)
	}
	if f.SystolicBP <= 0 || f.TotalCholesterol <= 0 || f.HDL <= 0 {
		return 0, fmt.Errorf("%w: blood pressure and cholesterol must be positive", ErrRiskInput)
	}

	lnAge := math.Log(f.Age)
	lnTC := math.Log(f.TotalCholesterol)
	lnHDL := math.Log(f.HDL)
	var trlnsbp, ntlnsbp float64
	if f.Hypertensive {
		trlnsbp = math.Log(f.SystolicBP)
	} else {
		ntlnsbp = math.Log(f.SystolicBP)
	}
	ageTC := lnAge * lnTC
	ageHDL := lnAge * lnHDL
	agetSBP := lnAge * trlnsbp
	agentSBP := lnAge * ntlnsbp
	smoker := indicator(f.Smoker)
	diabetic := indicator(f.Diabetic)
	ageSmoke := lnAge * smoker

	var baseline, mean, predict float64
	switch {
	case f.AfricanAmerican && !f.Male:
		baseline, mean = 0.95334, 86.6081
		predict = 17.1141*lnAge + 0.9396*lnTC - 18.9196*lnHDL + 4.4748*ageHDL +
			29.2907*trlnsbp - 6.4321*agetSBP + 27.8197*ntlnsbp - 6.0873*agentSBP +
			0.6908*smoker + 0.8738*diabetic
	case !f.AfricanAmerican && !f.Male:
		baseline, mean = 0.96652, -29.1817
		predict = -29.799*lnAge + 4.884*lnAge*lnAge + 13.54*lnTC - 3.114*ageTC -
			13.578*lnHDL + 3.149*ageHDL + 2.019*trlnsbp + 1.957*ntlnsbp +
			7.574*smoker - 1.665*ageSmoke + 0.661*diabetic
	case f.AfricanAmerican && f.Male:
		baseline, mean = 0.89536, 19.5425
		predict = 2.469*lnAge + 0.302*lnTC - 0.307*lnHDL + 1.916*trlnsbp + 1.809*ntlnsbp +
			0.549*smoker + 0.645*diabetic
	default:
		baseline, mean = 0.91436, 61.1816
		predict = 12.344*lnAge + 11.853*lnTC - 2.664*ageTC - 7.99*lnHDL + 1.769*ageHDL +
			1.797*trlnsbp + 1.764*ntlnsbp + 7.837*smoker - 1.795*ageSmoke + 0.658*diabetic
	}

	pct := 1 - math.Pow(baseline, math.Exp(predict-mean))
	return math.Round(pct*1000) / 10, nil
}

// ASCVDTenYearRisk reads the subject's risk factors from values.
func ASCVDTenYearRisk(values map[string]*domain.Value) interface{} {
	f, err := demographics(values)
	if err != nil {
		return err
	}

	var errs []error
	f.Smoker = flag(values, InputSmoker)
	f.Diabetic = flag(values, InputDiabetic)
	f.Hypertensive = flag(values, InputHypertensionMeds)
	if f.SystolicBP, err = number(values, InputSystolicBP); err != nil {
		errs = append(errs, err)
	}
	if f.TotalCholesterol, err = number(values, InputTotalCholesterol); err != nil {
		errs = append(errs, err)
	}
	if f.HDL, err = number(values, InputHDL); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	risk, err := TenYearRisk(f)
	if err != nil {
		return err
	}
	return risk
}

// OptimalASCVDTenYearRisk computes the risk of the same subject with optimal modifiable
// factors: untreated systolic pressure 110, total cholesterol 170, HDL 50, no smoking
// and no diabetes.
func OptimalASCVDTenYearRisk(values map[string]*domain.Value) interface{} {
	f, err := demographics(values)
	if err != nil {
		return err
	}
	f.SystolicBP = 110
	f.TotalCholesterol = 170
	f.HDL = 50

	risk, err := TenYearRisk(f)
	if err != nil {
		return err
	}
	return risk
}

func demographics(values map[string]*domain.Value) (RiskFactors, error) {
	age, err := number(values, InputAge)
	if err != nil {
		return RiskFactors{}, err
	}
	return RiskFactors{
		Male:            isMale(values[InputSex]),
		AfricanAmerican: flag(values, InputAfricanAmerican),
		Age:             age,
	}, nil
}

func isMale(v *domain.Value) bool {
	if v == nil {
		return false
	}
	switch p := v.Payload().(type) {
	case domain.Code:
		return p.Code == maleSexCode
	case string:
		s := strings.ToLower(p)
		return s == "male" || s == "m" || s == maleSexCode
	}
	return false
}

func number(values map[string]*domain.Value, id string) (float64, error) {
	v := values[id]
	if v == nil {
		return 0, fmt.Errorf("%w: %s has no value", ErrRiskInput, id)
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("%w: %s is not numeric", ErrRiskInput, id)
	}
	return f, nil
}

func flag(values map[string]*domain.Value, id string) bool {
	if v := values[id]; v != nil {
		b, ok := v.Bool()
		return ok && b
	}
	return false
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
