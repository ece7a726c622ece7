// Package domain contains the core entities for evaluating a clinical practice guideline
// (CPG) against one subject's health data: values, variable definitions, records,
// expressions, evaluation contexts and the guideline model itself.
//
// Nothing in this package performs I/O. Guideline documents and subject data are
// parsed by outer packages and handed over as the typed structures defined here.
package domain

import (
	"fmt"
	"strings"
)

// Persona selects which narrative variant is resolved for a reader.
type Persona string

const (
	PATIENT  Persona = "patient"
	PROVIDER Persona = "provider"
	GUARDIAN Persona = "guardian"
)

// IsValid checks if the persona is known
func (p Persona) IsValid() bool {
	switch p {
	case PATIENT, PROVIDER, GUARDIAN:
		return true
	}
	return false
}

func (p Persona) String() string {
	return string(p)
}

// ParsePersona parses a persona name, case-insensitively.
func ParsePersona(s string) (Persona, error) {
	p := Persona(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown persona %q", s)
	}
	return p, nil
}

// ValueType is the declared payload type of a variable.
type ValueType string

const (
	STRING_TYPE  ValueType = "string"
	DECIMAL_TYPE ValueType = "decimal"
	INTEGER_TYPE ValueType = "integer"
	DATE_TYPE    ValueType = "date"
	BOOLEAN_TYPE ValueType = "boolean"
)

// IsValid checks if the value type is known
func (t ValueType) IsValid() bool {
	switch t {
	case STRING_TYPE, DECIMAL_TYPE, INTEGER_TYPE, DATE_TYPE, BOOLEAN_TYPE:
		return true
	}
	return false
}

func (t ValueType) String() string {
	return string(t)
}

// ParseValueType parses a declared type. Empty input means no declared type.
func ParseValueType(s string) (ValueType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	switch s {
	case "bool":
		return BOOLEAN_TYPE, nil
	case "int":
		return INTEGER_TYPE, nil
	case "float", "number":
		return DECIMAL_TYPE, nil
	}
	t := ValueType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown value type %q", s)
	}
	return t, nil
}

// Category groups variables for reporting.
type Category string

const (
	UNDETERMINED          Category = "undetermined"
	LABORATORY_BLOOD_TEST Category = "laboratory-blood-test"
	VITAL_SIGN            Category = "vital-sign"
	QUESTION              Category = "question"
	CONDITION             Category = "condition"
	DEMOGRAPHICS          Category = "demographics"
	ELIGIBILITY_CRITERIA  Category = "eligibility_criteria"
	DISPLAY_CATEGORY      Category = "display"
)

// IsValid checks if the category is known
func (c Category) IsValid() bool {
	switch c {
	case UNDETERMINED, LABORATORY_BLOOD_TEST, VITAL_SIGN, QUESTION, CONDITION,
		DEMOGRAPHICS, ELIGIBILITY_CRITERIA, DISPLAY_CATEGORY:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory never fails: unknown categories are undetermined.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return UNDETERMINED
	}
	return c
}

// RecommendationType classifies a recommendation. The display types apply without an
// applicability expression.
type RecommendationType string

const (
	MEDICATION        RecommendationType = "medication"
	BEHAVIORAL        RecommendationType = "behavioral"
	EVALUATION_NEEDED RecommendationType = "evaluation_needed"
	DISPLAY           RecommendationType = "display"
	DISPLAY_PROVIDER  RecommendationType = "display_provider"
	DISPLAY_PATIENT   RecommendationType = "display_patient"
	EVALUATION        RecommendationType = "evaluation"
)

// IsValid checks if the recommendation type is known
func (t RecommendationType) IsValid() bool {
	switch t {
	case MEDICATION, BEHAVIORAL, EVALUATION_NEEDED, DISPLAY, DISPLAY_PROVIDER,
		DISPLAY_PATIENT, EVALUATION:
		return true
	}
	return false
}

// IsDisplay reports whether the type is one of the display types.
func (t RecommendationType) IsDisplay() bool {
	return t == DISPLAY || t == DISPLAY_PROVIDER || t == DISPLAY_PATIENT
}

func (t RecommendationType) String() string {
	return string(t)
}

// ParseRecommendationType parses a recommendation type name.
func ParseRecommendationType(s string) (RecommendationType, error) {
	t := RecommendationType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown recommendation type %q", s)
	}
	return t, nil
}

// ClassOfRecommendation is the ACC/AHA class of recommendation (strength).
type ClassOfRecommendation string

const (
	COR_I              ClassOfRecommendation = "I"
	COR_IIA            ClassOfRecommendation = "IIa"
	COR_IIB            ClassOfRecommendation = "IIb"
	COR_III_NO_BENEFIT ClassOfRecommendation = "III: No Benefit"
	COR_III_HARM       ClassOfRecommendation = "III: Harm"
)

var corAliases = map[string]ClassOfRecommendation{
	"i":               COR_I,
	"iia":             COR_IIA,
	"ii_a":            COR_IIA,
	"iib":             COR_IIB,
	"ii_b":            COR_IIB,
	"iii: no benefit": COR_III_NO_BENEFIT,
	"iii_moderate":    COR_III_NO_BENEFIT,
	"iii: harm":       COR_III_HARM,
	"iii_strong":      COR_III_HARM,
}

// IsValid checks if the class is one of the canonical values
func (c ClassOfRecommendation) IsValid() bool {
	switch c {
	case COR_I, COR_IIA, COR_IIB, COR_III_NO_BENEFIT, COR_III_HARM:
		return true
	}
	return false
}

func (c ClassOfRecommendation) String() string {
	return string(c)
}

// ParseClassOfRecommendation accepts the canonical forms and the underscore aliases
// used in older guideline documents.
func ParseClassOfRecommendation(s string) (ClassOfRecommendation, error) {
	if c, ok := corAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown class of recommendation %q", s)
}

// LevelOfEvidence is the ACC/AHA level (quality) of evidence.
type LevelOfEvidence string

const (
	LOE_A    LevelOfEvidence = "A"
	LOE_B_R  LevelOfEvidence = "B-R"
	LOE_B_NR LevelOfEvidence = "B-NR"
	LOE_C_LD LevelOfEvidence = "C-LD"
	LOE_C_EO LevelOfEvidence = "C-EO"
)

var loeAliases = map[string]LevelOfEvidence{
	"a":    LOE_A,
	"b-r":  LOE_B_R,
	"br":   LOE_B_R,
	"b_r":  LOE_B_R,
	"b-nr": LOE_B_NR,
	"b_nr": LOE_B_NR,
	"c-ld": LOE_C_LD,
	"c_ld": LOE_C_LD,
	"c-eo": LOE_C_EO,
	"c_eo": LOE_C_EO,
}

// IsValid checks if the level is one of the canonical values
func (l LevelOfEvidence) IsValid() bool {
	switch l {
	case LOE_A, LOE_B_R, LOE_B_NR, LOE_C_LD, LOE_C_EO:
		return true
	}
	return false
}

func (l LevelOfEvidence) String() string {
	return string(l)
}

// ParseLevelOfEvidence accepts the canonical forms and common aliases.
func ParseLevelOfEvidence(s string) (LevelOfEvidence, error) {
	if l, ok := loeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return "", fmt.Errorf("unknown level of evidence %q", s)
}

// USPSTFGrade is a U.S. Preventive Services Task Force recommendation grade.
type USPSTFGrade string

const (
	GRADE_A USPSTFGrade = "A"
	GRADE_B USPSTFGrade = "B"
	GRADE_C USPSTFGrade = "C"
	GRADE_D USPSTFGrade = "D"
	GRADE_I USPSTFGrade = "I"
)

// IsValid checks if the grade is known
func (g USPSTFGrade) IsValid() bool {
	switch g {
	case GRADE_A, GRADE_B, GRADE_C, GRADE_D, GRADE_I:
		return true
	}
	return false
}

func (g USPSTFGrade) String() string {
	return string(g)
}

// Meaning returns the task force's wording for the grade.
func (g USPSTFGrade) Meaning() string {
	switch g {
	case GRADE_A:
		return "Strongly Recommended"
	case GRADE_B:
		return "Recommended"
	case GRADE_C:
		return "No recommendation"
	case GRADE_D:
		return "Not Recommended"
	case GRADE_I:
		return "Insufficient Evidence to make Recommendation"
	}
	return ""
}

// ParseUSPSTFGrade parses a grade letter.
func ParseUSPSTFGrade(s string) (USPSTFGrade, error) {
	g := USPSTFGrade(strings.ToUpper(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", fmt.Errorf("unknown USPSTF grade %q", s)
	}
	return g, nil
}

// EligibilityCriteriaType is informational: every criterion must hold for the
// guideline to apply, exclusion criteria are simply written in negated form.
type EligibilityCriteriaType string

const (
	INCLUSION EligibilityCriteriaType = "inclusion"
	EXCLUSION EligibilityCriteriaType = "exclusion"
)

// IsValid checks if the criteria type is known
func (t EligibilityCriteriaType) IsValid() bool {
	return t == INCLUSION || t == EXCLUSION
}

func (t EligibilityCriteriaType) String() string {
	return string(t)
}

// ParseEligibilityCriteriaType parses a criteria type; empty means inclusion.
func ParseEligibilityCriteriaType(s string) (EligibilityCriteriaType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return INCLUSION, nil
	}
	t := EligibilityCriteriaType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown eligibility criteria type %q", s)
	}
	return t, nil
}

// EvaluationStatus is the outcome of evaluating one record.
type EvaluationStatus string

const (
	SUCCESSFUL EvaluationStatus = "Successful"
	FAILED     EvaluationStatus = "Failed"
)

func (s EvaluationStatus) String() string {
	return string(s)
}

// SufficiencyStatus describes whether a record's data is available for evaluation.
type SufficiencyStatus string

const (
	SUFFICIENT                       SufficiencyStatus = "Sufficient"
	SUFFICIENT_WITH_USER_ATTESTATION SufficiencyStatus = "SufficientWithUserAttestation"
	INSUFFICIENT                     SufficiencyStatus = "Insufficient"
	OPTIONAL                         SufficiencyStatus = "Optional"
)

// IsValid checks if the status is known
func (s SufficiencyStatus) IsValid() bool {
	switch s {
	case SUFFICIENT, SUFFICIENT_WITH_USER_ATTESTATION, INSUFFICIENT, OPTIONAL:
		return true
	}
	return false
}

func (s SufficiencyStatus) String() string {
	return string(s)
}

// UndeclaredPolicy decides what an expression does with a reference that resolves to
// no record.
type UndeclaredPolicy string

const (
	// FAIL_FAST rejects the expression with an UndeclaredVariable error.
	FAIL_FAST UndeclaredPolicy = "fail_fast"
	// NULL_AND_CONTINUE binds the reference to null and records it on the result.
	NULL_AND_CONTINUE UndeclaredPolicy = "null_and_continue"
)

// IsValid checks if the policy is known
func (p UndeclaredPolicy) IsValid() bool {
	return p == FAIL_FAST || p == NULL_AND_CONTINUE
}

func (p UndeclaredPolicy) String() string {
	return string(p)
}

// ParseUndeclaredPolicy parses a policy name; empty means FAIL_FAST.
func ParseUndeclaredPolicy(s string) (UndeclaredPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FAIL_FAST, nil
	}
	p := UndeclaredPolicy(s)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown undeclared policy %q", s)
	}
	return p, nil
}
