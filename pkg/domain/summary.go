package domain

import "strings"

// RiskLevel is the analyzer's overall risk classification. Values arrive in
// whatever case the analyzer prints them and are kept verbatim on the wire.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ParseRiskLevel matches s case-insensitively against the known levels.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	}
	return "", false
}

func (r RiskLevel) Normalized() RiskLevel {
	if lvl, ok := ParseRiskLevel(string(r)); ok {
		return lvl
	}
	return r
}

func (r RiskLevel) Valid() bool {
	_, ok := ParseRiskLevel(string(r))
	return ok
}

type ComplianceGrade string

const (
	GradeExcellent ComplianceGrade = "Excellent Compliance"
	GradeGood      ComplianceGrade = "Good Compliance"
	GradePoor      ComplianceGrade = "Poor Compliance"
)

func GradeFor(percent float64) ComplianceGrade {
	switch {
	case percent >= 90:
		return GradeExcellent
	case percent >= 70:
		return GradeGood
	default:
		return GradePoor
	}
}

type Issue struct {
	RuleID         string `json:"rule_id"`
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation"`
}

// SummaryReport is the per-inspection summary document written by the analyzer.
type SummaryReport struct {
	TotalRules        int       `json:"total_rules"`
	ApplicableRules   int       `json:"applicable_rules"`
	Passed            int       `json:"passed"`
	Failed            int       `json:"failed"`
	NotApplicable     int       `json:"not_applicable"`
	CriticalIssues    int       `json:"critical_issues"`
	MajorIssues       int       `json:"major_issues"`
	OverallRisk       RiskLevel `json:"overall_risk"`
	CompliancePercent float64   `json:"compliance_percent"`
	Issues            []Issue   `json:"issues"`
}

// Consistent reports whether the outcome counters fit inside applicable_rules.
// The analyzer owns this invariant; the relay only observes it.
func (s SummaryReport) Consistent() bool {
	return s.Passed+s.Failed+s.NotApplicable <= s.ApplicableRules
}

func (s SummaryReport) Grade() ComplianceGrade {
	return GradeFor(s.CompliancePercent)
}

// AnalysisDescriptor is the JSON object the analyzer prints on stdout.
type AnalysisDescriptor struct {
	Status    string `json:"status,omitempty"`
	ExcelName string `json:"excel_name"`
	ExcelPath string `json:"excel_path,omitempty"`
}
