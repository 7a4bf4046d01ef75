package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
)

// FormatSize renders a byte count in megabytes with two decimals.
func FormatSize(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}

// RiskClass maps an overall risk value to its display class.
func RiskClass(risk domain.RiskLevel) string {
	switch strings.ToLower(strings.TrimSpace(string(risk))) {
	case "low":
		return "risk-low"
	case "medium":
		return "risk-medium"
	case "high":
		return "risk-high"
	}
	return "risk-default"
}

type Row struct {
	Label string
	Value string
}

type SummaryView struct {
	Rows        []Row
	Risk        string
	RiskClass   string
	Compliance  string
	Grade       domain.ComplianceGrade
	Issues      []domain.Issue
	DownloadURL string
}

// NewSummaryView prepares a successful response for display. The download
// link is made absolute against baseURL.
func NewSummaryView(resp *domain.InspectResponse, baseURL string) SummaryView {
	s := resp.Summary
	if s == nil {
		s = &domain.SummaryReport{}
	}
	return SummaryView{
		Rows: []Row{
			{"Total Rules", strconv.Itoa(s.TotalRules)},
			{"Applicable Rules", strconv.Itoa(s.ApplicableRules)},
			{"Passed", strconv.Itoa(s.Passed)},
			{"Failed", strconv.Itoa(s.Failed)},
			{"Not Applicable", strconv.Itoa(s.NotApplicable)},
			{"Critical Issues", strconv.Itoa(s.CriticalIssues)},
			{"Major Issues", strconv.Itoa(s.MajorIssues)},
		},
		Risk:        string(s.OverallRisk),
		RiskClass:   RiskClass(s.OverallRisk),
		Compliance:  strconv.FormatFloat(s.CompliancePercent, 'f', -1, 64) + "%",
		Grade:       s.Grade(),
		Issues:      s.Issues,
		DownloadURL: AbsoluteURL(baseURL, resp.ExcelDownloadURL),
	}
}
