// Package report renders a stored case analysis into an HTML report
// and converts it to PDF with headless Chrome. The HTML is a pure
// function of the case row, so re-downloading a report always yields
// the same document.
package report

import (
	"errors"
	"html/template"
	"time"

	"vakil/api/internal/analysis"
)

// CaseInfo is the report header: everything shown above the analysis
// itself.
type CaseInfo struct {
	ID          string
	Title       string
	DisputeType analysis.DisputeType
	OwnerName   string
	CreatedAt   time.Time
}

// Result contains the rendered report.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates the headless browser needed for
	// PDF conversion is not installed.
	ErrPDFDependencyMissing = errors.New("report pdf dependency missing")
	// ErrMissingArtifact indicates a case row whose stored analysis is
	// absent or unreadable. Creation is atomic, so this means corruption.
	ErrMissingArtifact = errors.New("case analysis artifact missing")
)

var disputeLabels = map[analysis.DisputeType]string{
	analysis.DisputeInheritance: "Inheritance & Partition",
	analysis.DisputeBoundary:    "Boundary Disputes",
	analysis.DisputeMutation:    "Mutation & Title Issues",
	analysis.DisputeTax:         "Property Tax Issues",
	analysis.DisputeBBMPBDA:     "BBMP/BDA Issues",
	analysis.DisputeOther:       "Other Property Issues",
}

// DisputeLabel maps a dispute type to its display name.
func DisputeLabel(dt analysis.DisputeType) string {
	if label, ok := disputeLabels[dt]; ok {
		return label
	}
	return string(dt)
}

func confidenceColor(score int) template.CSS {
	switch {
	case score >= 7:
		return "#27ae60"
	case score >= 4:
		return "#f39c12"
	default:
		return "#e74c3c"
	}
}

func confidenceNote(score int) string {
	switch {
	case score >= 7:
		return "High confidence: The analysis is based on clear facts and straightforward legal application."
	case score >= 4:
		return "Medium confidence: The analysis provides good guidance, but some key information may be missing."
	default:
		return "Low confidence: The analysis is preliminary due to insufficient facts or complex legal issues. Professional consultation is strongly recommended."
	}
}
