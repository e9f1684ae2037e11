package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"vakil/api/internal/analysis"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/report.html"))

// templateData is the fully resolved input for the report template. No
// clock reads happen during rendering; the analysis date comes from the
// case row.
type templateData struct {
	Title           string
	DisputeType     string
	AnalysisDate    string
	GeneratedFor    string
	CaseID          string
	ConfidenceScore int
	ConfidenceColor template.CSS
	ConfidenceNote  string
	Artifact        analysis.Artifact
}

// RenderHTML renders the report for one case. Equal inputs produce
// byte-equal output.
func RenderHTML(info CaseInfo, artifact analysis.Artifact) (string, error) {
	data := templateData{
		Title:           info.Title,
		DisputeType:     DisputeLabel(info.DisputeType),
		AnalysisDate:    info.CreatedAt.UTC().Format("January 2, 2006"),
		GeneratedFor:    info.OwnerName,
		CaseID:          info.ID,
		ConfidenceScore: artifact.ConfidenceScore,
		ConfidenceColor: confidenceColor(artifact.ConfidenceScore),
		ConfidenceNote:  confidenceNote(artifact.ConfidenceScore),
		Artifact:        artifact,
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return buf.String(), nil
}
