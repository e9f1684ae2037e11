// Package analysis turns a case narrative into a structured legal
// analysis by prompting a generative model and strictly validating its
// JSON output. A response that does not match the expected schema is
// rejected, never patched up.
package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type DisputeType string

const (
	DisputeInheritance DisputeType = "inheritance"
	DisputeBoundary    DisputeType = "boundary"
	DisputeMutation    DisputeType = "mutation"
	DisputeTax         DisputeType = "tax"
	DisputeBBMPBDA     DisputeType = "bbmp_bda"
	DisputeOther       DisputeType = "other"
)

func ParseDisputeType(value string) (DisputeType, error) {
	switch DisputeType(value) {
	case DisputeInheritance, DisputeBoundary, DisputeMutation, DisputeTax, DisputeBBMPBDA, DisputeOther:
		return DisputeType(value), nil
	}
	return "", fmt.Errorf("unknown dispute type %q", value)
}

type CaseSummary struct {
	Facts         string `json:"facts"`
	Claims        string `json:"claims"`
	DisputeNature string `json:"dispute_nature"`
}

type ApplicableLaw struct {
	Law       string `json:"law"`
	Relevance string `json:"relevance"`
}

type Precedent struct {
	Case      string `json:"case"`
	Relevance string `json:"relevance"`
}

type Strategies struct {
	Plaintiff []string `json:"plaintiff"`
	Defendant []string `json:"defendant"`
}

// Artifact is the validated analysis result. All slice fields are
// non-nil after validation; empty means the model reported nothing for
// that section.
type Artifact struct {
	CaseSummary       CaseSummary     `json:"case_summary"`
	LegalIssues       []string        `json:"legal_issues"`
	ApplicableLaws    []ApplicableLaw `json:"applicable_laws"`
	MissingEvidence   []string        `json:"missing_evidence"`
	Strategies        Strategies      `json:"strategies"`
	ConfidenceScore   int             `json:"confidence_score"`
	NextSteps         []string        `json:"next_steps"`
	Precedents        []Precedent     `json:"precedents"`
	EstimatedTimeline string          `json:"estimated_timeline"`
	EstimatedCosts    string          `json:"estimated_costs"`
}

// ParseError reports a model response that failed schema validation.
// Raw holds the unmodified response text for operator diagnosis; it is
// excluded from Error() so it can never leak into an API response.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "analysis response rejected: " + e.Reason
}

type rawCaseSummary struct {
	Facts         *string `json:"facts"`
	Claims        *string `json:"claims"`
	DisputeNature *string `json:"dispute_nature"`
}

type rawStrategies struct {
	Plaintiff []string `json:"plaintiff"`
	Defendant []string `json:"defendant"`
}

type rawArtifact struct {
	CaseSummary       *rawCaseSummary  `json:"case_summary"`
	LegalIssues       *[]string        `json:"legal_issues"`
	ApplicableLaws    *[]ApplicableLaw `json:"applicable_laws"`
	MissingEvidence   *[]string        `json:"missing_evidence"`
	Strategies        *rawStrategies   `json:"strategies"`
	ConfidenceScore   json.RawMessage  `json:"confidence_score"`
	NextSteps         *[]string        `json:"next_steps"`
	Precedents        []Precedent      `json:"precedents"`
	EstimatedTimeline *string          `json:"estimated_timeline"`
	EstimatedCosts    *string          `json:"estimated_costs"`
}

// ParseArtifact validates a raw model response against the analysis
// schema. Missing sections and out-of-range scores are hard failures;
// no defaults are invented on the model's behalf.
func ParseArtifact(raw string) (Artifact, error) {
	cleaned := stripCodeFences(raw)
	if cleaned == "" {
		return Artifact{}, &ParseError{Reason: "empty response", Raw: raw}
	}

	decoder := json.NewDecoder(strings.NewReader(cleaned))
	var parsed rawArtifact
	if err := decoder.Decode(&parsed); err != nil {
		return Artifact{}, &ParseError{Reason: "invalid JSON: " + err.Error(), Raw: raw}
	}

	if parsed.CaseSummary == nil {
		return Artifact{}, &ParseError{Reason: "missing case_summary", Raw: raw}
	}
	if parsed.CaseSummary.Facts == nil || parsed.CaseSummary.Claims == nil || parsed.CaseSummary.DisputeNature == nil {
		return Artifact{}, &ParseError{Reason: "case_summary must include facts, claims and dispute_nature", Raw: raw}
	}
	if parsed.LegalIssues == nil {
		return Artifact{}, &ParseError{Reason: "missing legal_issues", Raw: raw}
	}
	if parsed.ApplicableLaws == nil {
		return Artifact{}, &ParseError{Reason: "missing applicable_laws", Raw: raw}
	}
	if parsed.MissingEvidence == nil {
		return Artifact{}, &ParseError{Reason: "missing missing_evidence", Raw: raw}
	}
	if parsed.Strategies == nil {
		return Artifact{}, &ParseError{Reason: "missing strategies", Raw: raw}
	}
	if parsed.NextSteps == nil {
		return Artifact{}, &ParseError{Reason: "missing next_steps", Raw: raw}
	}
	if parsed.EstimatedTimeline == nil {
		return Artifact{}, &ParseError{Reason: "missing estimated_timeline", Raw: raw}
	}
	if parsed.EstimatedCosts == nil {
		return Artifact{}, &ParseError{Reason: "missing estimated_costs", Raw: raw}
	}

	// The score is checked against the raw token: a quoted "7" is a
	// string, not a score, and must not be coerced.
	scoreToken := strings.TrimSpace(string(parsed.ConfidenceScore))
	if scoreToken == "" || scoreToken == "null" {
		return Artifact{}, &ParseError{Reason: "missing confidence_score", Raw: raw}
	}
	if scoreToken[0] == '"' {
		return Artifact{}, &ParseError{Reason: "confidence_score must be an integer, not a string", Raw: raw}
	}
	score, err := strconv.ParseInt(scoreToken, 10, 64)
	if err != nil {
		return Artifact{}, &ParseError{Reason: "confidence_score must be an integer", Raw: raw}
	}
	if score < 1 || score > 10 {
		return Artifact{}, &ParseError{Reason: fmt.Sprintf("confidence_score %d outside 1-10", score), Raw: raw}
	}

	artifact := Artifact{
		CaseSummary: CaseSummary{
			Facts:         *parsed.CaseSummary.Facts,
			Claims:        *parsed.CaseSummary.Claims,
			DisputeNature: *parsed.CaseSummary.DisputeNature,
		},
		LegalIssues:     *parsed.LegalIssues,
		ApplicableLaws:  *parsed.ApplicableLaws,
		MissingEvidence: *parsed.MissingEvidence,
		Strategies: Strategies{
			Plaintiff: parsed.Strategies.Plaintiff,
			Defendant: parsed.Strategies.Defendant,
		},
		ConfidenceScore:   int(score),
		NextSteps:         *parsed.NextSteps,
		Precedents:        parsed.Precedents,
		EstimatedTimeline: *parsed.EstimatedTimeline,
		EstimatedCosts:    *parsed.EstimatedCosts,
	}

	// JSON round-trips must be stable, so absent optional lists become
	// empty rather than null.
	if artifact.LegalIssues == nil {
		artifact.LegalIssues = []string{}
	}
	if artifact.ApplicableLaws == nil {
		artifact.ApplicableLaws = []ApplicableLaw{}
	}
	if artifact.MissingEvidence == nil {
		artifact.MissingEvidence = []string{}
	}
	if artifact.Strategies.Plaintiff == nil {
		artifact.Strategies.Plaintiff = []string{}
	}
	if artifact.Strategies.Defendant == nil {
		artifact.Strategies.Defendant = []string{}
	}
	if artifact.NextSteps == nil {
		artifact.NextSteps = []string{}
	}
	if artifact.Precedents == nil {
		artifact.Precedents = []Precedent{}
	}

	return artifact, nil
}

func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
