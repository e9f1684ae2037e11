package store

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound covers both a missing row and a row owned by someone
	// else. Callers cannot tell the two apart.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when a registration collides with an
	// existing account, compared case-insensitively.
	ErrDuplicateEmail = errors.New("email already registered")
)

const (
	CaseStatusActive   = "active"
	CaseStatusArchived = "archived"
	CaseStatusDeleted  = "deleted"
)

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Case struct {
	ID              string
	UserID          string
	Title           string
	CaseText        string
	DisputeType     string
	Artifact        json.RawMessage
	ConfidenceScore int
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CaseSummary is the list-view projection of a case. The narrative and
// the analysis artifact are deliberately left out.
type CaseSummary struct {
	ID              string
	Title           string
	DisputeType     string
	ConfidenceScore int
	Status          string
	CreatedAt       time.Time
}

type UserStats struct {
	TotalCases        int
	CasesByType       map[string]int
	AverageConfidence float64
}
