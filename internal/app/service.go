package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vakil/api/internal/analysis"
	"vakil/api/internal/auth"
	"vakil/api/internal/authpw"
	"vakil/api/internal/report"
	"vakil/api/internal/store"
)

// Session identifies the authenticated caller for the lifetime of one
// request. It is reconstructed from the access token on every request;
// there is no server-side session state.
type Session struct {
	UserID string
	Email  string
	Name   string
}

// Title and narrative length limits match the database schema.
const (
	titleMinLen    = 5
	titleMaxLen    = 500
	caseTextMinLen = 50
	caseTextMaxLen = 10000
)

type dataStore interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	DeleteUser(ctx context.Context, id string) error
	CreateCase(ctx context.Context, c store.Case) (store.Case, error)
	GetCase(ctx context.Context, id, ownerID string) (store.Case, error)
	ListCases(ctx context.Context, ownerID string, limit, offset int) ([]store.CaseSummary, error)
	SetCaseStatus(ctx context.Context, id, ownerID, status string) error
	UserStats(ctx context.Context, ownerID string) (store.UserStats, error)
}

type analyzer interface {
	Analyze(ctx context.Context, title, caseText string, disputeType analysis.DisputeType) (analysis.Artifact, error)
}

type pdfRenderer func(ctx context.Context, info report.CaseInfo, artifact analysis.Artifact) (*report.Result, error)

type Service struct {
	store     dataStore
	passwords *authpw.Service
	engine    analyzer
	renderPDF pdfRenderer
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
}

func NewService(st dataStore, engine analyzer, jwtSecret []byte, accessTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		passwords: authpw.NewService(st),
		engine:    engine,
		renderPDF: report.RenderPDF,
		jwtSecret: jwtSecret,
		accessTTL: accessTTL,
		logger:    logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// UserPayload is the public view of an account.
type UserPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// TokenPayload is the login response.
type TokenPayload struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        UserPayload `json:"user"`
}

// CasePayload is the full single-case response, analysis included.
type CasePayload struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	CaseText        string            `json:"case_text"`
	DisputeType     string            `json:"dispute_type"`
	AIResponse      analysis.Artifact `json:"ai_response"`
	ConfidenceScore int               `json:"confidence_score"`
	Status          string            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
}

// CaseSummaryPayload is the list-view projection. The narrative and
// the full analysis stay out of list responses.
type CaseSummaryPayload struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	DisputeType     string    `json:"dispute_type"`
	ConfidenceScore int       `json:"confidence_score"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

type StatsPayload struct {
	TotalCases        int            `json:"total_cases"`
	CasesByType       map[string]int `json:"cases_by_type"`
	AverageConfidence float64        `json:"average_confidence"`
}

func userPayload(u store.User) UserPayload {
	return UserPayload{ID: u.ID, Email: u.Email, Name: u.Name}
}

func (s *Service) Register(ctx context.Context, email, password, name string) (UserPayload, error) {
	user, err := s.passwords.Register(ctx, email, password, name)
	if err != nil {
		return UserPayload{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return userPayload(user), nil
}

func (s *Service) Login(ctx context.Context, email, password string) (TokenPayload, error) {
	user, err := s.passwords.Authenticate(ctx, email, password)
	if err != nil {
		return TokenPayload{}, err
	}
	token, err := auth.IssueToken(s.jwtSecret, user.ID, user.Email, user.Name, s.accessTTL)
	if err != nil {
		return TokenPayload{}, fmt.Errorf("issue token: %w", err)
	}
	return TokenPayload{
		AccessToken: token,
		TokenType:   "bearer",
		User:        userPayload(user),
	}, nil
}

// SessionFromToken validates an access token. Tokens are self-contained;
// no database lookup happens here.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// Me resolves the account behind a session. A valid token for a
// deleted account is treated as an invalid token.
func (s *Service) Me(ctx context.Context, session Session) (UserPayload, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return UserPayload{}, auth.ErrInvalidToken
		}
		return UserPayload{}, err
	}
	return userPayload(user), nil
}

// DeleteAccount removes the account and, via the schema cascade, every
// case it owns. The caller must re-prove the password.
func (s *Service) DeleteAccount(ctx context.Context, session Session, password string) error {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.ErrInvalidToken
		}
		return err
	}
	if err := s.passwords.VerifyPassword(user, password); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("user_id", user.ID))
	return nil
}

type AnalyzeCaseInput struct {
	Title       string `json:"title"`
	CaseText    string `json:"case_text"`
	DisputeType string `json:"dispute_type"`
}

func validateAnalyzeInput(input AnalyzeCaseInput) (analysis.DisputeType, error) {
	title := strings.TrimSpace(input.Title)
	if len(title) < titleMinLen || len(title) > titleMaxLen {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("title must be between %d and %d characters", titleMinLen, titleMaxLen), nil)
	}
	text := strings.TrimSpace(input.CaseText)
	if len(text) < caseTextMinLen || len(text) > caseTextMaxLen {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("case_text must be between %d and %d characters", caseTextMinLen, caseTextMaxLen), nil)
	}
	disputeType, err := analysis.ParseDisputeType(input.DisputeType)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"dispute_type must be one of: inheritance, boundary, mutation, tax, bbmp_bda, other", nil)
	}
	return disputeType, nil
}

// AnalyzeCase validates the submission, runs the analysis and persists
// the result as one new case. Nothing is written unless the analysis
// passed validation; conversely, once the model has answered, the row
// is written even if the caller has disconnected.
func (s *Service) AnalyzeCase(ctx context.Context, session Session, input AnalyzeCaseInput) (CasePayload, error) {
	disputeType, err := validateAnalyzeInput(input)
	if err != nil {
		return CasePayload{}, err
	}
	title := strings.TrimSpace(input.Title)
	caseText := strings.TrimSpace(input.CaseText)

	// Detached before the oracle call: a client that hangs up cannot
	// abort the analysis or lose the result. The engine bounds each
	// attempt with its own timeout.
	ctx = context.WithoutCancel(ctx)

	artifact, err := s.engine.Analyze(ctx, title, caseText, disputeType)
	if err != nil {
		return CasePayload{}, err
	}

	raw, err := json.Marshal(artifact)
	if err != nil {
		return CasePayload{}, fmt.Errorf("encode artifact: %w", err)
	}

	persistCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	created, err := s.store.CreateCase(persistCtx, store.Case{
		ID:              uuid.NewString(),
		UserID:          session.UserID,
		Title:           title,
		CaseText:        caseText,
		DisputeType:     string(disputeType),
		Artifact:        raw,
		ConfidenceScore: artifact.ConfidenceScore,
		Status:          store.CaseStatusActive,
	})
	if err != nil {
		return CasePayload{}, fmt.Errorf("persist case: %w", err)
	}

	s.logger.Info("case analyzed",
		zap.String("case_id", created.ID),
		zap.String("user_id", session.UserID),
		zap.String("dispute_type", created.DisputeType),
		zap.Int("confidence_score", created.ConfidenceScore),
	)
	return casePayload(created, artifact), nil
}

func casePayload(c store.Case, artifact analysis.Artifact) CasePayload {
	return CasePayload{
		ID:              c.ID,
		Title:           c.Title,
		CaseText:        c.CaseText,
		DisputeType:     c.DisputeType,
		AIResponse:      artifact,
		ConfidenceScore: c.ConfidenceScore,
		Status:          c.Status,
		CreatedAt:       c.CreatedAt,
	}
}

func (s *Service) GetCase(ctx context.Context, session Session, id string) (CasePayload, error) {
	c, err := s.store.GetCase(ctx, id, session.UserID)
	if err != nil {
		return CasePayload{}, err
	}
	var artifact analysis.Artifact
	if err := json.Unmarshal(c.Artifact, &artifact); err != nil {
		return CasePayload{}, fmt.Errorf("decode stored artifact for case %s: %w", c.ID, err)
	}
	return casePayload(c, artifact), nil
}

func (s *Service) ListCases(ctx context.Context, session Session, limit, offset int) ([]CaseSummaryPayload, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.store.ListCases(ctx, session.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]CaseSummaryPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, CaseSummaryPayload{
			ID:              row.ID,
			Title:           row.Title,
			DisputeType:     row.DisputeType,
			ConfidenceScore: row.ConfidenceScore,
			Status:          row.Status,
			CreatedAt:       row.CreatedAt,
		})
	}
	return items, nil
}

// DeleteCase soft-deletes: the row stays for audit but disappears from
// every owner-facing read.
func (s *Service) DeleteCase(ctx context.Context, session Session, id string) error {
	return s.store.SetCaseStatus(ctx, id, session.UserID, store.CaseStatusDeleted)
}

func (s *Service) CasePDF(ctx context.Context, session Session, id string) (*report.Result, error) {
	c, err := s.store.GetCase(ctx, id, session.UserID)
	if err != nil {
		return nil, err
	}
	if len(c.Artifact) == 0 {
		return nil, fmt.Errorf("case %s: %w", c.ID, report.ErrMissingArtifact)
	}
	var artifact analysis.Artifact
	if err := json.Unmarshal(c.Artifact, &artifact); err != nil {
		return nil, fmt.Errorf("case %s: %w: %v", c.ID, report.ErrMissingArtifact, err)
	}
	return s.renderPDF(ctx, report.CaseInfo{
		ID:          c.ID,
		Title:       c.Title,
		DisputeType: analysis.DisputeType(c.DisputeType),
		OwnerName:   session.Name,
		CreatedAt:   c.CreatedAt,
	}, artifact)
}

func (s *Service) Stats(ctx context.Context, session Session) (StatsPayload, error) {
	stats, err := s.store.UserStats(ctx, session.UserID)
	if err != nil {
		return StatsPayload{}, err
	}
	return StatsPayload{
		TotalCases:        stats.TotalCases,
		CasesByType:       stats.CasesByType,
		AverageConfidence: stats.AverageConfidence,
	}, nil
}
