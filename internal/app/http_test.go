package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vakil/api/internal/analysis"
	"vakil/api/internal/auth"
	"vakil/api/internal/report"
	"vakil/api/internal/store"
)

const testSecret = "test-secret"

const validAnalysisJSON = `{
	"case_summary": {"facts": "f", "claims": "c", "dispute_nature": "d"},
	"legal_issues": ["issue one"],
	"applicable_laws": [{"law": "HSA 1956", "relevance": "succession"}],
	"missing_evidence": [],
	"strategies": {"plaintiff": ["sue"], "defendant": []},
	"confidence_score": 8,
	"next_steps": ["file suit"],
	"precedents": [],
	"estimated_timeline": "1 year",
	"estimated_costs": "Rs. 50,000"
}`

// fakeStore is an in-memory dataStore. Function fields override single
// operations to inject failures.
type fakeStore struct {
	usersByID map[string]store.User
	casesByID map[string]store.Case

	pingErr      error
	createCaseFn func(ctx context.Context, c store.Case) (store.Case, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByID: map[string]store.User{},
		casesByID: map[string]store.Case{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	for _, existing := range f.usersByID {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.User{}, store.ErrDuplicateEmail
		}
	}
	user.CreatedAt = time.Now()
	f.usersByID[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	for _, user := range f.usersByID {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	user, ok := f.usersByID[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id string) error {
	if _, ok := f.usersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.usersByID, id)
	for caseID, c := range f.casesByID {
		if c.UserID == id {
			delete(f.casesByID, caseID)
		}
	}
	return nil
}

func (f *fakeStore) CreateCase(ctx context.Context, c store.Case) (store.Case, error) {
	if f.createCaseFn != nil {
		return f.createCaseFn(ctx, c)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	f.casesByID[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetCase(ctx context.Context, id, ownerID string) (store.Case, error) {
	c, ok := f.casesByID[id]
	if !ok || c.UserID != ownerID || c.Status == store.CaseStatusDeleted {
		return store.Case{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCases(ctx context.Context, ownerID string, limit, offset int) ([]store.CaseSummary, error) {
	items := []store.CaseSummary{}
	for _, c := range f.casesByID {
		if c.UserID != ownerID || c.Status != store.CaseStatusActive {
			continue
		}
		items = append(items, store.CaseSummary{
			ID:              c.ID,
			Title:           c.Title,
			DisputeType:     c.DisputeType,
			ConfidenceScore: c.ConfidenceScore,
			Status:          c.Status,
			CreatedAt:       c.CreatedAt,
		})
	}
	return items, nil
}

func (f *fakeStore) SetCaseStatus(ctx context.Context, id, ownerID, status string) error {
	c, ok := f.casesByID[id]
	if !ok || c.UserID != ownerID || c.Status == store.CaseStatusDeleted {
		return store.ErrNotFound
	}
	c.Status = status
	f.casesByID[id] = c
	return nil
}

func (f *fakeStore) UserStats(ctx context.Context, ownerID string) (store.UserStats, error) {
	stats := store.UserStats{CasesByType: map[string]int{}}
	sum := 0
	for _, c := range f.casesByID {
		if c.UserID != ownerID || c.Status == store.CaseStatusDeleted {
			continue
		}
		stats.TotalCases++
		stats.CasesByType[c.DisputeType]++
		sum += c.ConfidenceScore
	}
	if stats.TotalCases > 0 {
		stats.AverageConfidence = float64(sum) / float64(stats.TotalCases)
	}
	return stats, nil
}

type fakeEngine struct {
	analyzeFn func(ctx context.Context, title, caseText string, disputeType analysis.DisputeType) (analysis.Artifact, error)
	calls     int
}

func (f *fakeEngine) Analyze(ctx context.Context, title, caseText string, disputeType analysis.DisputeType) (analysis.Artifact, error) {
	f.calls++
	if f.analyzeFn != nil {
		return f.analyzeFn(ctx, title, caseText, disputeType)
	}
	return analysis.ParseArtifact(validAnalysisJSON)
}

func newTestServer(t *testing.T) (http.Handler, *fakeStore, *fakeEngine, *Service) {
	t.Helper()
	st := newFakeStore()
	engine := &fakeEngine{}
	svc := NewService(st, engine, []byte(testSecret), 30*time.Minute, zap.NewNop())
	server := NewHTTPServer(svc, "*", zap.NewNop())
	return server.Handler(), st, engine, svc
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func registerAndLogin(t *testing.T, handler http.Handler, email string) (token, userID string) {
	t.Helper()
	resp := doJSON(t, handler, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "secret123", "name": "Test User",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = doJSON(t, handler, http.MethodPost, "/auth/login", "", map[string]string{
		"email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		User        struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "bearer", payload.TokenType)
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken, payload.User.ID
}

func analyzeCase(t *testing.T, handler http.Handler, token string) string {
	t.Helper()
	resp := doJSON(t, handler, http.MethodPost, "/api/analyze-case", token, map[string]string{
		"title":        "Partition of ancestral property",
		"case_text":    strings.Repeat("The two brothers dispute the site. ", 5),
		"dispute_type": "inheritance",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var payload struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.ID
}

func TestRegisterLoginAnalyzeFlow(t *testing.T) {
	handler, st, _, _ := newTestServer(t)
	token, userID := registerAndLogin(t, handler, "ravi@example.com")

	caseID := analyzeCase(t, handler, token)
	require.Len(t, st.casesByID, 1)
	assert.Equal(t, userID, st.casesByID[caseID].UserID)
	assert.Equal(t, 8, st.casesByID[caseID].ConfidenceScore)

	resp := doJSON(t, handler, http.MethodGet, "/api/cases/"+caseID, token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var got struct {
		ID              string `json:"id"`
		ConfidenceScore int    `json:"confidence_score"`
		AIResponse      struct {
			ConfidenceScore int `json:"confidence_score"`
		} `json:"ai_response"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, caseID, got.ID)
	assert.Equal(t, "active", got.Status)
	// The column copy and the stored artifact always agree.
	assert.Equal(t, got.AIResponse.ConfidenceScore, got.ConfidenceScore)

	resp = doJSON(t, handler, http.MethodGet, "/api/cases", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Cases []struct {
			ID       string `json:"id"`
			CaseText string `json:"case_text"`
		} `json:"cases"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Cases, 1)
	assert.Empty(t, list.Cases[0].CaseText)
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	handler, _, _, _ := newTestServer(t)
	registerAndLogin(t, handler, "ravi@example.com")

	resp := doJSON(t, handler, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "RAVI@example.com", "password": "secret123", "name": "Other",
	})
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "DUPLICATE_IDENTITY")
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	handler, st, _, _ := newTestServer(t)

	resp := doJSON(t, handler, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "secret123", "name": "Test",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "VALIDATION_ERROR")
	assert.Empty(t, st.usersByID)
}

func TestLoginFailureDoesNotRevealWhichFieldWasWrong(t *testing.T) {
	handler, _, _, _ := newTestServer(t)
	registerAndLogin(t, handler, "ravi@example.com")

	unknown := doJSON(t, handler, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "nobody@example.com", "password": "secret123",
	})
	wrongPassword := doJSON(t, handler, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ravi@example.com", "password": "wrong-password",
	})

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, unknown.Body.String(), wrongPassword.Body.String())
}

func TestRequireSessionRejectsBadTokens(t *testing.T) {
	handler, _, _, _ := newTestServer(t)

	resp := doJSON(t, handler, http.MethodGet, "/api/cases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/api/cases", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	expired, err := auth.IssueToken([]byte(testSecret), "user-1", "a@b.com", "A", -time.Minute)
	require.NoError(t, err)
	resp = doJSON(t, handler, http.MethodGet, "/api/cases", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	forged, err := auth.IssueToken([]byte("other-secret"), "user-1", "a@b.com", "A", time.Minute)
	require.NoError(t, err)
	resp = doJSON(t, handler, http.MethodGet, "/api/cases", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestCrossOwnerAccessLooksLikeMissingCase(t *testing.T) {
	handler, _, _, _ := newTestServer(t)
	ownerToken, _ := registerAndLogin(t, handler, "owner@example.com")
	otherToken, _ := registerAndLogin(t, handler, "other@example.com")

	caseID := analyzeCase(t, handler, ownerToken)

	missing := doJSON(t, handler, http.MethodGet, "/api/cases/"+uuid.NewString(), otherToken, nil)
	crossOwner := doJSON(t, handler, http.MethodGet, "/api/cases/"+caseID, otherToken, nil)

	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Equal(t, http.StatusNotFound, crossOwner.Code)
	assert.Equal(t, missing.Body.String(), crossOwner.Body.String())

	// Deletion is owner-scoped the same way.
	resp := doJSON(t, handler, http.MethodDelete, "/api/cases/"+caseID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAnalyzeCaseValidationFailsBeforeOracle(t *testing.T) {
	handler, st, engine, _ := newTestServer(t)
	token, _ := registerAndLogin(t, handler, "ravi@example.com")

	cases := []map[string]string{
		{"title": "abc", "case_text": strings.Repeat("x", 100), "dispute_type": "inheritance"},
		{"title": "A valid title", "case_text": "too short", "dispute_type": "inheritance"},
		{"title": "A valid title", "case_text": strings.Repeat("x", 100), "dispute_type": "matrimonial"},
	}
	for _, body := range cases {
		resp := doJSON(t, handler, http.MethodPost, "/api/analyze-case", token, body)
		require.Equal(t, http.StatusUnprocessableEntity, resp.Code, resp.Body.String())
		assert.Contains(t, resp.Body.String(), "VALIDATION_ERROR")
	}
	assert.Equal(t, 0, engine.calls)
	assert.Empty(t, st.casesByID)
}

func TestAnalyzeCaseOracleFailureDoesNotPersist(t *testing.T) {
	handler, st, engine, _ := newTestServer(t)
	token, _ := registerAndLogin(t, handler, "ravi@example.com")

	engine.analyzeFn = func(ctx context.Context, title, caseText string, disputeType analysis.DisputeType) (analysis.Artifact, error) {
		return analysis.Artifact{}, fmt.Errorf("%w: all attempts failed", analysis.ErrOracleUnavailable)
	}

	resp := doJSON(t, handler, http.MethodPost, "/api/analyze-case", token, map[string]string{
		"title":        "A valid title",
		"case_text":    strings.Repeat("x", 100),
		"dispute_type": "boundary",
	})
	require.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Contains(t, resp.Body.String(), "ORACLE_UNAVAILABLE")
	assert.Empty(t, st.casesByID)
}

func TestAnalyzeCaseParseErrorHidesRawResponse(t *testing.T) {
	handler, st, engine, _ := newTestServer(t)
	token, _ := registerAndLogin(t, handler, "ravi@example.com")

	const rawModelOutput = "sorry, I cannot help with that"
	engine.analyzeFn = func(ctx context.Context, title, caseText string, disputeType analysis.DisputeType) (analysis.Artifact, error) {
		return analysis.Artifact{}, &analysis.ParseError{Reason: "invalid JSON", Raw: rawModelOutput}
	}

	resp := doJSON(t, handler, http.MethodPost, "/api/analyze-case", token, map[string]string{
		"title":        "A valid title",
		"case_text":    strings.Repeat("x", 100),
		"dispute_type": "other",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "ANALYSIS_PARSE_ERROR")
	assert.NotContains(t, resp.Body.String(), rawModelOutput)
	assert.Empty(t, st.casesByID)
}

func TestAnalyzeCasePersistsAfterClientDisconnect(t *testing.T) {
	_, st, engine, svc := newTestServer(t)
	user, err := st.CreateUser(context.Background(), store.User{ID: "u1", Email: "a@b.com", Name: "A", PasswordHash: "x"})
	require.NoError(t, err)

	// The request context dies while the oracle call is in flight. The
	// engine honors cancellation, so the analysis only survives if the
	// service detached from the request before invoking it.
	ctx, cancel := context.WithCancel(context.Background())
	engine.analyzeFn = func(ctx context.Context, title, caseText string, disputeType analysis.DisputeType) (analysis.Artifact, error) {
		cancel()
		if err := ctx.Err(); err != nil {
			return analysis.Artifact{}, fmt.Errorf("%w: %v", analysis.ErrOracleUnavailable, err)
		}
		return analysis.ParseArtifact(validAnalysisJSON)
	}
	var persistCtxErr error
	st.createCaseFn = func(ctx context.Context, c store.Case) (store.Case, error) {
		persistCtxErr = ctx.Err()
		c.ID = "case-1"
		st.casesByID[c.ID] = c
		return c, nil
	}

	_, err = svc.AnalyzeCase(ctx, Session{UserID: user.ID, Name: user.Name}, AnalyzeCaseInput{
		Title:       "A valid title",
		CaseText:    strings.Repeat("x", 100),
		DisputeType: "inheritance",
	})
	require.NoError(t, err)
	assert.NoError(t, persistCtxErr)
	assert.Len(t, st.casesByID, 1)
}

func TestDeleteCaseSoftDeletes(t *testing.T) {
	handler, st, _, _ := newTestServer(t)
	token, _ := registerAndLogin(t, handler, "ravi@example.com")
	caseID := analyzeCase(t, handler, token)

	resp := doJSON(t, handler, http.MethodDelete, "/api/cases/"+caseID, token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, store.CaseStatusDeleted, st.casesByID[caseID].Status)

	// Gone from reads, still in storage.
	resp = doJSON(t, handler, http.MethodGet, "/api/cases/"+caseID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = doJSON(t, handler, http.MethodGet, "/api/cases", token, nil)
	assert.NotContains(t, resp.Body.String(), caseID)
}

func TestStatsAggregatesOwnCases(t *testing.T) {
	handler, _, _, _ := newTestServer(t)
	token, _ := registerAndLogin(t, handler, "ravi@example.com")
	analyzeCase(t, handler, token)
	analyzeCase(t, handler, token)

	resp := doJSON(t, handler, http.MethodGet, "/api/stats", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var stats StatsPayload
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalCases)
	assert.Equal(t, 2, stats.CasesByType["inheritance"])
	assert.InDelta(t, 8.0, stats.AverageConfidence, 0.001)
}

func TestCasePDFUsesRenderer(t *testing.T) {
	handler, _, _, svc := newTestServer(t)
	token, _ := registerAndLogin(t, handler, "ravi@example.com")
	caseID := analyzeCase(t, handler, token)

	svc.renderPDF = func(ctx context.Context, info report.CaseInfo, artifact analysis.Artifact) (*report.Result, error) {
		assert.Equal(t, caseID, info.ID)
		assert.Equal(t, "Test User", info.OwnerName)
		return &report.Result{Data: []byte("%PDF-fake"), Filename: "case.pdf", MimeType: "application/pdf"}, nil
	}

	resp := doJSON(t, handler, http.MethodGet, "/api/cases/"+caseID+"/pdf", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "case.pdf")
	assert.Equal(t, "%PDF-fake", resp.Body.String())

	svc.renderPDF = func(ctx context.Context, info report.CaseInfo, artifact analysis.Artifact) (*report.Result, error) {
		return nil, report.ErrPDFDependencyMissing
	}
	resp = doJSON(t, handler, http.MethodGet, "/api/cases/"+caseID+"/pdf", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestDeleteAccountRequiresPasswordAndCascades(t *testing.T) {
	handler, st, _, _ := newTestServer(t)
	token, userID := registerAndLogin(t, handler, "ravi@example.com")
	analyzeCase(t, handler, token)

	resp := doJSON(t, handler, http.MethodDelete, "/auth/account", token, map[string]string{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Contains(t, st.usersByID, userID)

	resp = doJSON(t, handler, http.MethodDelete, "/auth/account", token, map[string]string{"password": "secret123"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, st.usersByID)
	assert.Empty(t, st.casesByID)

	// The still-valid token no longer resolves to an account.
	resp = doJSON(t, handler, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	handler, st, _, _ := newTestServer(t)

	resp := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	st.pingErr = fmt.Errorf("connection refused")
	resp = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestPreflightRespondsWithoutBody(t *testing.T) {
	handler, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze-case", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Empty(t, recorder.Body.String())
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDAndCORSHeaders(t *testing.T) {
	handler, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	assert.NotEmpty(t, recorder.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	assert.Equal(t, "fixed-id", recorder.Header().Get("X-Request-ID"))
}
