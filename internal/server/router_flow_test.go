package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/analysis"
	"github.com/kormo-connect/backend/internal/applications"
	"github.com/kormo-connect/backend/internal/auth"
	"github.com/kormo-connect/backend/internal/cvextract"
	"github.com/kormo-connect/backend/internal/database"
	"github.com/kormo-connect/backend/internal/ids"
	"github.com/kormo-connect/backend/internal/matches"
	"github.com/kormo-connect/backend/internal/metrics"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/quota"
	"github.com/kormo-connect/backend/internal/reviews"
	"github.com/kormo-connect/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "flow-secret"
	analysisReply     = "Score: 0.82\n• Strengths:\n• Go experience\n• Weaknesses:\n• No Kubernetes\n• Suggestions:\n• Learn Helm"
	matchesReply      = "```json\n{\"keywords\": [\"Go Developer\", \"Backend Engineer\"], \"level\": \"Senior\"}\n```"
	cvReply           = `{"first_name": "Ada", "last_name": "Lovelace", "skills": "Go, SQL", "work_experience": "5 years backend", "education": "BSc", "phone_number": ""}`
)

var flowDatabaseCounter int64

type scriptedCompleter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (s *scriptedCompleter) Complete(_ context.Context, prompt ai.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(prompt.Text, "Return only the JSON object"):
		s.calls["cv"]++
		return cvReply, nil
	case strings.Contains(prompt.Text, `"keywords"`):
		s.calls["matches"]++
		return matchesReply, nil
	default:
		s.calls["analysis"]++
		return analysisReply, nil
	}
}

func (s *scriptedCompleter) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

type flowFixture struct {
	handler   http.Handler
	db        *gorm.DB
	tasks     *tasks.Repository
	issuer    *auth.TokenIssuer
	completer *scriptedCompleter
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	dsn := fmt.Sprintf("file:server_flow_%d?mode=memory&cache=shared", atomic.AddInt64(&flowDatabaseCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	metricsManager := metrics.NewManager()
	completer := &scriptedCompleter{calls: map[string]int{}}

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create profile service: %v", err)
	}
	tracker, err := quota.NewTracker(quota.TrackerConfig{
		Store:    quota.NewGormStore(db),
		Policy:   quota.DefaultPolicy(),
		Clock:    clock,
		Observer: metricsManager,
	})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	cache, err := analysis.NewCache(analysis.CacheConfig{Database: db, Clock: clock, Observer: metricsManager})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	records, err := analysis.NewRecords(db, ids.NewUUIDProvider(), clock)
	if err != nil {
		t.Fatalf("failed to create records: %v", err)
	}
	taskRepository, err := tasks.NewRepository(db)
	if err != nil {
		t.Fatalf("failed to create task repository: %v", err)
	}
	suitability, err := analysis.NewService(analysis.ServiceConfig{
		Cache:     cache,
		Records:   records,
		Profiles:  profileService,
		Tasks:     taskRepository,
		Quota:     tracker,
		Completer: completer,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("failed to create analysis service: %v", err)
	}
	cvService, err := cvextract.NewService(cvextract.ServiceConfig{
		Profiles:  profileService,
		Quota:     tracker,
		Completer: completer,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("failed to create cv service: %v", err)
	}
	matchService, err := matches.NewService(matches.ServiceConfig{
		Profiles:  profileService,
		Quota:     tracker,
		Completer: completer,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("failed to create match service: %v", err)
	}
	applicationService, err := applications.NewService(applications.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to create application service: %v", err)
	}

	reviewService, err := reviews.NewService(reviews.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to create review service: %v", err)
	}

	validator, err := auth.NewValidator(auth.ValidatorConfig{SigningSecret: []byte(testSigningSecret), Clock: clock})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Audience:      auth.DefaultAudience,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:         validator,
		Profiles:       profileService,
		Suitability:    suitability,
		CV:             cvService,
		Matches:        matchService,
		Applications:   applicationService,
		Reviews:        reviewService,
		Metrics:        metricsManager,
		AllowedOrigins: []string{"*"},
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	return &flowFixture{handler: handler, db: db, tasks: taskRepository, issuer: issuer, completer: completer}
}

func (f *flowFixture) token(t *testing.T, subject string) string {
	t.Helper()
	token, _, err := f.issuer.IssueToken(context.Background(), auth.Subject{ID: subject, Email: subject + "@example.com"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

type flowResponse struct {
	status  int
	header  http.Header
	data    json.RawMessage
	errBody errorBody
}

func (f *flowFixture) post(t *testing.T, path, token string, body interface{}) flowResponse {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error errorBody       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode %s response %q: %v", path, recorder.Body.String(), err)
	}
	return flowResponse{status: recorder.Code, header: recorder.Header(), data: envelope.Data, errBody: envelope.Error}
}

func expectError(t *testing.T, response flowResponse, status int, code string) {
	t.Helper()
	if response.status != status || response.errBody.Code != code {
		t.Fatalf("expected %d %s, got %d %+v", status, code, response.status, response.errBody)
	}
}

func TestAnalyzeApplyAndRateLimitFlow(t *testing.T) {
	fixture := newFlowFixture(t)
	ctx := context.Background()
	if _, err := fixture.tasks.Create(ctx, tasks.Task{ID: "task-1", Title: "Go Engineer", RequiredSkills: "Go", IsPublic: true}); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	if _, err := fixture.tasks.Create(ctx, tasks.Task{ID: "task-closed", Title: "Archived"}); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}

	expectError(t, fixture.post(t, "/analyze-suitability", "", map[string]string{"taskId": "task-1"}), http.StatusUnauthorized, codeAuthenticationRequired)

	token := fixture.token(t, "worker-1")
	profile := map[string]interface{}{"skills": "Go, PostgreSQL", "experience": "6 years", "education": "BSc"}

	expectError(t, fixture.post(t, "/analyze-suitability", token, map[string]interface{}{"profile": profile}), http.StatusBadRequest, codeInvalidRequest)
	expectError(t, fixture.post(t, "/analyze-suitability", token, map[string]interface{}{"taskId": "missing", "profile": profile}), http.StatusNotFound, codeTaskNotFound)
	expectError(t, fixture.post(t, "/apply-for-job", token, map[string]string{"taskId": "task-1"}), http.StatusConflict, codeAnalysisRequired)

	first := fixture.post(t, "/analyze-suitability", token, map[string]interface{}{"taskId": "task-1", "profile": profile})
	if first.status != http.StatusOK {
		t.Fatalf("expected analysis to succeed, got %d %+v", first.status, first.errBody)
	}
	var analyzed suitabilityResponsePayload
	if err := json.Unmarshal(first.data, &analyzed); err != nil {
		t.Fatalf("failed to decode analysis: %v", err)
	}
	if analyzed.Score != 0.82 || analyzed.Cached || analyzed.AnalysisID == "" {
		t.Fatalf("unexpected analysis %+v", analyzed)
	}

	second := fixture.post(t, "/functions/v1/analyze-suitability", token, map[string]interface{}{"taskId": "task-1", "profile": profile})
	var cached suitabilityResponsePayload
	if err := json.Unmarshal(second.data, &cached); err != nil {
		t.Fatalf("failed to decode cached analysis: %v", err)
	}
	if !cached.Cached || cached.AnalysisID != analyzed.AnalysisID {
		t.Fatalf("expected cached analysis for the same record, got %+v", cached)
	}
	if fixture.completer.count("analysis") != 1 {
		t.Fatalf("expected one upstream analysis call, got %d", fixture.completer.count("analysis"))
	}

	applied := fixture.post(t, "/functions/v1/apply-for-job", token, map[string]string{"taskId": "task-1"})
	if applied.status != http.StatusOK {
		t.Fatalf("expected application to succeed, got %d %+v", applied.status, applied.errBody)
	}
	var application applications.Application
	if err := json.Unmarshal(applied.data, &application); err != nil {
		t.Fatalf("failed to decode application: %v", err)
	}
	if application.AnalysisID != analyzed.AnalysisID || application.WorkerID != "worker-1" {
		t.Fatalf("unexpected application %+v", application)
	}
	expectError(t, fixture.post(t, "/apply-for-job", token, map[string]string{"taskId": "task-1"}), http.StatusConflict, codeAlreadyApplied)
	expectError(t, fixture.post(t, "/apply-for-job", token, map[string]string{"taskId": "task-closed"}), http.StatusConflict, codeTaskNotOpen)

	if err := fixture.db.Model(&profiles.Profile{}).Where("id = ?", "worker-1").Update("skills", "Go").Error; err != nil {
		t.Fatalf("failed to update profile: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		matched := fixture.post(t, "/find-best-matches", token, map[string]string{})
		if matched.status != http.StatusOK {
			t.Fatalf("attempt %d: expected matches, got %d %+v", attempt, matched.status, matched.errBody)
		}
		var suggestion matches.Suggestion
		if err := json.Unmarshal(matched.data, &suggestion); err != nil {
			t.Fatalf("failed to decode suggestion: %v", err)
		}
		if suggestion.Level != "Senior" || len(suggestion.Keywords) != 2 {
			t.Fatalf("unexpected suggestion %+v", suggestion)
		}
	}

	limited := fixture.post(t, "/find-best-matches", token, map[string]string{})
	expectError(t, limited, http.StatusTooManyRequests, codeRateLimitExceeded)
	if limited.header.Get("Retry-After") != "60" || limited.errBody.RetryAfterSeconds != 60 {
		t.Fatalf("expected 60 second retry hint, got header %q body %d", limited.header.Get("Retry-After"), limited.errBody.RetryAfterSeconds)
	}

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if !strings.Contains(recorder.Body.String(), `kormo_quota_decisions_total{operation="job_match",outcome="denied",tier="free"} 1`) {
		t.Fatalf("expected quota denial metric, got:\n%s", recorder.Body.String())
	}
}

func TestEmployersAreForbidden(t *testing.T) {
	fixture := newFlowFixture(t)
	token := fixture.token(t, "employer-1")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected healthz to respond 200, got %d", recorder.Code)
	}

	if err := fixture.db.Create(&profiles.Profile{ID: "employer-1", Role: profiles.RoleEmployer, SubscriptionStatus: profiles.SubscriptionFree}).Error; err != nil {
		t.Fatalf("failed to seed employer: %v", err)
	}
	expectError(t, fixture.post(t, "/find-best-matches", token, map[string]string{}), http.StatusForbidden, codeForbidden)
}

func TestSubmitWorkerReviewFlow(t *testing.T) {
	fixture := newFlowFixture(t)
	ctx := context.Background()
	if err := fixture.db.Create(&profiles.Profile{ID: "employer-1", Role: profiles.RoleEmployer, SubscriptionStatus: profiles.SubscriptionFree}).Error; err != nil {
		t.Fatalf("failed to seed employer: %v", err)
	}
	if err := fixture.db.Create(&profiles.Profile{ID: "employer-2", Role: profiles.RoleEmployer, SubscriptionStatus: profiles.SubscriptionFree}).Error; err != nil {
		t.Fatalf("failed to seed employer: %v", err)
	}
	if _, err := fixture.tasks.Create(ctx, tasks.Task{ID: "task-1", EmployerID: "employer-1", Title: "Delivery rider", IsPublic: true}); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	employerToken := fixture.token(t, "employer-1")
	review := map[string]interface{}{"taskId": "task-1", "workerId": "worker-1", "overallRating": 5, "qualityRating": 4, "feedbackText": "On time"}

	expectError(t, fixture.post(t, "/submit-worker-review", fixture.token(t, "worker-1"), review), http.StatusForbidden, codeForbidden)
	expectError(t, fixture.post(t, "/submit-worker-review", fixture.token(t, "employer-2"), review), http.StatusForbidden, codeForbidden)
	expectError(t, fixture.post(t, "/analyze-suitability", employerToken, map[string]string{"taskId": "task-1"}), http.StatusForbidden, codeForbidden)

	invalid := fixture.post(t, "/submit-worker-review", employerToken, map[string]interface{}{"taskId": "task-1", "workerId": "worker-1", "overallRating": 7})
	expectError(t, invalid, http.StatusBadRequest, codeInvalidRequest)
	if invalid.errBody.Message != "overallRating must be at most 5" {
		t.Fatalf("unexpected validation message %q", invalid.errBody.Message)
	}
	expectError(t, fixture.post(t, "/submit-worker-review", employerToken, map[string]interface{}{"taskId": "missing", "workerId": "worker-1", "overallRating": 3}), http.StatusNotFound, codeTaskNotFound)

	var first reviewResponsePayload
	created := fixture.post(t, "/functions/v1/submit-worker-review", employerToken, review)
	if created.status != http.StatusOK {
		t.Fatalf("expected review to be stored, got %d %+v", created.status, created.errBody)
	}
	if err := json.Unmarshal(created.data, &first); err != nil {
		t.Fatalf("failed to decode review: %v", err)
	}
	if first.Message != "Review submitted successfully" || first.Review.CompanyID != "employer-1" || first.Review.OverallRating != 5 {
		t.Fatalf("unexpected review response %+v", first)
	}

	review["overallRating"] = 3
	var second reviewResponsePayload
	updated := fixture.post(t, "/submit-worker-review", employerToken, review)
	if err := json.Unmarshal(updated.data, &second); err != nil {
		t.Fatalf("failed to decode review: %v", err)
	}
	if second.Message != "Review updated successfully" || second.Review.ID != first.Review.ID || second.Review.OverallRating != 3 {
		t.Fatalf("unexpected updated review %+v", second)
	}
}

func TestFindBestMatchesRequiresProfileText(t *testing.T) {
	fixture := newFlowFixture(t)
	token := fixture.token(t, "worker-blank")

	expectError(t, fixture.post(t, "/find-best-matches", token, map[string]string{}), http.StatusBadRequest, codeIncompleteProfile)
	if fixture.completer.count("matches") != 0 {
		t.Fatalf("expected no upstream call for an incomplete profile")
	}
}

func TestAnalyzeCVUpdatesProfile(t *testing.T) {
	fixture := newFlowFixture(t)
	token := fixture.token(t, "worker-cv")
	encoded := base64.StdEncoding.EncodeToString([]byte("Ada Lovelace\nGo, SQL\n5 years backend"))

	expectError(t, fixture.post(t, "/analyze-cv", token, map[string]string{"cvFile": encoded, "filename": "cv.exe"}), http.StatusBadRequest, codeInvalidFile)
	expectError(t, fixture.post(t, "/analyze-cv", token, map[string]string{"filename": "cv.txt"}), http.StatusBadRequest, codeInvalidFile)

	response := fixture.post(t, "/analyze-cv", token, map[string]string{"cvFile": encoded, "filename": "cv.txt", "mimeType": "text/plain"})
	if response.status != http.StatusOK {
		t.Fatalf("expected cv analysis to succeed, got %d %+v", response.status, response.errBody)
	}
	var payload cvResponsePayload
	if err := json.Unmarshal(response.data, &payload); err != nil {
		t.Fatalf("failed to decode cv response: %v", err)
	}
	if !payload.Success || payload.Profile.FirstName != "Ada" || payload.Profile.Skills != "Go, SQL" {
		t.Fatalf("unexpected cv response %+v", payload)
	}

	var stored profiles.Profile
	if err := fixture.db.Where("id = ?", "worker-cv").Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload profile: %v", err)
	}
	if stored.Experience != "5 years backend" || stored.LastName != "Lovelace" {
		t.Fatalf("expected extracted fields to be stored, got %+v", stored)
	}
}
