package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quietline/quietline/internal/admission"
	"github.com/quietline/quietline/internal/auth"
	"github.com/quietline/quietline/internal/chat"
	"github.com/quietline/quietline/internal/config"
	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/invite"
	"github.com/quietline/quietline/internal/logging"
	"github.com/quietline/quietline/internal/metrics"
	"github.com/quietline/quietline/internal/provider"
	"github.com/quietline/quietline/internal/tokens"
)

// stubProvider is a canned AI backend for handler tests.
type stubProvider struct {
	chatErr error
}

func (s *stubProvider) Chat(_ context.Context, _ []tokens.Message) (provider.Reply, error) {
	if s.chatErr != nil {
		return provider.Reply{}, s.chatErr
	}
	return provider.Reply{Text: "stub reply", Model: "stub-model"}, nil
}

func (s *stubProvider) ReflectTone(context.Context, string) string { return "stub reflection" }
func (s *stubProvider) Analyze(context.Context, string) []provider.Span {
	return []provider.Span{{Start: 0, End: 1, Label: "neutral"}}
}
func (s *stubProvider) Rephrase(context.Context, string) []string { return []string{"kinder"} }
func (s *stubProvider) Suggest(context.Context, string) []string  { return []string{"opening"} }
func (s *stubProvider) Perspective(context.Context, string) provider.Insight {
	return provider.Insight{Triggers: "t", Impact: "i", Action: "a"}
}
func (s *stubProvider) Summarize(context.Context, string) provider.Insight {
	return provider.Insight{Triggers: "t", Impact: "i", Action: "a"}
}
func (s *stubProvider) Model() string { return "stub-model" }

type fixture struct {
	server   *Server
	router   http.Handler
	repo     *database.MemoryRepository
	authSvc  *auth.Service
	provider *stubProvider
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	logger := logging.New("test", "error", "text")
	m := metrics.New("test")

	memory := database.NewMemoryRepository()
	repo := database.NewFallbackRepository(nil, memory, logger)

	counters := admission.NewMemoryStore()
	limiter := admission.NewRateLimiter(counters, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests, logger)
	gate := admission.NewFreeTierGate(counters, cfg.FreeTier.Limit, GatedPaths, logger)

	authSvc := auth.NewService(repo, "test-secret", time.Hour, 10, logger)
	stub := &stubProvider{}

	srv := New(Deps{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Repo:     repo,
		Auth:     authSvc,
		Issuer:   invite.NewIssuer(repo, logger),
		Gateway:  chat.NewGateway(repo, logger),
		Provider: stub,
		Limiter:  limiter,
		Gate:     gate,
	})

	return &fixture{
		server:   srv,
		router:   srv.Router(),
		repo:     memory,
		authSvc:  authSvc,
		provider: stub,
		cfg:      cfg,
	}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:50000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) register(t *testing.T, email string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/register",
		`{"email":"`+email+`","password":"hunter22"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.Token == "" {
		t.Fatalf("register %s: bad body %s", email, rec.Body.String())
	}
	return out.Token
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["model"] != "stub-model" {
		t.Errorf("model field = %v", body["model"])
	}
	if body["database"] == nil {
		t.Error("database status missing")
	}
}

func TestRootBanner(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUnknownEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["path"] != "/api/nope" {
		t.Errorf("path = %q", body["path"])
	}
}

func TestChatEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", `{"userMessage":"hello"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	var reply provider.Reply
	json.Unmarshal(rec.Body.Bytes(), &reply)
	if reply.Text != "stub reply" {
		t.Errorf("reply = %q", reply.Text)
	}

	if got := rec.Header().Get("X-FreeTier-Remaining"); got == "" {
		t.Error("missing X-FreeTier-Remaining header on gated anonymous request")
	}
}

func TestChatRequiresContent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", `{}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.chatErr = errors.AIUnavailable(nil)

	rec := f.do(t, http.MethodPost, "/api/chat", `{"userMessage":"hi"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != string(errors.CodeAIUnavailable) {
		t.Errorf("code = %v", body["code"])
	}
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	f := newFixture(t)
	f.cfg.RateLimit.MaxRequests = 2

	// Rebuild with the tightened limit.
	logger := logging.New("test", "error", "text")
	counters := admission.NewMemoryStore()
	f.server.limiter = admission.NewRateLimiter(counters, time.Minute, 2, logger)
	f.router = f.server.Router()

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/api/health", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec := f.do(t, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("remaining header = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["retryAfter"]; !ok {
		t.Error("429 body missing retryAfter")
	}
}

func TestFreeTierExhaustion(t *testing.T) {
	f := newFixture(t)

	// Each minimal request costs the 20-token floor; the 100-token budget
	// admits five before rejecting.
	long := strings.Repeat("a", 60)
	for i := 0; i < 5; i++ {
		rec := f.do(t, http.MethodPost, "/api/chat", `{"userMessage":"`+long+`"}`, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d body %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := f.do(t, http.MethodPost, "/api/chat", `{"userMessage":"one more"}`, "")
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != string(errors.CodeFreeTierExceeded) {
		t.Errorf("code = %v", body["code"])
	}
}

func TestFreeTierSuggestContextCostsFloor(t *testing.T) {
	f := newFixture(t)

	// The suggestion context carries no chat content, so even a long one
	// is charged the minimum cost.
	long := strings.Repeat("we argued about the dishes again. ", 24)
	rec := f.do(t, http.MethodPost, "/api/suggest", `{"context":"`+long+`"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-FreeTier-Remaining"); got != "80" {
		t.Errorf("X-FreeTier-Remaining = %q, want 80", got)
	}
}

func TestFreeTierBypassedWithToken(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "payer@example.com")

	// Far more than the anonymous budget; authenticated requests never hit it.
	for i := 0; i < 8; i++ {
		rec := f.do(t, http.MethodPost, "/api/chat", `{"userMessage":"hello there friend"}`, token)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-FreeTier-Remaining") != "" {
			t.Error("authenticated request carries free-tier header")
		}
	}
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "flow@example.com")

	rec := f.do(t, http.MethodGet, "/api/auth/me", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.User.Email != "flow@example.com" || body.User.ID == "" {
		t.Errorf("me body = %s", rec.Body.String())
	}

	// Login returns a working token too.
	rec = f.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"flow@example.com","password":"hunter22"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
}

func TestAuthRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name, path, body string
		want             int
	}{
		{"register short password", "/api/auth/register", `{"email":"a@b.c","password":"12345"}`, http.StatusBadRequest},
		{"register missing email", "/api/auth/register", `{"password":"123456"}`, http.StatusBadRequest},
		{"login wrong password", "/api/auth/login", `{"email":"none@b.c","password":"wrong"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tc.path, tc.body, "")
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	f := newFixture(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/invite/create"},
		{http.MethodGet, "/api/conversations"},
		{http.MethodPost, "/api/messages"},
	}
	for _, p := range paths {
		rec := f.do(t, p.method, p.path, "{}", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/auth/me", "", "garbage-token")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
}

func TestInviteLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	issuerToken := f.register(t, "issuer@example.com")
	acceptorToken := f.register(t, "acceptor@example.com")

	rec := f.do(t, http.MethodPost, "/api/invite/create", "", issuerToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var created invite.Created
	json.Unmarshal(rec.Body.Bytes(), &created)
	if len(created.Code) != invite.CodeLength {
		t.Fatalf("code = %q", created.Code)
	}
	if !strings.Contains(created.Link, "/invite/"+created.Code) {
		t.Errorf("link = %q", created.Link)
	}

	// Self accept rejected.
	rec = f.do(t, http.MethodPost, "/api/invite/accept", `{"code":"`+created.Code+`"}`, issuerToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self accept: status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/invite/accept", `{"code":"`+created.Code+`"}`, acceptorToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", rec.Code, rec.Body.String())
	}
	var accepted map[string]string
	json.Unmarshal(rec.Body.Bytes(), &accepted)
	if accepted["conversationId"] == "" {
		t.Fatal("accept returned no conversation")
	}

	// Unknown code is a 404.
	rec = f.do(t, http.MethodPost, "/api/invite/accept", `{"code":"WRONG234"}`, acceptorToken)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown code: status = %d, want 404", rec.Code)
	}
}

func TestMessagingOverHTTP(t *testing.T) {
	f := newFixture(t)
	aliceToken := f.register(t, "alice@example.com")
	bobToken := f.register(t, "bob@example.com")

	// Bind the pair through an invite.
	rec := f.do(t, http.MethodPost, "/api/invite/create", "", aliceToken)
	var created invite.Created
	json.Unmarshal(rec.Body.Bytes(), &created)
	rec = f.do(t, http.MethodPost, "/api/invite/accept", `{"code":"`+created.Code+`"}`, bobToken)
	var accepted map[string]string
	json.Unmarshal(rec.Body.Bytes(), &accepted)
	convID := accepted["conversationId"]
	if convID == "" {
		t.Fatal("no conversation")
	}

	rec = f.do(t, http.MethodPost, "/api/messages",
		`{"conversationId":"`+convID+`","text":"hi bob","flags":{"hideFromAI":true}}`, aliceToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("send: status %d body %s", rec.Code, rec.Body.String())
	}
	var sent struct {
		Message *database.Message `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	if sent.Message == nil || sent.Message.Text != "hi bob" {
		t.Fatalf("send response = %s, want message envelope", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/conversations/"+convID+"/messages", "", bobToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var listed struct {
		Messages []database.Message `json:"messages"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if len(listed.Messages) != 1 || listed.Messages[0].Text != "hi bob" {
		t.Fatalf("messages = %+v", listed.Messages)
	}

	// Non-member cannot post into the conversation.
	eveToken := f.register(t, "eve@example.com")
	rec = f.do(t, http.MethodPost, "/api/messages",
		`{"conversationId":"`+convID+`","text":"intruding"}`, eveToken)
	if rec.Code != http.StatusForbidden {
		t.Errorf("outsider send: status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/conversations", "", aliceToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("conversations: status %d", rec.Code)
	}
	var convs struct {
		Conversations []chat.ConversationView `json:"conversations"`
	}
	json.Unmarshal(rec.Body.Bytes(), &convs)
	if len(convs.Conversations) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs.Conversations))
	}
	if convs.Conversations[0].Partner.Email != "bob@example.com" {
		t.Errorf("partner = %+v", convs.Conversations[0].Partner)
	}
}

func TestAdvisoryEndpoints(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		path, body, wantField string
	}{
		{"/api/reflect", `{"userMessage":"you never listen"}`, "reflection"},
		{"/api/analyze", `{"userMessage":"you never listen"}`, "spans"},
		{"/api/rephrase", `{"userMessage":"you never listen"}`, "variants"},
		{"/api/suggest", `{"context":"we argued"}`, "suggestions"},
		{"/api/perspective", `{"context":"we argued"}`, "triggers"},
		{"/api/summary", `{"context":"we argued"}`, "triggers"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tc.path, tc.body, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
			}
			var body map[string]interface{}
			json.Unmarshal(rec.Body.Bytes(), &body)
			if _, ok := body[tc.wantField]; !ok {
				t.Errorf("body %s missing %q", rec.Body.String(), tc.wantField)
			}
		})
	}
}

func TestTraceIDPropagation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "", "")
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("response missing X-Trace-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	req.RemoteAddr = "203.0.113.7:50000"
	out := httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	if out.Header().Get("X-Trace-ID") != "trace-123" {
		t.Errorf("trace header = %q, want caller's ID echoed", out.Header().Get("X-Trace-ID"))
	}
}

func TestCORSReflectsOriginInDevelopment(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.RemoteAddr = "203.0.113.7:50000"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
