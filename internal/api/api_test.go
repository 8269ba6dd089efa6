package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tripweave/tripweave/internal/agent"
	"github.com/tripweave/tripweave/internal/auth"
	"github.com/tripweave/tripweave/internal/config"
	"github.com/tripweave/tripweave/internal/credentials"
	"github.com/tripweave/tripweave/internal/gateway"
	"github.com/tripweave/tripweave/internal/resolver"
	"github.com/tripweave/tripweave/internal/sessions"
	"github.com/tripweave/tripweave/pkg/models"
)

// canned runtime: every turn answers with one assistant message.
type cannedRuntime struct {
	reply string
}

func (c *cannedRuntime) Run(_ context.Context, _ agent.TurnRequest) (<-chan agent.Event, <-chan agent.TurnOutcome) {
	events := make(chan agent.Event)
	outcome := make(chan agent.TurnOutcome, 1)
	close(events)
	outcome <- agent.TurnOutcome{Messages: []models.ChatMessage{
		{Role: models.RoleAssistant, Content: c.reply},
	}}
	close(outcome)
	return events, outcome
}

type testEnv struct {
	server   *httptest.Server
	token    string
	registry *sessions.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	verifier, err := auth.NewJWTVerifier([]byte("api-test-secret"), "HS256", true)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	token, err := verifier.Generate("user-1", time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	modelResolver := resolver.New(config.ProviderConfig{})
	registry := sessions.NewRegistry(modelResolver, 40)
	bridge := gateway.NewBridge(registry, credentials.New(config.AccountConfig{}), &cannedRuntime{reply: "hello from the assistant"}, 5*time.Second, 1024)

	handler := NewRouter(Deps{
		Registry: registry,
		Resolver: modelResolver,
		Bridge:   bridge,
		Verifier: verifier,
		Gateway:  http.NotFoundHandler(),
		Version:  "test",
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, token: token, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ─── Public routes & auth ────────────────────────────────────

func TestHealthIsPublic(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.server.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.server.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAPIRejectsBadToken(t *testing.T) {
	e := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodGet, e.server.URL+"/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

// ─── Session lifecycle ───────────────────────────────────────

func TestCreateSessionPicksDefaultModel(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	created := decode[models.CreateSessionResponse](t, resp)
	if created.ID == "" {
		t.Error("no session id returned")
	}
	if created.ModelID != "gpt-4o-mini" {
		t.Errorf("modelID = %q, want the flagged default gpt-4o-mini", created.ModelID)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	created := decode[models.CreateSessionResponse](t, e.do(t, http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{
		TripID:      "trip-1",
		TripContext: "Kyoto in April",
	}))
	base := "/api/v1/sessions/" + created.ID

	got := decode[models.Session](t, e.do(t, http.MethodGet, base, nil))
	if got.TripContext != "Kyoto in April" {
		t.Errorf("tripContext = %q", got.TripContext)
	}

	patched := decode[models.Session](t, e.do(t, http.MethodPatch, base, models.UpdateSessionRequest{TripContext: "Kyoto in May"}))
	if patched.TripContext != "Kyoto in May" {
		t.Errorf("patched tripContext = %q", patched.TripContext)
	}

	list := decode[struct {
		Sessions []models.SessionSummary `json:"sessions"`
	}](t, e.do(t, http.MethodGet, "/api/v1/sessions", nil))
	if len(list.Sessions) != 1 || list.Sessions[0].ID != created.ID {
		t.Errorf("list = %#v", list.Sessions)
	}

	if resp := e.do(t, http.MethodDelete, base, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, base, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestGetUnknownSessionIs404(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/v1/sessions/"+"00000000-0000-0000-0000-000000000000", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["error"] == "" {
		t.Error("404 body missing the error field")
	}
}

func TestHistoryExportAndResume(t *testing.T) {
	e := newTestEnv(t)
	prior := []models.ChatMessage{
		{Role: models.RoleUser, Content: "old question"},
		{Role: models.RoleAssistant, Content: "old answer"},
	}
	created := decode[models.CreateSessionResponse](t, e.do(t, http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{PriorHistory: prior}))

	exported := decode[struct {
		SessionID string               `json:"session_id"`
		History   []models.ChatMessage `json:"history"`
	}](t, e.do(t, http.MethodGet, "/api/v1/sessions/"+created.ID+"/history", nil))

	if exported.SessionID != created.ID {
		t.Errorf("session_id = %q, want %q", exported.SessionID, created.ID)
	}
	if len(exported.History) != 2 || exported.History[1].Content != "old answer" {
		t.Errorf("history = %#v", exported.History)
	}
}

// ─── Non-streaming chat ──────────────────────────────────────

func TestChatReturnsFinalText(t *testing.T) {
	e := newTestEnv(t)
	created := decode[models.CreateSessionResponse](t, e.do(t, http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{}))

	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/chat", created.ID), models.ChatRequest{Message: "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	chat := decode[models.ChatResponse](t, resp)
	if chat.Content != "hello from the assistant" {
		t.Errorf("content = %q", chat.Content)
	}
	if chat.SessionID != created.ID {
		t.Errorf("sessionID = %q, want %q", chat.SessionID, created.ID)
	}

	sess, err := e.registry.Get(created.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got := len(sess.Snapshot().History); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	e := newTestEnv(t)
	created := decode[models.CreateSessionResponse](t, e.do(t, http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{}))

	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/chat", created.ID), models.ChatRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatUnknownSessionIs404(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/v1/sessions/missing/chat", models.ChatRequest{Message: "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// ─── Models listing ──────────────────────────────────────────

func TestListModels(t *testing.T) {
	e := newTestEnv(t)
	listing := decode[struct {
		Models []models.ModelOption `json:"models"`
	}](t, e.do(t, http.MethodGet, "/api/v1/models", nil))

	if len(listing.Models) == 0 {
		t.Fatal("no models returned")
	}
	var foundDefault bool
	for _, m := range listing.Models {
		if m.Default {
			foundDefault = true
		}
	}
	if !foundDefault {
		t.Error("no model flagged default")
	}
}
