package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tripweave/tripweave/internal/config"
	"github.com/tripweave/tripweave/internal/sessions"
	"github.com/tripweave/tripweave/pkg/models"
)

type hostedResolver struct{}

func (hostedResolver) Resolve(_ context.Context, id string) models.ModelOption {
	return models.ModelOption{ID: id, Ref: "openai/" + id, Provider: "openai"}
}

func (hostedResolver) Default(context.Context) models.ModelOption {
	return models.ModelOption{ID: "gpt-4o-mini", Ref: "openai/gpt-4o-mini", Provider: "openai"}
}

type localResolver struct{}

func (localResolver) Resolve(_ context.Context, id string) models.ModelOption {
	return models.ModelOption{ID: id, Ref: "ollama/" + id, Provider: "ollama"}
}

func (localResolver) Default(context.Context) models.ModelOption {
	return models.ModelOption{ID: "llama3", Ref: "ollama/llama3", Provider: "ollama"}
}

func boundSession(t *testing.T) *sessions.Session {
	t.Helper()
	registry := sessions.NewRegistry(hostedResolver{}, 40)
	sess := registry.Create(context.Background(), models.CreateSessionRequest{
		ModelID: "gpt-4o",
		TripID:  "trip-1",
	})
	sess.BindUser("user-1")
	return sess
}

func keyServer(t *testing.T, calls *atomic.Int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/internal/trips/trip-1/keys/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("X-Service-Token") == "" {
			t.Error("missing X-Service-Token header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveKeyCachesPositiveResult(t *testing.T) {
	var calls atomic.Int32
	srv := keyServer(t, &calls, http.StatusOK, `{"key":"sk-trip"}`)
	r := New(config.AccountConfig{BaseURL: srv.URL, ServiceSecret: "shh"})
	sess := boundSession(t)

	if got := r.ResolveKey(context.Background(), sess); got != "sk-trip" {
		t.Fatalf("key = %q, want sk-trip", got)
	}
	if got := r.ResolveKey(context.Background(), sess); got != "sk-trip" {
		t.Fatalf("cached key = %q, want sk-trip", got)
	}
	if calls.Load() != 1 {
		t.Errorf("account service called %d times, want 1", calls.Load())
	}
}

func TestResolveKeyRetriesAfterMissingKey(t *testing.T) {
	var calls atomic.Int32
	srv := keyServer(t, &calls, http.StatusOK, `{"key":""}`)
	r := New(config.AccountConfig{BaseURL: srv.URL, ServiceSecret: "shh"})
	sess := boundSession(t)

	if got := r.ResolveKey(context.Background(), sess); got != "" {
		t.Fatalf("key = %q, want empty", got)
	}
	r.ResolveKey(context.Background(), sess)
	if calls.Load() != 2 {
		t.Errorf("account service called %d times, want 2 (a key configured later must be picked up)", calls.Load())
	}

	if _, resolved := sess.CachedCredential(); resolved {
		t.Error("missing-key outcome was cached")
	}
}

func TestResolveKeyRetriesAfterServerError(t *testing.T) {
	var calls atomic.Int32
	srv := keyServer(t, &calls, http.StatusInternalServerError, `{}`)
	r := New(config.AccountConfig{BaseURL: srv.URL, ServiceSecret: "shh"})
	sess := boundSession(t)

	if got := r.ResolveKey(context.Background(), sess); got != "" {
		t.Fatalf("key = %q, want empty on error", got)
	}
	r.ResolveKey(context.Background(), sess)
	if calls.Load() != 2 {
		t.Errorf("account service called %d times, want 2 (errors are retryable)", calls.Load())
	}
}

func TestResolveKeySkipsUnboundSessions(t *testing.T) {
	var calls atomic.Int32
	srv := keyServer(t, &calls, http.StatusOK, `{"key":"sk-trip"}`)
	r := New(config.AccountConfig{BaseURL: srv.URL, ServiceSecret: "shh"})

	registry := sessions.NewRegistry(hostedResolver{}, 40)
	sess := registry.Create(context.Background(), models.CreateSessionRequest{ModelID: "gpt-4o"})

	if got := r.ResolveKey(context.Background(), sess); got != "" {
		t.Fatalf("key = %q, want empty for a session with no trip", got)
	}
	if calls.Load() != 0 {
		t.Errorf("account service called %d times, want 0", calls.Load())
	}
}

func TestResolveKeySkipsLocalProviders(t *testing.T) {
	var calls atomic.Int32
	srv := keyServer(t, &calls, http.StatusOK, `{"key":"sk-trip"}`)
	r := New(config.AccountConfig{BaseURL: srv.URL, ServiceSecret: "shh"})

	registry := sessions.NewRegistry(localResolver{}, 40)
	sess := registry.Create(context.Background(), models.CreateSessionRequest{TripID: "trip-1"})
	sess.BindUser("user-1")

	if got := r.ResolveKey(context.Background(), sess); got != "" {
		t.Fatalf("key = %q, want empty for a local provider", got)
	}
	if calls.Load() != 0 {
		t.Errorf("account service called %d times, want 0", calls.Load())
	}
}

func TestResolveKeyHonorsPreCachedOutcome(t *testing.T) {
	var calls atomic.Int32
	srv := keyServer(t, &calls, http.StatusOK, `{"key":"sk-fresh"}`)
	r := New(config.AccountConfig{BaseURL: srv.URL, ServiceSecret: "shh"})
	sess := boundSession(t)
	sess.CacheCredential("sk-cached")

	if got := r.ResolveKey(context.Background(), sess); got != "sk-cached" {
		t.Fatalf("key = %q, want sk-cached", got)
	}
	if calls.Load() != 0 {
		t.Errorf("account service called %d times, want 0", calls.Load())
	}
}
