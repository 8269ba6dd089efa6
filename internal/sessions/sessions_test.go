package sessions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tripweave/tripweave/pkg/models"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, id string) models.ModelOption {
	return models.ModelOption{ID: id, Ref: "test/" + id, Provider: "test"}
}

func (stubResolver) Default(context.Context) models.ModelOption {
	return models.ModelOption{ID: "default-model", Ref: "test/default-model", Provider: "test", Default: true}
}

func newTestRegistry(maxHistory int) *Registry {
	return NewRegistry(stubResolver{}, maxHistory)
}

func historyOfLen(n int) []models.ChatMessage {
	history := make([]models.ChatMessage, n)
	for i := range history {
		history[i] = models.ChatMessage{Role: models.RoleUser, Content: fmt.Sprintf("msg-%d", i)}
	}
	return history
}

// ─── Registry CRUD ───────────────────────────────────────────

func TestCreateUsesDefaultModelWhenUnspecified(t *testing.T) {
	r := newTestRegistry(40)

	sess := r.Create(context.Background(), models.CreateSessionRequest{})

	state := sess.Snapshot()
	if state.Model.ID != "default-model" {
		t.Errorf("model = %q, want default-model", state.Model.ID)
	}
	if state.ID == "" {
		t.Error("expected a generated session id")
	}
	if !state.Model.Default {
		t.Error("expected the default-flagged model")
	}
}

func TestCreateResolvesExplicitModel(t *testing.T) {
	r := newTestRegistry(40)

	sess := r.Create(context.Background(), models.CreateSessionRequest{ModelID: "llama3"})

	if got := sess.Snapshot().Model.Ref; got != "test/llama3" {
		t.Errorf("ref = %q, want test/llama3", got)
	}
}

func TestCreateSeedsPriorHistory(t *testing.T) {
	r := newTestRegistry(40)
	prior := historyOfLen(6)

	sess := r.Create(context.Background(), models.CreateSessionRequest{PriorHistory: prior})

	if got := len(sess.Snapshot().History); got != 6 {
		t.Errorf("history length = %d, want 6", got)
	}
}

func TestGetUnknownSession(t *testing.T) {
	r := newTestRegistry(40)

	if _, err := r.Get("nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetTouchesLastActivity(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{})

	stale := time.Now().UTC().Add(-time.Hour)
	sess.mu.Lock()
	sess.state.LastActivity = stale
	sess.mu.Unlock()

	if _, err := r.Get(sess.ID()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sess.Snapshot().LastActivity.After(stale) {
		t.Error("expected Get to bump lastActivity")
	}
}

func TestUpdateReplacesTripContext(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{TripContext: "old"})

	updated, err := r.Update(sess.ID(), "new context")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := updated.Snapshot().TripContext; got != "new context" {
		t.Errorf("tripContext = %q, want %q", got, "new context")
	}
}

func TestDeleteCancelsThenRemoves(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{})
	cancelled := sess.Cancelled()

	if !r.Delete(sess.ID()) {
		t.Fatal("delete returned false for a live session")
	}

	select {
	case <-cancelled:
	default:
		t.Error("expected delete to raise the cancel signal")
	}
	if _, err := r.Get(sess.ID()); err != ErrNotFound {
		t.Errorf("err after delete = %v, want ErrNotFound", err)
	}
	if r.Delete(sess.ID()) {
		t.Error("second delete returned true")
	}
}

func TestListSummariesOmitContent(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{PriorHistory: historyOfLen(3)})

	summaries := r.List()
	if len(summaries) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(summaries))
	}
	got := summaries[0]
	if got.ID != sess.ID() {
		t.Errorf("id = %q, want %q", got.ID, sess.ID())
	}
	if got.MessageCount != 3 {
		t.Errorf("messageCount = %d, want 3", got.MessageCount)
	}
}

// ─── Truncation ──────────────────────────────────────────────

func TestTruncateKeepsHeadAndTail(t *testing.T) {
	const max = 10
	r := newTestRegistry(max)
	history := historyOfLen(25)

	truncated := r.Truncate(history)

	if len(truncated) != max {
		t.Fatalf("len = %d, want %d", len(truncated), max)
	}
	for i := 0; i < 2; i++ {
		if truncated[i].Content != history[i].Content {
			t.Errorf("head[%d] = %q, want %q", i, truncated[i].Content, history[i].Content)
		}
	}
	tail := history[len(history)-(max-2):]
	for i, msg := range truncated[2:] {
		if msg.Content != tail[i].Content {
			t.Errorf("tail[%d] = %q, want %q", i, msg.Content, tail[i].Content)
		}
	}
}

func TestTruncateNoopUnderLimit(t *testing.T) {
	r := newTestRegistry(10)
	history := historyOfLen(10)

	if got := r.Truncate(history); len(got) != 10 {
		t.Errorf("len = %d, want 10 (untouched)", len(got))
	}
}

func TestTruncateIgnoresDegenerateMax(t *testing.T) {
	r := newTestRegistry(2)
	history := historyOfLen(8)

	if got := r.Truncate(history); len(got) != 8 {
		t.Errorf("len = %d, want 8 (max too small to apply)", len(got))
	}
}

// ─── Session primitives ──────────────────────────────────────

func TestBindUserFirstWins(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{})

	sess.BindUser("alice")
	sess.BindUser("bob")

	if got := sess.Snapshot().UserID; got != "alice" {
		t.Errorf("userID = %q, want alice", got)
	}
}

func TestTurnLockSerializes(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{})

	if err := sess.AcquireTurn(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sess.AcquireTurn(ctx); err == nil {
		t.Fatal("second acquire succeeded while the lock was held")
	}

	sess.ReleaseTurn()
	if err := sess.AcquireTurn(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestCancelIsIdempotentAndResettable(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{})

	sess.Cancel()
	sess.Cancel() // must not panic

	select {
	case <-sess.Cancelled():
	default:
		t.Fatal("cancel signal not raised")
	}

	sess.ResetCancel()
	select {
	case <-sess.Cancelled():
		t.Fatal("cancel signal still raised after reset")
	default:
	}
}

func TestCredentialCacheFirstOutcomeWins(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{})

	if _, resolved := sess.CachedCredential(); resolved {
		t.Fatal("fresh session reported a cached credential")
	}

	sess.CacheCredential("sk-first")
	sess.CacheCredential("sk-second")

	key, resolved := sess.CachedCredential()
	if !resolved {
		t.Fatal("expected a cached outcome")
	}
	if key != "sk-first" {
		t.Errorf("key = %q, want sk-first", key)
	}
}

func TestCacheCredentialNegativeOutcome(t *testing.T) {
	r := newTestRegistry(40)
	sess := r.Create(context.Background(), models.CreateSessionRequest{})

	sess.CacheCredential("")

	key, resolved := sess.CachedCredential()
	if !resolved {
		t.Fatal("expected the empty outcome to be cached")
	}
	if key != "" {
		t.Errorf("key = %q, want empty", key)
	}
}
