// Package sessions provides in-memory session management for multi-turn
// trip-planning conversations. The registry is the only shared mutable
// state in the orchestrator; every access goes through its methods.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripweave/tripweave/pkg/models"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// ModelResolver supplies the model binding for new sessions. Implemented by
// the resolver package; narrowed here so tests can stub it.
type ModelResolver interface {
	// Resolve maps an external model id to its binding. Unknown ids get a
	// local-runtime pass-through binding, so Resolve never fails.
	Resolve(ctx context.Context, id string) models.ModelOption
	// Default returns the model used when a session is created without an
	// explicit id.
	Default(ctx context.Context) models.ModelOption
}

// Session wraps the portable session state with the per-session concurrency
// primitives: the turn lock serializing turns and the resettable cancel
// signal an in-flight turn observes.
type Session struct {
	mu    sync.Mutex
	state models.Session

	// turnLock is a binary semaphore: at most one turn may execute against
	// this session's history at a time. A channel rather than sync.Mutex so
	// waiting turns can bail out when their context ends.
	turnLock chan struct{}

	cancelMu     sync.Mutex
	cancelSignal chan struct{}

	credMu       sync.Mutex
	credResolved bool
	credKey      string
}

func newSession(state models.Session) *Session {
	return &Session{
		state:        state,
		turnLock:     make(chan struct{}, 1),
		cancelSignal: make(chan struct{}),
	}
}

// ID returns the immutable session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

// Snapshot returns a copy of the portable session state. The history slice
// is shared but never mutated in place, so the copy is safe to read.
func (s *Session) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch bumps the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastActivity = time.Now().UTC()
}

// BindUser records the authenticated user driving this session.
func (s *Session) BindUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.UserID == "" {
		s.state.UserID = userID
	}
}

// SetTripContext replaces the free-form context blob injected into the
// model's instructions.
func (s *Session) SetTripContext(tripContext string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TripContext = tripContext
	s.state.LastActivity = time.Now().UTC()
}

// ReplaceHistory swaps in the extended history produced by a completed
// turn. History is only ever replaced wholesale, never edited in place.
func (s *Session) ReplaceHistory(history []models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.History = history
	s.state.LastActivity = time.Now().UTC()
}

// AcquireTurn blocks until this session's turn slot is free or ctx ends.
// A second chat for the same session waits here instead of interleaving
// history mutations.
func (s *Session) AcquireTurn(ctx context.Context) error {
	select {
	case s.turnLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseTurn frees the turn slot.
func (s *Session) ReleaseTurn() {
	select {
	case <-s.turnLock:
	default:
	}
}

// Cancel raises the one-shot cancel signal. Safe to call repeatedly.
func (s *Session) Cancel() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	select {
	case <-s.cancelSignal:
	default:
		close(s.cancelSignal)
	}
}

// ResetCancel arms a fresh cancel signal for the next turn.
func (s *Session) ResetCancel() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	select {
	case <-s.cancelSignal:
		s.cancelSignal = make(chan struct{})
	default:
	}
}

// Cancelled returns the channel closed when cancellation is raised.
func (s *Session) Cancelled() <-chan struct{} {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	return s.cancelSignal
}

// CachedCredential returns the memoized trip-level key and whether any
// resolution outcome (including "no key") has been cached.
func (s *Session) CachedCredential() (key string, resolved bool) {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	return s.credKey, s.credResolved
}

// CacheCredential memoizes a resolution outcome for the session's lifetime.
// The first cached outcome wins; later calls are ignored.
func (s *Session) CacheCredential(key string) {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	if s.credResolved {
		return
	}
	s.credKey = key
	s.credResolved = true
}

// Registry is the authoritative in-memory map of session id → session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	resolver   ModelResolver
	maxHistory int
}

// NewRegistry creates an empty registry. maxHistory caps retained history
// per session (see Truncate).
func NewRegistry(resolver ModelResolver, maxHistory int) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		resolver:   resolver,
		maxHistory: maxHistory,
	}
}

// Create registers a new session. When modelID is empty the resolver's
// default is used. priorHistory seeds the session for clients resuming a
// previously exported conversation.
func (r *Registry) Create(ctx context.Context, req models.CreateSessionRequest) *Session {
	var model models.ModelOption
	if req.ModelID == "" {
		model = r.resolver.Default(ctx)
	} else {
		model = r.resolver.Resolve(ctx, req.ModelID)
	}

	now := time.Now().UTC()
	session := newSession(models.Session{
		ID:           uuid.New().String(),
		Model:        model,
		History:      req.PriorHistory,
		TripID:       req.TripID,
		TripContext:  req.TripContext,
		ChatMode:     req.ChatMode,
		CreatedAt:    now,
		LastActivity: now,
	})

	r.mu.Lock()
	r.sessions[session.ID()] = session
	r.mu.Unlock()

	log.Info().
		Str("session_id", session.ID()).
		Str("model", model.ID).
		Str("trip_id", req.TripID).
		Int("seeded_messages", len(req.PriorHistory)).
		Msg("Session created")
	return session
}

// Get returns the session and touches its last-activity timestamp.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	session.Touch()
	return session, nil
}

// Update replaces the session's trip context.
func (r *Registry) Update(id, tripContext string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	session.SetTripContext(tripContext)
	return session, nil
}

// Delete raises the session's cancel signal so any in-flight turn observes
// it, then removes the session. Returns false for unknown ids.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		session.Cancel()
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	log.Info().Str("session_id", id).Msg("Session deleted")
	return true
}

// List returns content-free summaries of all sessions.
func (r *Registry) List() []models.SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]models.SessionSummary, 0, len(r.sessions))
	for _, session := range r.sessions {
		state := session.Snapshot()
		summaries = append(summaries, models.SessionSummary{
			ID:           state.ID,
			ModelID:      state.Model.ID,
			MessageCount: len(state.History),
			CreatedAt:    state.CreatedAt,
		})
	}
	return summaries
}

// Truncate bounds a history slice to the configured maximum: the first two
// entries (system priming) and the most recent max−2 are kept, the middle is
// discarded. Applied before a turn starts, never mid-turn.
func (r *Registry) Truncate(history []models.ChatMessage) []models.ChatMessage {
	max := r.maxHistory
	if max <= 2 || len(history) <= max {
		return history
	}
	truncated := make([]models.ChatMessage, 0, max)
	truncated = append(truncated, history[:2]...)
	truncated = append(truncated, history[len(history)-(max-2):]...)
	return truncated
}
