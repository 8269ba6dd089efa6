package sessions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SweepInterval is how often the eviction sweep scans the registry.
const SweepInterval = 60 * time.Second

// Sweeper evicts sessions whose inactivity age exceeds the configured
// threshold. It runs as a background goroutine and respects context
// cancellation for graceful shutdown.
type Sweeper struct {
	registry *Registry
	maxIdle  time.Duration
}

// NewSweeper creates an eviction sweeper over the given registry.
func NewSweeper(registry *Registry, maxIdle time.Duration) *Sweeper {
	return &Sweeper{registry: registry, maxIdle: maxIdle}
}

// Start runs the sweep loop. It blocks until ctx is canceled.
func (w *Sweeper) Start(ctx context.Context) {
	log.Info().
		Dur("interval", SweepInterval).
		Dur("max_idle", w.maxIdle).
		Msg("Session eviction sweeper started")

	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session eviction sweeper stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep removes every session idle longer than the threshold. A failure to
// evict one session must not abort the sweep for the others.
func (w *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-w.maxIdle)
	evicted := 0

	for _, summary := range w.registry.List() {
		session, err := w.registry.peek(summary.ID)
		if err != nil {
			continue // already deleted concurrently
		}
		if session.Snapshot().LastActivity.After(cutoff) {
			continue
		}
		if !w.evictOne(summary.ID) {
			continue
		}
		evicted++
	}

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Msg("Eviction sweep complete")
	}
}

// evictOne deletes a single session, isolating panics so one bad session
// cannot take down the sweeper.
func (w *Sweeper) evictOne(id string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("session_id", id).Interface("panic", r).Msg("Eviction failed")
			ok = false
		}
	}()
	return w.registry.Delete(id)
}

// peek returns a session without touching its last-activity timestamp; the
// sweep must not refresh the sessions it is judging.
func (r *Registry) peek(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session, nil
}
