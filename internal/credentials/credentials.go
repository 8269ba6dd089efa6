// Package credentials resolves trip-scoped provider API keys from the
// internal account service, with per-session memoization.
//
// Caching is deliberately asymmetric: a resolved key is cached for the
// session's lifetime, while every other outcome (transport failure,
// timeout, no key configured yet) is retried on a later turn. A trip key
// configured mid-session takes effect on the next turn instead of being
// shadowed for the session's lifetime.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tripweave/tripweave/internal/auth"
	"github.com/tripweave/tripweave/internal/config"
	"github.com/tripweave/tripweave/internal/sessions"
)

// lookupTimeout bounds one account-service request.
const lookupTimeout = 5 * time.Second

// serviceTokenTTL is the validity window of the signed service token sent
// with each lookup.
const serviceTokenTTL = 30 * time.Second

// Resolver looks up trip-level provider keys.
type Resolver struct {
	cfg    config.AccountConfig
	client *http.Client
}

// New creates a resolver over the account-service configuration.
func New(cfg config.AccountConfig) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: lookupTimeout},
	}
}

// keyResponse mirrors the account service's key payload.
type keyResponse struct {
	Key string `json:"key"`
}

// ResolveKey returns the trip-level API key for the session's provider, or
// "" when the session should fall back to the process-wide credential.
// The first definitive outcome is memoized on the session and returned on
// every later call without touching the network.
func (r *Resolver) ResolveKey(ctx context.Context, session *sessions.Session) string {
	if key, resolved := session.CachedCredential(); resolved {
		return key
	}

	state := session.Snapshot()
	if state.TripID == "" || state.UserID == "" || !providerHasTripKeys(state.Model.Provider) {
		return ""
	}
	if r.cfg.BaseURL == "" || r.cfg.ServiceSecret == "" {
		return ""
	}

	key := r.lookup(ctx, state.TripID, state.UserID, state.Model.Provider)
	if key != "" {
		session.CacheCredential(key)
	}
	return key
}

// lookup performs one account-service request. Only a 200 response with a
// present key counts; everything else is "no trip-level key for this
// attempt" and is left uncached so a later turn retries.
func (r *Resolver) lookup(ctx context.Context, tripID, userID, provider string) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/internal/trips/%s/keys/%s", r.cfg.BaseURL, tripID, provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}

	token, err := auth.SignServiceToken([]byte(r.cfg.ServiceSecret), userID, serviceTokenTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sign service token for key lookup")
		return ""
	}
	req.Header.Set("X-Service-Token", token)

	resp, err := r.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("trip_id", tripID).Msg("Trip key lookup failed, will retry next turn")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("trip_id", tripID).Msg("Trip key lookup rejected, will retry next turn")
		return ""
	}

	var payload keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Str("trip_id", tripID).Msg("Trip key lookup returned malformed response")
		return ""
	}
	return payload.Key
}

func providerHasTripKeys(provider string) bool {
	switch provider {
	case "openai", "anthropic":
		return true
	default:
		return false
	}
}
