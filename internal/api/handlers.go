package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tripweave/tripweave/internal/agent"
	"github.com/tripweave/tripweave/internal/gateway"
	"github.com/tripweave/tripweave/internal/resolver"
	"github.com/tripweave/tripweave/internal/sessions"
	"github.com/tripweave/tripweave/pkg/models"
)

type handlers struct {
	registry *sessions.Registry
	resolver *resolver.Resolver
	bridge   *gateway.Bridge
	version  string
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) versionInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models": h.resolver.Available(r.Context()),
	})
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.registry.Create(r.Context(), req)
	sess.BindUser(UserID(r.Context()))

	state := sess.Snapshot()
	respondJSON(w, http.StatusCreated, models.CreateSessionResponse{
		ID:        state.ID,
		ModelID:   state.Model.ID,
		CreatedAt: state.CreatedAt,
	})
}

func (h *handlers) listSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.registry.List(),
	})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *handlers) updateSession(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.registry.Update(chi.URLParam(r, "sessionID"), req.TripContext)
	if err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Delete(chi.URLParam(r, "sessionID")) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getHistory exports the raw conversation so a client can resume it later
// through priorHistory on create.
func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	state := sess.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": state.ID,
		"history":    state.History,
	})
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.BindUser(UserID(r.Context()))

	content, calls, err := h.bridge.RunTurn(r.Context(), sess, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrTurnTimeout):
			respondError(w, http.StatusGatewayTimeout, "The assistant took too long to respond. Please try again.")
		case errors.Is(err, gateway.ErrRateLimited):
			respondError(w, http.StatusTooManyRequests, "The model provider is currently rate limiting requests. Please wait a moment and try again.")
		case errors.Is(err, agent.ErrTurnBudget):
			respondError(w, http.StatusUnprocessableEntity, "The assistant made too many tool calls in one turn. Please try rephrasing your request.")
		default:
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, models.ChatResponse{
		SessionID: sess.ID(),
		Content:   content,
		ToolCalls: calls,
	})
}
