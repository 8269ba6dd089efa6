// Package models defines the shared data types for the TripWeave
// conversation orchestrator: sessions, chat history, tool call records,
// model bindings, and the request/response shapes of the session API.
package models

import (
	"time"
)

// ── Chat history ─────────────────────────────────────────────

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolResult is the outcome of executing a tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ChatMessage is one entry in a session's history. History is append-only:
// completed turns replace the slice wholesale with an extended copy, entries
// are never reordered or edited in place.
type ChatMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ── Model binding ────────────────────────────────────────────

// ModelOption describes one model a session can be bound to.
type ModelOption struct {
	// ID is the external identifier clients select by (e.g. "gpt-4o").
	ID string `json:"id"`
	// Ref is the internal runtime reference (e.g. "openai/gpt-4o").
	Ref string `json:"ref"`
	// Provider tags which vendor serves the model ("openai", "anthropic",
	// "ollama").
	Provider string `json:"provider"`
	// DisplayName is the human-readable label shown in clients.
	DisplayName string `json:"display_name"`
	// Default marks the model picked when a session is created without an
	// explicit model id.
	Default bool `json:"default,omitempty"`
	// SupportsTools reports whether the model family handles tool calls.
	SupportsTools bool `json:"supports_tools"`
}

// ChatMode distinguishes the planning flow a session belongs to. It only
// affects the instruction text sent to the model.
type ChatMode string

const (
	ChatModeNewTrip      ChatMode = "new"
	ChatModeExistingTrip ChatMode = "existing"
)

// ── Session ──────────────────────────────────────────────────

// Session is the portable state of one ongoing conversation. Concurrency
// primitives (turn lock, cancel signal, credential cache) live on the
// registry's session wrapper, not here.
type Session struct {
	ID           string        `json:"id"`
	Model        ModelOption   `json:"model"`
	History      []ChatMessage `json:"history,omitempty"`
	TripID       string        `json:"trip_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	TripContext  string        `json:"trip_context,omitempty"`
	ChatMode     ChatMode      `json:"chat_mode,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// SessionSummary is the content-free listing shape returned by list calls.
type SessionSummary struct {
	ID           string    `json:"id"`
	ModelID      string    `json:"model_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// ── Session API request/response shapes ──────────────────────

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	ModelID     string `json:"model_id,omitempty"`
	TripID      string `json:"trip_id,omitempty"`
	TripContext string `json:"trip_context,omitempty"`
	// PriorHistory seeds the new session from a previously exported
	// conversation so clients can resume after a restart.
	PriorHistory []ChatMessage `json:"prior_history,omitempty"`
	ChatMode     ChatMode      `json:"chat_mode,omitempty"`
}

// CreateSessionResponse is the body returned on session creation.
type CreateSessionResponse struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UpdateSessionRequest is the body of PATCH /api/v1/sessions/{id}.
type UpdateSessionRequest struct {
	TripContext string `json:"trip_context"`
}

// ChatRequest is the body of the non-streaming POST /api/v1/sessions/{id}/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the non-streaming chat result: the final assistant text
// plus a summary of the tool calls the turn made.
type ChatResponse struct {
	SessionID string     `json:"session_id"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}
