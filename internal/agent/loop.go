// Package agent runs conversational turns against a model provider,
// feeding tool calls back through an opaque invoker until the model
// produces a final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tripweave/tripweave/pkg/models"
)

// maxToolRoundTrips bounds how many model/tool exchanges one turn may make.
const maxToolRoundTrips = 25

// ErrTurnBudget is returned when a turn exhausts its tool round-trip budget
// without the model settling on a final answer.
var ErrTurnBudget = errors.New("turn exceeded tool round-trip budget")

// TurnRequest describes one conversational turn.
type TurnRequest struct {
	Model           models.ModelOption
	APIKey          string
	History         []models.ChatMessage
	UserMessage     string
	TripContext     string
	ChatMode        models.ChatMode
	MaxOutputTokens int
}

// TurnOutcome is the terminal result of a turn. Messages holds the
// assistant and tool messages the turn produced, in order, ready to be
// appended to session history. Err is non-nil when the turn failed; partial
// Messages accompany some failures but callers decide whether to keep them.
type TurnOutcome struct {
	Messages []models.ChatMessage
	Err      error
}

// Runtime executes turns. Run returns immediately; events stream on the
// first channel until it closes, then exactly one TurnOutcome arrives on
// the second. Cancelling ctx stops the turn between events.
type Runtime interface {
	Run(ctx context.Context, req TurnRequest) (<-chan Event, <-chan TurnOutcome)
}

// ModelRequest is one call to a model provider within a turn.
type ModelRequest struct {
	Provider        string
	Model           string
	APIKey          string
	Messages        []models.ChatMessage
	Tools           []ToolDefinition
	MaxOutputTokens int
}

// ModelClient produces one assistant message per call. The returned
// message may carry tool calls, in which case the loop invokes them and
// calls again with the results appended.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (models.ChatMessage, error)
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolInvoker executes model-requested tool calls. Implementations are
// opaque to the loop; Invoke must not panic and should encode failures in
// the result's IsError flag rather than returning them out of band.
type ToolInvoker interface {
	Available() bool
	Definitions() []ToolDefinition
	Invoke(ctx context.Context, call models.ToolCall) models.ToolResult
}

// Loop is the standard Runtime: model call, tool dispatch, repeat.
type Loop struct {
	client ModelClient
	tools  ToolInvoker
}

// NewLoop creates a turn loop over the given model client and tool
// invoker. tools may be nil, in which case turns run tool-free.
func NewLoop(client ModelClient, tools ToolInvoker) *Loop {
	return &Loop{client: client, tools: tools}
}

// Run implements Runtime.
func (l *Loop) Run(ctx context.Context, req TurnRequest) (<-chan Event, <-chan TurnOutcome) {
	events := make(chan Event, 16)
	outcome := make(chan TurnOutcome, 1)

	go func() {
		defer close(events)
		result := l.run(ctx, req, events)
		outcome <- result
		close(outcome)
	}()

	return events, outcome
}

func (l *Loop) run(ctx context.Context, req TurnRequest, events chan<- Event) TurnOutcome {
	messages := buildInitialMessages(req)

	var defs []ToolDefinition
	if l.tools != nil && l.tools.Available() && req.Model.SupportsTools {
		defs = l.tools.Definitions()
	}

	var produced []models.ChatMessage

	for trip := 0; trip < maxToolRoundTrips; trip++ {
		if err := ctx.Err(); err != nil {
			return TurnOutcome{Messages: produced, Err: err}
		}

		reply, err := l.client.Complete(ctx, ModelRequest{
			Provider:        req.Model.Provider,
			Model:           apiModelName(req.Model),
			APIKey:          req.APIKey,
			Messages:        messages,
			Tools:           defs,
			MaxOutputTokens: req.MaxOutputTokens,
		})
		if err != nil {
			return TurnOutcome{Messages: produced, Err: fmt.Errorf("model call: %w", err)}
		}

		messages = append(messages, reply)
		produced = append(produced, reply)

		if reply.Content != "" {
			if !emit(ctx, events, TextDelta{Text: reply.Content}) {
				return TurnOutcome{Messages: produced, Err: ctx.Err()}
			}
		}

		if len(reply.ToolCalls) == 0 {
			return TurnOutcome{Messages: produced}
		}

		toolMsg := models.ChatMessage{Role: models.RoleTool}
		for _, call := range reply.ToolCalls {
			if err := ctx.Err(); err != nil {
				return TurnOutcome{Messages: produced, Err: err}
			}
			if !emit(ctx, events, ToolCallStart{Call: call}) {
				return TurnOutcome{Messages: produced, Err: ctx.Err()}
			}

			result := l.invoke(ctx, call)
			toolMsg.ToolResults = append(toolMsg.ToolResults, result)

			if !emit(ctx, events, ToolCallDone{Result: result}) {
				return TurnOutcome{Messages: produced, Err: ctx.Err()}
			}
		}

		messages = append(messages, toolMsg)
		produced = append(produced, toolMsg)
	}

	return TurnOutcome{Messages: produced, Err: ErrTurnBudget}
}

func (l *Loop) invoke(ctx context.Context, call models.ToolCall) models.ToolResult {
	if l.tools == nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "no tool runtime available",
			IsError:    true,
		}
	}
	result := l.tools.Invoke(ctx, call)
	if result.IsError {
		log.Warn().Str("tool", call.Name).Str("tool_call_id", call.ID).Msg("Tool invocation failed")
	}
	return result
}

// emit delivers an event unless the context is done first. It reports
// whether delivery happened.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildInitialMessages assembles system instructions and history for a
// turn. The system prompt is rebuilt every turn so trip-context updates
// take effect immediately.
func buildInitialMessages(req TurnRequest) []models.ChatMessage {
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: systemPrompt(req.ChatMode, req.TripContext)},
	}
	messages = append(messages, req.History...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: req.UserMessage})
	return messages
}

func systemPrompt(mode models.ChatMode, tripContext string) string {
	var b strings.Builder
	b.WriteString("You are a knowledgeable travel planning assistant. ")
	switch mode {
	case models.ChatModeNewTrip:
		b.WriteString("The user is planning a new trip from scratch. Help them shape destinations, dates, and logistics, asking for missing details when needed.")
	default:
		b.WriteString("The user is working on an existing trip. Ground every answer in the trip data provided below; do not invent bookings, dates, or places that are not in it.")
	}
	b.WriteString(" Keep answers concise and practical.")

	if tripContext != "" {
		b.WriteString("\n\nCurrent trip data:\n")
		b.WriteString(tripContext)
	}
	return b.String()
}

// apiModelName is the provider-facing model name: the part of the internal
// ref after the provider prefix.
func apiModelName(m models.ModelOption) string {
	if _, name, ok := strings.Cut(m.Ref, "/"); ok && name != "" {
		return name
	}
	return m.ID
}
