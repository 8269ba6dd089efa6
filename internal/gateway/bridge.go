package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripweave/tripweave/internal/agent"
	"github.com/tripweave/tripweave/internal/credentials"
	"github.com/tripweave/tripweave/internal/sessions"
	"github.com/tripweave/tripweave/pkg/models"
)

// Turn-level failures callers branch on.
var (
	ErrTurnTimeout = errors.New("turn timed out")
	ErrRateLimited = errors.New("provider rate limited")
)

// Fixed user-facing texts. Raw provider detail goes to the server log,
// keyed by message id.
const (
	timeoutText   = "The assistant took too long to respond. Please try again."
	rateLimitText = "The model provider is currently rate limiting requests. Please wait a moment and try again."
	budgetText    = "The assistant made too many tool calls in one turn. Please try rephrasing your request."
)

// rateLimitMarkers are matched case-insensitively against provider error
// text to detect quota exhaustion.
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"quota",
	"too many requests",
	"resource_exhausted",
}

// Bridge runs one agent turn at a time per session, translating runtime
// events into wire chunks and folding completed turns back into history.
type Bridge struct {
	registry        *sessions.Registry
	creds           *credentials.Resolver
	runtime         agent.Runtime
	turnTimeout     time.Duration
	maxOutputTokens int
}

// NewBridge wires the streaming bridge.
func NewBridge(registry *sessions.Registry, creds *credentials.Resolver, runtime agent.Runtime, turnTimeout time.Duration, maxOutputTokens int) *Bridge {
	return &Bridge{
		registry:        registry,
		creds:           creds,
		runtime:         runtime,
		turnTimeout:     turnTimeout,
		maxOutputTokens: maxOutputTokens,
	}
}

// StreamTurn executes one turn for sess and forwards every chunk through
// send. Turn-level failures are reported to the client in-band; the
// returned error is non-nil only for transport failures, which the caller
// should treat as fatal for the connection.
//
// Cancellation is checked before every forwarded event. A cancelled turn
// stops silently: no end, no error, and no history merge.
func (b *Bridge) StreamTurn(ctx context.Context, sess *sessions.Session, userMessage string, send func(serverMessage) error) error {
	if err := sess.AcquireTurn(ctx); err != nil {
		return err
	}
	defer sess.ReleaseTurn()

	sess.ResetCancel()
	cancelled := sess.Cancelled()

	messageID := uuid.New().String()
	state := sess.Snapshot()
	prior := b.registry.Truncate(state.History)

	ctx, span := otel.Tracer("tripweave/gateway").Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("session.id", state.ID),
			attribute.String("message.id", messageID),
			attribute.String("model.id", state.Model.ID),
		))
	defer span.End()

	turnCtx, cancelTurn := context.WithTimeout(ctx, b.turnTimeout)
	defer cancelTurn()

	events, outcome := b.runtime.Run(turnCtx, agent.TurnRequest{
		Model:           state.Model,
		APIKey:          b.creds.ResolveKey(turnCtx, sess),
		History:         prior,
		UserMessage:     userMessage,
		TripContext:     state.TripContext,
		ChatMode:        state.ChatMode,
		MaxOutputTokens: b.maxOutputTokens,
	})

	if err := send(serverMessage{Type: msgStart, MessageID: messageID}); err != nil {
		cancelTurn()
		return err
	}

	for {
		select {
		case <-cancelled:
			cancelTurn()
			log.Info().Str("session_id", state.ID).Str("message_id", messageID).Msg("Turn cancelled by client")
			return nil
		case ev, ok := <-events:
			if !ok {
				return b.finish(sess, state, prior, userMessage, messageID, cancelled, outcome, send)
			}
			if err := send(translateEvent(messageID, ev)); err != nil {
				cancelTurn()
				return err
			}
		}
	}
}

// finish consumes the turn outcome after the event stream closes. The
// cancel signal is checked with priority on both sides of the outcome
// read: a turn cancelled in its final moments must not emit end or merge
// history even when the outcome is already waiting.
func (b *Bridge) finish(sess *sessions.Session, state models.Session, prior []models.ChatMessage, userMessage, messageID string, cancelled <-chan struct{}, outcome <-chan agent.TurnOutcome, send func(serverMessage) error) error {
	select {
	case <-cancelled:
		return nil
	default:
	}

	var out agent.TurnOutcome
	select {
	case <-cancelled:
		return nil
	case out = <-outcome:
	}

	select {
	case <-cancelled:
		return nil
	default:
	}

	if out.Err != nil {
		if errors.Is(out.Err, context.Canceled) {
			return nil
		}
		userText, class := classifyTurnError(out.Err)
		log.Error().Err(out.Err).
			Str("session_id", state.ID).
			Str("message_id", messageID).
			Str("class", class).
			Msg("Turn failed")
		return send(errorMessage(messageID, userText))
	}

	history := make([]models.ChatMessage, 0, len(prior)+1+len(out.Messages))
	history = append(history, prior...)
	history = append(history, models.ChatMessage{Role: models.RoleUser, Content: userMessage})
	history = append(history, out.Messages...)
	sess.ReplaceHistory(history)

	return send(serverMessage{Type: msgEnd, MessageID: messageID})
}

// RunTurn is the non-streaming variant used by the REST chat endpoint. It
// applies the same serialization, timeout, and error translation as
// StreamTurn, returning the final assistant text and the tool calls the
// turn made.
func (b *Bridge) RunTurn(ctx context.Context, sess *sessions.Session, userMessage string) (string, []models.ToolCall, error) {
	if err := sess.AcquireTurn(ctx); err != nil {
		return "", nil, err
	}
	defer sess.ReleaseTurn()

	sess.ResetCancel()

	messageID := uuid.New().String()
	state := sess.Snapshot()
	prior := b.registry.Truncate(state.History)

	ctx, span := otel.Tracer("tripweave/gateway").Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("session.id", state.ID),
			attribute.String("message.id", messageID),
			attribute.String("model.id", state.Model.ID),
		))
	defer span.End()

	turnCtx, cancelTurn := context.WithTimeout(ctx, b.turnTimeout)
	defer cancelTurn()

	events, outcome := b.runtime.Run(turnCtx, agent.TurnRequest{
		Model:           state.Model,
		APIKey:          b.creds.ResolveKey(turnCtx, sess),
		History:         prior,
		UserMessage:     userMessage,
		TripContext:     state.TripContext,
		ChatMode:        state.ChatMode,
		MaxOutputTokens: b.maxOutputTokens,
	})

	for range events {
	}
	out := <-outcome

	if out.Err != nil {
		userText, class := classifyTurnError(out.Err)
		log.Error().Err(out.Err).
			Str("session_id", state.ID).
			Str("message_id", messageID).
			Str("class", class).
			Msg("Turn failed")
		switch class {
		case "timeout":
			return "", nil, ErrTurnTimeout
		case "rate_limited":
			return "", nil, ErrRateLimited
		case "turn_budget":
			return "", nil, agent.ErrTurnBudget
		default:
			return "", nil, errors.New(userText)
		}
	}

	history := make([]models.ChatMessage, 0, len(prior)+1+len(out.Messages))
	history = append(history, prior...)
	history = append(history, models.ChatMessage{Role: models.RoleUser, Content: userMessage})
	history = append(history, out.Messages...)
	sess.ReplaceHistory(history)

	var content string
	var calls []models.ToolCall
	for _, msg := range out.Messages {
		if msg.Role == models.RoleAssistant && msg.Content != "" {
			content = msg.Content
		}
		calls = append(calls, msg.ToolCalls...)
	}
	return content, calls, nil
}

func translateEvent(messageID string, ev agent.Event) serverMessage {
	switch e := ev.(type) {
	case agent.TextDelta:
		return textChunk(messageID, e.Text)
	case agent.ToolCallStart:
		return toolCallChunk(messageID, e.Call)
	case agent.ToolCallDone:
		return toolResultChunk(messageID, e.Result)
	default:
		// The event set is closed; anything else is a programming error,
		// surfaced as an empty chunk rather than a dropped turn.
		return serverMessage{Type: msgChunk, MessageID: messageID}
	}
}

// classifyTurnError maps a runtime failure to a user-facing text and a
// log classification. Non-rate-limit provider errors keep their original
// message, per the raw-detail-in-logs policy the texts above describe.
func classifyTurnError(err error) (userText, class string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutText, "timeout"
	case errors.Is(err, agent.ErrTurnBudget):
		return budgetText, "turn_budget"
	case isRateLimit(err):
		return rateLimitText, "rate_limited"
	default:
		return err.Error(), "provider_error"
	}
}

func isRateLimit(err error) bool {
	text := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
