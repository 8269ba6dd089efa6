package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tripweave/tripweave/pkg/models"
)

// OpenAIClient speaks the OpenAI chat-completions wire format. Anthropic's
// compatibility endpoint accepts the same shape, so both hosted providers
// share this implementation with different base URLs and keys.
type OpenAIClient struct {
	baseURL    string
	defaultKey string
	client     *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// defaultKey is used when a request carries no key of its own.
func NewOpenAIClient(baseURL, defaultKey string) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    baseURL,
		defaultKey: defaultKey,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type oaiChatRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []oaiTool    `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements ModelClient.
func (c *OpenAIClient) Complete(ctx context.Context, req ModelRequest) (models.ChatMessage, error) {
	key := req.APIKey
	if key == "" {
		key = c.defaultKey
	}
	if key == "" {
		return models.ChatMessage{}, fmt.Errorf("no API key configured for provider %q", req.Provider)
	}

	payload := oaiChatRequest{
		Model:     req.Model,
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: req.MaxOutputTokens,
	}
	for _, def := range req.Tools {
		payload.Tools = append(payload.Tools, oaiTool{Type: "function", Function: def})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return models.ChatMessage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("%s request: %w", req.Provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("reading %s response: %w", req.Provider, err)
	}

	var parsed oaiChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ChatMessage{}, fmt.Errorf("%s returned %d: %s", req.Provider, resp.StatusCode, truncateForError(raw))
	}
	if parsed.Error != nil {
		return models.ChatMessage{}, fmt.Errorf("%s: %s", req.Provider, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return models.ChatMessage{}, fmt.Errorf("%s returned %d: %s", req.Provider, resp.StatusCode, truncateForError(raw))
	}
	if len(parsed.Choices) == 0 {
		return models.ChatMessage{}, fmt.Errorf("%s returned no choices", req.Provider)
	}

	msg := parsed.Choices[0].Message
	out := models.ChatMessage{Role: models.RoleAssistant, Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			// Malformed arguments still reach the tool as an empty map; the
			// invoker reports the failure back to the model.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func toOpenAIMessages(history []models.ChatMessage) []oaiMessage {
	out := make([]oaiMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleTool {
			for _, res := range msg.ToolResults {
				out = append(out, oaiMessage{
					Role:       "tool",
					Content:    res.Content,
					ToolCallID: res.ToolCallID,
				})
			}
			continue
		}
		wire := oaiMessage{Role: string(msg.Role), Content: msg.Content}
		for _, call := range msg.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			tc := oaiToolCall{ID: call.ID, Type: "function"}
			tc.Function.Name = call.Name
			tc.Function.Arguments = string(args)
			wire.ToolCalls = append(wire.ToolCalls, tc)
		}
		out = append(out, wire)
	}
	return out
}

func truncateForError(raw []byte) string {
	const max = 512
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
