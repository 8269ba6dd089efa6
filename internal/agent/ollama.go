package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tripweave/tripweave/pkg/models"
)

// OllamaClient talks to a local Ollama daemon's /api/chat endpoint.
type OllamaClient struct {
	baseURL string
	client  *http.Client
}

// NewOllamaClient creates a client for the daemon at baseURL.
func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// Complete implements ModelClient.
func (c *OllamaClient) Complete(ctx context.Context, req ModelRequest) (models.ChatMessage, error) {
	payload := ollamaChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   false,
	}
	for _, def := range req.Tools {
		payload.Tools = append(payload.Tools, ollamaTool{Type: "function", Function: def})
	}
	if req.MaxOutputTokens > 0 {
		payload.Options = map[string]interface{}{"num_predict": req.MaxOutputTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return models.ChatMessage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.ChatMessage{}, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.ChatMessage{}, fmt.Errorf("decoding ollama response: %w", err)
	}
	if parsed.Error != "" {
		return models.ChatMessage{}, fmt.Errorf("ollama: %s", parsed.Error)
	}

	out := models.ChatMessage{
		Role:    models.RoleAssistant,
		Content: parsed.Message.Content,
	}
	// Ollama does not assign tool call ids, so mint them here to keep the
	// call/result pairing stable downstream.
	for _, tc := range parsed.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        uuid.New().String(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func toOllamaMessages(history []models.ChatMessage) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleTool {
			// One wire message per tool result; Ollama matches them to calls
			// positionally.
			for _, res := range msg.ToolResults {
				out = append(out, ollamaMessage{Role: "tool", Content: res.Content})
			}
			continue
		}
		wire := ollamaMessage{Role: string(msg.Role), Content: msg.Content}
		for _, call := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, ollamaToolCall{
				Function: ollamaFunction{Name: call.Name, Arguments: call.Arguments},
			})
		}
		out = append(out, wire)
	}
	return out
}
