package agent

import (
	"context"
	"fmt"

	"github.com/tripweave/tripweave/internal/config"
	"github.com/tripweave/tripweave/pkg/models"
)

const (
	openAIBaseURL    = "https://api.openai.com/v1"
	anthropicBaseURL = "https://api.anthropic.com/v1"
)

// Dispatcher routes model calls to the client for the request's provider.
type Dispatcher struct {
	clients map[string]ModelClient
}

// NewDispatcher wires the standard provider clients from configuration.
func NewDispatcher(cfg config.ProviderConfig) *Dispatcher {
	return &Dispatcher{
		clients: map[string]ModelClient{
			"openai":    NewOpenAIClient(openAIBaseURL, cfg.OpenAIKey),
			"anthropic": NewOpenAIClient(anthropicBaseURL, cfg.AnthropicKey),
			"ollama":    NewOllamaClient(cfg.OllamaURL),
		},
	}
}

// Complete implements ModelClient.
func (d *Dispatcher) Complete(ctx context.Context, req ModelRequest) (models.ChatMessage, error) {
	client, ok := d.clients[req.Provider]
	if !ok {
		return models.ChatMessage{}, fmt.Errorf("unknown model provider %q", req.Provider)
	}
	return client.Complete(ctx, req)
}
