// Package resolver maps external model identifiers to internal runtime
// references and provider tags. It combines a static table of hosted
// models with dynamic discovery of whatever the local Ollama runtime has
// pulled.
package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tripweave/tripweave/internal/config"
	"github.com/tripweave/tripweave/pkg/models"
)

// discoveryTimeout bounds the local runtime probe. Discovery is best
// effort: any failure yields an empty list, never an error.
const discoveryTimeout = 5 * time.Second

// fallbackModelID is used when nothing is flagged default and nothing was
// discovered.
const fallbackModelID = "gpt-4o-mini"

// staticModels is the fixed table of hosted models. Order matters: it is
// preserved in the list exposed to clients.
var staticModels = []models.ModelOption{
	{ID: "gpt-4o", Ref: "openai/gpt-4o", Provider: "openai", DisplayName: "GPT-4o", SupportsTools: true},
	{ID: "gpt-4o-mini", Ref: "openai/gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini", Default: true, SupportsTools: true},
	{ID: "claude-sonnet-4-5", Ref: "anthropic/claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5", SupportsTools: true},
	{ID: "claude-haiku-4-5", Ref: "anthropic/claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5", SupportsTools: true},
}

// toolCapableFamilies are model-name substrings of local families known to
// handle tool calls, matched case-insensitively.
var toolCapableFamilies = []string{
	"llama3", "llama-3", "qwen", "mistral", "mixtral",
	"command-r", "firefunction", "hermes", "granite",
}

// Resolver resolves model ids and discovers locally hosted models.
type Resolver struct {
	cfg    config.ProviderConfig
	client *http.Client
}

// New creates a resolver over the given provider configuration.
func New(cfg config.ProviderConfig) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: discoveryTimeout},
	}
}

// Resolve maps an external model id to its binding. Ids in the static table
// map to their fixed reference and provider regardless of discovery
// results; anything else is assumed to be hosted by the local runtime and
// passed through.
func (r *Resolver) Resolve(_ context.Context, id string) models.ModelOption {
	for _, m := range staticModels {
		if m.ID == id {
			return m
		}
	}
	return models.ModelOption{
		ID:            id,
		Ref:           "ollama/" + id,
		Provider:      "ollama",
		DisplayName:   id,
		SupportsTools: supportsTools(id),
	}
}

// Default returns the model bound to sessions created without an explicit
// id: the configured override, else the first model flagged default, else
// the first available, else the hardcoded fallback.
func (r *Resolver) Default(ctx context.Context) models.ModelOption {
	if r.cfg.DefaultModel != "" {
		return r.Resolve(ctx, r.cfg.DefaultModel)
	}
	available := r.Available(ctx)
	for _, m := range available {
		if m.Default {
			return m
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return r.Resolve(ctx, fallbackModelID)
}

// Available returns the canonical, order-preserving list of models exposed
// to clients: the static table followed by whatever the local runtime
// reports.
func (r *Resolver) Available(ctx context.Context) []models.ModelOption {
	combined := make([]models.ModelOption, 0, len(staticModels))
	combined = append(combined, staticModels...)
	combined = append(combined, r.discoverLocal(ctx)...)
	return combined
}

// ollamaTagsResponse mirrors the local runtime's /api/tags payload.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// discoverLocal queries the local runtime's tag listing. One discovered
// model is flagged default: the first whose name contains the configured
// substring, else the first reported.
func (r *Resolver) discoverLocal(ctx context.Context) []models.ModelOption {
	if r.cfg.OllamaURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.OllamaURL+"/api/tags", nil)
	if err != nil {
		return nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("Local model discovery unreachable")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Msg("Local model discovery rejected")
		return nil
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		log.Debug().Err(err).Msg("Local model discovery returned malformed response")
		return nil
	}

	discovered := make([]models.ModelOption, 0, len(tags.Models))
	for _, m := range tags.Models {
		discovered = append(discovered, models.ModelOption{
			ID:            m.Name,
			Ref:           "ollama/" + m.Name,
			Provider:      "ollama",
			DisplayName:   m.Name,
			SupportsTools: supportsTools(m.Name),
		})
	}
	markDefault(discovered, r.cfg.DefaultOllamaModel)
	return discovered
}

// markDefault flags one discovered model as default: the first whose name
// contains the configured substring, else the first.
func markDefault(discovered []models.ModelOption, nameSubstring string) {
	if len(discovered) == 0 {
		return
	}
	if nameSubstring != "" {
		needle := strings.ToLower(nameSubstring)
		for i := range discovered {
			if strings.Contains(strings.ToLower(discovered[i].ID), needle) {
				discovered[i].Default = true
				return
			}
		}
	}
	discovered[0].Default = true
}

func supportsTools(name string) bool {
	lower := strings.ToLower(name)
	for _, family := range toolCapableFamilies {
		if strings.Contains(lower, family) {
			return true
		}
	}
	return false
}
