package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/config"
	"github.com/mohammad-safakhou/essaygen/internal/llm"
	"github.com/mohammad-safakhou/essaygen/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/essaygen/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

// ErrMissingCredentials is returned by every call of a generator built without an API key.
var ErrMissingCredentials = errors.New("model API key is not configured")

// New creates the generator selected by cfg.Provider. Without an API key it
// logs a warning and returns a generator whose calls fail permanently, unless
// cfg.RequireAPIKey is set.
func New(ctx context.Context, cfg config.ModelConfig, logger *zap.Logger) (llm.Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := Client(strings.ToLower(strings.TrimSpace(cfg.Provider)))
	switch client {
	case OpenAI, Gemini:
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		if cfg.RequireAPIKey {
			return nil, fmt.Errorf("%s: %w", client, ErrMissingCredentials)
		}
		logger.Warn("model API key is not set; model calls will fail", zap.String("provider", string(client)))
		return unavailable{provider: client}, nil
	}

	switch client {
	case OpenAI:
		return openai_provider.NewOpenAIClient(cfg.APIKey, cfg.Name, cfg.Temperature, 0, cfg.BaseURL, nil), nil
	default:
		return gemini.New(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
		})
	}
}

type unavailable struct{ provider Client }

func (u unavailable) Generate(context.Context, string, string) (llm.Response, error) {
	return llm.Response{}, llm.Permanent(fmt.Errorf("%s: %w", u.provider, ErrMissingCredentials))
}
