// Package gemini is the Generator backed by the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/mohammad-safakhou/essaygen/internal/llm"
)

// emptyTurn stands in for an empty user input; the API rejects requests without contents.
const emptyTurn = "Begin."

// ErrNoCandidates is returned when the API answers without any candidate.
var ErrNoCandidates = errors.New("gemini returned no candidates")

type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	// BaseURL overrides the API endpoint, mostly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Client implements llm.Generator. It is safe for concurrent use.
type Client struct {
	model       string
	temperature float32
	client      *genai.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini: model name is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}
	return &Client{model: cfg.Model, temperature: float32(cfg.Temperature), client: client}, nil
}

// Generate sends instruction as the system instruction and input as the user turn.
func (c *Client) Generate(ctx context.Context, instruction, input string) (llm.Response, error) {
	diag := llm.Diagnostics(ctx)
	if strings.TrimSpace(input) == "" {
		input = emptyTurn
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(c.temperature),
		CandidateCount: 1,
	}
	if instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}

	diag.Debug("gemini request", zap.String("model", c.model), zap.Int("instruction_len", len(instruction)))
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(input), cfg)
	if err != nil {
		return llm.Response{}, classify(err)
	}
	out, err := toResponse(resp)
	if err != nil {
		return llm.Response{}, err
	}
	diag.Debug("gemini response", zap.String("kind", out.Kind.String()))
	return out, nil
}

// toResponse maps each candidate to its text parts; several candidates form
// a sequence whose last element is authoritative.
func toResponse(resp *genai.GenerateContentResponse) (llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		reason := ""
		if resp != nil && resp.PromptFeedback != nil {
			reason = string(resp.PromptFeedback.BlockReason)
		}
		if reason != "" {
			return llm.Response{}, llm.Permanent(fmt.Errorf("%w: prompt blocked (%s)", ErrNoCandidates, reason))
		}
		return llm.Response{}, llm.Permanent(ErrNoCandidates)
	}
	items := make([]llm.Response, 0, len(resp.Candidates))
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			items = append(items, llm.WithParts())
			continue
		}
		var parts []llm.Part
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought || p.Text == "" {
				continue
			}
			parts = append(parts, llm.Part{Text: p.Text})
		}
		items = append(items, llm.WithParts(parts...))
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return llm.Sequence(items...), nil
}

// classify turns API errors into llm.StatusError so the retry policy can see the code.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Code: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &llm.StatusError{Code: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}
