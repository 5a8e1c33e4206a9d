package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/internal/llm"
)

const (
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
	emptyTurn    = "Begin."
)

// client implements llm.Generator on the chat completions endpoint
type client struct {
	apiKey          string
	completionModel string
	temperature     float64
	maxTokens       int
	url             string
	httpClient      *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIClient creates a new OpenAI client. An empty baseURL targets the public API.
func NewOpenAIClient(apiKey, completionModel string, temperature float64, maxTokens int, baseURL string, httpClient *http.Client) *client {
	url := openaiAPIURL
	if baseURL != "" {
		url = strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{
		apiKey:          apiKey,
		completionModel: completionModel,
		temperature:     temperature,
		maxTokens:       maxTokens,
		url:             url,
		httpClient:      httpClient,
	}
}

// Generate sends instruction as the system message and input as the user message
func (c *client) Generate(ctx context.Context, instruction, input string) (llm.Response, error) {
	if strings.TrimSpace(input) == "" {
		input = emptyTurn
	}
	var messages []Message
	if instruction != "" {
		messages = append(messages, Message{Role: "system", Content: instruction})
	}
	messages = append(messages, Message{Role: "user", Content: input})

	choices, err := c.sendRequest(ctx, messages)
	if err != nil {
		return llm.Response{}, err
	}
	items := make([]llm.Response, len(choices))
	for i, ch := range choices {
		items[i] = llm.Text(ch)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return llm.Sequence(items...), nil
}

// sendRequest sends a request to the OpenAI API and returns every choice's content
func (c *client) sendRequest(ctx context.Context, messages []Message) ([]string, error) {
	diag := llm.Diagnostics(ctx)
	requestBody := request{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	diag.Debug("sending request to OpenAI API",
		zap.String("model", c.completionModel),
		zap.Float64("temperature", c.temperature),
		zap.Int("max_tokens", c.maxTokens))

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, llm.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, llm.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	diag.Debug("received response from OpenAI API", zap.String("status", resp.Status), zap.Int("body_len", len(body)))

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		return nil, &llm.StatusError{Code: resp.StatusCode, Message: eb.Error.Message}
	}

	var openaiResp response
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return nil, llm.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}

	if len(openaiResp.Choices) == 0 {
		return nil, llm.Permanent(fmt.Errorf("no choices in response"))
	}

	out := make([]string, len(openaiResp.Choices))
	for i, ch := range openaiResp.Choices {
		out[i] = ch.Message.Content
	}
	return out, nil
}
