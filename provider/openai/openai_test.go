package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/essaygen/internal/llm"
)

func TestGenerate(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"draft"}},{"message":{"content":"  final essay "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", "gpt-test", 0.4, 0, srv.URL, srv.Client())
	resp, err := c.Generate(context.Background(), "write an essay", "")
	require.NoError(t, err)
	assert.Equal(t, "final essay", llm.Extract(resp))

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: "write an essay"}, got.Messages[0])
	assert.Equal(t, emptyTurn, got.Messages[1].Content)
}

func TestGenerateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("k", "gpt-test", 0, 0, srv.URL, nil).Generate(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, llm.StatusOf(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestGenerateNoChoicesIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("k", "gpt-test", 0, 0, srv.URL, nil).Generate(context.Background(), "x", "y")
	assert.True(t, llm.IsPermanent(err))
}
