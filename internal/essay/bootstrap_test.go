package essay

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mohammad-safakhou/essaygen/internal/llm"
	"github.com/mohammad-safakhou/essaygen/internal/store"
)

type failingFetcher struct{ err error }

func (f failingFetcher) FetchByID(context.Context, string, string) (store.Record, error) {
	return store.Record{}, f.err
}

func TestBootstrapLoadsDistilledContext(t *testing.T) {
	user, scholarship := aliceRecords()
	records := store.NewMemory(user, scholarship)
	model := &stubModel{reply: llm.Text(aliceReply)}
	cache := NewContextCache()

	rep := Bootstrap(context.Background(), records, aliceSources(),
		NewDistiller(newInvoker(t, model), llm.DistillationPolicy(), nil), cache, zaptest.NewLogger(t))
	require.NoError(t, rep.Err)
	assert.True(t, rep.Ready)
	assert.False(t, rep.Fallback)

	state := cache.Get()
	assert.True(t, state.Ready)
	assert.Equal(t, "community-driven, education-focused", state.Context.UserSoft)
	assert.Equal(t, "supports first-generation students", state.Context.ScholarshipSoft)

	// the cached context feeds composition
	writer := &stubModel{reply: llm.Text("I have always believed...")}
	res := NewComposer(cache, newInvoker(t, writer), ComposerConfig{Policy: llm.CompositionPolicy()}, nil).
		Compose(context.Background(), Request{Instruction: "Focus on leadership"})
	assert.Equal(t, Result{Essay: "I have always believed..."}, res)
}

func TestBootstrapMissingScholarship(t *testing.T) {
	user, _ := aliceRecords()
	model := &stubModel{reply: llm.Text(aliceReply)}
	cache := NewContextCache()

	rep := Bootstrap(context.Background(), store.NewMemory(user), aliceSources(),
		NewDistiller(newInvoker(t, model), llm.DistillationPolicy(), nil), cache, nil)
	assert.ErrorIs(t, rep.Err, ErrMissingSource)
	assert.ErrorIs(t, rep.Err, store.ErrNotFound)
	assert.False(t, rep.Ready)
	assert.False(t, cache.Get().Ready)
	assert.Zero(t, model.Calls())

	writer := &stubModel{reply: llm.Text("unused")}
	res := NewComposer(cache, newInvoker(t, writer), ComposerConfig{Policy: llm.CompositionPolicy()}, nil).
		Compose(context.Background(), Request{Instruction: "anything"})
	assert.Equal(t, "context not loaded", res.Error)
	assert.Zero(t, writer.Calls())
}

func TestBootstrapStoreError(t *testing.T) {
	boom := errors.New("connection refused")
	rep := Bootstrap(context.Background(), failingFetcher{err: boom}, aliceSources(),
		NewDistiller(newInvoker(t, &stubModel{}), llm.DistillationPolicy(), nil), NewContextCache(), nil)
	assert.ErrorIs(t, rep.Err, ErrMissingSource)
	assert.ErrorIs(t, rep.Err, boom)
	assert.False(t, rep.Ready)
}

func TestBootstrapUnconfiguredID(t *testing.T) {
	src := aliceSources()
	src.ScholarshipID = ""
	user, scholarship := aliceRecords()
	rep := Bootstrap(context.Background(), store.NewMemory(user, scholarship), src,
		NewDistiller(newInvoker(t, &stubModel{}), llm.DistillationPolicy(), nil), NewContextCache(), nil)
	assert.ErrorIs(t, rep.Err, ErrMissingSource)
	assert.False(t, rep.Ready)
}

func TestBootstrapFallback(t *testing.T) {
	user, scholarship := aliceRecords()
	model := &stubModel{reply: llm.Text("not json at all")}
	cache := NewContextCache()

	rep := Bootstrap(context.Background(), store.NewMemory(user, scholarship), aliceSources(),
		NewDistiller(newInvoker(t, model), llm.DistillationPolicy(), nil), cache, nil)
	require.NoError(t, rep.Err)
	assert.True(t, rep.Ready)
	assert.True(t, rep.Fallback)
	assert.Equal(t, user.String(), cache.Get().Context.UserSoft)
	assert.Equal(t, scholarship.String(), cache.Get().Context.ScholarshipSoft)
}

func TestBootstrapModelUnavailable(t *testing.T) {
	user, scholarship := aliceRecords()
	model := &stubModel{err: &llm.StatusError{Code: http.StatusTooManyRequests}}
	cache := NewContextCache()

	rep := Bootstrap(context.Background(), store.NewMemory(user, scholarship), aliceSources(),
		NewDistiller(newInvoker(t, model), llm.DistillationPolicy(), nil), cache, nil)
	assert.ErrorIs(t, rep.Err, llm.ErrRetriesExhausted)
	assert.False(t, rep.Ready)
	assert.True(t, cache.Get().Context.Empty())
}
