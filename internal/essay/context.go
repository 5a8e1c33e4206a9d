package essay

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrContextNotReady is reported by Compose before startup has produced context.
	ErrContextNotReady = errors.New("context not loaded")
	// ErrDistillationParse reports a distillation reply that is not the expected two-key JSON.
	ErrDistillationParse = errors.New("distillation output is not valid context JSON")
	// ErrMissingSource reports that a source record could not be fetched at startup.
	ErrMissingSource = errors.New("source record missing")
	// ErrAlreadySet is returned by a second ContextCache.Set.
	ErrAlreadySet = errors.New("context cache already set")
	// ErrIncompleteContext rejects a context with exactly one populated field.
	ErrIncompleteContext = errors.New("distilled context must have both fields populated")
)

// DistilledContext is the soft context derived from the two source records.
type DistilledContext struct {
	UserSoft        string `json:"user_soft_context"`
	ScholarshipSoft string `json:"scholarship_soft_context"`
	// Fallback is set when the fields hold the raw records instead of a model summary.
	Fallback bool `json:"-"`
}

// Empty reports whether neither field is populated.
func (d DistilledContext) Empty() bool {
	return d.UserSoft == "" && d.ScholarshipSoft == ""
}

func (d DistilledContext) complete() bool {
	return d.UserSoft != "" && d.ScholarshipSoft != ""
}

// CacheState is a snapshot of the cache.
type CacheState struct {
	Context DistilledContext
	Ready   bool
}

// Usable reports whether a composition prompt can be built from the state.
func (s CacheState) Usable() bool {
	return s.Ready && !s.Context.Empty()
}

// ContextCache holds the distilled context for the lifetime of the process.
// It is written once during startup and read lock-free by every request.
type ContextCache struct {
	state atomic.Pointer[CacheState]
}

func NewContextCache() *ContextCache {
	return &ContextCache{}
}

// Get returns the current state; before Set it is the empty, not-ready state.
func (c *ContextCache) Get() CacheState {
	if s := c.state.Load(); s != nil {
		return *s
	}
	return CacheState{}
}

// Set stores ctx and marks the cache ready. Only the first call succeeds.
func (c *ContextCache) Set(ctx DistilledContext) error {
	if !ctx.complete() {
		return ErrIncompleteContext
	}
	if !c.state.CompareAndSwap(nil, &CacheState{Context: ctx, Ready: true}) {
		return ErrAlreadySet
	}
	return nil
}
