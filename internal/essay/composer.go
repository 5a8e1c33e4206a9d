package essay

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/internal/llm"
)

// ErrEmptyInstruction rejects a request without an instruction.
var ErrEmptyInstruction = errors.New("instruction is required")

// Request is one essay request.
type Request struct {
	Instruction string
}

// Result carries either an essay or an error message. Err keeps the
// underlying failure for callers that classify it.
type Result struct {
	Essay string `json:"essay,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

func failed(err error) Result {
	return Result{Error: err.Error(), Err: err}
}

// ComposerConfig tunes composition.
type ComposerConfig struct {
	Policy   llm.RetryPolicy
	MinWords int
	MaxWords int
}

// Composer turns cached context and a caller instruction into an essay. It
// keeps no per-request state and is safe for concurrent use.
type Composer struct {
	cache   *ContextCache
	invoker Invoker
	cfg     ComposerConfig
	logger  *zap.Logger
}

func NewComposer(cache *ContextCache, invoker Invoker, cfg ComposerConfig, logger *zap.Logger) *Composer {
	if cfg.MinWords <= 0 {
		cfg.MinWords = 200
	}
	if cfg.MaxWords < cfg.MinWords {
		cfg.MaxWords = cfg.MinWords + 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{cache: cache, invoker: invoker, cfg: cfg, logger: logger}
}

// Compose never returns a Go error; failures are reported in the Result.
func (c *Composer) Compose(ctx context.Context, req Request) Result {
	state := c.cache.Get()
	if !state.Usable() {
		return failed(ErrContextNotReady)
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return failed(ErrEmptyInstruction)
	}

	spec := llm.CallSpec{
		Name:        "compose",
		Instruction: compositionPrompt(state.Context, req.Instruction, c.cfg.MinWords, c.cfg.MaxWords),
		Policy:      clonePolicy(c.cfg.Policy),
	}
	resp, err := c.invoker.Invoke(ctx, spec, "")
	if err != nil {
		c.logger.Warn("essay composition failed", zap.Error(err))
		return failed(err)
	}
	return Result{Essay: llm.Extract(resp)}
}
