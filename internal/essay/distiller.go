package essay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/internal/llm"
	"github.com/mohammad-safakhou/essaygen/internal/store"
)

// Invoker runs one model call under a retry policy.
type Invoker interface {
	Invoke(ctx context.Context, spec llm.CallSpec, input string) (llm.Response, error)
}

// Distiller reduces the two source records to soft context with one model call.
type Distiller struct {
	invoker Invoker
	policy  llm.RetryPolicy
	logger  *zap.Logger
}

func NewDistiller(invoker Invoker, policy llm.RetryPolicy, logger *zap.Logger) *Distiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distiller{invoker: invoker, policy: policy, logger: logger}
}

// Distill asks the model for the two soft-context strings. A reply that
// cannot be parsed yields the raw records as context, flagged Fallback. An
// invocation failure yields an empty context and the error.
func (d *Distiller) Distill(ctx context.Context, user, scholarship store.Record) (DistilledContext, error) {
	spec := llm.CallSpec{
		Name:        "distill",
		Instruction: distillationPrompt(user, scholarship),
		Policy:      clonePolicy(d.policy),
	}
	resp, err := d.invoker.Invoke(ctx, spec, "")
	if err != nil {
		return DistilledContext{}, err
	}

	text := llm.Extract(resp)
	dc, err := ParseDistillation(text)
	if err != nil {
		d.logger.Warn("falling back to raw source records",
			zap.Error(err),
			zap.Int("reply_len", len(text)))
		return fallbackContext(user, scholarship), nil
	}
	return dc, nil
}

func fallbackContext(user, scholarship store.Record) DistilledContext {
	return DistilledContext{
		UserSoft:        user.String(),
		ScholarshipSoft: scholarship.String(),
		Fallback:        true,
	}
}

// A fenced block: an opening fence with an optional language hint, the body,
// then an optional closing fence.
var (
	openingFence = regexp.MustCompile("^```[A-Za-z0-9_+.-]*[ \t]*\r?\n?")
	closingFence = regexp.MustCompile("\r?\n?[ \t]*```$")
)

// unwrapFence strips one optional markdown fence around s. Text that is not
// fenced is returned trimmed and otherwise untouched.
func unwrapFence(s string) string {
	s = strings.TrimSpace(s)
	if loc := openingFence.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	s = closingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseDistillation reads the model's distillation reply. Both keys must be
// present and non-empty; string values are taken as-is and any other JSON
// value is kept as its compact encoding.
func ParseDistillation(text string) (DistilledContext, error) {
	body := unwrapFence(text)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return DistilledContext{}, fmt.Errorf("%w: %v", ErrDistillationParse, err)
	}
	userSoft, err := softValue(raw, userSoftKey)
	if err != nil {
		return DistilledContext{}, err
	}
	scholarshipSoft, err := softValue(raw, scholarshipSoftKey)
	if err != nil {
		return DistilledContext{}, err
	}
	return DistilledContext{UserSoft: userSoft, ScholarshipSoft: scholarshipSoft}, nil
}

func softValue(raw map[string]json.RawMessage, key string) (string, error) {
	msg, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("%w: key %q missing", ErrDistillationParse, key)
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		var buf bytes.Buffer
		if err := json.Compact(&buf, msg); err != nil {
			return "", fmt.Errorf("%w: key %q: %v", ErrDistillationParse, key, err)
		}
		s = buf.String()
		if s == "null" {
			s = ""
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: key %q is empty", ErrDistillationParse, key)
	}
	return s, nil
}

func clonePolicy(p llm.RetryPolicy) llm.RetryPolicy {
	p.RetryableStatusCodes = slices.Clone(p.RetryableStatusCodes)
	return p
}
