package essay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mohammad-safakhou/essaygen/internal/llm"
	"github.com/mohammad-safakhou/essaygen/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubModel replies with a fixed response, or fails with err, and records
// every instruction it receives.
type stubModel struct {
	mu           sync.Mutex
	reply        llm.Response
	err          error
	instructions []string
}

func (s *stubModel) Generate(_ context.Context, instruction, _ string) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructions = append(s.instructions, instruction)
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return s.reply, nil
}

func (s *stubModel) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instructions)
}

func (s *stubModel) LastInstruction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.instructions) == 0 {
		return ""
	}
	return s.instructions[len(s.instructions)-1]
}

// instantTimer fires as soon as it is started.
type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) { t.c <- time.Now() }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func newInvoker(t *testing.T, gen llm.Generator) *llm.Invoker {
	return llm.NewInvoker(gen,
		llm.WithLogger(zaptest.NewLogger(t)),
		llm.WithTimer(func() backoff.Timer { return &instantTimer{c: make(chan time.Time, 1)} }))
}

func aliceRecords() (store.Record, store.Record) {
	user := store.Record{Collection: "users", ID: "u1", Fields: map[string]any{"name": "Alice", "goals": "help rural schools"}}
	scholarship := store.Record{Collection: "scholarships", ID: "s1", Fields: map[string]any{"mission": "support first-gen students"}}
	return user, scholarship
}

func aliceSources() Sources {
	return Sources{UsersCollection: "users", UserID: "u1", ScholarshipsCollection: "scholarships", ScholarshipID: "s1"}
}
