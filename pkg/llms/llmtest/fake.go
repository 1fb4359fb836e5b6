// Package llmtest provides a scripted in-memory provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/llms"
)

// FakeProvider replays scripted replies in order. Once the script is
// exhausted it repeats the last reply, so single-reply fakes can serve
// any number of calls.
type FakeProvider struct {
	// Delay is applied to every Chat call before answering.
	Delay time.Duration

	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llms.Message
	next    int
}

// New returns a provider that answers with the given replies in order.
func New(replies ...string) *FakeProvider {
	return &FakeProvider{replies: replies}
}

// NewError returns a provider whose every call fails with err.
func NewError(err error) *FakeProvider {
	return &FakeProvider{err: err}
}

func (f *FakeProvider) Chat(ctx context.Context, messages []llms.Message, opts *llms.ChatOptions) (*llms.ChatResult, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, messages)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return nil, fmt.Errorf("fake provider has no scripted replies")
	}

	reply := f.replies[min(f.next, len(f.replies)-1)]
	f.next++
	return &llms.ChatResult{
		Text:     reply,
		Tokens:   len(reply) / 4,
		Provider: f.Name(),
		Model:    f.ModelName(),
	}, nil
}

// Calls returns every message slice the provider has received.
func (f *FakeProvider) Calls() [][]llms.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// CallCount returns how many Chat calls were made.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *FakeProvider) IsConfigured() bool                              { return true }
func (f *FakeProvider) ListModels(ctx context.Context) ([]string, error) { return []string{"fake-model"}, nil }
func (f *FakeProvider) ModelName() string                               { return "fake-model" }
func (f *FakeProvider) Name() string                                    { return "fake" }
func (f *FakeProvider) Close() error                                    { return nil }

var _ llms.Provider = (*FakeProvider)(nil)

// Gateway wires a fake provider into a ready-to-use gateway.
func Gateway(provider llms.Provider) (*llms.Gateway, error) {
	reg := llms.NewRegistry()
	if err := reg.Register("fake", provider); err != nil {
		return nil, err
	}
	roles := config.RolesConfig{FallbackOrder: []string{"fake"}}
	return llms.NewGateway(reg, roles), nil
}
