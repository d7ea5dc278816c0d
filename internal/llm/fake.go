package llm

import (
	"context"
	"sync"
)

// Fake is a scripted Client. Responses are returned in order; the last one
// repeats once the script is exhausted. An empty script echoes
// "SELECT 1" so a dry run always reaches the database.
type Fake struct {
	mu        sync.Mutex
	responses []FakeResponse
	prompts   []string
}

type FakeResponse struct {
	Text string
	Err  error
}

func NewFake(responses ...FakeResponse) *Fake {
	return &Fake{responses: responses}
}

// FakeTexts scripts successful responses only.
func FakeTexts(texts ...string) *Fake {
	responses := make([]FakeResponse, len(texts))
	for i, t := range texts {
		responses[i] = FakeResponse{Text: t}
	}
	return NewFake(responses...)
}

func (f *Fake) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.prompts)
	f.prompts = append(f.prompts, prompt)

	if len(f.responses) == 0 {
		return "SELECT 1", nil
	}
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	r := f.responses[n]
	return r.Text, r.Err
}

// Prompts returns every prompt received so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}
