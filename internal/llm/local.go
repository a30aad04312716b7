package llm

import (
	"context"
	"strings"

	"hearth/internal/domain"
)

// LocalProvider is a model-agnostic stub that streams a deterministic
// response for manual testing without API keys or a local daemon. It echoes
// the last user message word by word, mimicking real chunked output.
type LocalProvider struct {
	Prefix string // prepended to the echoed reply
}

// NewLocalProvider returns a local provider that echoes the last user message.
func NewLocalProvider(prefix string) *LocalProvider {
	return &LocalProvider{Prefix: prefix}
}

// Name implements domain.Provider.
func (p *LocalProvider) Name() string { return "local" }

// Generate implements domain.Provider.
func (p *LocalProvider) Generate(ctx context.Context, history []domain.Message, tools []domain.ToolDefinition) (<-chan domain.ResponseEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			last = history[i].Content
			break
		}
	}
	reply := p.Prefix + last

	events := make(chan domain.ResponseEvent)
	go func() {
		defer close(events)
		for i, word := range strings.Fields(reply) {
			chunk := word
			if i > 0 {
				chunk = " " + word
			}
			select {
			case events <- domain.ResponseEvent{Text: chunk}:
			case <-ctx.Done():
				events <- domain.ResponseEvent{Err: ctx.Err()}
				return
			}
		}
		events <- domain.ResponseEvent{Done: true}
	}()
	return events, nil
}

// Ensure LocalProvider implements domain.Provider at compile time.
var _ domain.Provider = (*LocalProvider)(nil)
