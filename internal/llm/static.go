package llm

import "context"

// StaticProvider is a deterministic offline provider for tests: it
// streams a fixed response as a single chunk, or an echo of the prompt if
// no fixed response is set.
type StaticProvider struct {
	Response string
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider that streams response.
func NewStaticProvider(response string) *StaticProvider {
	return &StaticProvider{Response: response}
}

func (p *StaticProvider) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	text := p.Response
	if text == "" {
		text = prompt
	}

	out := make(chan string)
	go func() {
		defer close(out)
		select {
		case out <- text:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *StaticProvider) ModelName() string { return "static" }
func (p *StaticProvider) Close() error      { return nil }
