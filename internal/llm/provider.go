// Package llm provides a streaming text-generation provider used to
// answer questions against retrieved document chunks.
package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamerlzl/markdown-qa/internal/errs"
)

// Provider generates streamed text completions for a prompt.
type Provider interface {
	// Stream begins generation for prompt, returning a channel of text
	// fragments. The channel is closed when generation completes or the
	// context is cancelled; a send-side error aborts the stream and is
	// reported through the returned error only if generation never
	// started (e.g. connection failure before the first chunk).
	Stream(ctx context.Context, prompt string) (<-chan string, error)

	ModelName() string
	Close() error
}

// OllamaProvider talks to Ollama's /api/generate endpoint, the same host
// the embedding provider uses. Grounded on internal/embed/ollama.go's
// HTTP client shape, generalised from a request/response round trip to a
// line-delimited-JSON stream.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	config    Config
	breaker   *errs.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates a new streaming provider.
func NewOllamaProvider(ctx context.Context, cfg Config) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{}
	p := &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		breaker:   errs.NewCircuitBreaker("ollama-generate", errs.WithMaxFailures(3), errs.WithResetTimeout(30*time.Second)),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
		defer cancel()
		if err := p.ping(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("connect to ollama: %w", err)
		}
	}

	return p, nil
}

func (p *OllamaProvider) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result modelListResponse
	return json.NewDecoder(resp.Body).Decode(&result)
}

// Stream issues a streaming /api/generate request and forwards each
// chunk's Response field on the returned channel in order.
func (p *OllamaProvider) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("provider is closed")
	}

	body, err := json.Marshal(generateRequest{Model: p.config.Model, Prompt: prompt, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if !p.breaker.Allow() {
		return nil, fmt.Errorf("generate request: %w", errs.ErrCircuitOpen)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, p.config.Host+"/api/generate", strings.NewReader(string(body)))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.breaker.RecordFailure()
		cancel()
		return nil, fmt.Errorf("generate request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		p.breaker.RecordFailure()
		cancel()
		return nil, fmt.Errorf("generate failed with status %d", resp.StatusCode)
	}
	p.breaker.RecordSuccess()

	out := make(chan string)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk generateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				return
			}
			if chunk.Response != "" {
				select {
				case out <- chunk.Response:
				case <-timeoutCtx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	return out, nil
}

func (p *OllamaProvider) ModelName() string { return p.config.Model }

func (p *OllamaProvider) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}
