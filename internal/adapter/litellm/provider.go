package litellm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/port/llm"
	"github.com/Strob0t/AgentForge/internal/resilience"
)

var _ llm.Provider = (*Provider)(nil)

// Provider builds chat models on two OpenAI compatible endpoints: the proxy
// used by default and a direct endpoint for callers that bypass it.
type Provider struct {
	proxy   *openai.Client
	direct  *openai.Client
	breaker *resilience.Breaker
}

// NewProvider creates a Provider. A nil breaker disables circuit breaking.
// Without a direct endpoint, bypassing calls go through the proxy.
func NewProvider(cfg config.LLM, breaker *resilience.Breaker) *Provider {
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	newClient := func(url, key string) *openai.Client {
		c := openai.DefaultConfig(key)
		c.BaseURL = url
		c.HTTPClient = httpClient
		return openai.NewClientWithConfig(c)
	}

	p := &Provider{breaker: breaker, proxy: newClient(cfg.URL, cfg.APIKey)}
	p.direct = p.proxy
	if cfg.DirectURL != "" {
		p.direct = newClient(cfg.DirectURL, cfg.DirectAPIKey)
	}
	return p
}

// Model returns a handle for model id.
func (p *Provider) Model(id string, bypassProxy bool) llm.Model {
	c := p.proxy
	if bypassProxy {
		c = p.direct
	}
	return &chatModel{id: id, client: c, breaker: p.breaker}
}

// guard runs fn through the breaker. Rejected requests (4xx other than
// 429) are passed as permanent so a bad prompt does not trip it.
func guard(ctx context.Context, b *resilience.Breaker, fn func(context.Context) error) error {
	classified := func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return resilience.Permanent(err)
		}
		return err
	}
	if b == nil {
		return classified(ctx)
	}
	return b.Execute(ctx, classified)
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

// statusError renders an upstream failure with its status when known.
func statusError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: upstream %d: %w", op, apiErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
