// Package litellm talks to the model endpoints: chat completions through the
// OpenAI compatible API (LiteLLM proxy by default, a direct provider when
// bypassing it) and the LiteLLM admin API for health and model discovery.
package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/AgentForge/internal/resilience"
)

// ModelInfo represents a configured model in LiteLLM.
type ModelInfo struct {
	ModelName string         `json:"model_name"`
	ModelID   string         `json:"model_id,omitempty"`
	ModelInfo map[string]any `json:"model_info,omitempty"`
	Params    map[string]any `json:"litellm_params,omitempty"`
}

// HealthReport is the per endpoint health LiteLLM reports.
type HealthReport struct {
	HealthyEndpoints   []EndpointHealth `json:"healthy_endpoints"`
	UnhealthyEndpoints []EndpointHealth `json:"unhealthy_endpoints"`
	HealthyCount       int              `json:"healthy_count"`
	UnhealthyCount     int              `json:"unhealthy_count"`
}

// EndpointHealth is the health of a single model endpoint.
type EndpointHealth struct {
	Model   string `json:"model"`
	APIBase string `json:"api_base,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the LiteLLM Proxy admin API.
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new LiteLLM admin client. A trailing "/v1" is stripped
// so the chat completions base URL can be passed as is.
func NewClient(baseURL, masterKey string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1"),
		masterKey: masterKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// ListModels returns all configured models from LiteLLM.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/model/info")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	var result struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal models: %w", err)
	}
	return result.Data, nil
}

// Health checks if LiteLLM is healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health/liveliness")
	return err == nil, err
}

// HealthDetailed returns the health of every configured model endpoint.
func (c *Client) HealthDetailed(ctx context.Context) (*HealthReport, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/health")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	var report HealthReport
	if err := json.Unmarshal(resp, &report); err != nil {
		return nil, fmt.Errorf("unmarshal health: %w", err)
	}
	return &report, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	var result []byte
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		if c.masterKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.masterKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(ctx, call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(ctx); err != nil {
		return nil, err
	}
	return result, nil
}
