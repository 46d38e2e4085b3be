// ABOUTME: Anthropic Messages API adapter for the premium provider tier.
// ABOUTME: Speaks the wire format directly over the shared BaseAdapter HTTP client.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	*BaseAdapter
	model   string
	pricing Pricing
}

// NewAnthropicClient creates a Messages API client for the given model.
// Pricing comes from the catalog entry; an empty baseURL uses the public API.
func NewAnthropicClient(apiKey, model, baseURL string, catalog *Catalog) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}

	base := NewBaseAdapter(apiKey, baseURL, DefaultAdapterTimeout())
	base.DefaultHeaders["x-api-key"] = apiKey
	base.DefaultHeaders["anthropic-version"] = anthropicAPIVersion

	var pricing Pricing
	if catalog != nil {
		if info := catalog.GetModelInfo(model); info != nil {
			pricing = info.Pricing()
		}
	}

	return &AnthropicClient{
		BaseAdapter: base,
		model:       model,
		pricing:     pricing,
	}
}

func (c *AnthropicClient) Name() string { return c.model }

func (c *AnthropicClient) Tier() Tier { return TierPremium }

func (c *AnthropicClient) Pricing() Pricing { return c.pricing }

func (c *AnthropicClient) EstimateTokens(text string) int { return EstimateTokens(text) }

func (c *AnthropicClient) Close() error {
	c.HTTPClient.CloseIdleConnections()
	return nil
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the subset of the Messages API response we consume.
type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends one Messages API call and maps the result into the uniform
// Response type.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	httpResp, err := c.DoRequest(ctx, http.MethodPost, "/v1/messages", body, nil)
	if err != nil {
		return nil, ClassifyTransportError(c.model, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, ClassifyTransportError(c.model, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, ErrorFromStatusCode(c.model, httpResp.StatusCode,
			fmt.Sprintf("anthropic returned %d: %s", httpResp.StatusCode, truncate(string(raw), 200)),
			RetryAfterSeconds(httpResp.Header))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &UnavailableError{
			Provider: c.model,
			Reason:   ReasonMalformed,
			Message:  "decoding response: " + err.Error(),
			Cause:    err,
		}
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, &UnavailableError{
			Provider: c.model,
			Reason:   ReasonMalformed,
			Message:  "response contained no text blocks",
		}
	}

	return &Response{
		Text:  text,
		Model: parsed.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

// truncate shortens s to at most n bytes for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Client = (*AnthropicClient)(nil)
