// ABOUTME: OpenAI Chat Completions adapter for the low-cost and premium provider tiers.
// ABOUTME: Supports custom base URLs so OpenAI-compatible gateways can serve either tier.

package provider

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client over the OpenAI Chat Completions API.
// A custom base URL points it at any OpenAI-compatible provider.
type OpenAIClient struct {
	client  openai.Client
	model   string
	tier    Tier
	pricing Pricing
}

// NewOpenAIClient creates a Chat Completions client for the given model.
// Tier and pricing come from the catalog entry for the model; unknown models
// default to the low-cost tier with zero pricing.
func NewOpenAIClient(apiKey, model, baseURL string, catalog *Catalog) *OpenAIClient {
	if model == "" {
		model = "gpt-5.2-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	tier := TierLowCost
	var pricing Pricing
	if catalog != nil {
		if info := catalog.GetModelInfo(model); info != nil {
			tier = info.Tier
			pricing = info.Pricing()
		}
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		tier:    tier,
		pricing: pricing,
	}
}

func (c *OpenAIClient) Name() string { return c.model }

func (c *OpenAIClient) Tier() Tier { return c.tier }

func (c *OpenAIClient) Pricing() Pricing { return c.pricing }

func (c *OpenAIClient) EstimateTokens(text string) int { return EstimateTokens(text) }

func (c *OpenAIClient) Close() error { return nil }

// Invoke sends one completion request and maps the response and any error
// into the provider taxonomy.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	params.Messages = messages

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, ClassifyTransportError(c.model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &UnavailableError{
			Provider: c.model,
			Reason:   ReasonMalformed,
			Message:  "response contained no choices",
		}
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

var _ Client = (*OpenAIClient)(nil)
