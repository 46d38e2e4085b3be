// ABOUTME: Model catalog with per-million-token pricing for cost estimation.
// ABOUTME: Supports lookup by ID or alias and registration of custom models.

package provider

// ModelInfo describes a generation model's tier and pricing.
type ModelInfo struct {
	ID                   string
	Provider             string
	Tier                 Tier
	DisplayName          string
	ContextWindow        int
	InputCostPerMillion  float64 // USD per 1M input tokens
	OutputCostPerMillion float64 // USD per 1M output tokens
	Aliases              []string
}

// Pricing returns the model's pricing as a Pricing value.
func (m *ModelInfo) Pricing() Pricing {
	return Pricing{
		InputPerMillion:  m.InputCostPerMillion,
		OutputPerMillion: m.OutputCostPerMillion,
	}
}

// Catalog holds a collection of ModelInfo entries and supports lookup.
type Catalog struct {
	models []ModelInfo
}

// builtinModels returns the default set of known models.
func builtinModels() []ModelInfo {
	return []ModelInfo{
		{
			ID:            "wordmill-local",
			Provider:      "local",
			Tier:          TierFreeLocal,
			DisplayName:   "Wordmill Local",
			ContextWindow: 32768,
			Aliases:       []string{"local", "free"},
		},
		{
			ID:                   "gpt-5.2-mini",
			Provider:             "openai",
			Tier:                 TierLowCost,
			DisplayName:          "GPT-5.2 Mini",
			ContextWindow:        1047576,
			InputCostPerMillion:  0.25,
			OutputCostPerMillion: 2.00,
			Aliases:              []string{"gpt5-mini", "standard"},
		},
		{
			ID:                   "gpt-5.2",
			Provider:             "openai",
			Tier:                 TierPremium,
			DisplayName:          "GPT-5.2",
			ContextWindow:        1047576,
			InputCostPerMillion:  1.25,
			OutputCostPerMillion: 10.00,
			Aliases:              []string{"gpt5"},
		},
		{
			ID:                   "claude-sonnet-4-5",
			Provider:             "anthropic",
			Tier:                 TierPremium,
			DisplayName:          "Claude Sonnet 4.5",
			ContextWindow:        200000,
			InputCostPerMillion:  3.00,
			OutputCostPerMillion: 15.00,
			Aliases:              []string{"sonnet", "claude-sonnet"},
		},
	}
}

// DefaultCatalog returns a new Catalog pre-populated with built-in model
// definitions. Each call returns an independent copy so registrations on one
// catalog do not affect others.
func DefaultCatalog() *Catalog {
	return &Catalog{models: builtinModels()}
}

// GetModelInfo looks up a model by its canonical ID or any of its aliases.
// Returns nil if no matching model is found.
func (c *Catalog) GetModelInfo(modelID string) *ModelInfo {
	for i := range c.models {
		if c.models[i].ID == modelID {
			return &c.models[i]
		}
		for _, alias := range c.models[i].Aliases {
			if alias == modelID {
				return &c.models[i]
			}
		}
	}
	return nil
}

// ListModels returns all models matching the given tier. An empty tier
// returns every model in the catalog.
func (c *Catalog) ListModels(tier Tier) []ModelInfo {
	var result []ModelInfo
	for _, m := range c.models {
		if tier == "" || m.Tier == tier {
			result = append(result, m)
		}
	}
	return result
}

// Register adds a model to the catalog. If a model with the same ID already
// exists, it is replaced.
func (c *Catalog) Register(model ModelInfo) {
	for i := range c.models {
		if c.models[i].ID == model.ID {
			c.models[i] = model
			return
		}
	}
	c.models = append(c.models, model)
}
