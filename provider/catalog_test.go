// ABOUTME: Tests for the model catalog.
// ABOUTME: Covers alias lookup, tier filtering, registration, and pricing math.

package provider

import "testing"

func TestGetModelInfoByIDAndAlias(t *testing.T) {
	c := DefaultCatalog()

	if m := c.GetModelInfo("gpt-5.2-mini"); m == nil || m.Provider != "openai" {
		t.Errorf("lookup by ID failed: %+v", m)
	}
	if m := c.GetModelInfo("sonnet"); m == nil || m.ID != "claude-sonnet-4-5" {
		t.Errorf("lookup by alias failed: %+v", m)
	}
	if m := c.GetModelInfo("no-such-model"); m != nil {
		t.Errorf("unknown model returned %+v", m)
	}
}

func TestListModelsByTier(t *testing.T) {
	c := DefaultCatalog()

	free := c.ListModels(TierFreeLocal)
	if len(free) != 1 || free[0].ID != "wordmill-local" {
		t.Errorf("free tier = %+v", free)
	}
	for _, m := range c.ListModels(TierPremium) {
		if m.Tier != TierPremium {
			t.Errorf("model %s leaked into premium listing", m.ID)
		}
	}
	if all := c.ListModels(""); len(all) < 4 {
		t.Errorf("full listing too short: %d", len(all))
	}
}

func TestRegisterReplacesAndIsolates(t *testing.T) {
	a := DefaultCatalog()
	b := DefaultCatalog()

	a.Register(ModelInfo{ID: "gpt-5.2", Provider: "openai", Tier: TierPremium, InputCostPerMillion: 9.99})
	if m := a.GetModelInfo("gpt-5.2"); m.InputCostPerMillion != 9.99 {
		t.Errorf("register did not replace: %+v", m)
	}
	if m := b.GetModelInfo("gpt-5.2"); m.InputCostPerMillion == 9.99 {
		t.Error("registration leaked across catalogs")
	}

	a.Register(ModelInfo{ID: "custom-model", Provider: "local", Tier: TierFreeLocal})
	if a.GetModelInfo("custom-model") == nil {
		t.Error("register did not add new model")
	}
}

func TestPricingCost(t *testing.T) {
	c := DefaultCatalog()
	m := c.GetModelInfo("gpt-5.2")
	got := m.Pricing().Cost(Usage{InputTokens: 1_000_000, OutputTokens: 100_000})
	want := 1.25 + 1.00
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %f, want %f", got, want)
	}
}
