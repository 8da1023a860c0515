package metrics

import (
	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/config"
)

// Currency used for every estimate.
const Currency = "USD"

// Pricing models recorded on estimates.
const (
	PricingPer1K     = "per_1k_tokens"
	PricingUnitCost  = "unit_cost_per_1k_tokens"
	PricingUnpriced  = "unpriced"
	defaultPricedKey = "default"
)

// EstimateCost prices usage from the pricing table. ok is false when no entry matches.
func EstimateCost(pricing config.PricingConfig, adapterName, model string, usage adapter.Usage) (adapter.Cost, bool) {
	entry, ok := PricingFor(pricing, adapterName, model)
	if !ok {
		return adapter.Cost{Currency: Currency}, false
	}

	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return adapter.Cost{
		Currency:     Currency,
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: PricingPer1K,
	}, true
}

// PricingFor looks up an adapter/model entry, falling back to the adapter's "default" entry.
func PricingFor(pricing config.PricingConfig, adapterName, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if adapterPricing, ok := pricing[adapterName]; ok {
		if entry, ok := adapterPricing[model]; ok {
			return entry, true
		}
		if entry, ok := adapterPricing[defaultPricedKey]; ok {
			return entry, true
		}
	}
	return config.ModelPricing{}, false
}

// CostOf prices one call: the pricing table when it has an entry, else the
// model's relative unit cost per 1k total tokens.
func CostOf(pricing config.PricingConfig, ref config.ModelRef, usage adapter.Usage) adapter.Cost {
	usage = usage.Normalize()
	if cost, ok := EstimateCost(pricing, ref.Adapter, ref.Model, usage); ok {
		return cost
	}
	if ref.UnitCost > 0 {
		return adapter.Cost{
			Currency:     Currency,
			Amount:       float64(usage.TotalTokens) / 1000.0 * ref.UnitCost,
			IsEstimate:   true,
			PricingModel: PricingUnitCost,
		}
	}
	return adapter.Cost{Currency: Currency, PricingModel: PricingUnpriced}
}
