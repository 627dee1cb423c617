package billing

import (
	"context"
	"errors"
	"fmt"
)

const tokensPerUnit = 1000.0

// Calculate prices a request. A nil price means the provider/model pair is
// not in the table, which costs nothing rather than failing the ingest.
func Calculate(inputTokens, outputTokens int64, price *PriceEntry) float64 {
	if price == nil {
		return 0
	}

	inputCost := float64(inputTokens) / tokensPerUnit * price.InputCostPer1k
	outputCost := float64(outputTokens) / tokensPerUnit * price.OutputCostPer1k
	cost := inputCost + outputCost
	if cost < 0 {
		return 0
	}
	return cost
}

// PricedCost looks up the rates for provider/model and prices the tokens.
// found reports whether a price row existed.
func PricedCost(ctx context.Context, store PricingStore, provider, model string, inputTokens, outputTokens int64) (cost float64, found bool, err error) {
	price, err := store.GetPrice(ctx, provider, model)
	if err != nil {
		if errors.Is(err, ErrPriceNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to look up price for %s/%s: %w", provider, model, err)
	}
	return Calculate(inputTokens, outputTokens, price), true, nil
}
