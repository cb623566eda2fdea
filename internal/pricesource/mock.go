package pricesource

import (
	"context"

	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
)

// Mock is a deterministic stand-in for the real price API, for running the
// whole system without an API key. Prices are a stable function of the
// product ID so repeated fetches within a test or a demo behave like a
// quiet market.
type Mock struct{}

func (Mock) PriceData(_ context.Context, productID string) (model.PriceSnapshot, error) {
	base := 0
	for _, c := range []byte(productID) {
		base += int(c)
	}

	current := 19.9 + float64(base%280) + float64(base%9)*0.1
	spread := 0.05 + float64(base%26)/100

	cur := decimal.NewFromFloat(current).Round(2)
	low := decimal.NewFromFloat(current * (1 - spread)).Round(2)
	avg := decimal.NewFromFloat(current * (1 - spread/2)).Round(2)
	high := decimal.NewFromFloat(current * (1 + spread/2)).Round(2)

	return model.PriceSnapshot{
		Current:   cur,
		Lowest90:  &low,
		Average90: &avg,
		Highest90: &high,
	}, nil
}
