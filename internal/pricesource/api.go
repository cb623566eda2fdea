package pricesource

import (
	"context"
	"fmt"

	"pricewatch/internal/model"
)

type productAPI interface {
	PriceAPIProduct(ctx context.Context, productID string, useCache bool) (model.PriceSnapshot, error)
}

// API adapts the price API client to the Source contract. The scheduler
// wires it with UseCache false and wraps it in a Cache so freshness is
// bounded by the short TTL; interactive chat paths wire UseCache true to
// lean on the client's hour-long Redis response cache instead.
type API struct {
	Client   productAPI
	UseCache bool
}

func (a API) PriceData(ctx context.Context, productID string) (model.PriceSnapshot, error) {
	snap, err := a.Client.PriceAPIProduct(ctx, productID, a.UseCache)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("%w: product %s, err: %v", ErrUnavailable, productID, err)
	}
	return snap, nil
}
