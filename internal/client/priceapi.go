package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/shopspring/decimal"

	"pricewatch/internal/misc"
	"pricewatch/internal/model"
)

var ErrPriceAPI = fmt.Errorf("price API error")
var ErrPriceAPIProductNotFound = fmt.Errorf("price API product not found")

type priceAPIProductResponse struct {
	Status  string              `json:"status"`
	Product *priceAPIProductData `json:"product"`
}

type priceAPIProductData struct {
	ASIN      string           `json:"asin"`
	PriceNow  *decimal.Decimal `json:"price_now"`
	Lowest90  *decimal.Decimal `json:"lowest_90"`
	Average90 *decimal.Decimal `json:"avg_90"`
	Highest90 *decimal.Decimal `json:"highest_90"`
}

// PriceAPIProduct fetches current and trailing-90-day price statistics for a
// product. With useCache, a previously parsed snapshot is served from Redis
// for up to an hour; interactive chat paths use this to stay inside the
// upstream quota, the scheduler calls with useCache false and relies on its
// own short-TTL cache. Redis being down or absent only costs the caching.
func (c Client) PriceAPIProduct(ctx context.Context, productID string, useCache bool) (model.PriceSnapshot, error) {
	var snap model.PriceSnapshot

	cacheKey := "PAP-" + productID
	if useCache && c.Redis != nil {
		cached, err := c.Redis.Get(ctx, cacheKey).Result()
		if err == nil {
			c.Logger.Debugf("PriceAPIProduct: Cache found, key: %s", cacheKey)
			if err = json.Unmarshal([]byte(cached), &snap); err == nil {
				return snap, nil
			}
			c.Logger.Errorf("PriceAPIProduct: Error unmarshalling cache, key: %s, err: %v", cacheKey, err)
		} else if err != redis.Nil {
			c.Logger.Errorf("PriceAPIProduct: Error getting Redis cache with key: %s, err: %v", cacheKey, err)
		}
	}

	q := url.Values{}
	q.Set("key", c.PriceAPIKey)
	q.Set("asin", productID)
	apiURL := strings.TrimSuffix(c.PriceAPIURL, "/") + "/product?" + q.Encode()

	req, err := newRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return snap, fmt.Errorf("failed to create request for product: %s, err: %v", productID, err)
	}

	c.Logger.Debugf("PriceAPIProduct: Sending request for product: %s", productID)
	resp, err := c.Do(req)
	if err != nil {
		return snap, fmt.Errorf("%w: error doing request for product: %s, err: %v", ErrPriceAPI, productID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(http.MaxBytesReader(nil, resp.Body, 300*1024))
	if err != nil {
		return snap, fmt.Errorf("error reading PriceAPI response body for product: %s, status: %s, err: %v",
			productID, resp.Status, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return snap, fmt.Errorf("%w: product: %s, status: %s, body:\n%s",
			ErrPriceAPIProductNotFound, productID, resp.Status, misc.BytesLimit(body, 2000))
	}
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("%w: product: %s, status: %s, body:\n%s",
			ErrPriceAPI, productID, resp.Status, misc.BytesLimit(body, 2000))
	}

	apiResp := priceAPIProductResponse{}
	if err = json.Unmarshal(body, &apiResp); err != nil {
		return snap, fmt.Errorf("error unmarshalling PriceAPI response body for product: %s, body:\n%s,\nerr: %v",
			productID, misc.BytesLimit(body, 2000), err)
	}
	if apiResp.Status != "ok" || apiResp.Product == nil {
		return snap, fmt.Errorf("%w: product: %s, status field: %s, body:\n%s",
			ErrPriceAPI, productID, apiResp.Status, misc.BytesLimit(body, 2000))
	}
	if apiResp.Product.PriceNow == nil {
		return snap, fmt.Errorf("%w: product: %s has no current price, body:\n%s",
			ErrPriceAPI, productID, misc.BytesLimit(body, 2000))
	}

	snap = model.PriceSnapshot{
		Current:   apiResp.Product.PriceNow.Round(2),
		Lowest90:  apiResp.Product.Lowest90,
		Average90: apiResp.Product.Average90,
		Highest90: apiResp.Product.Highest90,
	}

	if c.Redis != nil {
		if snapJSON, err := json.Marshal(snap); err != nil {
			c.Logger.Errorf("PriceAPIProduct: Error marshalling snapshot to cache, key: %s, err: %v", cacheKey, err)
		} else if err = c.Redis.Set(ctx, cacheKey, snapJSON, 1*time.Hour).Err(); err != nil {
			c.Logger.Errorf("PriceAPIProduct: Error caching snapshot, key: %s, err: %v", cacheKey, err)
		}
	}

	return snap, nil
}
