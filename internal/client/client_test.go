package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debugf(format string, v ...any) { l.t.Logf("DEBUG: "+format, v...) }
func (l testLogger) Infof(format string, v ...any)  { l.t.Logf("INFO : "+format, v...) }
func (l testLogger) Warnf(format string, v ...any)  { l.t.Logf("WARN : "+format, v...) }
func (l testLogger) Errorf(format string, v ...any) { l.t.Logf("ERROR: "+format, v...) }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubClient(t *testing.T, rt roundTripFunc) Client {
	t.Helper()
	// The real transport always sets Response.Request; mirror that so code
	// relying on it works against the stub.
	withReq := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := rt(r)
		if resp != nil && resp.Request == nil {
			resp.Request = r
		}
		return resp, err
	})
	return Client{
		Client: &http.Client{Transport: withReq},
		Logger: testLogger{t},
	}
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestAffiliateLink(t *testing.T) {
	c := Client{AffiliateTag: "pricewatch-21"}
	assert.Equal(t, "https://www.amazon.it/dp/B08XYZ1234?tag=pricewatch-21", c.AffiliateLink("B08XYZ1234"))

	c.AffiliateTag = ""
	assert.Equal(t, "https://www.amazon.it/dp/B08XYZ1234", c.AffiliateLink("B08XYZ1234"))
}

func TestExtractASINBare(t *testing.T) {
	c := stubClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("bare ASIN must not hit the network, got request for %s", r.URL)
		return nil, nil
	})

	asin, productURL, ok := c.ExtractASIN(context.Background(), "  b08xyz1234 ")
	require.True(t, ok)
	assert.Equal(t, "B08XYZ1234", asin)
	assert.Equal(t, "", productURL)
}

func TestExtractASINFromURL(t *testing.T) {
	c := stubClient(t, func(r *http.Request) (*http.Response, error) {
		return textResponse(http.StatusOK, ""), nil
	})

	text := "guarda questo https://www.amazon.it/Cuffie-Bluetooth-Senza-Fili/dp/B08XYZ1234/ref=sr_1_3"
	asin, productURL, ok := c.ExtractASIN(context.Background(), text)
	require.True(t, ok)
	assert.Equal(t, "B08XYZ1234", asin)
	assert.Contains(t, productURL, "/dp/B08XYZ1234")
}

func TestExtractASINExpandsShortLink(t *testing.T) {
	c := stubClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Host == "amzn.to" {
			resp := textResponse(http.StatusMovedPermanently, "")
			resp.Header.Set("Location", "https://www.amazon.it/gp/product/B07ABCDEF1?psc=1")
			return resp, nil
		}
		return textResponse(http.StatusOK, ""), nil
	})

	asin, productURL, ok := c.ExtractASIN(context.Background(), "https://amzn.to/3xYzAbC")
	require.True(t, ok)
	assert.Equal(t, "B07ABCDEF1", asin)
	assert.Contains(t, productURL, "amazon.it")
}

func TestExtractASINRejectsNonAmazon(t *testing.T) {
	c := stubClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("non-Amazon URL must not be expanded, got request for %s", r.URL)
		return nil, nil
	})

	_, _, ok := c.ExtractASIN(context.Background(), "https://example.com/dp/B08XYZ1234")
	assert.False(t, ok)
	_, _, ok = c.ExtractASIN(context.Background(), "nessun link qui")
	assert.False(t, ok)
}

func TestNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.amazon.it/Cuffie-Bluetooth-Senza-Fili/dp/B08XYZ1234/", "Cuffie Bluetooth Senza Fili"},
		{"https://www.amazon.it/dp/B08XYZ1234/cuffie-bluetooth", "Cuffie Bluetooth"},
		{"https://www.amazon.it/s?k=x&keywords=macchina+caffe", "Macchina Caffe"},
		{"https://www.amazon.it/dp/B08XYZ1234", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nameFromURL(tt.url), tt.url)
	}
}

func TestProductNamePageTitleFallback(t *testing.T) {
	page := `<html><head><title>Amazon.it: Cuffie Bluetooth Senza Fili</title></head><body></body></html>`
	c := stubClient(t, func(r *http.Request) (*http.Response, error) {
		assert.Contains(t, r.URL.Path, "/dp/B08XYZ1234")
		return textResponse(http.StatusOK, page), nil
	})

	name := c.ProductName(context.Background(), "B08XYZ1234", "")
	assert.Equal(t, "Cuffie Bluetooth Senza Fili", name)
}

func TestProductNamePrefersURLSlug(t *testing.T) {
	c := stubClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("slug name must not hit the network")
		return nil, nil
	})

	name := c.ProductName(context.Background(), "B08XYZ1234",
		"https://www.amazon.it/Macchina-Caffe-Espresso/dp/B08XYZ1234/")
	assert.Equal(t, "Macchina Caffe Espresso", name)
}

func priceAPIServer(t *testing.T, status int, body string) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/product", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "B08XYZ1234", r.URL.Query().Get("asin"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := Client{
		Client:      srv.Client(),
		PriceAPIURL: srv.URL + "/",
		PriceAPIKey: "test-key",
		Logger:      testLogger{t},
	}
	return srv, c
}

func TestPriceAPIProduct(t *testing.T) {
	_, c := priceAPIServer(t, http.StatusOK, `{
		"status": "ok",
		"product": {
			"asin": "B08XYZ1234",
			"price_now": 89.999,
			"lowest_90": 79.99,
			"avg_90": 95.50,
			"highest_90": 119.00
		}
	}`)

	snap, err := c.PriceAPIProduct(context.Background(), "B08XYZ1234", false)
	require.NoError(t, err)
	assert.Equal(t, "90.00", snap.Current.StringFixed(2), "current price rounded to cents")
	require.NotNil(t, snap.Lowest90)
	assert.Equal(t, "79.99", snap.Lowest90.StringFixed(2))
	require.NotNil(t, snap.Average90)
	assert.Equal(t, "95.50", snap.Average90.StringFixed(2))
	require.NotNil(t, snap.Highest90)
	assert.Equal(t, "119.00", snap.Highest90.StringFixed(2))
}

func TestPriceAPIProductNotFound(t *testing.T) {
	_, c := priceAPIServer(t, http.StatusNotFound, `{"status": "not_found"}`)

	_, err := c.PriceAPIProduct(context.Background(), "B08XYZ1234", false)
	assert.ErrorIs(t, err, ErrPriceAPIProductNotFound)
}

func TestPriceAPIProductServerError(t *testing.T) {
	_, c := priceAPIServer(t, http.StatusInternalServerError, "oops")

	_, err := c.PriceAPIProduct(context.Background(), "B08XYZ1234", false)
	assert.ErrorIs(t, err, ErrPriceAPI)
	assert.NotErrorIs(t, err, ErrPriceAPIProductNotFound)
}

func TestPriceAPIProductBadStatusField(t *testing.T) {
	_, c := priceAPIServer(t, http.StatusOK, `{"status": "error", "product": null}`)

	_, err := c.PriceAPIProduct(context.Background(), "B08XYZ1234", false)
	assert.ErrorIs(t, err, ErrPriceAPI)
}

func TestPriceAPIProductMissingCurrentPrice(t *testing.T) {
	_, c := priceAPIServer(t, http.StatusOK, `{
		"status": "ok",
		"product": {"asin": "B08XYZ1234", "lowest_90": 79.99}
	}`)

	_, err := c.PriceAPIProduct(context.Background(), "B08XYZ1234", false)
	assert.ErrorIs(t, err, ErrPriceAPI)
	assert.Contains(t, err.Error(), "no current price")
}

func TestPriceAPIProductMalformedBody(t *testing.T) {
	_, c := priceAPIServer(t, http.StatusOK, `{ not json`)

	_, err := c.PriceAPIProduct(context.Background(), "B08XYZ1234", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshalling")
}

func TestPriceAPIProductNoRedisConfigured(t *testing.T) {
	// useCache with no Redis client must quietly go straight upstream.
	_, c := priceAPIServer(t, http.StatusOK, `{
		"status": "ok",
		"product": {"asin": "B08XYZ1234", "price_now": 10}
	}`)

	snap, err := c.PriceAPIProduct(context.Background(), "B08XYZ1234", true)
	require.NoError(t, err)
	assert.Equal(t, "10.00", snap.Current.StringFixed(2))
}
