package client

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pricewatch/internal/misc"
)

var (
	urlRe       = regexp.MustCompile(`(?i)https?://\S+`)
	amazonRe    = regexp.MustCompile(`(?i)(amzn\.|amazon\.)`)
	asinPathRe  = regexp.MustCompile(`(?i)/(?:dp|gp/product|product)/([A-Z0-9]{10})(?:[/?#]|$)`)
	bareASINRe  = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	dpSlugRe    = regexp.MustCompile(`(?i)/dp/[^/]+/([^/?#]+)`)
	preDPSlugRe = regexp.MustCompile(`(?i)amazon\.[^/]+/([^/]+)/dp/`)
	keywordsRe  = regexp.MustCompile(`(?i)[?&]keywords=([^&]+)`)
)

// AffiliateLink builds the buy link for an ASIN with the configured
// affiliate tag.
func (c Client) AffiliateLink(asin string) string {
	link := "https://www.amazon.it/dp/" + asin
	if c.AffiliateTag != "" {
		link += "?tag=" + c.AffiliateTag
	}
	return link
}

// ExtractASIN pulls an ASIN out of free text: a bare 10-character ASIN, or
// the first Amazon URL in the text, expanding amzn.to style short links by
// following redirects first.
func (c Client) ExtractASIN(ctx context.Context, text string) (asin string, productURL string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if bareASINRe.MatchString(strings.ToUpper(trimmed)) {
		return strings.ToUpper(trimmed), "", true
	}

	u := urlRe.FindString(text)
	if u == "" || !amazonRe.MatchString(u) {
		return "", "", false
	}
	u = c.expandAmazonURL(ctx, u)

	m := asinPathRe.FindStringSubmatch(u)
	if m == nil {
		return "", "", false
	}
	return strings.ToUpper(m[1]), u, true
}

// expandAmazonURL follows short-link redirects and returns the final URL.
// Any failure returns the input unchanged; the caller just loses the
// nicer product slug.
func (c Client) expandAmazonURL(ctx context.Context, rawURL string) string {
	req, err := newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return rawURL
	}
	resp, err := c.Do(req)
	if err != nil {
		c.Logger.Debugf("expandAmazonURL: Error expanding URL: %s, err: %v", rawURL, err)
		return rawURL
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.Request.URL.String()
}

// ProductName derives a human display name for an ASIN: from the URL slug
// when the link carries one, otherwise from the product page title.
func (c Client) ProductName(ctx context.Context, asin string, productURL string) string {
	if productURL != "" {
		if name := nameFromURL(productURL); name != "" {
			return name
		}
	}
	if name, err := c.productPageTitle(ctx, asin); err != nil {
		c.Logger.Debugf("ProductName: Error getting page title for ASIN: %s, err: %v", asin, err)
	} else if name != "" {
		return name
	}
	return ""
}

func nameFromURL(productURL string) string {
	if m := dpSlugRe.FindStringSubmatch(productURL); m != nil {
		return cleanName(m[1])
	}
	if m := preDPSlugRe.FindStringSubmatch(productURL); m != nil {
		return cleanName(m[1])
	}
	if m := keywordsRe.FindStringSubmatch(productURL); m != nil {
		return cleanName(strings.ReplaceAll(m[1], "+", " "))
	}
	return ""
}

var nameSepRe = regexp.MustCompile(`[-_/]+`)
var spaceRe = regexp.MustCompile(`\s+`)

func cleanName(s string) string {
	s = nameSepRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	s = cases.Title(language.Italian).String(strings.ToLower(s))
	return misc.StringLimit(s, 60)
}

func (c Client) productPageTitle(ctx context.Context, asin string) (string, error) {
	pageURL := "https://www.amazon.it/dp/" + asin
	req, err := newRequest(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("product page status: %s", resp.Status)
	}

	doc, err := html.Parse(http.MaxBytesReader(nil, resp.Body, 1024*1024))
	if err != nil {
		return "", err
	}
	title := findTitle(doc)
	title = strings.TrimSpace(strings.TrimPrefix(title, "Amazon.it:"))
	return misc.StringLimit(spaceRe.ReplaceAllString(title, " "), 60), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return n.FirstChild.Data
		}
		return ""
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if t := findTitle(child); t != "" {
			return t
		}
	}
	return ""
}
