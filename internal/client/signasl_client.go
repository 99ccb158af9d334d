package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/signcast/api/internal/config"
)

// SignLookup finds candidate sign-language clip URLs for a normalized token
type SignLookup interface {
	Lookup(ctx context.Context, token string) ([]string, error)
}

// SignASLClient implements SignLookup against signasl.org.
// The JSON endpoint is tried first on every base; the HTML sign page is
// scraped only when no base returned anything.
type SignASLClient struct {
	httpClient *http.Client
	baseURLs   []string
	userAgent  string
	limiter    *rate.Limiter
}

type signASLItem struct {
	VideoURL string `json:"video_url"`
}

// NewSignASLClient creates a new SignASL lookup client
func NewSignASLClient(cfg *config.SignASLConfig) *SignASLClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	bases := cfg.BaseURLs
	if len(bases) == 0 {
		bases = []string{"https://www.signasl.org/", "https://signasl.org/"}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	return &SignASLClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURLs:   normalizeBases(bases),
		userAgent:  ua,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Lookup returns absolute clip URLs for token, de-duplicated and ordered by
// container preference. An error is returned only when every request failed,
// so callers can tell "no sign exists" from "the source is unreachable".
func (c *SignASLClient) Lookup(ctx context.Context, token string) ([]string, error) {
	if token == "" {
		return nil, nil
	}

	var found []string
	var lastErr error
	succeeded := 0

	for _, base := range c.baseURLs {
		urls, err := c.lookupJSON(ctx, base, token)
		if err != nil {
			log.Printf("[SignASL] JSON lookup %s failed for %q: %v", base, token, err)
			lastErr = err
			continue
		}
		succeeded++
		found = append(found, urls...)
	}
	if len(found) > 0 {
		return RankClipURLs(found), nil
	}

	for _, base := range c.baseURLs {
		urls, err := c.scrapePage(ctx, base, token)
		if err != nil {
			log.Printf("[SignASL] HTML scrape %s failed for %q: %v", base, token, err)
			lastErr = err
			continue
		}
		succeeded++
		found = append(found, urls...)
	}

	if len(found) == 0 && succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return RankClipURLs(found), nil
}

// SignPageURL returns the page a clip for token is published on.
func (c *SignASLClient) SignPageURL(token string) string {
	return SignPageURL(c.baseURLs[0], token)
}

// SignPageURL joins a SignASL base and a token into the sign page URL.
func SignPageURL(base, token string) string {
	return strings.TrimRight(base, "/") + "/sign/" + url.PathEscape(token)
}

func (c *SignASLClient) lookupJSON(ctx context.Context, base, token string) ([]string, error) {
	body, status, err := c.get(ctx, strings.TrimRight(base, "/")+"/api/sign/"+url.PathEscape(token))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("signasl API error (status %d)", status)
	}

	var items []signASLItem
	if err := json.Unmarshal(body, &items); err != nil {
		// the endpoint answers with an object or HTML when it has nothing
		return nil, nil
	}

	var urls []string
	for _, item := range items {
		if item.VideoURL == "" {
			continue
		}
		if abs, ok := resolveURL(base, item.VideoURL); ok {
			urls = append(urls, abs)
		}
	}
	return urls, nil
}

func (c *SignASLClient) scrapePage(ctx context.Context, base, token string) ([]string, error) {
	body, status, err := c.get(ctx, SignPageURL(base, token))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("signasl page error (status %d)", status)
	}
	return ExtractVideoSources(base, bytes.NewReader(body)), nil
}

func (c *SignASLClient) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// ExtractVideoSources collects src and data-src attributes that point at
// playable media from an HTML document, resolved against base.
func ExtractVideoSources(base string, r io.Reader) []string {
	var urls []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return urls
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			for _, attr := range tok.Attr {
				if attr.Key != "src" && attr.Key != "data-src" {
					continue
				}
				if mediaScore(attr.Val) == 0 {
					continue
				}
				if abs, ok := resolveURL(base, attr.Val); ok {
					urls = append(urls, abs)
				}
			}
		}
	}
}

// RankClipURLs removes duplicates and orders URLs mp4 > webm > m3u8,
// keeping discovery order among equals.
func RankClipURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return mediaScore(out[i]) > mediaScore(out[j])
	})
	return out
}

func mediaScore(rawURL string) int {
	p := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil {
		p = strings.ToLower(u.Path)
	}
	switch {
	case strings.HasSuffix(p, ".mp4"):
		return 3
	case strings.HasSuffix(p, ".webm"):
		return 2
	case strings.Contains(p, ".m3u8"):
		return 1
	default:
		return 0
	}
}

func resolveURL(base, ref string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	abs := b.ResolveReference(r)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

func normalizeBases(bases []string) []string {
	out := make([]string, 0, len(bases))
	for _, b := range bases {
		if !strings.HasSuffix(b, "/") {
			b += "/"
		}
		out = append(out, b)
	}
	return out
}
