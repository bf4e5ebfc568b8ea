// Package fetch downloads external reference content over HTTP for the
// context-gathering advisor, with GitHub URL normalization and a TTL cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// maxBodyBytes caps a fetched document.
const maxBodyBytes = 8 * 1024 * 1024

// githubBlobPattern matches GitHub blob/tree paths:
// /{owner}/{repo}/{blob|tree}/{ref}/{path...}
var githubBlobPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)(?:/(.*))?$`)

// ConvertToRawURL rewrites a GitHub blob URL to its raw.githubusercontent.com
// form. Unrecognized URLs pass through unchanged.
func ConvertToRawURL(reference string) string {
	parsed, err := url.Parse(reference)
	if err != nil {
		return reference
	}
	if parsed.Host == "raw.githubusercontent.com" {
		return reference
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return reference
	}
	matches := githubBlobPattern.FindStringSubmatch(parsed.Path)
	if matches == nil {
		return reference
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s",
		matches[1], matches[2], matches[4], matches[5])
}

// ValidateURL checks scheme and, when configured, a domain allowlist.
func ValidateURL(reference string, allowedDomains []string) error {
	parsed, err := url.Parse(reference)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}
	if len(allowedDomains) == 0 {
		return nil
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range allowedDomains {
		if host == domain || host == "www."+domain {
			return nil
		}
	}
	return fmt.Errorf("domain %q not in allowed list", host)
}

// Client fetches reference content. Safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	token          string
	cache          *Cache
	allowedDomains []string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Token is sent as a bearer credential when non-empty (private GitHub
	// content).
	Token string
	// CacheTTL enables response caching when positive.
	CacheTTL time.Duration
	// AllowedDomains restricts fetchable hosts when non-empty.
	AllowedDomains []string
	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration
}

// NewClient creates a fetch client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		token:          cfg.Token,
		allowedDomains: cfg.AllowedDomains,
	}
	if cfg.CacheTTL > 0 {
		c.cache = NewCache(cfg.CacheTTL)
	}
	return c
}

// Fetch downloads the reference, normalizing GitHub blob URLs to raw form.
func (c *Client) Fetch(ctx context.Context, reference string) (string, error) {
	if err := ValidateURL(reference, c.allowedDomains); err != nil {
		return "", err
	}

	target := ConvertToRawURL(reference)
	if c.cache != nil {
		if content, ok := c.cache.Get(target); ok {
			return content, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	content := string(body)
	if c.cache != nil {
		c.cache.Set(target, content)
	}
	return content, nil
}
