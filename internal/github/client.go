// Package github is a thin client for the two notification endpoints the
// relay needs: the conditional notifications list and resolving an API
// resource to its human-facing page.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

const userAgent = "ghrelay/1.0"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notification is one item from the notifications feed. Identity for
// delivery purposes is the pair (ID, UpdatedAt): the same ID reappears with a
// newer timestamp when the thread keeps changing, and that counts as a new
// event.
type Notification struct {
	ID         string     `json:"id"`
	Reason     string     `json:"reason"`
	Unread     bool       `json:"unread"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Subject    Subject    `json:"subject"`
	Repository Repository `json:"repository"`
}

type Subject struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

type Repository struct {
	FullName string `json:"full_name"`
}

// Page is the outcome of one notifications poll. Exactly one of the two
// shapes applies: NotModified true (nothing else meaningful except
// PollInterval), or a normal page with Notifications and LastModified.
type Page struct {
	NotModified   bool
	Notifications []Notification
	// LastModified is the opaque watermark token: the Last-Modified header
	// value, echoed verbatim as If-Modified-Since on the next poll.
	LastModified string
	// PollInterval is the server-suggested delay before the next poll,
	// zero when the server did not suggest one.
	PollInterval time.Duration
}

// RateLimitError marks a poll rejected for quota reasons. The loop treats it
// the same as any transient failure, but the status is useful in logs.
type RateLimitError struct {
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github: rate limited (status %d)", e.StatusCode)
}

// Client talks to the hosting platform's REST API for one account.
type Client struct {
	http    HTTPClient
	baseURL string
	token   string
}

func New(client HTTPClient, token string) *Client {
	return &Client{http: client, baseURL: defaultBaseURL, token: token}
}

// NewWithBaseURL is used by tests and enterprise installs.
func NewWithBaseURL(client HTTPClient, token, baseURL string) *Client {
	return &Client{http: client, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// ListNotifications fetches the authenticated user's notification feed.
// A non-empty since is sent as If-Modified-Since so the server may answer
// 304 when nothing changed.
func (c *Client) ListNotifications(ctx context.Context, since string) (*Page, error) {
	req, err := c.newRequest(ctx, c.baseURL+"/notifications")
	if err != nil {
		return nil, err
	}
	if since != "" {
		req.Header.Set("If-Modified-Since", since)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	page := &Page{
		LastModified: resp.Header.Get("Last-Modified"),
		PollInterval: pollInterval(resp.Header.Get("X-Poll-Interval")),
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		page.NotModified = true
		return page, nil
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, &RateLimitError{StatusCode: resp.StatusCode}
	default:
		return nil, fmt.Errorf("list notifications: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read notifications body: %w", err)
	}
	if err := json.Unmarshal(body, &page.Notifications); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return page, nil
}

// ResolveHTMLURL looks up an API resource and returns its html_url field.
// Used as the link resolver's fallback for subject types without a known URL
// shape; failures (e.g. missing scope on a private resource) propagate.
func (c *Client) ResolveHTMLURL(ctx context.Context, apiURL string) (string, error) {
	req, err := c.newRequest(ctx, apiURL)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", apiURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve %s: unexpected status %d", apiURL, resp.StatusCode)
	}

	var out struct {
		HTMLURL string `json:"html_url"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("resolve %s: read body: %w", apiURL, err)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("resolve %s: decode: %w", apiURL, err)
	}
	if out.HTMLURL == "" {
		return "", fmt.Errorf("resolve %s: no html_url in response", apiURL)
	}
	return out.HTMLURL, nil
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func pollInterval(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
