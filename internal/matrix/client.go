// Package matrix is a thin client for the three client-server endpoints the
// relay needs: identity lookup, backward room history, and idempotent message
// send. The room transcript doubles as the relay's durable store, so history
// and send are the only persistence surface in the whole program.
package matrix

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const clientPrefix = "/_matrix/client/v3"

// WatermarkKey is the namespaced content key carrying the watermark token on
// each delivered message. Checkpoint recovery scans for it on restart.
const WatermarkKey = "io.ghrelay.watermark"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Event is one timeline event from room history. Content is kept raw since
// humans and other bots put arbitrary shapes in there.
type Event struct {
	Type    string         `json:"type"`
	Sender  string         `json:"sender"`
	EventID string         `json:"event_id"`
	Content map[string]any `json:"content"`
}

// MessagesPage is one backward page of room history. An empty End token means
// the server has no further history.
type MessagesPage struct {
	Chunk []Event `json:"chunk"`
	End   string  `json:"end"`
}

// Client talks to one homeserver with one access token.
type Client struct {
	http    HTTPClient
	baseURL string
	token   string
}

func New(client HTTPClient, homeserver, accessToken string) *Client {
	return &Client{
		http:    client,
		baseURL: strings.TrimRight(homeserver, "/"),
		token:   accessToken,
	}
}

// WhoAmI returns the user ID the access token belongs to.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	if err := c.get(ctx, clientPrefix+"/account/whoami", &out); err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	if out.UserID == "" {
		return "", fmt.Errorf("whoami: empty user_id in response")
	}
	return out.UserID, nil
}

// Messages reads one page of room history, newest first. Pass the previous
// page's End token as from to continue paging.
func (c *Client) Messages(ctx context.Context, roomID, from string, limit int) (*MessagesPage, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("dir", "b")
	q.Set("limit", strconv.Itoa(limit))
	if from != "" {
		q.Set("from", from)
	}
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	var page MessagesPage
	if err := c.get(ctx, path, &page); err != nil {
		return nil, fmt.Errorf("room messages: %w", err)
	}
	return &page, nil
}

// SendMessage sends one m.room.message event. The transaction ID is the
// idempotency key: the homeserver deduplicates a retried PUT with the same
// txnID, so deterministic IDs give at-most-one visible message per event.
func (c *Client) SendMessage(ctx context.Context, roomID, txnID string, content map[string]any) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) +
		"/send/m.room.message/" + url.PathEscape(txnID)
	if err := c.put(ctx, path, content); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendNotice posts a plain m.notice line with a random transaction ID. Used
// by the room log sink; notices are deliberately not m.text so checkpoint
// recovery skips them.
func (c *Client) SendNotice(ctx context.Context, roomID, body string) error {
	return c.SendMessage(ctx, roomID, randomTxnID(), map[string]any{
		"msgtype": "m.notice",
		"body":    body,
	})
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, errcode(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errcode extracts the standard error shape {"errcode": ..., "error": ...}
// for readable log lines, falling back to a truncated raw body.
func errcode(body []byte) string {
	var e struct {
		Errcode string `json:"errcode"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Errcode != "" {
		return e.Errcode + ": " + e.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func randomTxnID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "ghrelay." + hex.EncodeToString(b[:])
}
