// Package analogy is the client for the analogy generation backend.
package analogy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

const DefaultBaseURL = "http://localhost:8000"

// defaultTimeout covers generation calls, which run a language model
// and three image generations back to back.
const defaultTimeout = 2 * time.Minute

// Client talks to the backend REST API.
type Client struct {
	http    *http.Client
	baseURL *url.URL
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(rawURL string, opts ...Option) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultBaseURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	c := &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s (status %d)", e.Detail, e.Status)
}

func (c *Client) doJSON(ctx context.Context, method, p, token string, body, out any) error {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var fe struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, &fe)
		if fe.Detail == "" {
			fe.Detail = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Detail: fe.Detail}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Generate asks the backend for a new analogy. Slow call; the caller's
// context bounds it.
func (c *Client) Generate(ctx context.Context, token, topic, audience, userID string) (*Analogy, error) {
	body := map[string]string{
		"topic":    topic,
		"audience": audience,
		"user_id":  userID,
	}
	var env analogyEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/generate-analogy", token, body, &env); err != nil {
		return nil, err
	}
	return env.toAnalogy(), nil
}

// Get fetches one analogy by ID.
func (c *Client) Get(ctx context.Context, token, id string) (*Analogy, error) {
	var env analogyEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/analogy/"+id, token, nil, &env); err != nil {
		return nil, err
	}
	return env.toAnalogy(), nil
}

// ListByUser returns the user's analogies, newest first.
func (c *Client) ListByUser(ctx context.Context, token, userID string) ([]Analogy, error) {
	var out struct {
		Status    string    `json:"status"`
		Analogies []Analogy `json:"analogies"`
		Count     int       `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/user/"+userID+"/analogies", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Analogies, nil
}

// Delete removes an analogy and its stored images.
func (c *Client) Delete(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/analogy/"+id, token, nil, nil)
}

// Streak returns the user's current daily streak. The backend resets
// broken streaks as a side effect of this call.
func (c *Client) Streak(ctx context.Context, token, userID string) (*Streak, error) {
	var s Streak
	if err := c.doJSON(ctx, http.MethodGet, "/user/"+userID+"/streak", token, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Count returns how many analogies the user currently has.
func (c *Client) Count(ctx context.Context, token, userID string) (int, error) {
	var out struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/user/"+userID+"/analogies-count", token, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// LifetimeCount returns how many analogies the user has ever generated,
// including deleted ones.
func (c *Client) LifetimeCount(ctx context.Context, token, userID string) (int, error) {
	var out struct {
		Status        string `json:"status"`
		LifetimeCount int    `json:"lifetime_count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/user/"+userID+"/lifetime-analogies-count", token, nil, &out); err != nil {
		return 0, err
	}
	return out.LifetimeCount, nil
}
