package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
)

const authBasePath = "/auth/v1"

// Client talks to the Supabase GoTrue auth API.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	anonKey string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a client for the given Supabase project URL and anon key.
func New(rawURL, anonKey string, opts ...Option) (*Client, error) {
	if rawURL == "" || anonKey == "" {
		return nil, errors.New("supabase url and anon key required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	c := &Client{
		http:    http.DefaultClient,
		baseURL: u,
		anonKey: anonKey,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Session is an authenticated Supabase session.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// User is the Supabase auth user record.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at,omitempty"`
}

// AuthError is a non-2xx response from the auth service.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s (status %d)", e.Message, e.Status)
}

// gotrueError covers the error body shapes GoTrue has used over time.
type gotrueError struct {
	Msg         string `json:"msg"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) do(ctx context.Context, method, p string, q url.Values, body any, bearer string, out any) error {
	u := *c.baseURL
	u.Path = path.Join(u.Path, authBasePath, p)
	if q != nil {
		u.RawQuery = q.Encode()
	}

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
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		var ge gotrueError
		_ = json.Unmarshal(raw, &ge)
		msg := ge.Msg
		if msg == "" {
			msg = ge.Description
		}
		if msg == "" {
			msg = ge.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return &AuthError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn exchanges an email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	q := url.Values{"grant_type": {"password"}}
	var s Session
	if err := c.do(ctx, http.MethodPost, "token", q, credentials{email, password}, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SignUp registers a new user. When email confirmation is enabled the
// returned session has no access token and only the user is populated.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var resp struct {
		Session
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.do(ctx, http.MethodPost, "signup", nil, credentials{email, password}, "", &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken != "" {
		return &resp.Session, nil
	}
	return &Session{User: User{ID: resp.ID, Email: resp.Email}}, nil
}

// SignOut revokes the session behind the access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "logout", nil, nil, accessToken, nil)
}

// CurrentUser fetches the user record for an access token.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "user", nil, nil, accessToken, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePassword sets a new password for the signed-in user.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) (*User, error) {
	body := map[string]string{"password": newPassword}
	var u User
	if err := c.do(ctx, http.MethodPut, "user", nil, body, accessToken, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Recover sends a password recovery email.
func (c *Client) Recover(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, "recover", nil, body, "", nil)
}
