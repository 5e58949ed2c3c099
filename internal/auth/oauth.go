package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleOAuth drives the Google sign-in flow.
type GoogleOAuth struct {
	cfg         *oauth2.Config
	userinfoURL string
}

type GoogleOption func(*GoogleOAuth)

// WithGoogleEndpoint overrides the provider endpoints, for tests.
func WithGoogleEndpoint(e oauth2.Endpoint, userinfoURL string) GoogleOption {
	return func(g *GoogleOAuth) {
		g.cfg.Endpoint = e
		g.userinfoURL = userinfoURL
	}
}

// NewGoogleOAuth wires an OAuth config for Google sign-in. redirectURL
// must match one of the authorized redirect URIs on the Google client.
func NewGoogleOAuth(clientID, clientSecret, redirectURL string, opts ...GoogleOption) *GoogleOAuth {
	g := &GoogleOAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userinfoURL: defaultUserinfoURL,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AuthCodeURL returns the Google consent page URL for a signed state.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

// Identity is the subset of the OpenID userinfo response we use.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// Exchange trades the callback code for tokens and fetches the
// signed-in user's identity.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	client := g.cfg.Client(ctx, tok)
	resp, err := client.Get(g.userinfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: unexpected status %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if id.Subject == "" || id.Email == "" {
		return nil, fmt.Errorf("userinfo missing subject or email")
	}
	return &id, nil
}
