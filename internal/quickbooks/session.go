package quickbooks

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// SessionProvider yields an authenticated HTTP client for a company (realm)
type SessionProvider interface {
	HTTPClient(ctx context.Context, companyID string) (*http.Client, error)
}

// OAuthSessions builds refresh-token backed clients per realm.
// Token sources are cached so access tokens are reused until they expire.
type OAuthSessions struct {
	config        *oauth2.Config
	refreshTokens map[string]string
	timeout       time.Duration

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewOAuthSessions creates a session provider for the Intuit OAuth2 endpoint
func NewOAuthSessions(clientID, clientSecret, tokenURL string, refreshTokens map[string]string, timeout time.Duration) *OAuthSessions {
	return &OAuthSessions{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: []string{"com.intuit.quickbooks.accounting"},
		},
		refreshTokens: refreshTokens,
		timeout:       timeout,
		sources:       map[string]oauth2.TokenSource{},
	}
}

// HTTPClient returns a client that injects a fresh bearer token per request
func (s *OAuthSessions) HTTPClient(ctx context.Context, companyID string) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[companyID]
	if !ok {
		refresh, found := s.refreshTokens[companyID]
		if !found {
			return nil, fmt.Errorf("no quickbooks session for company %s", companyID)
		}
		// The token source outlives the request, so it must not capture ctx.
		base := s.config.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refresh})
		src = oauth2.ReuseTokenSource(nil, base)
		s.sources[companyID] = src
	}

	client := oauth2.NewClient(ctx, src)
	client.Timeout = s.timeout
	return client, nil
}

// StaticSessions hands out the same client for every company; used with
// pre-authorized transports and in tests.
type StaticSessions struct {
	Client *http.Client
}

func (s StaticSessions) HTTPClient(_ context.Context, _ string) (*http.Client, error) {
	if s.Client == nil {
		return http.DefaultClient, nil
	}
	return s.Client, nil
}
