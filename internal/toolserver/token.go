package toolserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// refreshBuffer is how close to expiry a token may get before it is
// refreshed ahead of use.
const refreshBuffer = 5 * time.Minute

// TokenPair is the persisted credential state for one tool server.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// TokenStore persists token pairs across process restarts.
type TokenStore interface {
	LoadToken(ctx context.Context, serverID string) (*TokenPair, error)
	SaveToken(ctx context.Context, serverID string, pair *TokenPair) error
}

// TokenSource hands out a valid bearer token for one server, refreshing
// through the server's token endpoint when the stored token is expired or
// inside the refresh buffer. Refreshed pairs are persisted before use so a
// crash mid-request does not orphan the new refresh token.
type TokenSource struct {
	store    TokenStore
	serverID string
	config   *oauth2.Config

	mu sync.Mutex
}

// NewTokenSource builds a token source for the given server. tokenURL is the
// server's OAuth token endpoint.
func NewTokenSource(store TokenStore, serverID, clientID, clientSecret, tokenURL string) *TokenSource {
	return &TokenSource{
		store:    store,
		serverID: serverID,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Token returns a bearer token valid for at least the refresh buffer.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, err := s.store.LoadToken(ctx, s.serverID)
	if err != nil {
		return "", fmt.Errorf("load token for %s: %w", s.serverID, err)
	}
	if pair == nil || pair.AccessToken == "" {
		return "", fmt.Errorf("no token stored for %s", s.serverID)
	}

	// Tokens without an expiry are treated as long-lived.
	if pair.Expiry.IsZero() || time.Until(pair.Expiry) > refreshBuffer {
		return pair.AccessToken, nil
	}

	if pair.RefreshToken == "" {
		return "", fmt.Errorf("token for %s expires at %s and no refresh token is stored", s.serverID, pair.Expiry.Format(time.RFC3339))
	}

	refreshed, err := s.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: pair.RefreshToken,
	}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token for %s: %w", s.serverID, err)
	}

	next := &TokenPair{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		Expiry:       refreshed.Expiry,
	}
	if next.RefreshToken == "" {
		// Servers that rotate refresh tokens return a new one; servers
		// that do not expect the old one to keep working.
		next.RefreshToken = pair.RefreshToken
	}
	if err := s.store.SaveToken(ctx, s.serverID, next); err != nil {
		return "", fmt.Errorf("persist refreshed token for %s: %w", s.serverID, err)
	}
	return next.AccessToken, nil
}

// MemTokenStore is an in-memory token store for tests and single-run CLI use.
type MemTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*TokenPair
}

func NewMemTokenStore() *MemTokenStore {
	return &MemTokenStore{tokens: make(map[string]*TokenPair)}
}

func (s *MemTokenStore) LoadToken(_ context.Context, serverID string) (*TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair, ok := s.tokens[serverID]
	if !ok {
		return nil, nil
	}
	copied := *pair
	return &copied, nil
}

func (s *MemTokenStore) SaveToken(_ context.Context, serverID string, pair *TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *pair
	s.tokens[serverID] = &copied
	return nil
}
