// Package oauth manages the delegated-credential lifecycle: issuing
// authorization URLs, exchanging one-time codes, and resolving refreshing
// token sources for stored credentials.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/driveguard/driveguard-go/internal/store"
)

// Google OAuth2 endpoints. Kept as plain constants so tests can point the
// manager at a local server instead.
const (
	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// ScopeDriveFile grants access to files the app creates, which is all the
// transfer pipeline needs.
const ScopeDriveFile = "https://www.googleapis.com/auth/drive.file"

// ErrNoCredential is returned when a user has not completed authorization.
var ErrNoCredential = errors.New("no stored credential")

// ExchangeError wraps a failed one-time-code exchange. Nothing is persisted
// when the exchange fails.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Options configures a Manager.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides the Google endpoints (tests).
	Endpoint oauth2.Endpoint
}

// Manager issues authorization URLs and resolves stored credentials into
// live token sources. One Manager serves all users; per-user state lives in
// the credential store.
type Manager struct {
	base  oauth2.Config
	creds store.CredentialStore
}

// NewManager creates a credential lifecycle manager backed by the given
// credential store.
func NewManager(opts Options, creds store.CredentialStore) *Manager {
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = oauth2.Endpoint{AuthURL: GoogleAuthURL, TokenURL: GoogleTokenURL}
	}
	return &Manager{
		base: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
		},
		creds: creds,
	}
}

// AuthURL builds the authorization URL for a user. The user id rides along
// as the opaque state parameter, which is how the callback correlates the
// returning browser with the chat identity. Offline access is requested so
// refresh is possible without re-prompting.
func (m *Manager) AuthURL(userID string, scopes []string) string {
	cfg := m.base
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(userID, oauth2.AccessTypeOffline)
}

// Exchange trades a one-time code for a token set and persists it for the
// user. On failure nothing is stored and an *ExchangeError is returned.
func (m *Manager) Exchange(ctx context.Context, userID, code string) error {
	tok, err := m.base.Exchange(ctx, code)
	if err != nil {
		return &ExchangeError{Err: err}
	}

	cred := &store.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiryMS:     tok.Expiry.UnixMilli(),
		CreatedAt:    time.Now().Unix(),
	}
	if err := m.creds.PutCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential for %s: %w", userID, err)
	}
	return nil
}

// TokenSource resolves a user's stored credential into a token source that
// silently refreshes expired access tokens. Returns ErrNoCredential when no
// authorization has been completed; refresh failures surface when the
// source is used, never silently.
func (m *Manager) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	cred, err := m.creds.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to read credential for %s: %w", userID, err)
	}

	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       time.UnixMilli(cred.ExpiryMS),
	}
	return m.base.TokenSource(ctx, tok), nil
}

// IsAuthorized reports whether a token set exists for the user. It does not
// verify the tokens are still valid; validity is only checked on use.
func (m *Manager) IsAuthorized(ctx context.Context, userID string) bool {
	_, err := m.creds.GetCredential(ctx, userID)
	return err == nil
}
