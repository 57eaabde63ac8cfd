package oauth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/driveguard/driveguard-go/internal/oauth"
	"github.com/driveguard/driveguard-go/internal/store"
	"github.com/driveguard/driveguard-go/internal/store/testutil"
)

func newManager(t *testing.T, tokenHandler http.HandlerFunc) (*oauth.Manager, *testutil.Mem) {
	t.Helper()
	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)

	mem := testutil.NewMem()
	m := oauth.NewManager(oauth.Options{
		ClientID:     "cid",
		ClientSecret: "csec",
		RedirectURL:  "http://localhost:8080/oauth2callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  srv.URL + "/auth",
			TokenURL: srv.URL + "/token",
		},
	}, mem)
	return m, mem
}

func TestAuthURL(t *testing.T) {
	m, _ := newManager(t, nil)

	raw := m.AuthURL("U2", []string{oauth.ScopeDriveFile})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("state") != "U2" {
		t.Errorf("state = %q, want the user id", q.Get("state"))
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if !strings.Contains(q.Get("scope"), "drive.file") {
		t.Errorf("scope = %q, want drive.file", q.Get("scope"))
	}
	if q.Get("redirect_uri") == "" {
		t.Error("redirect_uri missing")
	}
}

func TestExchangePersistsCredential(t *testing.T) {
	m, mem := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
	})

	ctx := context.Background()
	if m.IsAuthorized(ctx, "U2") {
		t.Fatal("authorized before exchange")
	}
	if err := m.Exchange(ctx, "U2", "one-time-code"); err != nil {
		t.Fatal(err)
	}
	if !m.IsAuthorized(ctx, "U2") {
		t.Error("not authorized after exchange")
	}

	cred, err := mem.GetCredential(ctx, "U2")
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken != "at-1" || cred.RefreshToken != "rt-1" {
		t.Errorf("stored credential = %+v", cred)
	}
	if cred.ExpiryMS <= time.Now().UnixMilli() {
		t.Error("expiry should be in the future")
	}
}

func TestExchangeFailurePersistsNothing(t *testing.T) {
	m, mem := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})

	ctx := context.Background()
	err := m.Exchange(ctx, "U2", "bad-code")
	var exchErr *oauth.ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("got %v, want *ExchangeError", err)
	}
	if _, err := mem.GetCredential(ctx, "U2"); !errors.Is(err, store.ErrNotFound) {
		t.Error("failed exchange must not persist a credential")
	}
}

func TestTokenSourceAbsent(t *testing.T) {
	m, _ := newManager(t, nil)
	_, err := m.TokenSource(context.Background(), "U404")
	if !errors.Is(err, oauth.ErrNoCredential) {
		t.Errorf("got %v, want ErrNoCredential", err)
	}
}

func TestTokenSourceUsesStoredToken(t *testing.T) {
	m, mem := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("valid token must not trigger a refresh round-trip")
	})

	ctx := context.Background()
	cred := testutil.TestCredential("U2")
	if err := mem.PutCredential(ctx, cred); err != nil {
		t.Fatal(err)
	}

	ts, err := m.TokenSource(ctx, "U2")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != cred.AccessToken {
		t.Errorf("access token = %q, want stored token", tok.AccessToken)
	}
}

func TestTokenSourceRefreshesExpired(t *testing.T) {
	var sawRefresh bool
	m, mem := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "1//test-refresh" {
			t.Errorf("refresh_token = %q", r.Form.Get("refresh_token"))
		}
		sawRefresh = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-refreshed","token_type":"Bearer","expires_in":3600}`))
	})

	ctx := context.Background()
	cred := testutil.TestCredential("U2")
	cred.ExpiryMS = time.Now().Add(-time.Hour).UnixMilli()
	if err := mem.PutCredential(ctx, cred); err != nil {
		t.Fatal(err)
	}

	ts, err := m.TokenSource(ctx, "U2")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatal(err)
	}
	if !sawRefresh {
		t.Error("expired token should refresh")
	}
	if tok.AccessToken != "at-refreshed" {
		t.Errorf("access token = %q", tok.AccessToken)
	}
}

func TestTokenSourceRefreshFailureSurfaces(t *testing.T) {
	m, mem := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})

	ctx := context.Background()
	cred := testutil.TestCredential("U2")
	cred.ExpiryMS = time.Now().Add(-time.Hour).UnixMilli()
	if err := mem.PutCredential(ctx, cred); err != nil {
		t.Fatal(err)
	}

	ts, err := m.TokenSource(ctx, "U2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Token(); err == nil {
		t.Error("refresh failure must surface, not be absorbed")
	}
}
