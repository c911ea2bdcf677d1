package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution"
	"github.com/handout-dev/handout/internal/distribution/service"
	bboltstore "github.com/handout-dev/handout/internal/storage/bbolt"
)

type testWeb struct {
	handler  http.Handler
	ledger   *service.Ledger
	sessions *auth.Sessions
	store    *bboltstore.Store
}

func newTestWeb(t *testing.T, oauthConfig auth.OAuthConfig) *testWeb {
	t.Helper()
	store, err := bboltstore.Open(filepath.Join(t.TempDir(), "handout.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if oauthConfig.ClientID == "" {
		oauthConfig = auth.OAuthConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			AuthorizeURL: "https://provider.example/oauth2/authorize",
			TokenURL:     "https://provider.example/oauth2/token",
			UserInfoURL:  "https://provider.example/oauth2/userinfo",
			CallbackURL:  "https://handout.example/oauth2/callback",
		}
	}

	ledger := service.NewLedger(store, store, false)
	sessions, err := auth.NewSessions(store, 0)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	oauth, err := auth.NewOAuthClient(oauthConfig)
	if err != nil {
		t.Fatalf("new oauth client: %v", err)
	}
	_, handler, err := NewHandler(ledger, sessions, oauth, false)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &testWeb{handler: handler, ledger: ledger, sessions: sessions, store: store}
}

func (tw *testWeb) signIn(t *testing.T, identity auth.Identity) *http.Cookie {
	t.Helper()
	session, err := tw.sessions.Create(context.Background(), identity)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: session.Token}
}

func (tw *testWeb) seedDistribution(t *testing.T, content []string, minTrust, maxTrust int) distribution.Distribution {
	t.Helper()
	dist, err := tw.ledger.CreateDistribution(context.Background(), distribution.CreateDistributionInput{
		Title:         "Beta keys",
		Description:   "first come first served",
		Content:       content,
		MinTrustLevel: minTrust,
		MaxTrustLevel: maxTrust,
	}, 99)
	if err != nil {
		t.Fatalf("seed distribution: %v", err)
	}
	return dist
}

func TestHomeAnonymous(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})

	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Sign in") {
		t.Fatalf("expected sign-in link, got %q", rec.Body.String())
	}
}

func TestHomeSignedInShowsDistributionsAndClaims(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})
	creator := auth.Identity{ID: 99, Username: "creator", TrustLevel: 3, Active: true}
	cookie := tw.signIn(t, creator)
	dist := tw.seedDistribution(t, []string{"key-a", "key-b"}, 0, 4)

	if _, err := tw.ledger.AttemptClaim(context.Background(), dist.ID, &creator, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Beta keys") {
		t.Fatal("expected created distribution in home page")
	}
	if !strings.Contains(body, "key-a") {
		t.Fatal("expected claimed item in home page")
	}
}

func TestLoginRedirectsToProvider(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})

	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if location.Host != "provider.example" {
		t.Fatalf("redirect host = %q", location.Host)
	}
	if location.Query().Get("state") == "" {
		t.Fatal("expected a state parameter")
	}
}

func TestOAuthCallbackCompletesSignIn(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "token-abc"})
		case "/userinfo":
			json.NewEncoder(w).Encode(auth.Identity{ID: 7, Username: "ada", TrustLevel: 2, Active: true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer provider.Close()

	tw := newTestWeb(t, auth.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthorizeURL: provider.URL + "/authorize",
		TokenURL:     provider.URL + "/token",
		UserInfoURL:  provider.URL + "/userinfo",
		CallbackURL:  "https://handout.example/oauth2/callback",
	})

	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse login redirect: %v", err)
	}
	state := location.Query().Get("state")

	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2/callback?state="+state+"&code=auth-code", nil))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	var sessionCookie *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			sessionCookie = cookie
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatal("expected a session cookie")
	}

	session, ok, err := tw.sessions.Resolve(context.Background(), sessionCookie.Value)
	if err != nil || !ok {
		t.Fatalf("resolve session: ok=%v err=%v", ok, err)
	}
	if session.Identity.ID != 7 || session.Identity.Username != "ada" {
		t.Fatalf("identity mismatch: %+v", session.Identity)
	}
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})

	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2/callback?state=forged&code=auth-code", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})
	cookie := tw.signIn(t, auth.Identity{ID: 1, Username: "ada", TrustLevel: 2})

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if _, ok, _ := tw.sessions.Resolve(context.Background(), cookie.Value); ok {
		t.Fatal("expected session to be deleted")
	}
}

func TestCreateDistributionRequiresSignIn(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})

	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/create-distribution", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("status = %d location = %q, want redirect to /login", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create-distribution", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
}

func TestCreateDistributionPersistsAndRedirects(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})
	cookie := tw.signIn(t, auth.Identity{ID: 5, Username: "ada", TrustLevel: 3})

	form := url.Values{
		"title":           {"Beta keys"},
		"description":     {"one per person"},
		"content":         {"key-a\nkey-b\n\nkey-c"},
		"min_trust_level": {"1"},
		"max_trust_level": {"3"},
	}
	req := httptest.NewRequest(http.MethodPost, "/create-distribution", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "/distribution/") {
		t.Fatalf("location = %q", location)
	}

	dist, err := tw.ledger.GetDistribution(context.Background(), strings.TrimPrefix(location, "/distribution/"))
	if err != nil {
		t.Fatalf("get distribution: %v", err)
	}
	if len(dist.Content) != 3 {
		t.Fatalf("content = %v, want 3 items", dist.Content)
	}
	if dist.CreatedBy != 5 {
		t.Fatalf("created by = %d, want 5", dist.CreatedBy)
	}
}

func TestCreateDistributionValidationFailureKeepsForm(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})
	cookie := tw.signIn(t, auth.Identity{ID: 5, Username: "ada", TrustLevel: 3})

	form := url.Values{
		"title":           {""},
		"content":         {"key-a"},
		"min_trust_level": {"0"},
		"max_trust_level": {"4"},
	}
	req := httptest.NewRequest(http.MethodPost, "/create-distribution", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "A title is required.") {
		t.Fatal("expected validation message")
	}
	if !strings.Contains(rec.Body.String(), "key-a") {
		t.Fatal("expected sticky content value")
	}
}

func TestDistributionDetailNotFound(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})

	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/distribution/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDistributionDetailShowsClaimButtonWhenEligible(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})
	cookie := tw.signIn(t, auth.Identity{ID: 1, Username: "ada", TrustLevel: 2})
	dist := tw.seedDistribution(t, []string{"key-a"}, 0, 4)

	req := httptest.NewRequest(http.MethodGet, "/distribution/"+dist.ID, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Claim an item") {
		t.Fatal("expected claim button")
	}
	if strings.Contains(rec.Body.String(), "key-a") {
		t.Fatal("item content must not leak before a claim")
	}
}

func TestDistributionDetailShowsHeldItemOnlyToOwner(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})
	owner := auth.Identity{ID: 1, Username: "ada", TrustLevel: 2}
	ownerCookie := tw.signIn(t, owner)
	otherCookie := tw.signIn(t, auth.Identity{ID: 2, Username: "brie", TrustLevel: 2})
	dist := tw.seedDistribution(t, []string{"key-a", "key-b"}, 0, 4)

	if _, err := tw.ledger.AttemptClaim(context.Background(), dist.ID, &owner, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/distribution/"+dist.ID, nil)
	req.AddCookie(ownerCookie)
	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "key-a") {
		t.Fatal("expected owner to see the held item")
	}

	req = httptest.NewRequest(http.MethodGet, "/distribution/"+dist.ID, nil)
	req.AddCookie(otherCookie)
	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)
	if strings.Contains(rec.Body.String(), "key-a") {
		t.Fatal("another viewer must not see the held item")
	}
}

func TestClaimItemOutcomes(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})
	dist := tw.seedDistribution(t, []string{"key-a"}, 1, 3)

	claimURL := "/distribution/" + dist.ID

	// Anonymous: unauthorized.
	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, claimURL, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous claim: status = %d, want 401", rec.Code)
	}

	// Trust level outside the range: forbidden.
	lowTrust := tw.signIn(t, auth.Identity{ID: 10, Username: "new", TrustLevel: 0})
	req := httptest.NewRequest(http.MethodPost, claimURL, nil)
	req.AddCookie(lowTrust)
	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("low trust claim: status = %d, want 403", rec.Code)
	}

	// Eligible: claimed, redirect to the detail page.
	eligible := tw.signIn(t, auth.Identity{ID: 11, Username: "ada", TrustLevel: 2})
	req = httptest.NewRequest(http.MethodPost, claimURL, nil)
	req.AddCookie(eligible)
	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/distribution/"+dist.ID {
		t.Fatalf("eligible claim: status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}

	// Repeat: already held, still a redirect.
	req = httptest.NewRequest(http.MethodPost, claimURL, nil)
	req.AddCookie(eligible)
	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("repeat claim: status = %d, want 303", rec.Code)
	}

	// Exhausted: conflict.
	late := tw.signIn(t, auth.Identity{ID: 12, Username: "late", TrustLevel: 2})
	req = httptest.NewRequest(http.MethodPost, claimURL, nil)
	req.AddCookie(late)
	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("exhausted claim: status = %d, want 409", rec.Code)
	}

	// Unknown distribution: not found.
	req = httptest.NewRequest(http.MethodPost, "/distribution/missing", nil)
	req.AddCookie(eligible)
	rec = httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing distribution claim: status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	tw := newTestWeb(t, auth.OAuthConfig{})

	rec := httptest.NewRecorder()
	tw.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/up", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q, want ok", rec.Body.String())
	}
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "remote addr host", remoteAddr: "203.0.113.9:52114", want: "203.0.113.9"},
		{name: "forwarded single", remoteAddr: "10.0.0.1:80", forwarded: "198.51.100.7", want: "198.51.100.7"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:80", forwarded: "198.51.100.7, 10.0.0.2", want: "198.51.100.7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientAddress(req); got != tc.want {
				t.Fatalf("clientAddress = %q, want %q", got, tc.want)
			}
		})
	}
}
