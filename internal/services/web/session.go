package web

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/handout-dev/handout/internal/auth"
)

const (
	// sessionCookieName stores the opaque session token.
	sessionCookieName = "handout_session"
	// pendingFlowTTL bounds how long a login redirect stays redeemable.
	pendingFlowTTL = 10 * time.Minute
	// pendingFlowCleanupInterval controls how often stale flows are purged.
	pendingFlowCleanupInterval = 5 * time.Minute
)

// pendingFlowStore tracks in-flight OAuth states between the login redirect
// and the provider callback. States are single-use.
type pendingFlowStore struct {
	mu          sync.Mutex
	flows       map[string]time.Time
	lastCleanup time.Time
}

func newPendingFlowStore() *pendingFlowStore {
	return &pendingFlowStore{flows: make(map[string]time.Time)}
}

func (s *pendingFlowStore) Add(state string) {
	if s == nil || state == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.cleanupLocked(now)
	s.flows[state] = now.Add(pendingFlowTTL)
}

// Redeem consumes a state, reporting whether it was pending and unexpired.
func (s *pendingFlowStore) Redeem(state string) bool {
	if s == nil || state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.cleanupLocked(now)
	expiresAt, ok := s.flows[state]
	if !ok {
		return false
	}
	delete(s.flows, state)
	return now.Before(expiresAt)
}

func (s *pendingFlowStore) cleanupLocked(now time.Time) {
	if now.Sub(s.lastCleanup) < pendingFlowCleanupInterval {
		return
	}
	for state, expiresAt := range s.flows {
		if !now.Before(expiresAt) {
			delete(s.flows, state)
		}
	}
	s.lastCleanup = now
}

// identityFromRequest resolves the signed-in identity behind the session
// cookie, or nil when the request is anonymous.
func (h *Handler) identityFromRequest(r *http.Request) *auth.Identity {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	session, ok, err := h.sessions.Resolve(r.Context(), cookie.Value)
	if err != nil || !ok {
		return nil
	}
	identity := session.Identity
	return &identity
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, session auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientAddress extracts the requester's network address, preferring the
// first X-Forwarded-For hop when a proxy set one.
func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
