package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/handout-dev/handout/internal/errors"
	"github.com/handout-dev/handout/internal/id"
)

// ErrEmptySessionToken indicates a missing session token.
var ErrEmptySessionToken = apperrors.New(apperrors.CodeSessionTokenEmpty, "session token is required")

// DefaultSessionTTL is the session lifetime when none is configured.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Session binds an opaque token to a resolved identity for its lifetime.
type Session struct {
	Token     string
	Identity  Identity
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionStorage persists session records keyed by token.
type SessionStorage interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Sessions manages durable session records with a time-to-live.
type Sessions struct {
	storage SessionStorage
	ttl     time.Duration
	now     func() time.Time
}

// NewSessions creates a session service over the provided storage.
func NewSessions(storage SessionStorage, ttl time.Duration) (*Sessions, error) {
	if storage == nil {
		return nil, errors.New("session storage is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		storage: storage,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Create stores a new session for the identity and returns it.
func (s *Sessions) Create(ctx context.Context, identity Identity) (Session, error) {
	token, err := id.NewID()
	if err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}

	createdAt := s.now().UTC()
	session := Session{
		Token:     token,
		Identity:  identity,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(s.ttl),
	}
	if err := s.storage.PutSession(ctx, session); err != nil {
		return Session{}, fmt.Errorf("put session: %w", err)
	}
	return session, nil
}

// Resolve looks up a session by token. Expired records are deleted lazily and
// reported as absent.
func (s *Sessions) Resolve(ctx context.Context, token string) (Session, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, false, nil
	}

	session, err := s.storage.GetSession(ctx, token)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("get session: %w", err)
	}

	if session.Expired(s.now().UTC()) {
		_ = s.storage.DeleteSession(ctx, token)
		return Session{}, false, nil
	}
	return session, true, nil
}

// Delete removes a session by token. Deleting an absent session is a no-op.
func (s *Sessions) Delete(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptySessionToken
	}
	if err := s.storage.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
