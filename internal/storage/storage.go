package storage

import (
	"context"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution"
	apperrors "github.com/handout-dev/handout/internal/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrAlreadyClaimed indicates a conditional claim insert found an existing
// claim at the same (distribution, item index) key.
var ErrAlreadyClaimed = apperrors.New(apperrors.CodeAlreadyExists, "item index already claimed")

// DistributionStore persists distribution records.
type DistributionStore interface {
	PutDistribution(ctx context.Context, dist distribution.Distribution) error
	GetDistribution(ctx context.Context, id string) (distribution.Distribution, error)
	ListDistributionsByCreator(ctx context.Context, createdBy int64) ([]distribution.Distribution, error)
}

// ClaimStore persists claim records.
//
// PutClaimIfAbsent is the single atomic conditional write the allocator
// builds on: it must insert the claim only when the (DistributionID,
// ItemIndex) key is absent, returning ErrAlreadyClaimed otherwise, atomically
// with respect to concurrent calls.
type ClaimStore interface {
	PutClaimIfAbsent(ctx context.Context, claim distribution.Claim) error
	ListClaims(ctx context.Context, distributionID string) ([]distribution.Claim, error)
	ListClaimsByIdentity(ctx context.Context, identityID int64) ([]distribution.Claim, error)
}

// SessionStore persists session records keyed by token. Expiry is enforced by
// the session service, not the store.
type SessionStore interface {
	PutSession(ctx context.Context, session auth.Session) error
	GetSession(ctx context.Context, token string) (auth.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Store is the full persistence surface a backend provides.
type Store interface {
	DistributionStore
	ClaimStore
	SessionStore
	Close() error
}
