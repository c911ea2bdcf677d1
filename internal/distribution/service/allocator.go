// Package service coordinates distribution creation and claim allocation on
// top of a storage backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution"
	apperrors "github.com/handout-dev/handout/internal/errors"
	"github.com/handout-dev/handout/internal/storage"
)

// ClaimOutcome classifies the result of a claim attempt.
type ClaimOutcome int

const (
	// ClaimOutcomeUnknown represents an invalid outcome.
	ClaimOutcomeUnknown ClaimOutcome = iota
	// ClaimOutcomeClaimed indicates a new claim was allocated.
	ClaimOutcomeClaimed
	// ClaimOutcomeAlreadyHeld indicates the identity already held a claim.
	ClaimOutcomeAlreadyHeld
	// ClaimOutcomeExhausted indicates every item is claimed.
	ClaimOutcomeExhausted
	// ClaimOutcomeRejected indicates an eligibility rule refused the attempt.
	ClaimOutcomeRejected
)

// ClaimResult describes the outcome of one claim attempt.
type ClaimResult struct {
	Outcome ClaimOutcome
	// ItemIndex and Item are valid for Claimed and AlreadyHeld outcomes.
	ItemIndex int
	Item      string
	// Reason is valid only for the Rejected outcome.
	Reason distribution.IneligibleReason
}

// Ledger owns the allocation protocol: it evaluates eligibility against a
// fresh claim snapshot and commits through the store's conditional insert,
// retrying on lost races. Creation and read queries live here too so handlers
// talk to a single service.
type Ledger struct {
	distributions     storage.DistributionStore
	claims            storage.ClaimStore
	restrictByAddress bool
	now               func() time.Time
}

// NewLedger creates a Ledger over the given stores. When restrictByAddress is
// set, a network address that already claimed from a distribution cannot claim
// again under a different identity.
func NewLedger(distributions storage.DistributionStore, claims storage.ClaimStore, restrictByAddress bool) *Ledger {
	return &Ledger{
		distributions:     distributions,
		claims:            claims,
		restrictByAddress: restrictByAddress,
		now:               time.Now,
	}
}

// CreateDistribution validates input, assigns an ID, and persists the new
// distribution.
func (l *Ledger) CreateDistribution(ctx context.Context, input distribution.CreateDistributionInput, createdBy int64) (distribution.Distribution, error) {
	dist, err := distribution.CreateDistribution(input, createdBy, l.now, nil)
	if err != nil {
		return distribution.Distribution{}, err
	}
	if err := l.distributions.PutDistribution(ctx, dist); err != nil {
		return distribution.Distribution{}, fmt.Errorf("put distribution: %w", err)
	}
	return dist, nil
}

// GetDistribution loads one distribution by ID.
func (l *Ledger) GetDistribution(ctx context.Context, distributionID string) (distribution.Distribution, error) {
	if distributionID == "" {
		return distribution.Distribution{}, apperrors.New(apperrors.CodeClaimEmptyDistributionID, "distribution id is required")
	}
	return l.distributions.GetDistribution(ctx, distributionID)
}

// ClaimsForDistribution returns the claim set of one distribution, ordered by
// item index.
func (l *Ledger) ClaimsForDistribution(ctx context.Context, distributionID string) ([]distribution.Claim, error) {
	return l.claims.ListClaims(ctx, distributionID)
}

// ClaimsForIdentity returns every claim held by one identity.
func (l *Ledger) ClaimsForIdentity(ctx context.Context, identityID int64) ([]distribution.Claim, error) {
	return l.claims.ListClaimsByIdentity(ctx, identityID)
}

// DistributionsForIdentity returns the distributions one identity created.
func (l *Ledger) DistributionsForIdentity(ctx context.Context, identityID int64) ([]distribution.Distribution, error) {
	return l.distributions.ListDistributionsByCreator(ctx, identityID)
}

// Evaluate reports, without writing, whether an identity could claim from a
// distribution right now. Handlers use it to render claim state on page loads.
func (l *Ledger) Evaluate(ctx context.Context, distributionID string, identity *auth.Identity, requesterAddress string) (distribution.EligibilityResult, error) {
	dist, err := l.distributions.GetDistribution(ctx, distributionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return distribution.EligibilityResult{Status: distribution.EligibilityNotFound}, nil
		}
		return distribution.EligibilityResult{}, fmt.Errorf("get distribution: %w", err)
	}
	claims, err := l.claims.ListClaims(ctx, dist.ID)
	if err != nil {
		return distribution.EligibilityResult{}, fmt.Errorf("list claims: %w", err)
	}
	return distribution.Evaluate(distribution.EvaluateParams{
		Identity:          identity,
		Distribution:      &dist,
		Claims:            claims,
		RequesterAddress:  requesterAddress,
		RestrictByAddress: l.restrictByAddress,
	}), nil
}

// AttemptClaim tries to allocate one item of a distribution to an identity.
//
// Each round reads a fresh claim snapshot, re-evaluates eligibility, picks the
// lowest free index, and commits through the store's conditional insert. A
// lost insert means another allocator took that index first; since claims are
// never removed, each loss leaves strictly fewer free indexes, so the loop is
// bounded by the item count.
func (l *Ledger) AttemptClaim(ctx context.Context, distributionID string, identity *auth.Identity, requesterAddress string) (ClaimResult, error) {
	if identity == nil {
		return ClaimResult{}, apperrors.New(apperrors.CodeUnknown, "identity is required")
	}

	dist, err := l.GetDistribution(ctx, distributionID)
	if err != nil {
		return ClaimResult{}, err
	}

	maxAttempts := len(dist.Content) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		claims, err := l.claims.ListClaims(ctx, dist.ID)
		if err != nil {
			return ClaimResult{}, fmt.Errorf("list claims: %w", err)
		}

		result := distribution.Evaluate(distribution.EvaluateParams{
			Identity:          identity,
			Distribution:      &dist,
			Claims:            claims,
			RequesterAddress:  requesterAddress,
			RestrictByAddress: l.restrictByAddress,
		})

		switch result.Status {
		case distribution.EligibilityAlreadyHolds:
			return ClaimResult{
				Outcome:   ClaimOutcomeAlreadyHeld,
				ItemIndex: result.HeldIndex,
				Item:      dist.Content[result.HeldIndex],
			}, nil
		case distribution.EligibilityIneligible:
			if result.Reason == distribution.ReasonNoItemsRemaining {
				return ClaimResult{Outcome: ClaimOutcomeExhausted}, nil
			}
			return ClaimResult{Outcome: ClaimOutcomeRejected, Reason: result.Reason}, nil
		case distribution.EligibilityEligible:
			// fall through to the commit below
		default:
			return ClaimResult{}, fmt.Errorf("unexpected eligibility status %d", result.Status)
		}

		index := distribution.LowestFreeIndex(claims, len(dist.Content))
		if index < 0 {
			// Snapshot raced with concurrent inserts; re-read.
			continue
		}

		claim := distribution.Claim{
			DistributionID:  dist.ID,
			ItemIndex:       index,
			ClaimedBy:       identity.ID,
			ClaimedAt:       l.now().UTC(),
			ClaimantAddress: requesterAddress,
		}
		err = l.claims.PutClaimIfAbsent(ctx, claim)
		if errors.Is(err, storage.ErrAlreadyClaimed) {
			continue
		}
		if err != nil {
			return ClaimResult{}, fmt.Errorf("put claim: %w", err)
		}
		return ClaimResult{Outcome: ClaimOutcomeClaimed, ItemIndex: index, Item: dist.Content[index]}, nil
	}

	return ClaimResult{}, fmt.Errorf("claim allocation did not converge for distribution %s", dist.ID)
}
