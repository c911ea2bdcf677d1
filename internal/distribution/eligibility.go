package distribution

import "github.com/handout-dev/handout/internal/auth"

// EligibilityStatus classifies the outcome of an eligibility evaluation.
type EligibilityStatus int

const (
	// EligibilityUnknown represents an invalid evaluation outcome.
	EligibilityUnknown EligibilityStatus = iota
	// EligibilityNotFound indicates the distribution does not exist.
	EligibilityNotFound
	// EligibilityUnauthenticated indicates no identity was resolved.
	EligibilityUnauthenticated
	// EligibilityAlreadyHolds indicates the identity already owns a claim.
	EligibilityAlreadyHolds
	// EligibilityIneligible indicates a business-rule rejection.
	EligibilityIneligible
	// EligibilityEligible indicates the identity may attempt a claim.
	EligibilityEligible
)

// IneligibleReason names the rule that rejected an otherwise valid request.
type IneligibleReason int

const (
	// ReasonNone indicates no rejection reason.
	ReasonNone IneligibleReason = iota
	// ReasonTrustLevelBelowMin indicates a trust level under the minimum bound.
	ReasonTrustLevelBelowMin
	// ReasonTrustLevelAboveMax indicates a trust level over the maximum bound.
	ReasonTrustLevelAboveMax
	// ReasonAddressAlreadyClaimed indicates the requester address already
	// claimed an item (strict mode only).
	ReasonAddressAlreadyClaimed
	// ReasonNoItemsRemaining indicates every item index is claimed.
	ReasonNoItemsRemaining
)

// EligibilityResult is the outcome of evaluating one identity against one
// distribution and its current claim set.
type EligibilityResult struct {
	Status EligibilityStatus
	// HeldIndex is the item index the identity already owns.
	// Valid only when Status is EligibilityAlreadyHolds.
	HeldIndex int
	// Reason is the rejection rule. Valid only when Status is EligibilityIneligible.
	Reason IneligibleReason
}

// EvaluateParams carries the inputs for one eligibility evaluation.
type EvaluateParams struct {
	// Identity is the resolved requester, or nil when unauthenticated.
	Identity *auth.Identity
	// Distribution is the claim target, or nil when not found.
	Distribution *Distribution
	// Claims is the current claim snapshot for the distribution.
	Claims []Claim
	// RequesterAddress is the network address of the request, used only when
	// RestrictByAddress is set.
	RequesterAddress string
	// RestrictByAddress enables the one-claim-per-address rule.
	RestrictByAddress bool
}

// Evaluate decides whether an identity may claim from a distribution.
//
// The check order is a contract observed by callers through response codes:
// distribution existence, identity existence, trust range, identity's existing
// claim (which short-circuits before the capacity check), address reuse in
// strict mode, then remaining capacity. Evaluate is pure; it reads only the
// supplied snapshot, which the allocator treats as advisory.
func Evaluate(params EvaluateParams) EligibilityResult {
	if params.Distribution == nil {
		return EligibilityResult{Status: EligibilityNotFound}
	}
	if params.Identity == nil {
		return EligibilityResult{Status: EligibilityUnauthenticated}
	}

	dist := params.Distribution
	identity := params.Identity

	if identity.TrustLevel < dist.MinTrustLevel {
		return EligibilityResult{Status: EligibilityIneligible, Reason: ReasonTrustLevelBelowMin}
	}
	if identity.TrustLevel > dist.MaxTrustLevel {
		return EligibilityResult{Status: EligibilityIneligible, Reason: ReasonTrustLevelAboveMax}
	}

	for _, claim := range params.Claims {
		if claim.ClaimedBy == identity.ID {
			return EligibilityResult{Status: EligibilityAlreadyHolds, HeldIndex: claim.ItemIndex}
		}
	}

	if params.RestrictByAddress && params.RequesterAddress != "" {
		for _, claim := range params.Claims {
			if claim.ClaimantAddress == params.RequesterAddress {
				return EligibilityResult{Status: EligibilityIneligible, Reason: ReasonAddressAlreadyClaimed}
			}
		}
	}

	if len(params.Claims) >= len(dist.Content) {
		return EligibilityResult{Status: EligibilityIneligible, Reason: ReasonNoItemsRemaining}
	}

	return EligibilityResult{Status: EligibilityEligible}
}

// LowestFreeIndex returns the smallest unclaimed item index, or -1 when every
// index is claimed. Selection is deterministic so that racing allocators make
// consistent forward progress.
func LowestFreeIndex(claims []Claim, itemCount int) int {
	claimed := make(map[int]bool, len(claims))
	for _, claim := range claims {
		claimed[claim.ItemIndex] = true
	}
	for index := 0; index < itemCount; index++ {
		if !claimed[index] {
			return index
		}
	}
	return -1
}
