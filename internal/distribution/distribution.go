package distribution

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/handout-dev/handout/internal/errors"
	"github.com/handout-dev/handout/internal/id"
)

var (
	// ErrEmptyTitle indicates a missing distribution title.
	ErrEmptyTitle = apperrors.New(apperrors.CodeDistributionTitleEmpty, "distribution title is required")
	// ErrEmptyContent indicates a distribution with no claimable items.
	ErrEmptyContent = apperrors.New(apperrors.CodeDistributionContentEmpty, "distribution content is required")
	// ErrInvalidTrustRange indicates trust bounds that violate 0 <= min <= max.
	ErrInvalidTrustRange = apperrors.New(apperrors.CodeDistributionTrustRangeInvalid, "trust level range is invalid")
)

// Distribution represents a publishable batch of claimable items.
//
// Content is immutable once created; items are addressed only by position.
type Distribution struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Content       []string  `json:"content"`
	MinTrustLevel int       `json:"min_trust_level"`
	MaxTrustLevel int       `json:"max_trust_level"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Claim binds one item index to one identity within one distribution.
//
// The (DistributionID, ItemIndex) pair is unique and is the sole
// concurrency-control point for allocation.
type Claim struct {
	DistributionID  string    `json:"distribution_id"`
	ItemIndex       int       `json:"item_index"`
	ClaimedBy       int64     `json:"claimed_by"`
	ClaimedAt       time.Time `json:"claimed_at"`
	ClaimantAddress string    `json:"claimant_address,omitempty"`
}

// CreateDistributionInput describes the metadata needed to create a distribution.
type CreateDistributionInput struct {
	Title         string
	Description   string
	Content       []string
	MinTrustLevel int
	MaxTrustLevel int
}

// CreateDistribution creates a new distribution with a generated ID and timestamp.
func CreateDistribution(input CreateDistributionInput, createdBy int64, now func() time.Time, idGenerator func() (string, error)) (Distribution, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateDistributionInput(input)
	if err != nil {
		return Distribution{}, err
	}

	distributionID, err := idGenerator()
	if err != nil {
		return Distribution{}, fmt.Errorf("generate distribution id: %w", err)
	}

	return Distribution{
		ID:            distributionID,
		Title:         normalized.Title,
		Description:   normalized.Description,
		Content:       normalized.Content,
		MinTrustLevel: normalized.MinTrustLevel,
		MaxTrustLevel: normalized.MaxTrustLevel,
		CreatedBy:     createdBy,
		CreatedAt:     now().UTC(),
	}, nil
}

// NormalizeCreateDistributionInput trims and validates distribution input.
//
// Trust bound validation happens here, at creation time; the eligibility
// evaluator only compares against whatever bounds a distribution carries.
func NormalizeCreateDistributionInput(input CreateDistributionInput) (CreateDistributionInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return CreateDistributionInput{}, ErrEmptyTitle
	}
	input.Description = strings.TrimSpace(input.Description)

	items := make([]string, 0, len(input.Content))
	for _, item := range input.Content {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return CreateDistributionInput{}, ErrEmptyContent
	}
	input.Content = items

	if input.MinTrustLevel < 0 || input.MinTrustLevel > input.MaxTrustLevel {
		return CreateDistributionInput{}, ErrInvalidTrustRange
	}

	return input, nil
}

// SplitContent turns raw multi-line form input into content items, one per
// non-blank line.
func SplitContent(raw string) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}
