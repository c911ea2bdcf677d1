package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution"
	apperrors "github.com/handout-dev/handout/internal/errors"
	"github.com/handout-dev/handout/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handout.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handout.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Re-opening must not re-run migrations destructively.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}
	defer store.Close()
}

func TestOpenAppliesPragmas(t *testing.T) {
	store := openTestStore(t)

	var journalMode string
	if err := store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var busyTimeout int
	if err := store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busyTimeout)
	}
}

func TestDistributionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dist := distribution.Distribution{
		ID:            "dist-1",
		Title:         "Beta keys",
		Description:   "first come first served",
		Content:       []string{"key-a", "key-b"},
		MinTrustLevel: 1,
		MaxTrustLevel: 3,
		CreatedBy:     42,
		CreatedAt:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	if err := store.PutDistribution(ctx, dist); err != nil {
		t.Fatalf("put distribution: %v", err)
	}

	got, err := store.GetDistribution(ctx, "dist-1")
	if err != nil {
		t.Fatalf("get distribution: %v", err)
	}
	if got.Title != dist.Title || got.MinTrustLevel != 1 || got.MaxTrustLevel != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Content) != 2 || got.Content[0] != "key-a" {
		t.Fatalf("content mismatch: %v", got.Content)
	}
	if !got.CreatedAt.Equal(dist.CreatedAt) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, dist.CreatedAt)
	}
}

func TestGetDistributionNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetDistribution(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListDistributionsByCreator(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, dist := range []distribution.Distribution{
		{ID: "dist-1", Title: "a", Content: []string{"x"}, CreatedBy: 1},
		{ID: "dist-2", Title: "b", Content: []string{"x"}, CreatedBy: 2},
		{ID: "dist-3", Title: "c", Content: []string{"x"}, CreatedBy: 1},
	} {
		if err := store.PutDistribution(ctx, dist); err != nil {
			t.Fatalf("put distribution %s: %v", dist.ID, err)
		}
	}

	dists, err := store.ListDistributionsByCreator(ctx, 1)
	if err != nil {
		t.Fatalf("list distributions: %v", err)
	}
	if len(dists) != 2 {
		t.Fatalf("expected 2 distributions, got %d", len(dists))
	}
	if dists[0].ID != "dist-1" || dists[1].ID != "dist-3" {
		t.Fatalf("unexpected order: %s, %s", dists[0].ID, dists[1].ID)
	}
}

func TestPutClaimIfAbsentRejectsDuplicateKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	claim := distribution.Claim{
		DistributionID:  "dist-1",
		ItemIndex:       0,
		ClaimedBy:       1,
		ClaimedAt:       time.Now().UTC(),
		ClaimantAddress: "203.0.113.9",
	}
	if err := store.PutClaimIfAbsent(ctx, claim); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	claim.ClaimedBy = 2
	err := store.PutClaimIfAbsent(ctx, claim)
	if !errors.Is(err, storage.ErrAlreadyClaimed) {
		t.Fatalf("error = %v, want ErrAlreadyClaimed", err)
	}

	claims, err := store.ListClaims(ctx, "dist-1")
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(claims))
	}
	if claims[0].ClaimedBy != 1 {
		t.Fatalf("expected first writer to win, got claimed_by %d", claims[0].ClaimedBy)
	}
	if claims[0].ClaimantAddress != "203.0.113.9" {
		t.Fatalf("claimant address = %q", claims[0].ClaimantAddress)
	}
}

func TestPutClaimIfAbsentRejectsNegativeIndex(t *testing.T) {
	store := openTestStore(t)

	err := store.PutClaimIfAbsent(context.Background(), distribution.Claim{
		DistributionID: "dist-1",
		ItemIndex:      -1,
		ClaimedBy:      1,
		ClaimedAt:      time.Now().UTC(),
	})
	if apperrors.CodeOf(err) != apperrors.CodeClaimInvalidItemIndex {
		t.Fatalf("error code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeClaimInvalidItemIndex)
	}
}

func TestPutClaimIfAbsentConcurrentSingleWinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const workers = 8
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.PutClaimIfAbsent(ctx, distribution.Claim{
				DistributionID: "dist-1",
				ItemIndex:      0,
				ClaimedBy:      int64(i + 1),
				ClaimedAt:      time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, storage.ErrAlreadyClaimed):
		default:
			t.Fatalf("worker %d: unexpected error %v", i+1, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	claims, err := store.ListClaims(ctx, "dist-1")
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(claims))
	}
}

func TestListClaimsOrderedByIndex(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, index := range []int{2, 0, 1} {
		claim := distribution.Claim{DistributionID: "dist-1", ItemIndex: index, ClaimedBy: int64(index + 100)}
		if err := store.PutClaimIfAbsent(ctx, claim); err != nil {
			t.Fatalf("put claim %d: %v", index, err)
		}
	}

	claims, err := store.ListClaims(ctx, "dist-1")
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	for i, want := range []int{0, 1, 2} {
		if claims[i].ItemIndex != want {
			t.Fatalf("claims[%d].ItemIndex = %d, want %d", i, claims[i].ItemIndex, want)
		}
	}
}

func TestListClaimsByIdentity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, claim := range []distribution.Claim{
		{DistributionID: "dist-1", ItemIndex: 0, ClaimedBy: 1},
		{DistributionID: "dist-2", ItemIndex: 3, ClaimedBy: 1},
		{DistributionID: "dist-1", ItemIndex: 1, ClaimedBy: 2},
	} {
		if err := store.PutClaimIfAbsent(ctx, claim); err != nil {
			t.Fatalf("put claim: %v", err)
		}
	}

	claims, err := store.ListClaimsByIdentity(ctx, 1)
	if err != nil {
		t.Fatalf("list claims by identity: %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(claims))
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	session := auth.Session{
		Token:     "sess-123",
		Identity:  auth.Identity{ID: 42, Username: "ada", TrustLevel: 2, Active: true},
		CreatedAt: now,
		ExpiresAt: now.Add(auth.DefaultSessionTTL),
	}
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-123")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Identity.ID != 42 || got.Identity.TrustLevel != 2 {
		t.Fatalf("identity mismatch: %+v", got.Identity)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("expires at = %v, want %v", got.ExpiresAt, session.ExpiresAt)
	}

	if err := store.DeleteSession(ctx, "sess-123"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.GetSession(ctx, "sess-123"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
