// Package sqlite provides SQLite-backed persistence for the handout service.
//
// The conditional claim insert relies on the claims table's composite primary
// key: INSERT ... ON CONFLICT DO NOTHING reports zero affected rows when the
// key is taken, which the store surfaces as storage.ErrAlreadyClaimed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution"
	apperrors "github.com/handout-dev/handout/internal/errors"
	"github.com/handout-dev/handout/internal/platform/storage/sqlitemigrate"
	"github.com/handout-dev/handout/internal/storage"
	"github.com/handout-dev/handout/internal/storage/sqlite/migrations"
)

// Store provides SQLite-backed persistence for distributions, claims, and
// sessions.
type Store struct {
	sqlDB *sql.DB
}

// Open opens and migrates a handout SQLite store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// modernc.org/sqlite reads pragmas from _pragma=name(value) parameters;
	// busy_timeout keeps losing writers queued instead of failing SQLITE_BUSY.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutDistribution persists a distribution record.
func (s *Store) PutDistribution(ctx context.Context, dist distribution.Distribution) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(dist.ID) == "" {
		return fmt.Errorf("distribution id is required")
	}

	contentJSON, err := json.Marshal(dist.Content)
	if err != nil {
		return fmt.Errorf("marshal distribution content: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO distributions (
		    id, title, description, content_json, min_trust_level, max_trust_level, created_by, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		    title = excluded.title,
		    description = excluded.description,
		    content_json = excluded.content_json,
		    min_trust_level = excluded.min_trust_level,
		    max_trust_level = excluded.max_trust_level,
		    created_by = excluded.created_by,
		    created_at = excluded.created_at`,
		dist.ID,
		dist.Title,
		dist.Description,
		string(contentJSON),
		dist.MinTrustLevel,
		dist.MaxTrustLevel,
		dist.CreatedBy,
		timeToUnixMillis(dist.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put distribution: %w", err)
	}
	return nil
}

// GetDistribution fetches a distribution record by ID.
func (s *Store) GetDistribution(ctx context.Context, id string) (distribution.Distribution, error) {
	if s == nil || s.sqlDB == nil {
		return distribution.Distribution{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return distribution.Distribution{}, fmt.Errorf("distribution id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, title, description, content_json, min_trust_level, max_trust_level, created_by, created_at
		 FROM distributions
		 WHERE id = ?`,
		id,
	)
	dist, err := scanDistribution(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return distribution.Distribution{}, storage.ErrNotFound
		}
		return distribution.Distribution{}, fmt.Errorf("get distribution: %w", err)
	}
	return dist, nil
}

// ListDistributionsByCreator returns distributions created by one identity,
// in ID order.
func (s *Store) ListDistributionsByCreator(ctx context.Context, createdBy int64) ([]distribution.Distribution, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, title, description, content_json, min_trust_level, max_trust_level, created_by, created_at
		 FROM distributions
		 WHERE created_by = ?
		 ORDER BY id`,
		createdBy,
	)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var dists []distribution.Distribution
	for rows.Next() {
		dist, err := scanDistribution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		dists = append(dists, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distributions: %w", err)
	}
	return dists, nil
}

// PutClaimIfAbsent inserts a claim only when its key is free.
func (s *Store) PutClaimIfAbsent(ctx context.Context, claim distribution.Claim) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(claim.DistributionID) == "" {
		return fmt.Errorf("distribution id is required")
	}
	if claim.ItemIndex < 0 {
		return apperrors.New(apperrors.CodeClaimInvalidItemIndex, "item index is out of range")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO claims (distribution_id, item_index, claimed_by, claimed_at, claimant_address)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(distribution_id, item_index) DO NOTHING`,
		claim.DistributionID,
		claim.ItemIndex,
		claim.ClaimedBy,
		timeToUnixMillis(claim.ClaimedAt),
		claim.ClaimantAddress,
	)
	if err != nil {
		return fmt.Errorf("put claim: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put claim rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrAlreadyClaimed
	}
	return nil
}

// ListClaims returns all claims for a distribution in ascending index order.
func (s *Store) ListClaims(ctx context.Context, distributionID string) ([]distribution.Claim, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(distributionID) == "" {
		return nil, fmt.Errorf("distribution id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT distribution_id, item_index, claimed_by, claimed_at, claimant_address
		 FROM claims
		 WHERE distribution_id = ?
		 ORDER BY item_index`,
		distributionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return collectClaims(rows)
}

// ListClaimsByIdentity returns all claims held by one identity across
// distributions.
func (s *Store) ListClaimsByIdentity(ctx context.Context, identityID int64) ([]distribution.Claim, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT distribution_id, item_index, claimed_by, claimed_at, claimant_address
		 FROM claims
		 WHERE claimed_by = ?
		 ORDER BY distribution_id, item_index`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list claims by identity: %w", err)
	}
	return collectClaims(rows)
}

// PutSession persists a session record.
func (s *Store) PutSession(ctx context.Context, session auth.Session) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.Token) == "" {
		return fmt.Errorf("session token is required")
	}

	identityJSON, err := json.Marshal(session.Identity)
	if err != nil {
		return fmt.Errorf("marshal session identity: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (token, identity_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
		    identity_json = excluded.identity_json,
		    created_at = excluded.created_at,
		    expires_at = excluded.expires_at`,
		session.Token,
		string(identityJSON),
		timeToUnixMillis(session.CreatedAt),
		timeToUnixMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession fetches a session record by token.
func (s *Store) GetSession(ctx context.Context, token string) (auth.Session, error) {
	if s == nil || s.sqlDB == nil {
		return auth.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return auth.Session{}, fmt.Errorf("session token is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT token, identity_json, created_at, expires_at FROM sessions WHERE token = ?`,
		token,
	)

	var session auth.Session
	var identityJSON string
	var createdAt int64
	var expiresAt int64
	if err := row.Scan(&session.Token, &identityJSON, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return auth.Session{}, storage.ErrNotFound
		}
		return auth.Session{}, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(identityJSON), &session.Identity); err != nil {
		return auth.Session{}, fmt.Errorf("unmarshal session identity: %w", err)
	}
	session.CreatedAt = unixMillisToTime(createdAt)
	session.ExpiresAt = unixMillisToTime(expiresAt)
	return session, nil
}

// DeleteSession removes a session record by token.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("session token is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func scanDistribution(scan func(dest ...any) error) (distribution.Distribution, error) {
	var dist distribution.Distribution
	var contentJSON string
	var createdAt int64
	if err := scan(
		&dist.ID,
		&dist.Title,
		&dist.Description,
		&contentJSON,
		&dist.MinTrustLevel,
		&dist.MaxTrustLevel,
		&dist.CreatedBy,
		&createdAt,
	); err != nil {
		return distribution.Distribution{}, err
	}
	if err := json.Unmarshal([]byte(contentJSON), &dist.Content); err != nil {
		return distribution.Distribution{}, fmt.Errorf("unmarshal distribution content: %w", err)
	}
	dist.CreatedAt = unixMillisToTime(createdAt)
	return dist, nil
}

func collectClaims(rows *sql.Rows) ([]distribution.Claim, error) {
	defer func() {
		_ = rows.Close()
	}()

	var claims []distribution.Claim
	for rows.Next() {
		var claim distribution.Claim
		var claimedAt int64
		if err := rows.Scan(
			&claim.DistributionID,
			&claim.ItemIndex,
			&claim.ClaimedBy,
			&claimedAt,
			&claim.ClaimantAddress,
		); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claim.ClaimedAt = unixMillisToTime(claimedAt)
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

var _ storage.Store = (*Store)(nil)
