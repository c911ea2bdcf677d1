// Package bbolt provides a BoltDB-backed store for the handout service.
//
// Records are JSON payloads in three buckets. Claim keys embed the zero-padded
// item index so a prefix scan yields claims in ascending index order, and the
// conditional claim insert is a get-then-put inside a single update
// transaction, which BoltDB serializes across writers.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution"
	apperrors "github.com/handout-dev/handout/internal/errors"
	"github.com/handout-dev/handout/internal/storage"
)

const (
	distributionBucket = "distribution"
	claimBucket        = "claim"
	sessionBucket      = "session"
)

// Store provides a BoltDB-backed handout store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutDistribution persists a distribution record.
func (s *Store) PutDistribution(ctx context.Context, dist distribution.Distribution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(dist.ID) == "" {
		return fmt.Errorf("distribution id is required")
	}

	payload, err := json.Marshal(dist)
	if err != nil {
		return fmt.Errorf("marshal distribution: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(distributionBucket))
		if bucket == nil {
			return fmt.Errorf("distribution bucket is missing")
		}
		return bucket.Put([]byte(dist.ID), payload)
	})
}

// GetDistribution fetches a distribution record by ID.
func (s *Store) GetDistribution(ctx context.Context, id string) (distribution.Distribution, error) {
	if err := ctx.Err(); err != nil {
		return distribution.Distribution{}, err
	}
	if s == nil || s.db == nil {
		return distribution.Distribution{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return distribution.Distribution{}, fmt.Errorf("distribution id is required")
	}

	var dist distribution.Distribution
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(distributionBucket))
		if bucket == nil {
			return fmt.Errorf("distribution bucket is missing")
		}
		payload := bucket.Get([]byte(id))
		if payload == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(payload, &dist); err != nil {
			return fmt.Errorf("unmarshal distribution: %w", err)
		}
		return nil
	})
	if err != nil {
		return distribution.Distribution{}, err
	}

	return dist, nil
}

// ListDistributionsByCreator returns distributions created by one identity,
// in ID order.
func (s *Store) ListDistributionsByCreator(ctx context.Context, createdBy int64) ([]distribution.Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var dists []distribution.Distribution
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(distributionBucket))
		if bucket == nil {
			return fmt.Errorf("distribution bucket is missing")
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var dist distribution.Distribution
			if err := json.Unmarshal(payload, &dist); err != nil {
				return fmt.Errorf("unmarshal distribution: %w", err)
			}
			if dist.CreatedBy == createdBy {
				dists = append(dists, dist)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return dists, nil
}

// PutClaimIfAbsent inserts a claim only when its key is free.
//
// The read and the write share one update transaction, which BoltDB runs with
// an exclusive writer lock, so concurrent callers for the same key observe
// exactly one success.
func (s *Store) PutClaimIfAbsent(ctx context.Context, claim distribution.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(claim.DistributionID) == "" {
		return fmt.Errorf("distribution id is required")
	}
	if claim.ItemIndex < 0 {
		return apperrors.New(apperrors.CodeClaimInvalidItemIndex, "item index is out of range")
	}

	payload, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}

	key := claimKey(claim.DistributionID, claim.ItemIndex)
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(claimBucket))
		if bucket == nil {
			return fmt.Errorf("claim bucket is missing")
		}
		if bucket.Get(key) != nil {
			return storage.ErrAlreadyClaimed
		}
		return bucket.Put(key, payload)
	})
}

// ListClaims returns all claims for a distribution in ascending index order.
func (s *Store) ListClaims(ctx context.Context, distributionID string) ([]distribution.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(distributionID) == "" {
		return nil, fmt.Errorf("distribution id is required")
	}

	prefix := []byte(distributionID + ":")
	var claims []distribution.Claim
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(claimBucket))
		if bucket == nil {
			return fmt.Errorf("claim bucket is missing")
		}
		cursor := bucket.Cursor()
		for key, payload := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, payload = cursor.Next() {
			var claim distribution.Claim
			if err := json.Unmarshal(payload, &claim); err != nil {
				return fmt.Errorf("unmarshal claim: %w", err)
			}
			claims = append(claims, claim)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// ListClaimsByIdentity returns all claims held by one identity across
// distributions.
func (s *Store) ListClaimsByIdentity(ctx context.Context, identityID int64) ([]distribution.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var claims []distribution.Claim
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(claimBucket))
		if bucket == nil {
			return fmt.Errorf("claim bucket is missing")
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var claim distribution.Claim
			if err := json.Unmarshal(payload, &claim); err != nil {
				return fmt.Errorf("unmarshal claim: %w", err)
			}
			if claim.ClaimedBy == identityID {
				claims = append(claims, claim)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// PutSession persists a session record.
func (s *Store) PutSession(ctx context.Context, session auth.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.Token) == "" {
		return fmt.Errorf("session token is required")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket == nil {
			return fmt.Errorf("session bucket is missing")
		}
		return bucket.Put([]byte(session.Token), payload)
	})
}

// GetSession fetches a session record by token.
func (s *Store) GetSession(ctx context.Context, token string) (auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return auth.Session{}, err
	}
	if s == nil || s.db == nil {
		return auth.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return auth.Session{}, fmt.Errorf("session token is required")
	}

	var session auth.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket == nil {
			return fmt.Errorf("session bucket is missing")
		}
		payload := bucket.Get([]byte(token))
		if payload == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(payload, &session); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		return nil
	})
	if err != nil {
		return auth.Session{}, err
	}

	return session, nil
}

// DeleteSession removes a session record by token.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("session token is required")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket == nil {
			return fmt.Errorf("session bucket is missing")
		}
		return bucket.Delete([]byte(token))
	})
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{distributionBucket, claimBucket, sessionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// claimKey builds the claim key with a zero-padded index so prefix scans walk
// claims in ascending index order.
func claimKey(distributionID string, itemIndex int) []byte {
	return []byte(fmt.Sprintf("%s:%010d", distributionID, itemIndex))
}

var _ storage.Store = (*Store)(nil)
