// Package id provides utilities for generating URL-safe identifiers.
//
// Identifiers are ULIDs (RFC 4648 Crockford base32, 26 characters) rendered in
// lowercase. The leading 48 bits encode the creation time, so identifiers sort
// chronologically as plain strings. The ordering is a convenience for listings,
// never a correctness requirement.
package id

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a new lowercase ULID string.
func NewID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	value, err := ulid.New(ulid.Timestamp(time.Now().UTC()), entropy)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return strings.ToLower(value.String()), nil
}
