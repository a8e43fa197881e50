// Package runid generates time-sortable, globally unique run identifiers.
package runid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// New returns a run id of the form "<RFC3339Nano-ish timestamp>-<suffix>":
// lexical sort order matches chronological order down to the microsecond,
// and the suffix makes runs started within the same tick distinct.
//
// now is injected so callers (and tests) control the timestamp rather than
// this package reaching for the wall clock itself.
func New(now time.Time) (string, error) {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", fmt.Errorf("runid: reading random seed: %w", err)
	}
	sum := blake2b.Sum256(seed[:])
	suffix := hex.EncodeToString(sum[:4])
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000000"), suffix), nil
}

// Child derives a run id for a node nested under parent, keeping the parent
// prefix visible for log/artifact readability while remaining globally
// unique via its own random suffix.
func Child(parent string, now time.Time) (string, error) {
	id, err := New(now)
	if err != nil {
		return "", err
	}
	return parent + "." + id, nil
}
