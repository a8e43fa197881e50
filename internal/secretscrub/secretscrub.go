// Package secretscrub tracks secret-sourced values and redacts them from
// bytes about to be written to a persisted artifact, without ever logging the
// raw secret itself.
package secretscrub

import (
	"bytes"
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/iverson-lu/pvtx/internal/invariant"
)

const placeholder = "***"

type secretEntry struct {
	value []byte
	hash  string // hex blake2b fingerprint, safe to log
}

// Tracker holds the raw secret values substituted for env-ref resolutions.
// It keeps every value registered with it for as long as it lives; the engine
// keeps one Tracker for its whole lifetime, shared by every run. Its contents
// must never be serialized as-is.
type Tracker struct {
	mu      sync.Mutex
	secrets []secretEntry
}

// New returns an empty Tracker.
func New() *Tracker { return &Tracker{} }

// Register records value as secret-origin. Empty values are ignored — an
// unset optional secret parameter should not cause every empty string in an
// artifact to be redacted.
func (t *Tracker) Register(value string) {
	if value == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.secrets = append(t.secrets, secretEntry{value: []byte(value), hash: fingerprint(value)})
}

// Leak names one redaction performed by Scrub, identified only by a
// fingerprint hash — never the secret value itself — so callers can log
// "redacted secret <hash> from artifact X" without reproducing the leak.
type Leak struct {
	Hash string
}

// Scrub returns a copy of data with every registered secret value replaced by
// "***", plus a report of which (fingerprinted) secrets were found.
func (t *Tracker) Scrub(data []byte) ([]byte, []Leak) {
	t.mu.Lock()
	secrets := append([]secretEntry(nil), t.secrets...)
	t.mu.Unlock()

	out := data
	var leaks []Leak
	for _, s := range secrets {
		if bytes.Contains(out, s.value) {
			out = bytes.ReplaceAll(out, s.value, []byte(placeholder))
			leaks = append(leaks, Leak{Hash: s.hash})
		}
	}
	return out, leaks
}

// ContainsAny reports whether data contains any registered secret value
// verbatim, without modifying data — used by tests and pre-write assertions
// that an artifact about to be persisted is clean.
func (t *Tracker) ContainsAny(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.secrets {
		if bytes.Contains(data, s.value) {
			return true
		}
	}
	return false
}

func fingerprint(value string) string {
	sum := blake2b.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}

// RedactedString returns "***" if value is registered as secret in t,
// otherwise value unchanged. Used when redacting a single known field (e.g. a
// resolved parameter) rather than scanning an entire document.
func (t *Tracker) RedactedString(value string) string {
	invariant.NotNil(t, "tracker")
	if value == "" {
		return value
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.secrets {
		if string(s.value) == value {
			return placeholder
		}
	}
	return value
}
