// Package envcompose implements C5: the four-layer effective environment
// (OS snapshot, plan block, suite block, run overrides), case-insensitive
// keyed, with secret flags tracked out-of-band.
package envcompose

import (
	"fmt"
	"os"
	"strings"

	"github.com/iverson-lu/pvtx/internal/invariant"
)

// Map is a case-insensitive-keyed string environment. Lookups and inserts are
// folded to a canonical (upper-cased) key internally; the original casing of
// the most recent write is preserved for serialization.
type Map struct {
	canonical map[string]string // UPPER(key) -> original-cased key
	values    map[string]string // UPPER(key) -> value
	secret    map[string]bool   // UPPER(key) -> secret flag
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		canonical: map[string]string{},
		values:    map[string]string{},
		secret:    map[string]bool{},
	}
}

func fold(key string) string { return strings.ToUpper(key) }

// Set inserts or overwrites key with value. Empty keys are rejected.
func (m *Map) Set(key, value string, secret bool) error {
	if key == "" {
		return fmt.Errorf("envcompose: empty environment variable name is not permitted")
	}
	k := fold(key)
	m.canonical[k] = key
	m.values[k] = value
	m.secret[k] = secret
	return nil
}

// Get returns the value for key and whether it is present.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.values[fold(key)]
	return v, ok
}

// IsSecret reports whether the value currently stored for key originated from
// a secret-tagged env-reference.
func (m *Map) IsSecret(key string) bool {
	return m.secret[fold(key)]
}

// Keys returns the map's keys in their most-recently-set original casing, in
// no particular order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.canonical))
	for _, orig := range m.canonical {
		keys = append(keys, orig)
	}
	return keys
}

// Layer overrides onto m (in place), later call wins; used to merge OS / plan
// / suite / run-override layers in order.
func (m *Map) Layer(overrides map[string]string, secret bool) error {
	for k, v := range overrides {
		if err := m.Set(k, v, secret); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a plain map[string]string copy using each key's original
// casing — used as the environment passed to the runner process.
func (m *Map) Snapshot() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[m.canonical[k]] = v
	}
	return out
}

// Redacted returns a copy of Snapshot() with every secret-tagged value
// replaced by "***".
func (m *Map) Redacted() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		if m.secret[k] {
			v = "***"
		}
		out[m.canonical[k]] = v
	}
	return out
}

// Compose builds the effective environment for one case invocation: OS
// snapshot, then plan block, then suite block, then per-run overrides, each
// layer overriding the previous.
func Compose(osEnviron []string, planEnv, suiteEnv, runOverrides map[string]string) (*Map, error) {
	invariant.NotNil(osEnviron, "osEnviron")

	m := New()
	for _, kv := range osEnviron {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		if err := m.Set(parts[0], parts[1], false); err != nil {
			return nil, err
		}
	}
	if err := m.Layer(planEnv, false); err != nil {
		return nil, err
	}
	if err := m.Layer(suiteEnv, false); err != nil {
		return nil, err
	}
	if err := m.Layer(runOverrides, false); err != nil {
		return nil, err
	}
	return m, nil
}

// OSEnviron returns a fresh snapshot of the process environment. Captured
// once per run; read-only thereafter.
func OSEnviron() []string {
	return os.Environ()
}
