// Package identity implements the (id, version) grammar shared by test cases,
// suites and plans: C1 of the engine kernel.
package identity

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Identity is a versioned entity identifier: id@version.
//
// Both id and version must match [A-Za-z0-9._-]+ — no whitespace, no "@", and
// neither component may be empty.
type Identity struct {
	ID      string
	Version string
}

// componentValid reports whether s is non-empty and contains only the grammar's
// allowed characters.
func componentValid(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// New validates id and version and constructs an Identity.
func New(id, version string) (Identity, error) {
	if !componentValid(id) {
		return Identity{}, &InvalidError{Raw: id + "@" + version, Reason: "invalid id component"}
	}
	if !componentValid(version) {
		return Identity{}, &InvalidError{Raw: id + "@" + version, Reason: "invalid version component"}
	}
	return Identity{ID: id, Version: version}, nil
}

// Parse parses the canonical "id@version" string form.
func Parse(s string) (Identity, error) {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return Identity{}, &InvalidError{Raw: s, Reason: "expected exactly one '@' separating id and version"}
	}
	return New(parts[0], parts[1])
}

// String renders the canonical "id@version" form.
func (i Identity) String() string {
	return i.ID + "@" + i.Version
}

// Equal reports field-wise equality.
func (i Identity) Equal(other Identity) bool {
	return i.ID == other.ID && i.Version == other.Version
}

// IsZero reports whether i is the zero value.
func (i Identity) IsZero() bool {
	return i.ID == "" && i.Version == ""
}

// Less provides a deterministic, advisory ordering for catalog listings and
// duplicate-identity reports: by ID, then by version. When both versions parse
// as semver ("vMAJOR.MINOR.PATCH" after a "v" prefix is added if missing),
// semver.Compare governs; otherwise the comparison falls back to a plain
// lexical string compare. The identity grammar does not mandate semver
// versions, so this ordering is never used for uniqueness or correctness,
// only display.
func Less(a, b Identity) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	av, bv := canonicalSemver(a.Version), canonicalSemver(b.Version)
	if semver.IsValid(av) && semver.IsValid(bv) {
		if c := semver.Compare(av, bv); c != 0 {
			return c < 0
		}
	}
	return a.Version < b.Version
}

func canonicalSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// InvalidError is returned for Identity.Invalid.
type InvalidError struct {
	Raw    string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("Identity.Invalid: %q: %s", e.Raw, e.Reason)
}

// Code returns the stable error code.
func (e *InvalidError) Code() string { return "Identity.Invalid" }
