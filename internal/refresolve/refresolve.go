// Package refresolve implements C3: resolving a suite node's test-case
// reference (or a plan node's suite reference) to a concrete catalog entry.
package refresolve

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/iverson-lu/pvtx/internal/discovery"
	"github.com/iverson-lu/pvtx/internal/identity"
)

// Reason is the Reference.Invalid sub-reason.
type Reason string

const (
	OutOfRoot      Reason = "OutOfRoot"
	NotFound       Reason = "NotFound"
	MissingManifest Reason = "MissingManifest"
)

// InvalidError is Reference.Invalid.
type InvalidError struct {
	Reason       Reason
	Raw          string
	ResolvedPath string
	Suggestion   string
}

func (e *InvalidError) Error() string {
	msg := fmt.Sprintf("Reference.Invalid(%s): %q (resolved: %q)", e.Reason, e.Raw, e.ResolvedPath)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" — did you mean %q?", e.Suggestion)
	}
	return msg
}

func (e *InvalidError) Code() string { return "Reference.Invalid" }

// ResolveCase resolves one suite node's reference (either "id@version" or a
// path relative to suiteFolder) to a test-case catalog entry.
func ResolveCase(cat *discovery.Catalog, suiteFolder, ref string) (discovery.TestCaseEntry, error) {
	if id, err := identity.Parse(ref); err == nil {
		entry, ok := cat.Cases[id]
		if !ok {
			return discovery.TestCaseEntry{}, &InvalidError{
				Reason:       NotFound,
				Raw:          ref,
				ResolvedPath: ref,
				Suggestion:   suggestCase(cat, id.ID),
			}
		}
		return entry, nil
	}

	joined, err := containedPath(suiteFolder, cat.Roots.CasesRoot, ref)
	if err != nil {
		return discovery.TestCaseEntry{}, err
	}

	for _, entry := range cat.Cases {
		if samePath(entry.FolderPath, joined) {
			return entry, nil
		}
	}
	return discovery.TestCaseEntry{}, &InvalidError{
		Reason:       MissingManifest,
		Raw:          ref,
		ResolvedPath: joined,
	}
}

// ResolveSuite resolves one plan node's reference to a suite catalog entry.
func ResolveSuite(cat *discovery.Catalog, planFolder, ref string) (discovery.SuiteEntry, error) {
	if id, err := identity.Parse(ref); err == nil {
		entry, ok := cat.Suites[id]
		if !ok {
			return discovery.SuiteEntry{}, &InvalidError{
				Reason:       NotFound,
				Raw:          ref,
				ResolvedPath: ref,
				Suggestion:   suggestSuite(cat, id.ID),
			}
		}
		return entry, nil
	}

	joined, err := containedPath(planFolder, cat.Roots.SuitesRoot, ref)
	if err != nil {
		return discovery.SuiteEntry{}, err
	}

	for _, entry := range cat.Suites {
		if samePath(entry.FolderPath, joined) {
			return entry, nil
		}
	}
	return discovery.SuiteEntry{}, &InvalidError{
		Reason:       MissingManifest,
		Raw:          ref,
		ResolvedPath: joined,
	}
}

// containedPath normalizes baseFolder+ref and verifies the result is
// contained within root after symlink resolution; ".." escapes fail with
// OutOfRoot.
func containedPath(baseFolder, root, ref string) (string, error) {
	joined := filepath.Join(baseFolder, ref)

	resolvedRoot, err := resolveSymlinks(root)
	if err != nil {
		return joined, &InvalidError{Reason: OutOfRoot, Raw: ref, ResolvedPath: joined}
	}
	resolvedJoined, err := resolveSymlinks(joined)
	if err != nil {
		// Target may not exist yet as a real path (e.g. a file inside it does);
		// fall back to resolving the parent directory.
		resolvedJoined, err = resolveSymlinks(filepath.Dir(joined))
		if err != nil {
			return joined, &InvalidError{Reason: OutOfRoot, Raw: ref, ResolvedPath: joined}
		}
		resolvedJoined = filepath.Join(resolvedJoined, filepath.Base(joined))
	}

	rel, err := filepath.Rel(resolvedRoot, resolvedJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return joined, &InvalidError{Reason: OutOfRoot, Raw: ref, ResolvedPath: joined}
	}
	return joined, nil
}

func samePath(a, b string) bool {
	ra, errA := resolveSymlinks(a)
	rb, errB := resolveSymlinks(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ra == rb
}

func suggestCase(cat *discovery.Catalog, id string) string {
	best, bestDist := "", -1
	for candidate := range cat.Cases {
		d := fuzzy.RankMatch(id, candidate.ID)
		if d < 0 {
			continue
		}
		if bestDist == -1 || d < bestDist {
			best, bestDist = candidate.String(), d
		}
	}
	return best
}

func suggestSuite(cat *discovery.Catalog, id string) string {
	best, bestDist := "", -1
	for candidate := range cat.Suites {
		d := fuzzy.RankMatch(id, candidate.ID)
		if d < 0 {
			continue
		}
		if bestDist == -1 || d < bestDist {
			best, bestDist = candidate.String(), d
		}
	}
	return best
}
