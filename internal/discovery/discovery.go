// Package discovery implements C2: scanning the three asset roots (cases,
// suites, plans) into an immutable catalog keyed by identity.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/iverson-lu/pvtx/internal/identity"
	"github.com/iverson-lu/pvtx/internal/invariant"
	"github.com/iverson-lu/pvtx/internal/manifest"
)

// Manifest filenames, one well-known name per entity type, looked up in every
// immediate subdirectory of the corresponding root.
const (
	TestCaseManifestName = "testcase.json"
	SuiteManifestName    = "suite.json"
	PlanManifestName     = "plan.json"
)

// Roots names the three scan roots.
type Roots struct {
	CasesRoot  string
	SuitesRoot string
	PlansRoot  string
}

// TestCaseEntry is one catalog entry for a test case.
type TestCaseEntry struct {
	Descriptor   manifest.TestCase
	ManifestPath string
	FolderPath   string
}

// SuiteEntry is one catalog entry for a suite.
type SuiteEntry struct {
	Descriptor   manifest.Suite
	ManifestPath string
	FolderPath   string
}

// PlanEntry is one catalog entry for a plan.
type PlanEntry struct {
	Descriptor   manifest.Plan
	ManifestPath string
	FolderPath   string
}

// Catalog is the immutable result of a discovery scan: identity -> entry, for
// each of the three entity types. Rebuilt from scratch on rediscovery; never
// mutated after Discover returns.
type Catalog struct {
	Roots  Roots
	Cases  map[identity.Identity]TestCaseEntry
	Suites map[identity.Identity]SuiteEntry
	Plans  map[identity.Identity]PlanEntry
}

// ParseError records a manifest that failed to parse; the descriptor is
// omitted from the catalog.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }

// DuplicateIdentityError is Discovery.DuplicateIdentity: more than one folder
// under the same root produced the same (entityType, id, version).
type DuplicateIdentityError struct {
	EntityType string
	Identity   identity.Identity
	Paths      []string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("Discovery.DuplicateIdentity: %s %s found at %v", e.EntityType, e.Identity, e.Paths)
}
func (e *DuplicateIdentityError) Code() string { return "Discovery.DuplicateIdentity" }

// Report collects every error encountered during a scan. A non-empty Report
// does not prevent Discover from returning a partial (but internally
// consistent) Catalog: only the offending descriptors are omitted.
type Report struct {
	Errors []error
}

func (r *Report) HasErrors() bool { return len(r.Errors) > 0 }

// Discover scans the three roots and builds a fresh Catalog plus a Report of
// every parse/duplicate error encountered.
func Discover(roots Roots) (*Catalog, *Report, error) {
	report := &Report{}
	cat := &Catalog{
		Roots:  roots,
		Cases:  map[identity.Identity]TestCaseEntry{},
		Suites: map[identity.Identity]SuiteEntry{},
		Plans:  map[identity.Identity]PlanEntry{},
	}

	casePaths := map[identity.Identity][]string{}
	suitePaths := map[identity.Identity][]string{}
	planPaths := map[identity.Identity][]string{}

	if roots.CasesRoot != "" {
		scanRoot(roots.CasesRoot, TestCaseManifestName, report, func(folder, manifestPath string, data []byte) {
			tc, err := manifest.ParseTestCase(data)
			if err != nil {
				report.Errors = append(report.Errors, &ParseError{Path: manifestPath, Err: err})
				return
			}
			id, err := tc.Identity()
			if err != nil {
				report.Errors = append(report.Errors, &ParseError{Path: manifestPath, Err: err})
				return
			}
			casePaths[id] = append(casePaths[id], folder)
			cat.Cases[id] = TestCaseEntry{Descriptor: tc, ManifestPath: manifestPath, FolderPath: folder}
		})
	}

	if roots.SuitesRoot != "" {
		scanRoot(roots.SuitesRoot, SuiteManifestName, report, func(folder, manifestPath string, data []byte) {
			s, err := manifest.ParseSuite(data)
			if err != nil {
				report.Errors = append(report.Errors, &ParseError{Path: manifestPath, Err: err})
				return
			}
			id, err := s.Identity()
			if err != nil {
				report.Errors = append(report.Errors, &ParseError{Path: manifestPath, Err: err})
				return
			}
			suitePaths[id] = append(suitePaths[id], folder)
			cat.Suites[id] = SuiteEntry{Descriptor: s, ManifestPath: manifestPath, FolderPath: folder}
		})
	}

	if roots.PlansRoot != "" {
		scanRoot(roots.PlansRoot, PlanManifestName, report, func(folder, manifestPath string, data []byte) {
			p, err := manifest.ParsePlan(data)
			if err != nil {
				report.Errors = append(report.Errors, &ParseError{Path: manifestPath, Err: err})
				return
			}
			id, err := p.Identity()
			if err != nil {
				report.Errors = append(report.Errors, &ParseError{Path: manifestPath, Err: err})
				return
			}
			planPaths[id] = append(planPaths[id], folder)
			cat.Plans[id] = PlanEntry{Descriptor: p, ManifestPath: manifestPath, FolderPath: folder}
		})
	}

	appendDuplicates(report, "testCase", casePaths)
	appendDuplicates(report, "suite", suitePaths)
	appendDuplicates(report, "plan", planPaths)

	return cat, report, nil
}

func appendDuplicates(report *Report, entityType string, paths map[identity.Identity][]string) {
	ids := make([]identity.Identity, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return identity.Less(ids[i], ids[j]) })

	for _, id := range ids {
		p := paths[id]
		if len(p) > 1 {
			sorted := append([]string(nil), p...)
			sort.Strings(sorted)
			report.Errors = append(report.Errors, &DuplicateIdentityError{
				EntityType: entityType,
				Identity:   id,
				Paths:      sorted,
			})
		}
	}
}

// scanRoot walks the immediate subdirectories of root looking for
// manifestName, invoking onManifest(folder, manifestPath, data) for each one
// found. Errors reading the root itself are recorded on the report rather
// than aborting the whole scan.
func scanRoot(root, manifestName string, report *Report, onManifest func(folder, manifestPath string, data []byte)) {
	invariant.NotNil(report, "report")

	entries, err := os.ReadDir(root)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("reading root %q: %w", root, err))
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		folder := filepath.Join(root, e.Name())
		manifestPath := filepath.Join(folder, manifestName)

		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				// Not every subdirectory need carry a manifest; skip silently.
				continue
			}
			report.Errors = append(report.Errors, &ParseError{Path: manifestPath, Err: err})
			continue
		}
		onManifest(folder, manifestPath, data)
	}
}
