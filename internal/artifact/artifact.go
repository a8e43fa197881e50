// Package artifact implements C9: run-folder layout, the append-only runs
// index, per-run children and event logs, and atomic result writes.
package artifact

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/iverson-lu/pvtx/internal/invariant"
	"github.com/iverson-lu/pvtx/internal/runner"
	"github.com/iverson-lu/pvtx/internal/runstate"
	"github.com/iverson-lu/pvtx/internal/secretscrub"
)

// Paths names every file and directory inside one run folder.
type Paths struct {
	Root      string
	Manifest  string
	Params    string
	Env       string
	Result    string
	Stdout    string
	Stderr    string
	Events    string
	Children  string
	Artifacts string
}

func pathsFor(runsRoot, runID string) Paths {
	root := filepath.Join(runsRoot, runID)
	return Paths{
		Root:      root,
		Manifest:  filepath.Join(root, "manifest.json"),
		Params:    filepath.Join(root, "params.json"),
		Env:       filepath.Join(root, "env.json"),
		Result:    filepath.Join(root, "result.json"),
		Stdout:    filepath.Join(root, "stdout.log"),
		Stderr:    filepath.Join(root, "stderr.log"),
		Events:    filepath.Join(root, "events.jsonl"),
		Children:  filepath.Join(root, "children.jsonl"),
		Artifacts: filepath.Join(root, "artifacts"),
	}
}

// IndexEntry is one line of the top-level runs index (and, reused, of a
// parent run's children.jsonl).
type IndexEntry struct {
	RunID        string          `json:"runId"`
	RunType      runstate.RunType `json:"runType"`
	NodeID       string          `json:"nodeId,omitempty"`
	TestID       string          `json:"testId,omitempty"`
	TestVersion  string          `json:"testVersion,omitempty"`
	SuiteID      string          `json:"suiteId,omitempty"`
	SuiteVersion string          `json:"suiteVersion,omitempty"`
	PlanID       string          `json:"planId,omitempty"`
	PlanVersion  string          `json:"planVersion,omitempty"`
	ParentRunID    string          `json:"parentRunId,omitempty"`
	RetryCount     int             `json:"retryCount,omitempty"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	Status         runstate.Status `json:"status,omitempty"`
	DescriptorHash string          `json:"descriptorHash,omitempty"`
}

// Event is one structured line of events.jsonl.
type Event struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// Writer owns all filesystem side effects of C9. One Writer is shared by an
// entire run tree so the top-level index append is serialized the way the
// spec requires ("written under an exclusive per-process lock").
type Writer struct {
	runsRoot string
	secrets  *secretscrub.Tracker

	indexMu sync.Mutex
}

// New returns a Writer rooted at runsRoot, scrubbing any bytes it is asked
// to persist against secrets tracked.
func New(runsRoot string, secrets *secretscrub.Tracker) *Writer {
	invariant.NotNil(secrets, "secrets")
	return &Writer{runsRoot: runsRoot, secrets: secrets}
}

// CreateRunFolder creates the run folder (and its artifacts subdirectory)
// before any other write, per the writer's first obligation.
func (w *Writer) CreateRunFolder(runID string) (Paths, error) {
	paths := pathsFor(w.runsRoot, runID)
	if err := os.MkdirAll(paths.Artifacts, 0o755); err != nil {
		return Paths{}, fmt.Errorf("artifact: creating run folder: %w", err)
	}
	return paths, nil
}

// manifestSnapshot pairs the resolved descriptor copy with a content hash so
// a reader of a run folder can check it still matches the catalog entry the
// run was planned from, without re-parsing and re-resolving the original
// manifest file.
type manifestSnapshot struct {
	Descriptor     interface{} `json:"descriptor"`
	DescriptorHash string      `json:"descriptorHash"`
}

// WriteManifestSnapshot writes the resolved descriptor copy alongside its
// descriptorHash, and returns that hash for the caller to stamp into the
// run's index entry.
func (w *Writer) WriteManifestSnapshot(paths Paths, descriptor interface{}) (string, error) {
	hash, err := descriptorHash(descriptor)
	if err != nil {
		return "", fmt.Errorf("artifact: hashing descriptor: %w", err)
	}
	if err := w.writeJSONFile(paths.Manifest, manifestSnapshot{Descriptor: descriptor, DescriptorHash: hash}); err != nil {
		return "", err
	}
	return hash, nil
}

// descriptorHash canonically CBOR-encodes v (shortest integer encoding and
// length-first map key order per RFC 7049 §3.9) and returns the hex blake2b-256
// sum of that encoding — the same canonical-encode-then-hash idiom used for
// plan-contract hashing, applied here to a resolved test/suite/plan
// descriptor instead of a compiled plan.
func descriptorHash(v interface{}) (string, error) {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return "", fmt.Errorf("building canonical CBOR encoder: %w", err)
	}
	data, err := mode.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical-encoding descriptor: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// WriteParams writes the redacted effective inputs document.
func (w *Writer) WriteParams(paths Paths, redactedInputs map[string]interface{}) error {
	return w.writeJSONFile(paths.Params, redactedInputs)
}

// WriteEnv writes the redacted effective environment document.
func (w *Writer) WriteEnv(paths Paths, redactedEnv map[string]string) error {
	return w.writeJSONFile(paths.Env, redactedEnv)
}

func (w *Writer) writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encoding %s: %w", filepath.Base(path), err)
	}
	clean, leaks := w.secrets.Scrub(data)
	if len(leaks) > 0 {
		return fmt.Errorf("artifact: refusing to write %s: contains %d unredacted secret value(s)", filepath.Base(path), len(leaks))
	}
	return os.WriteFile(path, clean, 0o644)
}

// WriteResultAtomic writes result.json via a temp-file-then-rename so a
// crash mid-write never leaves a half-written document.
func (w *Writer) WriteResultAtomic(paths Paths, result runner.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encoding result: %w", err)
	}
	clean, leaks := w.secrets.Scrub(data)
	if len(leaks) > 0 {
		return fmt.Errorf("artifact: refusing to write result.json: contains %d unredacted secret value(s)", len(leaks))
	}

	tmp := paths.Result + ".tmp"
	if err := os.WriteFile(tmp, clean, 0o644); err != nil {
		return fmt.Errorf("artifact: writing temp result file: %w", err)
	}
	if err := os.Rename(tmp, paths.Result); err != nil {
		return fmt.Errorf("artifact: renaming result file into place: %w", err)
	}
	return nil
}

// AppendIndex appends one line to the top-level runs index. Callers append
// once at run start (start time set, end/status absent) and again at run
// end (full entry); readers take the last occurrence of a runId as
// authoritative.
func (w *Writer) AppendIndex(entry IndexEntry) error {
	w.indexMu.Lock()
	defer w.indexMu.Unlock()
	return appendJSONL(filepath.Join(w.runsRoot, "index.jsonl"), entry)
}

// AppendChild appends one line to the parent run's children.jsonl.
func (w *Writer) AppendChild(parent Paths, entry IndexEntry) error {
	return appendJSONL(parent.Children, entry)
}

// AppendEvent appends one structured event line to events.jsonl.
func (w *Writer) AppendEvent(paths Paths, event Event) error {
	return appendJSONL(paths.Events, event)
}

func appendJSONL(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: preparing directory for %s: %w", filepath.Base(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("artifact: opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("artifact: encoding %s line: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("artifact: writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
