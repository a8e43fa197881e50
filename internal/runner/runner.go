// Package runner implements C7: spawning and supervising the external
// script-runner process that hosts one test case's script, and parsing its
// structured result.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/iverson-lu/pvtx/internal/invariant"
	"github.com/iverson-lu/pvtx/internal/runstate"
)

// Request is the document written to the runner's stdin: unredacted inputs
// and environment, the run-folder path, and enough identity context for the
// runner to label its own output.
type Request struct {
	RunFolder     string                 `json:"runFolder"`
	TestID        string                 `json:"testId"`
	TestVersion   string                 `json:"testVersion"`
	NodeID        string                 `json:"nodeId,omitempty"`
	SuiteID       string                 `json:"suiteId,omitempty"`
	SuiteVersion  string                 `json:"suiteVersion,omitempty"`
	PlanID        string                 `json:"planId,omitempty"`
	PlanVersion   string                 `json:"planVersion,omitempty"`
	Inputs        map[string]interface{} `json:"inputs"`
	Environment   map[string]string      `json:"environment"`
	TimeoutSec    int                    `json:"timeoutSec,omitempty"`
	EngineVersion string                 `json:"engineVersion"`
}

// Result is result.json, as produced by the runner (or synthesized by the
// engine when the runner fails to produce one).
type Result struct {
	SchemaVersion   int                     `json:"schemaVersion"`
	RunType         string                  `json:"runType"`
	TestID          string                  `json:"testId"`
	TestVersion     string                  `json:"testVersion"`
	Status          runstate.Status         `json:"status"`
	StartTime       time.Time               `json:"startTime"`
	EndTime         time.Time               `json:"endTime"`
	ExitCode        *int                    `json:"exitCode,omitempty"`
	Metrics         map[string]interface{}  `json:"metrics,omitempty"`
	EffectiveInputs map[string]interface{}  `json:"effectiveInputs,omitempty"`
	Error           *runstate.ErrorDetail   `json:"error,omitempty"`
	Runner          map[string]interface{}  `json:"runner,omitempty"`
}

// Invoke spawns runnerPath with req on stdin, streams its stdout/stderr into
// stdout.log/stderr.log under req.RunFolder, enforces req.TimeoutSec (if
// positive) with gracePeriod allowed for the process to exit on its own
// before force-termination, and returns the parsed result.json. If the
// runner exits without leaving a parseable result.json, Invoke synthesizes a
// runnerError result rather than failing.
func Invoke(ctx context.Context, runnerPath string, req Request, gracePeriod time.Duration) (Result, error) {
	invariant.Precondition(req.RunFolder != "", "run folder must be set")
	invariant.Precondition(req.TestID != "", "test id must be set")

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if req.TimeoutSec > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(req.TimeoutSec)*time.Second)
		defer cancelTimeout()
	}

	stdoutFile, err := os.Create(filepath.Join(req.RunFolder, "stdout.log"))
	if err != nil {
		return Result{}, fmt.Errorf("runner: creating stdout.log: %w", err)
	}
	defer stdoutFile.Close()

	stderrFile, err := os.Create(filepath.Join(req.RunFolder, "stderr.log"))
	if err != nil {
		return Result{}, fmt.Errorf("runner: creating stderr.log: %w", err)
	}
	defer stderrFile.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("runner: encoding request: %w", err)
	}

	cmd := exec.Command(runnerPath, req.RunFolder)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = toEnvironList(req.Environment)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return synthesize(req, start, runstate.SourceRunner, "runner failed to start", err), nil
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	var aborted, timedOut bool
	select {
	case waitErr = <-waitCh:
	case <-runCtx.Done():
		timedOut = req.TimeoutSec > 0 && runCtx.Err() == context.DeadlineExceeded
		aborted = !timedOut
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				_ = cmd.Process.Kill()
			}
		}
		select {
		case waitErr = <-waitCh:
		case <-time.After(gracePeriod):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			waitErr = fmt.Errorf("runner did not exit within grace period after termination signal")
		}
	}

	end := time.Now()

	if timedOut {
		res := synthesize(req, start, runstate.SourceEngine, "case exceeded its configured timeout", nil)
		res.Status = runstate.Timeout
		res.EndTime = end
		return res, nil
	}
	if aborted {
		res := synthesize(req, start, runstate.SourceEngine, "run was cancelled", nil)
		res.Status = runstate.Aborted
		res.EndTime = end
		return res, nil
	}

	resultPath := filepath.Join(req.RunFolder, "result.json")
	data, readErr := os.ReadFile(resultPath)
	if readErr != nil {
		return synthesize(req, start, runstate.SourceRunner, "runner did not produce result.json", waitErr), nil
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return synthesize(req, start, runstate.SourceRunner, "runner produced malformed result.json", err), nil
	}
	if !res.Status.Valid() {
		return synthesize(req, start, runstate.SourceRunner, fmt.Sprintf("runner reported unrecognized status %q", res.Status), nil), nil
	}
	return res, nil
}

func synthesize(req Request, start time.Time, source runstate.ErrorSource, message string, cause error) Result {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	status := runstate.Error
	kind := "runnerError"
	if source == runstate.SourceEngine {
		kind = "aborted"
	}
	return Result{
		SchemaVersion: 1,
		RunType:       "testCase",
		TestID:        req.TestID,
		TestVersion:   req.TestVersion,
		Status:        status,
		StartTime:     start,
		EndTime:       time.Now(),
		Error: &runstate.ErrorDetail{
			Kind:    kind,
			Source:  source,
			Message: message,
		},
	}
}

func toEnvironList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
