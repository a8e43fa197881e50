package scheduler

import (
	"context"
	"time"

	"github.com/iverson-lu/pvtx/internal/artifact"
	"github.com/iverson-lu/pvtx/internal/envcompose"
	"github.com/iverson-lu/pvtx/internal/inputresolve"
	"github.com/iverson-lu/pvtx/internal/invariant"
	"github.com/iverson-lu/pvtx/internal/manifest"
	"github.com/iverson-lu/pvtx/internal/privilege"
	"github.com/iverson-lu/pvtx/internal/reporter"
	"github.com/iverson-lu/pvtx/internal/runner"
	"github.com/iverson-lu/pvtx/internal/runstate"
)

// caseInvocationInput names everything one case invocation needs: identity
// of the node within the wider run, the case descriptor, its layered input
// sources, the composed environment, and ancestry for the runner's request
// payload.
type caseInvocationInput struct {
	RootRunID string // the top-level run id, for reporter.Bus calls
	RunID     string // this invocation's own run-folder id

	ParentPaths *artifact.Paths
	ParentRunID string
	NodeID      string

	TestCase  manifest.TestCase
	NodeBase  map[string]manifest.InputValue
	Overrides map[string]manifest.InputValue
	Env       *envcompose.Map

	SuiteID, SuiteVersion string
	PlanID, PlanVersion   string
	RetryCount            int
}

// runCaseInvocation runs exactly one case invocation to completion: it
// always produces a run folder and an index/children entry, even when the
// case never reaches the runner (a privilege or input-resolution failure is
// recorded as an engine-sourced error result, not a silent skip).
func (e *Engine) runCaseInvocation(ctx context.Context, in caseInvocationInput) (runstate.Status, error) {
	invariant.Precondition(in.RunID != "", "case invocation run id must be set")

	paths, err := e.Writer.CreateRunFolder(in.RunID)
	if err != nil {
		return runstate.Error, err
	}
	descHash, err := e.Writer.WriteManifestSnapshot(paths, in.TestCase)
	if err != nil {
		return runstate.Error, err
	}

	start := time.Now()
	e.appendNodeStart(paths, in, start)
	e.Bus.OnNodeStarted(in.RootRunID, in.NodeID)

	decision, err := privilege.Check(in.TestCase.Privilege, in.TestCase.ID, in.TestCase.Version)
	if err != nil {
		return e.finishCase(in, paths, start, descHash, runner.Result{
			SchemaVersion: 1,
			RunType:       "testCase",
			TestID:        in.TestCase.ID,
			TestVersion:   in.TestCase.Version,
			Status:        runstate.Error,
			StartTime:     start,
			EndTime:       time.Now(),
			Error:         &runstate.ErrorDetail{Kind: "privilegeDenied", Source: runstate.SourceEngine, Message: err.Error()},
		})
	}
	if decision.Warn != "" {
		e.emitWarning(paths, in.RootRunID, "Privilege.Advisory", decision.Warn)
	}

	inputs, err := inputresolve.Resolve(in.TestCase, in.NodeID, in.NodeBase, in.Overrides, in.Env, e.Secrets)
	if err != nil {
		return e.finishCase(in, paths, start, descHash, runner.Result{
			SchemaVersion: 1,
			RunType:       "testCase",
			TestID:        in.TestCase.ID,
			TestVersion:   in.TestCase.Version,
			Status:        runstate.Error,
			StartTime:     start,
			EndTime:       time.Now(),
			Error:         &runstate.ErrorDetail{Kind: "inputResolutionFailed", Source: runstate.SourceEngine, Message: err.Error()},
		})
	}
	// env.json is written only now, once input resolution has registered any
	// secret env-ref values, so a variable holding one is written redacted.
	redactedEnv := in.Env.Redacted()
	for k, v := range redactedEnv {
		redactedEnv[k] = e.Secrets.RedactedString(v)
	}
	if err := e.Writer.WriteEnv(paths, redactedEnv); err != nil {
		return runstate.Error, err
	}
	if err := e.Writer.WriteParams(paths, inputs.Redacted()); err != nil {
		return runstate.Error, err
	}

	timeoutSec := 0
	if in.TestCase.TimeoutSec != nil {
		timeoutSec = *in.TestCase.TimeoutSec
	}

	result, err := runner.Invoke(ctx, e.RunnerPath, runner.Request{
		RunFolder:     paths.Root,
		TestID:        in.TestCase.ID,
		TestVersion:   in.TestCase.Version,
		NodeID:        in.NodeID,
		SuiteID:       in.SuiteID,
		SuiteVersion:  in.SuiteVersion,
		PlanID:        in.PlanID,
		PlanVersion:   in.PlanVersion,
		Inputs:        inputs.Raw(),
		Environment:   in.Env.Snapshot(),
		TimeoutSec:    timeoutSec,
		EngineVersion: e.EngineVersion,
	}, e.RunnerGracePeriod)
	if err != nil {
		return runstate.Error, err
	}

	return e.finishCase(in, paths, start, descHash, result)
}

func (e *Engine) finishCase(in caseInvocationInput, paths artifact.Paths, start time.Time, descHash string, result runner.Result) (runstate.Status, error) {
	if result.StartTime.IsZero() {
		result.StartTime = start
	}
	if err := e.Writer.WriteResultAtomic(paths, result); err != nil {
		return runstate.Error, err
	}

	end := result.EndTime
	entry := artifact.IndexEntry{
		RunID:          in.RunID,
		RunType:        runstate.RunTypeCase,
		NodeID:         in.NodeID,
		TestID:         in.TestCase.ID,
		TestVersion:    in.TestCase.Version,
		SuiteID:        in.SuiteID,
		SuiteVersion:   in.SuiteVersion,
		PlanID:         in.PlanID,
		PlanVersion:    in.PlanVersion,
		ParentRunID:    in.ParentRunID,
		RetryCount:     in.RetryCount,
		StartTime:      start,
		EndTime:        &end,
		Status:         result.Status,
		DescriptorHash: descHash,
	}
	if err := e.Writer.AppendIndex(entry); err != nil {
		return runstate.Error, err
	}
	if in.ParentPaths != nil {
		if err := e.Writer.AppendChild(*in.ParentPaths, entry); err != nil {
			return runstate.Error, err
		}
	}

	e.Bus.OnNodeFinished(in.RootRunID, reporter.NodeState{
		NodeID:     in.NodeID,
		Status:     result.Status,
		RetryCount: in.RetryCount,
		Error:      result.Error,
	})

	return result.Status, nil
}

func (e *Engine) appendNodeStart(paths artifact.Paths, in caseInvocationInput, start time.Time) {
	_ = e.Writer.AppendIndex(artifact.IndexEntry{
		RunID:        in.RunID,
		RunType:      runstate.RunTypeCase,
		NodeID:       in.NodeID,
		TestID:       in.TestCase.ID,
		TestVersion:  in.TestCase.Version,
		SuiteID:      in.SuiteID,
		SuiteVersion: in.SuiteVersion,
		PlanID:       in.PlanID,
		PlanVersion:  in.PlanVersion,
		ParentRunID:  in.ParentRunID,
		RetryCount:   in.RetryCount,
		StartTime:    start,
		Status:       runstate.Running,
	})
	_ = paths
}
