package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/iverson-lu/pvtx/internal/artifact"
	"github.com/iverson-lu/pvtx/internal/envcompose"
	"github.com/iverson-lu/pvtx/internal/invariant"
	"github.com/iverson-lu/pvtx/internal/manifest"
	"github.com/iverson-lu/pvtx/internal/refresolve"
	"github.com/iverson-lu/pvtx/internal/reporter"
	"github.com/iverson-lu/pvtx/internal/runid"
	"github.com/iverson-lu/pvtx/internal/runner"
	"github.com/iverson-lu/pvtx/internal/runstate"
)

type suiteInvocationInput struct {
	RootRunID string
	RunID     string

	ParentPaths *artifact.Paths
	ParentRunID string

	Suite       manifest.Suite
	SuiteFolder string

	NodeOverrides map[string]map[string]manifest.InputValue
	PlanEnv       map[string]string
	RunOverrides  map[string]string

	PlanID, PlanVersion string
}

// runSuiteInvocation sequences a suite's nodes, one at a time (maxParallel
// greater than one is accepted but never honored: concurrency is out of
// scope for this scheduler, and the request is acknowledged with a warning
// rather than silently ignored). Each node is retried up to
// controls.RetryOnError times on error/timeout and repeated
// controls.Repeat times; a node outcome that is not passed aborts the
// remaining nodes unless controls.ContinueOnFailure is set, except that a
// timeout under timeoutPolicy "abortSuite" always aborts regardless of
// continueOnFailure.
func (e *Engine) runSuiteInvocation(ctx context.Context, in suiteInvocationInput) (runstate.Status, error) {
	invariant.Precondition(in.RunID != "", "suite invocation run id must be set")

	controls := in.Suite.Controls.Normalized()

	paths, err := e.Writer.CreateRunFolder(in.RunID)
	if err != nil {
		return runstate.Error, err
	}
	descHash, err := e.Writer.WriteManifestSnapshot(paths, in.Suite)
	if err != nil {
		return runstate.Error, err
	}

	env, err := envcompose.Compose(envcompose.OSEnviron(), in.PlanEnv, in.Suite.Environment, in.RunOverrides)
	if err != nil {
		return runstate.Error, err
	}
	if err := e.Writer.WriteEnv(paths, env.Redacted()); err != nil {
		return runstate.Error, err
	}

	start := time.Now()
	e.appendSuiteStart(in, start)

	if controls.MaxParallel > 1 {
		e.emitWarning(paths, in.RootRunID, "Controls.MaxParallel.Ignored",
			fmt.Sprintf("suite %s@%s requested maxParallel=%d; this scheduler runs nodes sequentially", in.Suite.ID, in.Suite.Version, controls.MaxParallel))
	}

	planned := make([]reporter.PlannedNode, 0, len(in.Suite.Nodes))
	for _, node := range in.Suite.Nodes {
		planned = append(planned, reporter.PlannedNode{NodeID: node.NodeID, ParentNodeID: in.Suite.ID, RunType: runstate.RunTypeCase})
	}
	e.Bus.OnRunPlanned(in.RunID, runstate.RunTypeSuite, planned)

	status := runstate.Passed
	abort := false

	for _, node := range in.Suite.Nodes {
		if abort {
			// A node skipped because an earlier node stopped the suite is
			// recorded aborted but leaves the aggregate at that node's status.
			e.recordAborted(paths, in, node)
			continue
		}
		if ctx.Err() != nil {
			abort = true
			status = runstate.Aggregate(status, runstate.Aborted)
			e.recordAborted(paths, in, node)
			continue
		}

		entry, err := refresolve.ResolveCase(e.Catalog, in.SuiteFolder, node.Ref)
		if err != nil {
			status = runstate.Aggregate(status, runstate.Error)
			e.emitWarning(paths, in.RootRunID, "Reference.Invalid", err.Error())
			abort = !controls.ContinueOnFailure
			continue
		}

		nodeStatus := e.runRepeatedNode(ctx, in, paths, node, entry.Descriptor, controls)
		status = runstate.Aggregate(status, nodeStatus)
		abort = shouldAbort(nodeStatus, controls)
	}

	end := time.Now()
	result := runner.Result{
		SchemaVersion: 1,
		RunType:       "suite",
		TestID:        in.Suite.ID,
		TestVersion:   in.Suite.Version,
		Status:        status,
		StartTime:     start,
		EndTime:       end,
	}
	if err := e.Writer.WriteResultAtomic(paths, result); err != nil {
		return runstate.Error, err
	}

	indexEntry := artifact.IndexEntry{
		RunID:          in.RunID,
		RunType:        runstate.RunTypeSuite,
		SuiteID:        in.Suite.ID,
		SuiteVersion:   in.Suite.Version,
		PlanID:         in.PlanID,
		PlanVersion:    in.PlanVersion,
		ParentRunID:    in.ParentRunID,
		StartTime:      start,
		EndTime:        &end,
		Status:         status,
		DescriptorHash: descHash,
	}
	if err := e.Writer.AppendIndex(indexEntry); err != nil {
		return runstate.Error, err
	}
	if in.ParentPaths != nil {
		if err := e.Writer.AppendChild(*in.ParentPaths, indexEntry); err != nil {
			return runstate.Error, err
		}
	}

	return status, nil
}

// runRepeatedNode runs one suite node controls.Repeat times, each repetition
// retried up to controls.RetryOnError times, and folds each repetition's
// final attempt status into the node's own aggregate (an attempt that a
// retry replaces is not folded in).
func (e *Engine) runRepeatedNode(ctx context.Context, in suiteInvocationInput, suitePaths artifact.Paths, node manifest.TestCaseNode, tc manifest.TestCase, controls manifest.SuiteControls) runstate.Status {
	nodeStatus := runstate.Passed
	overrides := in.NodeOverrides[node.NodeID]

	for rep := 0; rep < controls.Repeat; rep++ {
		var attemptStatus runstate.Status
		retryCount := 0

		for {
			childRunID, err := runid.Child(in.RunID, time.Now())
			if err != nil {
				return runstate.Error
			}

			attemptStatus, _ = e.runCaseInvocation(ctx, caseInvocationInput{
				RootRunID:   in.RootRunID,
				RunID:       childRunID,
				ParentPaths: &suitePaths,
				ParentRunID: in.RunID,
				NodeID:      node.NodeID,
				TestCase:    tc,
				NodeBase:    node.Inputs,
				Overrides:   overrides,
				Env:         mustComposeNodeEnv(in),
				SuiteID:     in.Suite.ID,
				SuiteVersion: in.Suite.Version,
				PlanID:      in.PlanID,
				PlanVersion: in.PlanVersion,
				RetryCount:  retryCount,
			})

			if (attemptStatus == runstate.Error || attemptStatus == runstate.Timeout) && retryCount < controls.RetryOnError {
				retryCount++
				continue
			}
			break
		}

		nodeStatus = runstate.Aggregate(nodeStatus, attemptStatus)
		if shouldAbort(attemptStatus, controls) {
			break
		}
	}

	return nodeStatus
}

// shouldAbort decides whether a node's terminal status should stop the rest
// of the suite. A timeout under timeoutPolicy "abortSuite" always aborts;
// under "continueSuite" it is judged like any other non-passed status.
func shouldAbort(status runstate.Status, controls manifest.SuiteControls) bool {
	if status == runstate.Passed {
		return false
	}
	if status == runstate.Timeout && controls.TimeoutPolicy == "abortSuite" {
		return true
	}
	return !controls.ContinueOnFailure
}

// appendSuiteStart appends the provisional runs-index entry for a suite the
// moment its run folder exists, symmetric to a case invocation's
// appendNodeStart: a process killed mid-suite still leaves a trace with a
// start time and no end time/status.
func (e *Engine) appendSuiteStart(in suiteInvocationInput, start time.Time) {
	_ = e.Writer.AppendIndex(artifact.IndexEntry{
		RunID:        in.RunID,
		RunType:      runstate.RunTypeSuite,
		SuiteID:      in.Suite.ID,
		SuiteVersion: in.Suite.Version,
		PlanID:       in.PlanID,
		PlanVersion:  in.PlanVersion,
		ParentRunID:  in.ParentRunID,
		StartTime:    start,
		Status:       runstate.Running,
	})
}

func (e *Engine) recordAborted(suitePaths artifact.Paths, in suiteInvocationInput, node manifest.TestCaseNode) {
	entry := artifact.IndexEntry{
		RunType:     runstate.RunTypeCase,
		NodeID:      node.NodeID,
		SuiteID:     in.Suite.ID,
		SuiteVersion: in.Suite.Version,
		ParentRunID: in.RunID,
		StartTime:   time.Now(),
		Status:      runstate.Aborted,
	}
	_ = e.Writer.AppendChild(suitePaths, entry)
	e.Bus.OnNodeFinished(in.RootRunID, reporter.NodeState{NodeID: node.NodeID, Status: runstate.Aborted})
}

// mustComposeNodeEnv rebuilds the suite-level effective environment for one
// node invocation. Recomposing per node (rather than caching the *Map) keeps
// each invocation's secret registrations independent of sibling nodes.
func mustComposeNodeEnv(in suiteInvocationInput) *envcompose.Map {
	env, err := envcompose.Compose(envcompose.OSEnviron(), in.PlanEnv, in.Suite.Environment, in.RunOverrides)
	invariant.Invariant(err == nil, "suite environment recomposition must not fail after it already succeeded once")
	return env
}
