package scheduler

import (
	"context"
	"time"

	"github.com/iverson-lu/pvtx/internal/artifact"
	"github.com/iverson-lu/pvtx/internal/manifest"
	"github.com/iverson-lu/pvtx/internal/refresolve"
	"github.com/iverson-lu/pvtx/internal/reporter"
	"github.com/iverson-lu/pvtx/internal/runid"
	"github.com/iverson-lu/pvtx/internal/runner"
	"github.com/iverson-lu/pvtx/internal/runstate"
)

type planInvocationInput struct {
	RootRunID string
	RunID     string

	Plan       manifest.Plan
	PlanFolder string

	RunOverrides map[string]string
}

// runPlanInvocation runs every suite a plan names, in order. Unlike a suite's
// nodes, a plan never aborts early on a failing suite: plan manifests carry
// no continueOnFailure control, so skipping a suite the operator explicitly
// listed would be a silent surprise. The plan's own status is the monotonic
// max of its suites' results.
func (e *Engine) runPlanInvocation(ctx context.Context, in planInvocationInput) (runstate.Status, error) {
	paths, err := e.Writer.CreateRunFolder(in.RunID)
	if err != nil {
		return runstate.Error, err
	}
	descHash, err := e.Writer.WriteManifestSnapshot(paths, in.Plan)
	if err != nil {
		return runstate.Error, err
	}

	start := time.Now()
	e.appendPlanStart(in, start)

	planned := make([]reporter.PlannedNode, 0, len(in.Plan.Suites))
	for _, s := range in.Plan.Suites {
		planned = append(planned, reporter.PlannedNode{NodeID: s.NodeID, ParentNodeID: in.Plan.ID, RunType: runstate.RunTypeSuite})
	}
	e.Bus.OnRunPlanned(in.RunID, runstate.RunTypePlan, planned)

	status := runstate.Passed

	for _, suiteNode := range in.Plan.Suites {
		if ctx.Err() != nil {
			status = runstate.Aggregate(status, runstate.Aborted)
			continue
		}

		entry, err := refresolve.ResolveSuite(e.Catalog, in.PlanFolder, suiteNode.Ref)
		if err != nil {
			status = runstate.Aggregate(status, runstate.Error)
			e.emitWarning(paths, in.RootRunID, "Reference.Invalid", err.Error())
			continue
		}

		childRunID, err := runid.Child(in.RunID, time.Now())
		if err != nil {
			return runstate.Error, err
		}

		suiteStatus, err := e.runSuiteInvocation(ctx, suiteInvocationInput{
			RootRunID:   in.RootRunID,
			RunID:       childRunID,
			ParentPaths: &paths,
			ParentRunID: in.RunID,
			Suite:       entry.Descriptor,
			SuiteFolder: entry.FolderPath,
			PlanEnv:     in.Plan.Environment,
			RunOverrides: in.RunOverrides,
			PlanID:      in.Plan.ID,
			PlanVersion: in.Plan.Version,
		})
		if err != nil {
			return runstate.Error, err
		}
		status = runstate.Aggregate(status, suiteStatus)
	}

	end := time.Now()
	result := runner.Result{
		SchemaVersion: 1,
		RunType:       "plan",
		TestID:        in.Plan.ID,
		TestVersion:   in.Plan.Version,
		Status:        status,
		StartTime:     start,
		EndTime:       end,
	}
	if err := e.Writer.WriteResultAtomic(paths, result); err != nil {
		return runstate.Error, err
	}

	if err := e.Writer.AppendIndex(artifact.IndexEntry{
		RunID:          in.RunID,
		RunType:        runstate.RunTypePlan,
		PlanID:         in.Plan.ID,
		PlanVersion:    in.Plan.Version,
		StartTime:      start,
		EndTime:        &end,
		Status:         status,
		DescriptorHash: descHash,
	}); err != nil {
		return runstate.Error, err
	}

	return status, nil
}

// appendPlanStart appends the provisional runs-index entry for a plan the
// moment its run folder exists, symmetric to a case's appendNodeStart and a
// suite's appendSuiteStart: a process killed mid-plan still leaves a trace.
func (e *Engine) appendPlanStart(in planInvocationInput, start time.Time) {
	_ = e.Writer.AppendIndex(artifact.IndexEntry{
		RunID:       in.RunID,
		RunType:     runstate.RunTypePlan,
		PlanID:      in.Plan.ID,
		PlanVersion: in.Plan.Version,
		StartTime:   start,
		Status:      runstate.Running,
	})
}
