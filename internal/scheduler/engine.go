// Package scheduler implements C8: turning a RunRequest into a tree of case
// invocations, sequencing suite nodes and plan suites, applying retry,
// continue-on-failure and timeout-policy controls, and folding every child
// outcome into one aggregated run status.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/iverson-lu/pvtx/internal/artifact"
	"github.com/iverson-lu/pvtx/internal/discovery"
	"github.com/iverson-lu/pvtx/internal/envcompose"
	"github.com/iverson-lu/pvtx/internal/identity"
	"github.com/iverson-lu/pvtx/internal/invariant"
	"github.com/iverson-lu/pvtx/internal/reporter"
	"github.com/iverson-lu/pvtx/internal/runid"
	"github.com/iverson-lu/pvtx/internal/runstate"
	"github.com/iverson-lu/pvtx/internal/secretscrub"
)

// NotFoundError reports a RunRequest target that does not exist in the
// catalog under discovery's current snapshot.
type NotFoundError struct {
	Kind string // "testCase", "suite" or "plan"
	Raw  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q is not present in the catalog", e.Kind, e.Raw)
}

// Engine wires the discovery catalog, artifact writer, reporter bus and
// secret tracker together and drives RunRequests against them.
type Engine struct {
	Catalog           *discovery.Catalog
	Writer            *artifact.Writer
	Bus               reporter.Bus
	Secrets           *secretscrub.Tracker
	RunnerPath        string
	EngineVersion     string
	RunnerGracePeriod time.Duration
}

// New returns an Engine ready to accept RunRequests. bus may be nil, in
// which case a reporter.Noop is used.
func New(cat *discovery.Catalog, writer *artifact.Writer, bus reporter.Bus, secrets *secretscrub.Tracker, runnerPath, engineVersion string, runnerGracePeriod time.Duration) *Engine {
	invariant.NotNil(cat, "catalog")
	invariant.NotNil(writer, "writer")
	invariant.NotNil(secrets, "secrets")
	if bus == nil {
		bus = reporter.Noop{}
	}
	return &Engine{
		Catalog:           cat,
		Writer:            writer,
		Bus:               bus,
		Secrets:           secrets,
		RunnerPath:        runnerPath,
		EngineVersion:     engineVersion,
		RunnerGracePeriod: runnerGracePeriod,
	}
}

// emitWarning notifies the reporter bus and persists a durable events.jsonl
// line, so an observer watching a live run and a reader of a finished run
// folder learn the same thing.
func (e *Engine) emitWarning(paths artifact.Paths, rootRunID, code, message string) {
	e.Bus.OnWarning(rootRunID, code, message)
	_ = e.Writer.AppendEvent(paths, artifact.Event{
		Time:    time.Now(),
		Level:   "warn",
		Code:    code,
		Message: message,
	})
}

// RunResult is the top-level outcome of one RunRequest.
type RunResult struct {
	RunID  string
	Status runstate.Status
}

// Run executes req to completion (or until ctx is cancelled) and returns the
// root run id plus its aggregated status.
func (e *Engine) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if err := req.Validate(); err != nil {
		return RunResult{}, err
	}

	runID, err := runid.New(time.Now())
	if err != nil {
		return RunResult{}, err
	}

	switch {
	case req.TestCase != "":
		return e.runBareCase(ctx, runID, req)
	case req.Suite != "":
		return e.runTopLevelSuite(ctx, runID, req)
	default:
		return e.runTopLevelPlan(ctx, runID, req)
	}
}

func (e *Engine) runBareCase(ctx context.Context, runID string, req RunRequest) (RunResult, error) {
	id, err := identity.Parse(req.TestCase)
	if err != nil {
		return RunResult{}, err
	}
	entry, ok := e.Catalog.Cases[id]
	if !ok {
		return RunResult{}, &NotFoundError{Kind: "testCase", Raw: req.TestCase}
	}

	env, err := envcompose.Compose(envcompose.OSEnviron(), nil, nil, req.EnvironmentOverrides)
	if err != nil {
		return RunResult{}, err
	}

	e.Bus.OnRunPlanned(runID, runstate.RunTypeCase, []reporter.PlannedNode{
		{NodeID: entry.Descriptor.ID, RunType: runstate.RunTypeCase, TestID: entry.Descriptor.ID, TestVersion: entry.Descriptor.Version},
	})

	status, err := e.runCaseInvocation(ctx, caseInvocationInput{
		RootRunID: runID,
		RunID:     runID,
		NodeID:    entry.Descriptor.ID,
		TestCase:  entry.Descriptor,
		Overrides: req.CaseInputs,
		Env:       env,
	})
	if err != nil {
		return RunResult{}, err
	}

	e.Bus.OnRunFinished(runID, status)
	return RunResult{RunID: runID, Status: status}, nil
}

func (e *Engine) runTopLevelSuite(ctx context.Context, runID string, req RunRequest) (RunResult, error) {
	id, err := identity.Parse(req.Suite)
	if err != nil {
		return RunResult{}, err
	}
	entry, ok := e.Catalog.Suites[id]
	if !ok {
		return RunResult{}, &NotFoundError{Kind: "suite", Raw: req.Suite}
	}

	status, err := e.runSuiteInvocation(ctx, suiteInvocationInput{
		RootRunID:     runID,
		RunID:         runID,
		Suite:         entry.Descriptor,
		SuiteFolder:   entry.FolderPath,
		NodeOverrides: req.NodeOverrides,
		PlanEnv:       nil,
		RunOverrides:  req.EnvironmentOverrides,
	})
	if err != nil {
		return RunResult{}, err
	}

	e.Bus.OnRunFinished(runID, status)
	return RunResult{RunID: runID, Status: status}, nil
}

func (e *Engine) runTopLevelPlan(ctx context.Context, runID string, req RunRequest) (RunResult, error) {
	id, err := identity.Parse(req.Plan)
	if err != nil {
		return RunResult{}, err
	}
	entry, ok := e.Catalog.Plans[id]
	if !ok {
		return RunResult{}, &NotFoundError{Kind: "plan", Raw: req.Plan}
	}

	status, err := e.runPlanInvocation(ctx, planInvocationInput{
		RootRunID:    runID,
		RunID:        runID,
		Plan:         entry.Descriptor,
		PlanFolder:   entry.FolderPath,
		RunOverrides: req.EnvironmentOverrides,
	})
	if err != nil {
		return RunResult{}, err
	}

	e.Bus.OnRunFinished(runID, status)
	return RunResult{RunID: runID, Status: status}, nil
}
