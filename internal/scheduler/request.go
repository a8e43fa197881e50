package scheduler

import (
	"fmt"

	"github.com/iverson-lu/pvtx/internal/manifest"
)

// PlanInputOverrideNotAllowedError is Plan.InputOverride.NotAllowed: a plan
// run request tried to carry input overrides, which plans never permit.
type PlanInputOverrideNotAllowedError struct{}

func (e *PlanInputOverrideNotAllowedError) Error() string {
	return "Plan.InputOverride.NotAllowed: plan run requests may not carry caseInputs or nodeOverrides"
}
func (e *PlanInputOverrideNotAllowedError) Code() string { return "Plan.InputOverride.NotAllowed" }

// RunRequest is the engine's entry point: exactly one of TestCase, Suite or
// Plan names the target, by "id@version" identity.
type RunRequest struct {
	TestCase string
	Suite    string
	Plan     string

	// CaseInputs is valid only with TestCase.
	CaseInputs map[string]manifest.InputValue
	// NodeOverrides is valid only with Suite: nodeId -> that node's input
	// overrides.
	NodeOverrides map[string]map[string]manifest.InputValue
	// EnvironmentOverrides layers on top of every other environment source.
	EnvironmentOverrides map[string]string
}

func (r RunRequest) targetCount() int {
	n := 0
	if r.TestCase != "" {
		n++
	}
	if r.Suite != "" {
		n++
	}
	if r.Plan != "" {
		n++
	}
	return n
}

// Validate enforces the RunRequest grammar: exactly one target, and input
// overrides scoped to the target type they apply to.
func (r RunRequest) Validate() error {
	if n := r.targetCount(); n != 1 {
		return fmt.Errorf("RunRequest: exactly one of testCase, suite, plan must be set (got %d)", n)
	}
	if r.Plan != "" && (len(r.CaseInputs) > 0 || len(r.NodeOverrides) > 0) {
		return &PlanInputOverrideNotAllowedError{}
	}
	if r.TestCase == "" && len(r.CaseInputs) > 0 {
		return fmt.Errorf("RunRequest: caseInputs is only valid with testCase")
	}
	if r.Suite == "" && len(r.NodeOverrides) > 0 {
		return fmt.Errorf("RunRequest: nodeOverrides is only valid with suite")
	}
	return nil
}
