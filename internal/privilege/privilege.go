// Package privilege implements C11, the elevation policy gate checked once
// per case before the runner is invoked.
package privilege

import (
	"fmt"

	"github.com/iverson-lu/pvtx/internal/manifest"
)

// RequiredError is Privilege.Required: an adminRequired case ran on a
// non-elevated process.
type RequiredError struct {
	CaseID      string
	CaseVersion string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("Privilege.Required: %s@%s requires an elevated process", e.CaseID, e.CaseVersion)
}
func (e *RequiredError) Code() string { return "Privilege.Required" }

// Decision is the gate's verdict for one case.
type Decision struct {
	Allowed bool
	// Warn is non-empty when the case should proceed but a warning event
	// (Controls.MaxParallel.Ignored's sibling, Privilege's own advisory) is
	// owed to the reporter bus.
	Warn string
}

// Check applies the policy named by p against the current process's
// elevation state. user never blocks; adminPreferred warns but proceeds;
// adminRequired fails synchronously before any runner invocation.
func Check(p manifest.Privilege, caseID, caseVersion string) (Decision, error) {
	switch p {
	case manifest.PrivilegeAdminRequired:
		if !IsElevated() {
			return Decision{}, &RequiredError{CaseID: caseID, CaseVersion: caseVersion}
		}
		return Decision{Allowed: true}, nil

	case manifest.PrivilegeAdminPreferred:
		if !IsElevated() {
			return Decision{Allowed: true, Warn: fmt.Sprintf("case %s@%s prefers an elevated process but is running unelevated", caseID, caseVersion)}, nil
		}
		return Decision{Allowed: true}, nil

	default:
		return Decision{Allowed: true}, nil
	}
}
