// Package manifest implements C1, the identity & manifest model: descriptor
// structs for test cases, suites and plans, parsed from the structured JSON
// document format and validated against compiled JSON Schemas.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/iverson-lu/pvtx/internal/identity"
)

// Privilege is the elevation policy a test case declares (C11 consumes this).
type Privilege string

const (
	PrivilegeUser           Privilege = "user"
	PrivilegeAdminPreferred Privilege = "adminPreferred"
	PrivilegeAdminRequired  Privilege = "adminRequired"
)

// EnvRef is an env-reference: an input value that indirects through the
// effective environment (C5/C6).
type EnvRef struct {
	VarName  string          `json:"$env"`
	Default  json.RawMessage `json:"default,omitempty"`
	Required bool            `json:"required,omitempty"`
	Secret   bool            `json:"secret,omitempty"`
}

// InputValue is a literal-or-env-reference value: a single discriminator
// field ($env presence) decides the parse, not a subclass hierarchy.
type InputValue struct {
	IsEnvRef bool
	EnvRef   EnvRef
	Literal  json.RawMessage
}

// UnmarshalJSON implements the $env-presence discriminator.
func (v *InputValue) UnmarshalJSON(data []byte) error {
	var probe struct {
		Env *string `json:"$env"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Env != nil {
		var ref EnvRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return fmt.Errorf("invalid env-reference: %w", err)
		}
		*v = InputValue{IsEnvRef: true, EnvRef: ref}
		return nil
	}
	*v = InputValue{IsEnvRef: false, Literal: append(json.RawMessage(nil), data...)}
	return nil
}

// MarshalJSON round-trips the discriminated union.
func (v InputValue) MarshalJSON() ([]byte, error) {
	if v.IsEnvRef {
		return json.Marshal(v.EnvRef)
	}
	if v.Literal == nil {
		return []byte("null"), nil
	}
	return v.Literal, nil
}

// ParamDef is a parameter definition (C1/C4).
type ParamDef struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Required   bool        `json:"required"`
	Default    *InputValue `json:"default,omitempty"`
	Min        *float64    `json:"min,omitempty"`
	Max        *float64    `json:"max,omitempty"`
	EnumValues []string    `json:"enumValues,omitempty"`
	Unit       string      `json:"unit,omitempty"`
	Pattern    string      `json:"pattern,omitempty"`
	Help       string      `json:"help,omitempty"`
	UIHint     string      `json:"uiHint,omitempty"`
}

// TestCase is the test-case descriptor, paired with a script file in the
// same folder; the script itself is opaque to the engine.
type TestCase struct {
	SchemaVersion int                    `json:"schemaVersion"`
	ID            string                 `json:"id"`
	Version       string                 `json:"version"`
	Name          string                 `json:"name"`
	Category      string                 `json:"category"`
	Description   string                 `json:"description,omitempty"`
	Privilege     Privilege              `json:"privilege,omitempty"`
	TimeoutSec    *int                   `json:"timeoutSec,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Parameters    []ParamDef             `json:"parameters"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Identity returns the case's (id, version) identity.
func (tc TestCase) Identity() (identity.Identity, error) {
	return identity.New(tc.ID, tc.Version)
}

// Param looks up a declared parameter by name.
func (tc TestCase) Param(name string) (ParamDef, bool) {
	for _, p := range tc.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDef{}, false
}

// SuiteControls are the per-case controls a suite applies to its nodes.
type SuiteControls struct {
	Repeat            int    `json:"repeat,omitempty"`
	MaxParallel       int    `json:"maxParallel,omitempty"`
	ContinueOnFailure bool   `json:"continueOnFailure,omitempty"`
	RetryOnError      int    `json:"retryOnError,omitempty"`
	TimeoutPolicy     string `json:"timeoutPolicy,omitempty"`
}

// Normalized applies the documented defaults: repeat=1, timeoutPolicy=abortSuite.
func (c SuiteControls) Normalized() SuiteControls {
	if c.Repeat == 0 {
		c.Repeat = 1
	}
	if c.TimeoutPolicy == "" {
		c.TimeoutPolicy = "abortSuite"
	}
	return c
}

// TestCaseNode is a positioned test-case invocation inside a suite.
type TestCaseNode struct {
	NodeID string                `json:"nodeId"`
	Ref    string                `json:"ref"`
	Inputs map[string]InputValue `json:"inputs,omitempty"`
}

// Suite is the C1 suite descriptor.
type Suite struct {
	SchemaVersion int                    `json:"schemaVersion"`
	ID            string                 `json:"id"`
	Version       string                 `json:"version"`
	Tags          []string               `json:"tags,omitempty"`
	Controls      SuiteControls          `json:"controls,omitempty"`
	Environment   map[string]string      `json:"environment,omitempty"`
	Nodes         []TestCaseNode         `json:"nodes"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Identity returns the suite's (id, version) identity.
func (s Suite) Identity() (identity.Identity, error) {
	return identity.New(s.ID, s.Version)
}

// SuiteNode is a positioned suite invocation inside a plan.
type SuiteNode struct {
	NodeID string `json:"nodeId"`
	Ref    string `json:"ref"`
}

// Plan is the C1 plan descriptor.
type Plan struct {
	SchemaVersion int                    `json:"schemaVersion"`
	ID            string                 `json:"id"`
	Version       string                 `json:"version"`
	Environment   map[string]string      `json:"environment,omitempty"`
	Suites        []SuiteNode            `json:"suites"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Identity returns the plan's (id, version) identity.
func (p Plan) Identity() (identity.Identity, error) {
	return identity.New(p.ID, p.Version)
}

// ParseTestCase validates and decodes a test-case manifest document.
func ParseTestCase(data []byte) (TestCase, error) {
	if err := schemas.ensure(); err != nil {
		return TestCase{}, err
	}
	if err := validateDoc(schemas.testCase, data); err != nil {
		return TestCase{}, err
	}
	var tc TestCase
	if err := json.Unmarshal(data, &tc); err != nil {
		return TestCase{}, fmt.Errorf("decoding test case manifest: %w", err)
	}
	return tc, nil
}

// ParseSuite validates and decodes a suite manifest document.
func ParseSuite(data []byte) (Suite, error) {
	if err := schemas.ensure(); err != nil {
		return Suite{}, err
	}
	if err := validateDoc(schemas.suite, data); err != nil {
		return Suite{}, err
	}
	var s Suite
	if err := json.Unmarshal(data, &s); err != nil {
		return Suite{}, fmt.Errorf("decoding suite manifest: %w", err)
	}
	return s, nil
}

// ParsePlan validates and decodes a plan manifest document.
func ParsePlan(data []byte) (Plan, error) {
	if err := schemas.ensure(); err != nil {
		return Plan{}, err
	}
	if err := validateDoc(schemas.plan, data); err != nil {
		return Plan{}, err
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("decoding plan manifest: %w", err)
	}
	return p, nil
}

func validateDoc(sch *jsonschema.Schema, data []byte) error {
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("decoding manifest as JSON: %w", err)
	}
	if err := sch.Validate(generic); err != nil {
		return fmt.Errorf("manifest failed schema validation: %w", err)
	}
	return nil
}

func mustJSONReader(s string) io.Reader {
	return bytes.NewReader([]byte(s))
}
