// Package inputresolve implements C6: layered input resolution for one case
// invocation — parameter defaults, suite-node inputs, run-request overrides,
// env-reference substitution, and the redacted mirror written to artifacts.
package inputresolve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/iverson-lu/pvtx/internal/envcompose"
	"github.com/iverson-lu/pvtx/internal/manifest"
	"github.com/iverson-lu/pvtx/internal/secretscrub"
	"github.com/iverson-lu/pvtx/internal/valuetype"
)

func bytesReader(raw json.RawMessage) *bytes.Reader {
	if raw == nil {
		return bytes.NewReader([]byte("null"))
	}
	return bytes.NewReader(raw)
}

// UnknownInputsError is Inputs.Unknown.
type UnknownInputsError struct{ Names []string }

func (e *UnknownInputsError) Error() string {
	return fmt.Sprintf("Inputs.Unknown: %v are not declared parameters", e.Names)
}
func (e *UnknownInputsError) Code() string { return "Inputs.Unknown" }

// MissingRequiredError is Inputs.MissingRequired.
type MissingRequiredError struct{ Name string }

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("Inputs.MissingRequired: parameter %q has no value", e.Name)
}
func (e *MissingRequiredError) Code() string { return "Inputs.MissingRequired" }

// EnvRefResolveFailedError is EnvRef.ResolveFailed.
type EnvRefResolveFailedError struct {
	Parameter string
	NodeID    string
	Reason    string
}

func (e *EnvRefResolveFailedError) Error() string {
	return fmt.Sprintf("EnvRef.ResolveFailed: parameter=%q nodeId=%q reason=%q", e.Parameter, e.NodeID, e.Reason)
}
func (e *EnvRefResolveFailedError) Code() string { return "EnvRef.ResolveFailed" }

// Result is the outcome of resolving one case invocation's inputs.
type Result struct {
	// Values holds every parameter that has a value, including secret ones,
	// for handing to the runner process (C7).
	Values map[string]valuetype.Value
	// Secret lists the parameter names whose value originated from a
	// secret-tagged env-reference.
	Secret map[string]bool
}

// Redacted renders Result as a JSON-document-shaped map suitable for
// params.json: every secret value is the literal string "***".
func (r Result) Redacted() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Values))
	for name, v := range r.Values {
		if r.Secret[name] {
			out[name] = "***"
			continue
		}
		out[name] = rawValue(v)
	}
	return out
}

// Raw renders Result with every value in its unredacted form, for handing to
// the runner process, which must receive real secret values.
func (r Result) Raw() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Values))
	for name, v := range r.Values {
		out[name] = rawValue(v)
	}
	return out
}

func rawValue(v valuetype.Value) interface{} {
	switch v.Type {
	case valuetype.Int:
		return v.IntVal
	case valuetype.Double:
		return v.DoubleVal
	case valuetype.Boolean:
		return v.BoolVal
	case valuetype.JSON:
		var decoded interface{}
		_ = json.Unmarshal(v.JSONVal, &decoded)
		return decoded
	default:
		return v.StringVal
	}
}

// secretText renders v as the raw string secretscrub.Tracker needs to learn
// in order to scrub it out of result.json or an echoed error message; unlike
// rawValue, every variant (not just String) must produce non-empty text for
// a secret-tagged value.
func secretText(v valuetype.Value) string {
	switch v.Type {
	case valuetype.Int:
		return strconv.FormatInt(int64(v.IntVal), 10)
	case valuetype.Double:
		return strconv.FormatFloat(v.DoubleVal, 'g', -1, 64)
	case valuetype.Boolean:
		return strconv.FormatBool(v.BoolVal)
	case valuetype.JSON:
		return string(v.JSONVal)
	default:
		return v.StringVal
	}
}

// Resolve computes the effective inputs for one invocation of tc.
//
// nodeBase is the suite-node's own `inputs` map (nil for a bare test-case
// run); overrides is the run-request's per-node override map (nil if none
// were supplied). An override entirely replaces the node's base entry for
// the same parameter — no field-level merge.
func Resolve(tc manifest.TestCase, nodeID string, nodeBase, overrides map[string]manifest.InputValue, env *envcompose.Map, secrets *secretscrub.Tracker) (Result, error) {
	declared := make(map[string]manifest.ParamDef, len(tc.Parameters))
	for _, p := range tc.Parameters {
		declared[p.Name] = p
	}

	var unknown []string
	for name := range nodeBase {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	for name := range overrides {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return Result{}, &UnknownInputsError{Names: unknown}
	}

	result := Result{
		Values: map[string]valuetype.Value{},
		Secret: map[string]bool{},
	}

	for _, p := range tc.Parameters {
		chosen, has := selectLayer(p.Name, p.Default, nodeBase, overrides)
		if !has {
			if p.Required {
				return Result{}, &MissingRequiredError{Name: p.Name}
			}
			continue
		}

		constraints := valuetype.Constraints{
			EnumValues: p.EnumValues,
			Pattern:    p.Pattern,
		}
		if p.Min != nil {
			constraints.Bounds.Min, constraints.Bounds.HasMin = p.Min, true
		}
		if p.Max != nil {
			constraints.Bounds.Max, constraints.Bounds.HasMax = p.Max, true
		}

		val, secret, err := resolveOne(p, chosen, valuetype.Type(p.Type), constraints, nodeID, env)
		if err != nil {
			return Result{}, err
		}
		if !val.has {
			if p.Required {
				return Result{}, &MissingRequiredError{Name: p.Name}
			}
			continue
		}

		result.Values[p.Name] = val.value
		if secret {
			result.Secret[p.Name] = true
			secrets.Register(secretText(val.value))
		}
	}

	return result, nil
}

// selectLayer applies default, then suite-node base, then run-request
// override, each layer entirely replacing the previous if present.
func selectLayer(name string, def *manifest.InputValue, base, overrides map[string]manifest.InputValue) (manifest.InputValue, bool) {
	if v, ok := overrides[name]; ok {
		return v, true
	}
	if v, ok := base[name]; ok {
		return v, true
	}
	if def != nil {
		return *def, true
	}
	return manifest.InputValue{}, false
}

type maybeValue struct {
	value valuetype.Value
	has   bool
}

func resolveOne(p manifest.ParamDef, chosen manifest.InputValue, t valuetype.Type, c valuetype.Constraints, nodeID string, env *envcompose.Map) (maybeValue, bool, error) {
	if !chosen.IsEnvRef {
		var decoded interface{}
		dec := json.NewDecoder(bytesReader(chosen.Literal))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return maybeValue{}, false, fmt.Errorf("Inputs.TypeInvalid: parameter %q: %w", p.Name, err)
		}
		v, err := valuetype.ParseJSON(t, normalizeNumber(decoded), c)
		if err != nil {
			return maybeValue{}, false, fmt.Errorf("%w (parameter %q)", err, p.Name)
		}
		return maybeValue{value: v, has: true}, false, nil
	}

	ref := chosen.EnvRef
	if raw, ok := env.Get(ref.VarName); ok && raw != "" {
		v, err := valuetype.ParseString(t, raw, c)
		if err != nil {
			return maybeValue{}, false, fmt.Errorf("%w (parameter %q)", err, p.Name)
		}
		return maybeValue{value: v, has: true}, ref.Secret, nil
	}

	if ref.Default != nil {
		var decoded interface{}
		dec := json.NewDecoder(bytesReader(ref.Default))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return maybeValue{}, false, &EnvRefResolveFailedError{Parameter: p.Name, NodeID: nodeID, Reason: "invalid env-ref default literal"}
		}
		v, err := valuetype.ParseJSON(t, normalizeNumber(decoded), c)
		if err != nil {
			return maybeValue{}, false, fmt.Errorf("%w (parameter %q)", err, p.Name)
		}
		return maybeValue{value: v, has: true}, ref.Secret, nil
	}

	if ref.Required {
		return maybeValue{}, false, &EnvRefResolveFailedError{Parameter: p.Name, NodeID: nodeID, Reason: fmt.Sprintf("environment variable %q is unset and no default was provided", ref.VarName)}
	}

	return maybeValue{has: false}, false, nil
}

// normalizeNumber converts json.Number (from UseNumber decoding) to float64
// so valuetype.ParseJSON's numeric type switch recognizes it.
func normalizeNumber(v interface{}) interface{} {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err == nil {
			return f
		}
	}
	return v
}
