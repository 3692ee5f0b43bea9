// Package validator defines the pluggable params-validation contract and a
// default, dependency-free implementation. No JSON-schema library appears
// in the retrieval pack (the one JSON-manipulation stack present,
// tidwall/gjson & co., is pulled in only to support an unrelated agent
// orchestration repo's own tests, per the domain-stack ledger) so the
// default Checker here is a deliberately small standard-library
// implementation covering the common shape checks a hand-authored schema
// needs: required fields and primitive type tags.
package validator

import (
	"encoding/json"
	"fmt"
)

// ValidationError describes one failed field check.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// Checker validates raw params bytes against a schema compiled by
// Validator.Compile. The broker compiles an action's schema on every
// dispatch of that action; it does not keep compiled Checkers.
type Checker interface {
	Check(params []byte) []ValidationError
}

// Validator compiles schemas into Checkers.
type Validator interface {
	Compile(schema map[string]any) (Checker, error)
}

// fieldSpec is one entry of a compiled schema: "name": {"type": "string", "required": true}.
type fieldSpec struct {
	Type     string
	Required bool
}

type checker struct {
	fields map[string]fieldSpec
}

// DefaultValidator compiles schemas of the shape:
//
//	{"amount": {"type": "number", "required": true}, "note": {"type": "string"}}
//
// into a Checker that unmarshals params as a JSON object and checks
// presence and JSON-decoded Go type for each declared field. Unknown
// fields in params are ignored; fields absent from the schema are not
// checked at all.
type DefaultValidator struct{}

func New() *DefaultValidator { return &DefaultValidator{} }

func (DefaultValidator) Compile(schema map[string]any) (Checker, error) {
	fields := make(map[string]fieldSpec, len(schema))
	for name, raw := range schema {
		spec, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("validator: field %q: spec must be an object", name)
		}
		fs := fieldSpec{}
		if t, ok := spec["type"].(string); ok {
			fs.Type = t
		}
		if r, ok := spec["required"].(bool); ok {
			fs.Required = r
		}
		fields[name] = fs
	}
	return &checker{fields: fields}, nil
}

func (c *checker) Check(params []byte) []ValidationError {
	var decoded map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &decoded); err != nil {
			return []ValidationError{{Field: "", Message: "params is not a JSON object: " + err.Error()}}
		}
	}

	var errs []ValidationError
	for name, spec := range c.fields {
		v, present := decoded[name]
		if !present {
			if spec.Required {
				errs = append(errs, ValidationError{Field: name, Message: "required field missing"})
			}
			continue
		}
		if spec.Type != "" && !matchesType(v, spec.Type) {
			errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("expected type %s", spec.Type)})
		}
	}
	return errs
}

func matchesType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "bool", "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
