package tools

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Param declares one tool parameter.
type Param struct {
	Name        string
	Type        string // "string", "integer", "number" or "boolean"
	Description string
	Required    bool
	Default     any
}

// Schema returns the JSON Schema object describing the tool's parameters.
func (t *Tool) Schema() map[string]any {
	return paramSchema(t.Params)
}

func paramSchema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// validator checks call arguments against a compiled parameter schema.
type validator struct {
	params []Param
	schema *gojsonschema.Schema
}

func newValidator(params []Param) (*validator, error) {
	for _, p := range params {
		switch p.Type {
		case "string", "integer", "number", "boolean":
		default:
			return nil, fmt.Errorf("parameter %s: unsupported type %q", p.Name, p.Type)
		}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(paramSchema(params)))
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return &validator{params: params, schema: schema}, nil
}

// bind returns the arguments the handler receives: scalar strings
// coerced to the declared type, defaults filled in and integral numbers
// as int. Null values count as absent. Keys that are not declared
// parameters are an error.
func (v *validator) bind(tool string, args map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(v.params))
	for _, p := range v.params {
		val, ok := args[p.Name]
		if !ok || val == nil {
			continue
		}
		bound[p.Name] = coerce(p.Type, val)
	}

	var problems []string
	if unknown := v.undeclared(args); len(unknown) > 0 {
		problems = append(problems, fmt.Sprintf("unknown argument(s) %s (accepted: %s)",
			strings.Join(unknown, ", "), strings.Join(v.names(), ", ")))
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(bound))
	if err != nil {
		return nil, &ArgumentError{Tool: tool, Problems: append(problems, err.Error())}
	}
	for _, re := range result.Errors() {
		if re.Field() == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
			problems = append(problems, re.Description())
		} else {
			problems = append(problems, re.Field()+": "+re.Description())
		}
	}
	if len(problems) > 0 {
		return nil, &ArgumentError{Tool: tool, Problems: problems}
	}

	for _, p := range v.params {
		if _, ok := bound[p.Name]; !ok && p.Default != nil {
			bound[p.Name] = p.Default
		}
		if f, ok := bound[p.Name].(float64); ok && p.Type == "integer" {
			bound[p.Name] = int(f)
		}
	}
	return bound, nil
}

// undeclared returns the argument keys that name no parameter, sorted.
func (v *validator) undeclared(args map[string]any) []string {
	var out []string
	for key := range args {
		if !slices.ContainsFunc(v.params, func(p Param) bool { return p.Name == key }) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

func (v *validator) names() []string {
	out := make([]string, len(v.params))
	for i, p := range v.params {
		out[i] = p.Name
	}
	return out
}

// coerce converts string forms of numbers and booleans, which models
// often emit, to the declared type. Anything else is returned unchanged
// for the schema to judge.
func coerce(typ string, val any) any {
	s, ok := val.(string)
	if !ok {
		return val
	}
	s = strings.TrimSpace(s)
	switch typ {
	case "integer":
		if n, err := strconv.Atoi(s); err == nil {
			return float64(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return f
		}
	case "number":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return val
}

// Typed accessors for bound arguments.

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]any, name string) (int, bool) {
	switch n := args[name].(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
