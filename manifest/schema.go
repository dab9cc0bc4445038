package manifest

// This file contains the fixed manifest schema and the coercion rules used to
// turn raw manifest values into typed record fields.

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the declared type of a manifest field.
type Kind uint8

const (
	KindString Kind = iota
	KindOptString
	KindBool
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "str"
	case KindOptString:
		return "str or None"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	}
	return "unknown"
}

// Field describes one named field of a Record.
type Field struct {
	Name    string
	Kind    Kind
	Default any
	// Derived fields are computed from the manifest location and cannot be
	// set from a manifest.
	Derived bool

	get func(*Record) any
	set func(*Record, any)
}

// SchemaError reports a recognized manifest field whose raw value cannot be
// coerced to the declared type.
type SchemaError struct {
	Path  string
	Field string
	Value any
	Want  Kind
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: field %s: cannot use %#v as %s", e.Path, e.Field, e.Value, e.Want)
}

func optString(v any) OptString {
	if v == nil {
		return OptString{}
	}
	return Some(v.(string))
}

func optValue(o OptString) any {
	if !o.Valid {
		return nil
	}
	return o.Value
}

var fields = []Field{
	{Name: "name", Kind: KindString, Default: "",
		get: func(r *Record) any { return r.Name }, set: func(r *Record, v any) { r.Name = v.(string) }},
	{Name: "answer_testing_script", Kind: KindOptString, Default: nil,
		get: func(r *Record) any { return optValue(r.AnswerTestingScript) }, set: func(r *Record, v any) { r.AnswerTestingScript = optString(v) }},
	{Name: "nprocs", Kind: KindInt, Default: 1,
		get: func(r *Record) any { return r.NProcs }, set: func(r *Record, v any) { r.NProcs = v.(int) }},
	{Name: "runtime", Kind: KindString, Default: "short",
		get: func(r *Record) any { return r.Runtime }, set: func(r *Record, v any) { r.Runtime = v.(string) }},
	{Name: "hydro", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.Hydro }, set: func(r *Record, v any) { r.Hydro = v.(bool) }},
	{Name: "mhd", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.MHD }, set: func(r *Record, v any) { r.MHD = v.(bool) }},
	{Name: "gravity", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.Gravity }, set: func(r *Record, v any) { r.Gravity = v.(bool) }},
	{Name: "cosmology", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.Cosmology }, set: func(r *Record, v any) { r.Cosmology = v.(bool) }},
	{Name: "chemistry", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.Chemistry }, set: func(r *Record, v any) { r.Chemistry = v.(bool) }},
	{Name: "cooling", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.Cooling }, set: func(r *Record, v any) { r.Cooling = v.(bool) }},
	{Name: "AMR", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.AMR }, set: func(r *Record, v any) { r.AMR = v.(bool) }},
	{Name: "dimensionality", Kind: KindInt, Default: 1,
		get: func(r *Record) any { return r.Dimensionality }, set: func(r *Record, v any) { r.Dimensionality = v.(int) }},
	{Name: "author", Kind: KindString, Default: "",
		get: func(r *Record) any { return r.Author }, set: func(r *Record, v any) { r.Author = v.(string) }},
	{Name: "max_time_minutes", Kind: KindFloat, Default: 1.0,
		get: func(r *Record) any { return r.MaxTimeMinutes }, set: func(r *Record, v any) { r.MaxTimeMinutes = v.(float64) }},
	{Name: "radiation", Kind: KindOptString, Default: nil,
		get: func(r *Record) any { return optValue(r.Radiation) }, set: func(r *Record, v any) { r.Radiation = optString(v) }},
	{Name: "quicksuite", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.QuickSuite }, set: func(r *Record, v any) { r.QuickSuite = v.(bool) }},
	{Name: "pushsuite", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.PushSuite }, set: func(r *Record, v any) { r.PushSuite = v.(bool) }},
	{Name: "fullsuite", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.FullSuite }, set: func(r *Record, v any) { r.FullSuite = v.(bool) }},
	{Name: "problematic", Kind: KindBool, Default: false,
		get: func(r *Record) any { return r.Problematic }, set: func(r *Record, v any) { r.Problematic = v.(bool) }},

	{Name: "fullpath", Kind: KindString, Derived: true, get: func(r *Record) any { return r.Path }},
	{Name: "fulldir", Kind: KindString, Derived: true, get: func(r *Record) any { return r.Dir }},
	{Name: "category", Kind: KindString, Derived: true, get: func(r *Record) any { return r.Category }},
	{Name: "run_par_file", Kind: KindString, Derived: true, get: func(r *Record) any { return r.RunParFile }},
	{Name: "run_walltime", Kind: KindString, Derived: true, get: func(r *Record) any { return r.RunWalltime }},
}

var fieldIndex = func() map[string]int {
	m := make(map[string]int, len(fields))
	for i, f := range fields {
		m[f.Name] = i
	}
	return m
}()

// Suites lists the named suites; each maps to the boolean field "<suite>suite".
var Suites = []string{"quick", "push", "full"}

// SuiteField returns the record field that marks membership of the suite.
func SuiteField(suite string) string {
	return suite + "suite"
}

// Lookup returns the field with the given name.
func Lookup(name string) (Field, bool) {
	i, ok := fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return fields[i], true
}

// Fields returns all fields, schema fields first, in declaration order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// FieldNames returns the sorted names of all fields.
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// Coerce converts a raw value to the declared type of the field. The string
// sentinel "None" means absent for every kind; "False" is only special for
// string fields in that it stays a string.
func (f Field) Coerce(raw any) (any, error) {
	if s, ok := raw.(string); ok && s == "None" {
		raw = nil
	}

	fail := func() (any, error) {
		return nil, &SchemaError{Field: f.Name, Value: raw, Want: f.Kind}
	}

	switch f.Kind {
	case KindString:
		switch v := raw.(type) {
		case nil:
			return f.defaultOr(""), nil
		case string:
			return v, nil
		}
		return fail()

	case KindOptString:
		switch v := raw.(type) {
		case nil:
			return nil, nil
		case string:
			return v, nil
		}
		return fail()

	case KindBool:
		switch v := raw.(type) {
		case nil:
			return false, nil
		case bool:
			return v, nil
		case int:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
		case int64:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
		case string:
			switch strings.ToLower(v) {
			case "true", "1":
				return true, nil
			case "false", "0":
				return false, nil
			}
		}
		return fail()

	case KindInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == math.Trunc(v) {
				return int(v), nil
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, nil
			}
		}
		return fail()

	case KindFloat:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return n, nil
			}
		}
		return fail()
	}
	return fail()
}

func (f Field) defaultOr(v any) any {
	if f.Default != nil {
		return f.Default
	}
	return v
}
