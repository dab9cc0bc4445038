// Package registry provides the immutable, queryable collection of test
// manifests that a batch is selected from.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/perfgo/simrun/config"
	"github.com/perfgo/simrun/manifest"
	"github.com/rs/zerolog"
)

var ErrUnknownField = errors.New("unknown field")

// Predicates maps field names to the value a record must hold.
type Predicates map[string]any

// Registry is an ordered, read-only collection of manifest records.
type Registry struct {
	records []manifest.Record
}

// New creates a registry holding a copy of records.
func New(records []manifest.Record) *Registry {
	r := &Registry{records: make([]manifest.Record, len(records))}
	copy(r.records, records)
	return r
}

// Load discovers and parses all manifests below the configured categories of
// the test root. Manifests that fail to parse are logged and left out; the
// order of the result is discovery order.
func Load(logger zerolog.Logger, cfg config.Config) (*Registry, error) {
	parser := manifest.NewParser(logger, cfg.TestRoot, cfg.TimeMultiplier)
	fsys := os.DirFS(cfg.TestRoot)

	var records []manifest.Record
	for _, category := range cfg.Categories {
		pattern := path.Join(category, "**", "*{"+manifest.Extension+","+manifest.ExtensionYAML+","+manifest.ExtensionYML+"}")
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to search category %s: %w", category, err)
		}

		for _, match := range matches {
			logger.Debug().Str("path", match).Msg("Handling manifest")

			rec, err := parser.ParseFile(match)
			if err != nil {
				logger.Error().Err(err).Str("path", match).Msg("Skipping invalid manifest")
				continue
			}
			records = append(records, rec)
		}
	}

	logger.Debug().Int("tests", len(records)).Msg("Registry loaded")
	return &Registry{records: records}, nil
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.records)
}

// Records returns a copy of the records in registry order.
func (r *Registry) Records() []manifest.Record {
	out := make([]manifest.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Names returns the record names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		names = append(names, rec.Name)
	}
	return names
}

// Select returns a new registry with the records matching every predicate by
// exact equality. A predicate on a field that a record does not have never
// matches. Without predicates the result holds the same records.
func (r *Registry) Select(preds Predicates) *Registry {
	if len(preds) == 0 {
		return New(r.records)
	}

	var selected []manifest.Record
	for _, rec := range r.records {
		if matches(rec, preds) {
			selected = append(selected, rec)
		}
	}
	return New(selected)
}

func matches(rec manifest.Record, preds Predicates) bool {
	for key, want := range preds {
		have, ok := rec.Get(key)
		if !ok {
			return false
		}
		f, _ := manifest.Lookup(key)
		v, err := f.Coerce(want)
		if err != nil {
			return false
		}
		if have != v {
			return false
		}
	}
	return true
}

// Sorted returns a new registry ordered by run directory, then name. The
// sort is stable.
func (r *Registry) Sorted() *Registry {
	out := New(r.records)
	sort.SliceStable(out.records, func(i, j int) bool {
		a, b := out.records[i], out.records[j]
		if a.Dir != b.Dir {
			return a.Dir < b.Dir
		}
		return a.Name < b.Name
	})
	return out
}

// Unique returns the distinct values of a field across all records, ordered
// by their string form. Unknown fields yield nil.
func (r *Registry) Unique(field string) []any {
	if _, ok := manifest.Lookup(field); !ok {
		return nil
	}

	seen := make(map[any]struct{})
	var values []any
	for _, rec := range r.records {
		v, _ := rec.Get(field)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	sort.SliceStable(values, func(i, j int) bool {
		return FormatValue(values[i]) < FormatValue(values[j])
	})
	return values
}

// Params returns the sorted names of all selectable fields.
func (r *Registry) Params() []string {
	return manifest.FieldNames()
}

// FormatValue renders a field value the way manifests spell it.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}

// ParsePredicates converts textual selection values into typed predicates.
func ParsePredicates(raw map[string]string) (Predicates, error) {
	preds := make(Predicates, len(raw))
	for key, value := range raw {
		f, ok := manifest.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		v, err := f.Coerce(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		preds[key] = v
	}
	return preds, nil
}

// String renders predicates in sorted "key = value" form for logging.
func (p Predicates) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s = %s", k, FormatValue(p[k])))
	}
	return strings.Join(parts, ", ")
}
