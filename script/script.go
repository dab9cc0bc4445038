// Package script renders machine launch templates for a test record.
package script

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/perfgo/simrun/manifest"
)

var tokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// TemplateError lists the placeholders that had no substitution.
type TemplateError struct {
	Tokens []string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("unresolved template tokens: %s", strings.Join(e.Tokens, ", "))
}

// RecordTokens returns the substitutions derived from a record. EXECUTABLE is
// the name of the executable link inside the run directory and is omitted
// when no executable is known.
func RecordTokens(rec manifest.Record, exePath string) map[string]string {
	tokens := map[string]string{
		"N_PROCS":   strconv.Itoa(rec.NProcs),
		"PAR_FILE":  rec.RunParFile,
		"TEST_NAME": rec.Name,
		"WALL_TIME": rec.RunWalltime,
	}
	if exePath != "" {
		tokens["EXECUTABLE"] = "./" + filepath.Base(exePath)
	}
	return tokens
}

// Tokens returns the sorted, distinct placeholder names used by a template.
func Tokens(tmpl string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range tokenPattern.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	sort.Strings(names)
	return names
}

// Render substitutes every ${TOKEN} in tmpl. Overrides take precedence over
// base. Substituted values are not scanned again.
func Render(tmpl string, base, overrides map[string]string) (string, error) {
	values := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		values[k] = v
	}
	for k, v := range overrides {
		values[k] = v
	}

	var missing []string
	for _, name := range Tokens(tmpl) {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &TemplateError{Tokens: missing}
	}

	return tokenPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		return values[m[2:len(m)-1]]
	}), nil
}

// Write stores the rendered script as dir/name. Writing identical content
// again leaves the file unchanged.
func Write(dir, name, content string) error {
	dst := filepath.Join(dir, name)
	if current, err := os.ReadFile(dst); err == nil && bytes.Equal(current, []byte(content)) {
		return nil
	}
	if err := os.WriteFile(dst, []byte(content), 0755); err != nil {
		return fmt.Errorf("failed to write launch script: %w", err)
	}
	return nil
}
