package manifest

// This file contains the manifest parsers. A manifest is either a list of
// "key = literal" assignments (*.enzotest) or a YAML mapping
// (*.enzotest.yaml). Neither format is ever evaluated as code.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Format identifies a manifest syntax.
type Format uint8

const (
	FormatAssignments Format = iota
	FormatYAML
)

// Extensions recognized as manifests.
const (
	Extension     = ".enzotest"
	ExtensionYAML = ".enzotest.yaml"
	ExtensionYML  = ".enzotest.yml"
)

// FormatOf returns the manifest format implied by a file name.
func FormatOf(path string) Format {
	if strings.HasSuffix(path, ExtensionYAML) || strings.HasSuffix(path, ExtensionYML) {
		return FormatYAML
	}
	return FormatAssignments
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parser turns manifest files below a test root into Records.
type Parser struct {
	logger         zerolog.Logger
	root           string
	timeMultiplier float64
}

// NewParser creates a parser for manifests below root. The time multiplier is
// used for the derived run walltime.
func NewParser(logger zerolog.Logger, root string, timeMultiplier float64) *Parser {
	if timeMultiplier <= 0 {
		timeMultiplier = 1
	}
	return &Parser{
		logger:         logger,
		root:           root,
		timeMultiplier: timeMultiplier,
	}
}

// ParseFile parses the manifest at relPath (relative to the parser root).
func (p *Parser) ParseFile(relPath string) (Record, error) {
	f, err := os.Open(filepath.Join(p.root, relPath))
	if err != nil {
		return Record{}, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	return p.Parse(relPath, f, FormatOf(relPath))
}

// Parse builds a Record from a manifest read from r. Unknown fields are
// logged and dropped; a recognized field with an unusable value yields a
// *SchemaError.
func (p *Parser) Parse(relPath string, r io.Reader, format Format) (Record, error) {
	var (
		raw map[string]any
		err error
	)
	switch format {
	case FormatYAML:
		raw, err = decodeYAML(r)
	default:
		raw, err = decodeAssignments(r)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", relPath, err)
	}

	rec := defaults()

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		f, ok := Lookup(key)
		if !ok || f.Derived {
			p.logger.Warn().Str("path", relPath).Str("field", key).Msg("Unrecognized manifest field")
			continue
		}
		v, err := f.Coerce(raw[key])
		if err != nil {
			var schemaErr *SchemaError
			if errors.As(err, &schemaErr) {
				schemaErr.Path = relPath
			}
			return Record{}, err
		}
		f.set(&rec, v)
	}

	rec.derive(relPath, p.timeMultiplier)
	return rec, nil
}

func decodeYAML(r io.Reader) (map[string]any, error) {
	raw := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return raw, nil
		}
		return nil, fmt.Errorf("parsing yaml manifest: %w", err)
	}
	return raw, nil
}

func decodeAssignments(r io.Reader) (map[string]any, error) {
	raw := map[string]any{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected 'name = value'", lineNo)
		}
		key = strings.TrimSpace(key)
		if !identPattern.MatchString(key) {
			return nil, fmt.Errorf("line %d: invalid name %q", lineNo, key)
		}

		v, err := parseLiteral(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		raw[key] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return raw, nil
}

// stripComment removes a trailing '#' comment that is not inside quotes.
func stripComment(line string) string {
	var quote rune
	escaped := false
	for i, c := range line {
		switch {
		case escaped:
			escaped = false
		case c == '\\' && quote != 0:
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}

// parseLiteral accepts quoted strings, True, False, None, integers and floats.
func parseLiteral(s string) (any, error) {
	switch s {
	case "":
		return nil, fmt.Errorf("missing value")
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}

	if q := s[0]; q == '\'' || q == '"' {
		return unquote(s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported value %q", s)
}

func unquote(s string) (string, error) {
	q := s[0]
	if len(s) < 2 || s[len(s)-1] != q {
		return "", fmt.Errorf("unterminated string %s", s)
	}
	body := s[1 : len(s)-1]

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == q {
			return "", fmt.Errorf("unexpected quote in %s", s)
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("dangling escape in %s", s)
		}
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}
