package manifest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fryxell = `
# Sedov blast wave with MHD
name = 'SedovBlast-MHD-2D-Fryxell'
answer_testing_script = None
nprocs = 1
runtime = 'short'
hydro = True
mhd = True
gravity = False
AMR = True
dimensionality = 2
author = "Dave Collins"  # trailing comment
max_time_minutes = 1.5
radiation = None
quicksuite = True
pushsuite = True
fullsuite = True
`

func TestParse_Assignments(t *testing.T) {
	p := NewParser(zerolog.Nop(), ".", 2)

	rec, err := p.Parse("MHD/2D/SedovBlast-MHD-2D-Fryxell/SedovBlast-MHD-2D-Fryxell.enzotest",
		strings.NewReader(fryxell), FormatAssignments)
	require.NoError(t, err)

	assert.Equal(t, "SedovBlast-MHD-2D-Fryxell", rec.Name)
	assert.False(t, rec.AnswerTestingScript.Valid)
	assert.Equal(t, 1, rec.NProcs)
	assert.True(t, rec.Hydro)
	assert.True(t, rec.MHD)
	assert.False(t, rec.Gravity)
	assert.True(t, rec.AMR)
	assert.Equal(t, 2, rec.Dimensionality)
	assert.Equal(t, "Dave Collins", rec.Author)
	assert.Equal(t, 1.5, rec.MaxTimeMinutes)
	assert.False(t, rec.Radiation.Valid)
	assert.True(t, rec.QuickSuite)
	assert.False(t, rec.Problematic)

	assert.Equal(t, "MHD/2D/SedovBlast-MHD-2D-Fryxell", rec.Dir)
	assert.Equal(t, "MHD", rec.Category)
	assert.Equal(t, "SedovBlast-MHD-2D-Fryxell.enzo", rec.RunParFile)
	// 1.5 minutes * 60 * 2
	assert.Equal(t, "00:03:00", rec.RunWalltime)
}

func TestParse_Defaults(t *testing.T) {
	p := NewParser(zerolog.Nop(), ".", 1)

	rec, err := p.Parse("Hydro/Empty/Empty.enzotest", strings.NewReader(""), FormatAssignments)
	require.NoError(t, err)

	assert.Equal(t, "", rec.Name)
	assert.Equal(t, 1, rec.NProcs)
	assert.Equal(t, "short", rec.Runtime)
	assert.Equal(t, 1, rec.Dimensionality)
	assert.Equal(t, 1.0, rec.MaxTimeMinutes)
	assert.False(t, rec.Hydro)
	assert.Equal(t, "00:01:00", rec.RunWalltime)
}

func TestParse_UnknownFieldIsLoggedAndDropped(t *testing.T) {
	var buf bytes.Buffer
	p := NewParser(zerolog.New(&buf), ".", 1)

	rec, err := p.Parse("Hydro/X/X.enzotest", strings.NewReader("name = 'X'\nfoo = 3\n"), FormatAssignments)
	require.NoError(t, err)
	assert.Equal(t, "X", rec.Name)

	_, ok := rec.Get("foo")
	assert.False(t, ok)
	assert.Contains(t, buf.String(), `"field":"foo"`)
	assert.Contains(t, buf.String(), "Unrecognized manifest field")
}

func TestParse_DerivedFieldCannotBeSet(t *testing.T) {
	p := NewParser(zerolog.Nop(), ".", 1)

	rec, err := p.Parse("Hydro/X/X.enzotest", strings.NewReader("run_walltime = '99:00:00'\n"), FormatAssignments)
	require.NoError(t, err)
	assert.Equal(t, "00:01:00", rec.RunWalltime)
}

func TestParse_SentinelStrings(t *testing.T) {
	p := NewParser(zerolog.Nop(), ".", 1)

	rec, err := p.Parse("Hydro/X/X.enzotest",
		strings.NewReader("hydro = 'False'\nradiation = 'None'\nmhd = 'True'\n"), FormatAssignments)
	require.NoError(t, err)
	assert.False(t, rec.Hydro)
	assert.True(t, rec.MHD)
	assert.False(t, rec.Radiation.Valid)

	v, ok := rec.Get("radiation")
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestParse_SchemaError(t *testing.T) {
	p := NewParser(zerolog.Nop(), ".", 1)

	_, err := p.Parse("Hydro/X/X.enzotest", strings.NewReader("nprocs = 'many'\n"), FormatAssignments)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "nprocs", schemaErr.Field)
	assert.Equal(t, "Hydro/X/X.enzotest", schemaErr.Path)
	assert.Equal(t, KindInt, schemaErr.Want)
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "no assignment", input: "hydro\n"},
		{name: "expression", input: "nprocs = 2 * 4\n"},
		{name: "call", input: "name = __import__('os').system('true')\n"},
		{name: "unterminated string", input: "name = 'abc\n"},
		{name: "invalid identifier", input: "my-name = 'x'\n"},
		{name: "missing value", input: "name =\n"},
	}

	p := NewParser(zerolog.Nop(), ".", 1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse("Hydro/X/X.enzotest", strings.NewReader(tt.input), FormatAssignments)
			require.Error(t, err)
		})
	}
}

func TestParse_YAML(t *testing.T) {
	input := `
name: Toro-1-ShockTube
hydro: true
dimensionality: 1
max_time_minutes: 2
radiation: None
author: ~
unknown_thing: 4
`
	p := NewParser(zerolog.Nop(), ".", 1)
	rec, err := p.Parse("Hydro/Hydro-1D/Toro-1-ShockTube/Toro-1-ShockTube.enzotest.yaml",
		strings.NewReader(input), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "Toro-1-ShockTube", rec.Name)
	assert.True(t, rec.Hydro)
	assert.Equal(t, 2.0, rec.MaxTimeMinutes)
	assert.Equal(t, "", rec.Author)
	assert.Equal(t, "Toro-1-ShockTube.enzo", rec.RunParFile)
	assert.Equal(t, "00:02:00", rec.RunWalltime)
}

func TestParseFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Cooling", "OneZone")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "OneZone.enzotest"), []byte("name = 'OneZone'\ncooling = True\n"), 0644))

	p := NewParser(zerolog.Nop(), root, 1)
	rec, err := p.ParseFile("Cooling/OneZone/OneZone.enzotest")
	require.NoError(t, err)
	assert.Equal(t, "OneZone", rec.Name)
	assert.True(t, rec.Cooling)
	assert.Equal(t, "Cooling", rec.Category)

	_, err = p.ParseFile("Cooling/Missing/Missing.enzotest")
	require.Error(t, err)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatAssignments, FormatOf("a/b.enzotest"))
	assert.Equal(t, FormatYAML, FormatOf("a/b.enzotest.yaml"))
	assert.Equal(t, FormatYAML, FormatOf("a/b.enzotest.yml"))
}
