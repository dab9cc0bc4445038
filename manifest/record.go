package manifest

// This file contains the typed test case description produced from a
// manifest file.

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// OptString is a string that may be absent ("None" in a manifest).
type OptString struct {
	Value string
	Valid bool
}

// Some returns a present OptString.
func Some(v string) OptString {
	return OptString{Value: v, Valid: true}
}

func (o OptString) String() string {
	if !o.Valid {
		return "None"
	}
	return o.Value
}

// Record describes a single simulation test case.
//
// Records are passed by value and never modified after Parse returns them.
type Record struct {
	Name                string
	AnswerTestingScript OptString
	NProcs              int
	Runtime             string
	Hydro               bool
	MHD                 bool
	Gravity             bool
	Cosmology           bool
	Chemistry           bool
	Cooling             bool
	AMR                 bool
	Dimensionality      int
	Author              string
	MaxTimeMinutes      float64
	Radiation           OptString
	QuickSuite          bool
	PushSuite           bool
	FullSuite           bool
	Problematic         bool

	// Path is the manifest path relative to the test root.
	Path string
	// Dir is the directory holding the manifest, relative to the test root.
	// It doubles as the run directory path below the output directory.
	Dir string
	// Category is the first element of Dir (e.g. "MHD").
	Category string
	// RunParFile is the parameter file the simulation is started with.
	RunParFile string
	// RunWalltime is the scaled time limit formatted as HH:MM:SS.
	RunWalltime string
}

// Get returns the value of the named field. The second return value is false
// if the record has no such field.
func (r Record) Get(name string) (any, bool) {
	f, ok := Lookup(name)
	if !ok {
		return nil, false
	}
	return f.get(&r), true
}

// Deadline returns the wall-clock limit of the record for the given multiplier.
func (r Record) Deadline(multiplier float64) time.Duration {
	return time.Duration(r.MaxTimeMinutes * 60 * multiplier * float64(time.Second))
}

// Walltime formats a duration given in seconds as HH:MM:SS. Fractional
// seconds are truncated and hours are not wrapped.
func Walltime(seconds float64) string {
	ts := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", ts/3600, (ts%3600)/60, ts%60)
}

func defaults() Record {
	var r Record
	for _, f := range fields {
		if f.set != nil {
			f.set(&r, f.Default)
		}
	}
	return r
}

// derive fills in the fields computed from the manifest location and the
// time multiplier.
func (r *Record) derive(relPath string, multiplier float64) {
	r.Path = filepath.ToSlash(relPath)
	r.Dir = filepath.ToSlash(filepath.Dir(relPath))
	r.Category = strings.SplitN(r.Dir, "/", 2)[0]
	r.RunParFile = filepath.Base(r.Dir) + ".enzo"
	r.RunWalltime = Walltime(60 * r.MaxTimeMinutes * multiplier)
}
