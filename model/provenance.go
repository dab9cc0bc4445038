package model

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// VersionFile records the provenance of a batch. It is written into the batch
// directory and copied into every run directory.
const VersionFile = "version.txt"

// Provenance is the source and verifier revision a batch was produced with.
type Provenance struct {
	Source          string
	Verifier        string
	VerifierVersion string
}

// Format renders the provenance in "Name: value" lines.
func (p Provenance) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Enzo: %s\n", p.Source)
	fmt.Fprintf(&b, "%s: %s\n", p.Verifier, p.VerifierVersion)
	return b.String()
}

// ParseProvenance reads a provenance file written by Format.
func ParseProvenance(r io.Reader) (Provenance, error) {
	var p Provenance
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), ": ")
		if !ok {
			continue
		}
		switch line {
		case 0:
			p.Source = value
		case 1:
			p.Verifier, p.VerifierVersion = name, value
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return Provenance{}, err
	}
	if line == 0 {
		return Provenance{}, fmt.Errorf("empty provenance record")
	}
	return p, nil
}
