package model

// ResultsFile is the machine-readable report inside a batch directory.
const ResultsFile = "results.json"

// Outcome is the verdict of one comparator check.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeFail  Outcome = "fail"
	OutcomeError Outcome = "error"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomeError:
		return true
	}
	return false
}

// SubResult is one named check a comparator performed on a run.
type SubResult struct {
	Name    string  `json:"name"`
	Result  Outcome `json:"result"`
	Message string  `json:"message,omitempty"`
}

// Payload is the machine-readable report of a batch.
type Payload struct {
	Revision string        `json:"revision"`
	BatchID  string        `json:"batch_id,omitempty"`
	Tests    []TestResults `json:"tests"`
}

// TestResults lists the sub-results of one test, sorted by name.
type TestResults struct {
	Name    string        `json:"name"`
	Results []NamedResult `json:"results"`
}

// NamedResult is a single named boolean verdict.
type NamedResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Map returns the payload as test name -> sub-results.
func (p Payload) Map() map[string][]NamedResult {
	m := make(map[string][]NamedResult, len(p.Tests))
	for _, t := range p.Tests {
		m[t.Name] = append(m[t.Name], t.Results...)
	}
	return m
}
