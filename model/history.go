package model

import "time"

// BatchFile is the name of the batch record inside a batch directory.
const BatchFile = "batch.json"

// Policy identifies the scheduling policy of a batch.
type Policy string

const (
	PolicyInterleaved Policy = "interleaved"
	PolicyStaged      Policy = "staged"
)

// Batch represents a single simrun invocation against one output directory.
type Batch struct {
	// Unique ID for this batch (UUID)
	ID string `json:"id"`
	// Timestamp when the batch started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args,omitempty"`
	// Source revision the batch was run against, including any run suffix
	Revision string `json:"revision"`
	// Machine profile the simulations were launched on
	Machine string `json:"machine"`
	// Scheduling policy
	Policy Policy `json:"policy"`
	// Selection predicates in "key = value" form
	Selection string `json:"selection,omitempty"`
	// Wall-clock duration of the whole batch
	Duration time.Duration `json:"duration"`
	// Exit code the batch finished with
	ExitCode int `json:"exit_code"`
	// Verification result counts; nil when verification was skipped
	Counts *Counts `json:"counts,omitempty"`
	// Per-test execution records in execution order
	Tests []TestRun `json:"tests,omitempty"`
}

// Counts holds the number of pass, fail and error events of a batch.
type Counts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// Total returns the number of recorded events.
func (c Counts) Total() int {
	return c.Passed + c.Failed + c.Errored
}
