// Package report accumulates comparator verdicts and writes the batch
// reports.
package report

import (
	"sort"
	"sync"

	"github.com/perfgo/simrun/model"
	"github.com/rs/zerolog"
)

// Event is one recorded verdict.
type Event struct {
	// Label is "<test>/<check>" for comparator checks.
	Label   string
	Outcome model.Outcome
	Message string
}

// Aggregator is the single accumulator of a batch's results. It is safe for
// concurrent use.
type Aggregator struct {
	logger zerolog.Logger

	mu     sync.Mutex
	events []Event
	order  []string
	tests  map[string][]model.NamedResult
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		logger: logger,
		tests:  make(map[string][]model.NamedResult),
	}
}

// AddSuccess records a passed check.
func (a *Aggregator) AddSuccess(label string) {
	a.add(Event{Label: label, Outcome: model.OutcomePass})
}

// AddFailure records a failed check.
func (a *Aggregator) AddFailure(label, message string) {
	a.add(Event{Label: label, Outcome: model.OutcomeFail, Message: message})
}

// AddError records a check that could not be performed.
func (a *Aggregator) AddError(label, message string) {
	a.add(Event{Label: label, Outcome: model.OutcomeError, Message: message})
}

func (a *Aggregator) add(e Event) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()

	a.logger.Debug().
		Str("check", e.Label).
		Str("result", string(e.Outcome)).
		Str("message", e.Message).
		Msg("Recorded result")
}

// Record adds the sub-results a comparator reported for a test. Each one is
// counted as an event labelled "<test>/<check>" and becomes a named boolean
// of the test in the payload.
func (a *Aggregator) Record(test string, results []model.SubResult) {
	for _, r := range results {
		label := test + "/" + r.Name
		switch r.Result {
		case model.OutcomePass:
			a.AddSuccess(label)
		case model.OutcomeFail:
			a.AddFailure(label, r.Message)
		default:
			a.AddError(label, r.Message)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tests[test]; !ok {
		a.order = append(a.order, test)
		a.tests[test] = []model.NamedResult{}
	}
	for _, r := range results {
		a.tests[test] = append(a.tests[test], model.NamedResult{Name: r.Name, Passed: r.Result == model.OutcomePass})
	}
}

// Events returns the recorded events in recording order.
func (a *Aggregator) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// Counts returns the number of events per outcome.
func (a *Aggregator) Counts() model.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()

	var c model.Counts
	for _, e := range a.events {
		switch e.Outcome {
		case model.OutcomePass:
			c.Passed++
		case model.OutcomeFail:
			c.Failed++
		default:
			c.Errored++
		}
	}
	return c
}

// AnyFailures reports whether a failure or error has been recorded.
func (a *Aggregator) AnyFailures() bool {
	c := a.Counts()
	return c.Failed > 0 || c.Errored > 0
}

// Payload returns the machine-readable report. Tests appear in recording
// order with their sub-results sorted by name.
func (a *Aggregator) Payload(revision, batchID string) model.Payload {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := model.Payload{
		Revision: revision,
		BatchID:  batchID,
		Tests:    make([]model.TestResults, 0, len(a.order)),
	}
	for _, name := range a.order {
		results := make([]model.NamedResult, len(a.tests[name]))
		copy(results, a.tests[name])
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Name < results[j].Name
		})
		p.Tests = append(p.Tests, model.TestResults{Name: name, Results: results})
	}
	return p
}
