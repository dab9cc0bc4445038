// Package orchestrator runs a selection of tests through staging, simulation
// and verification and produces the batch reports.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/perfgo/simrun/config"
	"github.com/perfgo/simrun/metrics"
	"github.com/perfgo/simrun/model"
	"github.com/perfgo/simrun/registry"
	"github.com/perfgo/simrun/report"
	"github.com/perfgo/simrun/supervisor"
	"github.com/perfgo/simrun/verify"
	"github.com/rs/zerolog"
)

// SimulationCheck names the sub-result recorded for a test whose simulation
// did not finish.
const SimulationCheck = "simulation"

// Orchestrator composes the supervisor, the comparator and the aggregator for
// one batch.
type Orchestrator struct {
	logger     zerolog.Logger
	cfg        config.Config
	sup        *supervisor.Supervisor
	comparator verify.Comparator
	agg        *report.Aggregator
	metrics    *metrics.Metrics

	revision string
	batchID  string
}

// New creates an orchestrator for a batch against revision. The batch
// directory is the output directory joined with the revision and the
// configured run suffix.
func New(logger zerolog.Logger, cfg config.Config, sup *supervisor.Supervisor, comparator verify.Comparator, revision string) *Orchestrator {
	batchID := uuid.NewString()
	return &Orchestrator{
		logger:     logger.With().Str("batch", batchID).Logger(),
		cfg:        cfg,
		sup:        sup,
		comparator: comparator,
		agg:        report.NewAggregator(logger),
		metrics:    metrics.New(revision+cfg.RunSuffix, sup.Profile().Name),
		revision:   revision,
		batchID:    batchID,
	}
}

// BatchDir returns the directory that holds all run directories and reports.
func (o *Orchestrator) BatchDir() string {
	return filepath.Join(o.cfg.OutputDir, o.revision+o.cfg.RunSuffix)
}

// BatchID returns the unique id of the batch.
func (o *Orchestrator) BatchID() string {
	return o.batchID
}

// Aggregator returns the result accumulator of the batch.
func (o *Orchestrator) Aggregator() *report.Aggregator {
	return o.agg
}

// Policy returns the configured scheduling policy.
func (o *Orchestrator) Policy() model.Policy {
	if o.cfg.Interleave {
		return model.PolicyInterleaved
	}
	return model.PolicyStaged
}

// Result describes a completed batch.
type Result struct {
	BatchDir string
	// SummaryPath is empty when verification was skipped.
	SummaryPath string
	Batch       model.Batch
	// Failed is true if any check failed or errored or any selected
	// simulation did not finish.
	Failed bool
}

// ExitCode returns the process exit status for the result.
func (r Result) ExitCode() int {
	if r.Failed {
		return 1
	}
	return 0
}

// Run executes the selection with the configured policy. Failures of single
// tests are recorded, not returned; only context cancellation and failures
// to write the batch directory or reports abort the batch.
func (o *Orchestrator) Run(ctx context.Context, reg *registry.Registry, args []string, selection string) (Result, error) {
	start := time.Now()
	batchDir := o.BatchDir()

	if err := os.MkdirAll(batchDir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create batch directory: %w", err)
	}
	if err := o.writeProvenance(ctx, batchDir); err != nil {
		return Result{}, err
	}

	records := reg.Sorted().Records()
	instances := make([]*supervisor.Instance, 0, len(records))
	for _, rec := range records {
		instances = append(instances, o.sup.NewInstance(rec, batchDir))
	}
	defer func() {
		for _, inst := range instances {
			_ = inst.Close()
		}
	}()
	o.metrics.RecordSelected(len(instances))

	o.logger.Info().
		Str("dir", batchDir).
		Str("policy", string(o.Policy())).
		Int("tests", len(instances)).
		Msg("Starting batch")

	var err error
	if o.cfg.Interleave {
		err = o.runInterleaved(ctx, instances)
	} else {
		err = o.runStaged(ctx, instances)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{BatchDir: batchDir}
	if !o.cfg.SimOnly {
		path, err := o.agg.Finalize(batchDir, o.revision+o.cfg.RunSuffix, o.batchID)
		if err != nil {
			return Result{}, err
		}
		res.SummaryPath = path
	}

	batch := model.Batch{
		ID:        o.batchID,
		Timestamp: start,
		Args:      args,
		Revision:  o.revision + o.cfg.RunSuffix,
		Machine:   o.sup.Profile().Name,
		Policy:    o.Policy(),
		Selection: selection,
	}
	for _, inst := range instances {
		batch.Tests = append(batch.Tests, inst.Summary())
		o.metrics.RecordRun(inst.Record.Name, string(inst.State), inst.Elapsed)
		if !o.cfg.TestOnly && !inst.State.Done() {
			res.Failed = true
		}
	}
	if !o.cfg.SimOnly {
		c := o.agg.Counts()
		batch.Counts = &c
		o.metrics.RecordResults(c.Passed, c.Failed, c.Errored)
		if o.agg.AnyFailures() {
			res.Failed = true
		}
	}
	batch.Duration = time.Since(start)
	batch.ExitCode = res.ExitCode()
	res.Batch = batch

	o.metrics.RecordBatch(batch.Duration, time.Now())
	if _, err := o.metrics.WriteTextfile(batchDir); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to write metrics")
	}
	if err := writeBatch(batchDir, batch); err != nil {
		return Result{}, err
	}

	o.logger.Info().
		Dur("duration", batch.Duration).
		Str("summary", res.SummaryPath).
		Msg("Batch complete")
	return res, nil
}

func (o *Orchestrator) runInterleaved(ctx context.Context, instances []*supervisor.Instance) error {
	total := len(instances)
	for i, inst := range instances {
		if err := ctx.Err(); err != nil {
			return err
		}

		o.logger.Info().Str("test", inst.Record.Name).Msg("Preparing test")
		o.stage(inst)

		if !o.cfg.TestOnly {
			o.logger.Info().Int("index", i+1).Int("total", total).Msg("Running simulation")
			if err := o.run(ctx, inst); err != nil {
				return err
			}
		}
		if !o.cfg.SimOnly {
			o.logger.Info().Int("index", i+1).Int("total", total).Msg("Running test")
			o.check(ctx, inst)
		}
		_ = inst.Close()
	}
	return nil
}

func (o *Orchestrator) runStaged(ctx context.Context, instances []*supervisor.Instance) error {
	total := len(instances)

	o.logger.Info().Msg("Preparing all tests")
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.logger.Info().Str("test", inst.Record.Name).Msg("Preparing test")
		o.stage(inst)
	}

	if !o.cfg.TestOnly {
		o.logger.Info().Msg("Running all simulations")
		for i, inst := range instances {
			o.logger.Info().Int("index", i+1).Int("total", total).Msg("Running simulation")
			if err := o.run(ctx, inst); err != nil {
				return err
			}
		}
	}

	if !o.cfg.SimOnly {
		o.logger.Info().Msg("Running all tests")
		for i, inst := range instances {
			if err := ctx.Err(); err != nil {
				return err
			}
			o.logger.Info().Int("index", i+1).Int("total", total).Msg("Running test")
			o.check(ctx, inst)
		}
	}
	return nil
}

func (o *Orchestrator) stage(inst *supervisor.Instance) {
	if err := inst.Stage(); err != nil {
		o.logger.Error().Err(err).Str("test", inst.Record.Name).Msg("Failed to stage test")
	}
}

func (o *Orchestrator) run(ctx context.Context, inst *supervisor.Instance) error {
	if inst.State == supervisor.StateFailed {
		return nil
	}
	if err := inst.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Error().Err(err).Str("test", inst.Record.Name).Msg("Failed to run simulation")
	}
	return nil
}

// check records the comparator verdicts for a test, or a single error when
// its simulation did not finish.
func (o *Orchestrator) check(ctx context.Context, inst *supervisor.Instance) {
	name := inst.Record.Name

	switch {
	case inst.State == supervisor.StateFailed:
		o.agg.Record(name, dnf(inst.Err.Error()))
		return
	case inst.State == supervisor.StateTimedOut || inst.State == supervisor.StateIncomplete:
		o.agg.Record(name, dnf(fmt.Sprintf("did not finish (%s)", inst.State)))
		return
	case !inst.Completed():
		o.agg.Record(name, dnf("did not finish"))
		return
	}

	results, err := o.comparator.Verify(ctx, name, inst.RunDir)
	if err != nil {
		o.logger.Error().Err(err).Str("test", name).Msg("Comparator failed")
		o.agg.Record(name, []model.SubResult{{Name: o.comparator.Name(), Result: model.OutcomeError, Message: err.Error()}})
		return
	}
	o.agg.Record(name, results)
}

func dnf(message string) []model.SubResult {
	return []model.SubResult{{Name: SimulationCheck, Result: model.OutcomeError, Message: message}}
}

func (o *Orchestrator) writeProvenance(ctx context.Context, batchDir string) error {
	version, err := o.comparator.Version(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to determine comparator version")
	}

	p := model.Provenance{
		Source:          o.revision,
		Verifier:        o.comparator.Name(),
		VerifierVersion: version,
	}
	if err := os.WriteFile(filepath.Join(batchDir, model.VersionFile), []byte(p.Format()), 0644); err != nil {
		return fmt.Errorf("failed to write provenance: %w", err)
	}
	return nil
}

func writeBatch(batchDir string, batch model.Batch) error {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	if err := os.WriteFile(filepath.Join(batchDir, model.BatchFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write batch record: %w", err)
	}
	return nil
}

