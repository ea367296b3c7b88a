// Package knockout forward-simulates the posterior with groups of taxa
// removed and averages the terminal abundances over posterior samples.
package knockout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/glv"
	"github.com/san-kum/keystone/internal/integrators"
	"github.com/san-kum/keystone/internal/metrics"
	"github.com/san-kum/keystone/internal/posterior"
	"github.com/san-kum/keystone/internal/sim"
	"github.com/san-kum/keystone/internal/taxa"
)

type Config struct {
	Sim        sim.Config
	SimMax     float64
	SimMin     float64
	Integrator string
	// Windows maps perturbation effects of the store onto time intervals.
	Windows []glv.Window
	// LogEvery is the number of posterior samples between progress logs.
	LogEvery int
}

func DefaultConfig() Config {
	return Config{
		Sim:        sim.DefaultConfig(),
		SimMax:     glv.DefaultSimMax,
		SimMin:     glv.DefaultSimMin,
		Integrator: "euler",
		LogEvery:   100,
	}
}

// Outcome is the mean terminal abundance of the retained taxa.
type Outcome struct {
	Set         Set
	Mask        []bool
	Mean        dynamo.State
	Samples     int
	Diagnostics metrics.Summary
}

// Check reports whether o describes a community of n taxa: a mask of n
// entries (or none) and one finite mean per retained taxon.
func (o *Outcome) Check(n int) error {
	kept := n
	if o.Mask != nil {
		if len(o.Mask) != n {
			return dynamo.Configf("outcome", "%s: mask has %d entries, the registry has %d taxa", o.Set.Key(), len(o.Mask), n)
		}
		kept = 0
		for _, keep := range o.Mask {
			if keep {
				kept++
			}
		}
	}
	if len(o.Mean) != kept {
		return dynamo.Configf("outcome", "%s: %d mean values for %d retained taxa", o.Set.Key(), len(o.Mean), kept)
	}
	if !o.Mean.IsValid() {
		return dynamo.Configf("outcome", "%s: mean abundance is not finite", o.Set.Key())
	}
	return nil
}

type Evaluator struct {
	store   posterior.Store
	reg     *taxa.Registry
	initial dynamo.State
	cfg     Config
	runner  sim.Runner
	log     *slog.Logger
}

type Option func(*Evaluator)

// WithRunner sets the execution strategy; the default is sim.Sequential.
func WithRunner(r sim.Runner) Option {
	return func(e *Evaluator) { e.runner = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// NewEvaluator checks that the store, the registry and the initial
// conditions describe the same taxa, and validates cfg, before any
// simulation runs.
func NewEvaluator(store posterior.Store, reg *taxa.Registry, initial []float64, cfg Config, opts ...Option) (*Evaluator, error) {
	if store.NumTaxa() != reg.Len() {
		return nil, dynamo.Configf("posterior", "has %d taxa, the registry has %d", store.NumTaxa(), reg.Len())
	}
	if len(initial) != reg.Len() {
		return nil, dynamo.Configf("initial_conditions", "have %d entries, the registry has %d taxa", len(initial), reg.Len())
	}
	if !dynamo.State(initial).IsPositive() {
		return nil, dynamo.Configf("initial_conditions", "must be finite and strictly positive")
	}
	if _, err := integrators.New(cfg.Integrator); err != nil {
		return nil, err
	}
	if _, err := glv.CheckWindows(cfg.Windows, store.NumPerturbations()); err != nil {
		return nil, err
	}
	if err := glv.CheckBounds(cfg.SimMax, cfg.SimMin); err != nil {
		return nil, err
	}
	if !(cfg.Sim.Dt > 0) || !(cfg.Sim.Days > 0) {
		return nil, dynamo.Configf("simulation", "dt and days must be positive, got dt=%g days=%g", cfg.Sim.Dt, cfg.Sim.Days)
	}

	e := &Evaluator{
		store:   store,
		reg:     reg,
		initial: dynamo.State(initial).Clone(),
		cfg:     cfg,
		runner:  sim.Sequential{},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate simulates every posterior sample with the taxa of s removed and
// returns the element-wise mean of the terminal abundances.
func (e *Evaluator) Evaluate(ctx context.Context, s Set) (*Outcome, error) {
	mask, err := Mask(e.reg, s)
	if err != nil {
		return nil, err
	}
	x0 := e.initial.Masked(mask)
	total := e.store.NumSamples()

	var tally metrics.Tally
	var done atomic.Int64
	start := time.Now()

	jobs := make([]sim.Job, total)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (dynamo.State, error) {
			out, err := e.simulate(ctx, i, mask, x0, &tally)
			if err != nil {
				return nil, e.locate(err, s, i)
			}
			if n := done.Add(1); e.cfg.LogEvery > 0 && n%int64(e.cfg.LogEvery) == 0 {
				e.log.Info("forward simulation",
					"knockout", s.Key(),
					"sample", n,
					"of", total,
					"elapsed", time.Since(start).Round(time.Millisecond))
			}
			return out, nil
		}
	}

	terminal, err := e.runner.Run(ctx, jobs)
	if err != nil {
		return nil, err
	}

	mean := make(dynamo.State, len(x0))
	for _, x := range terminal {
		for j, v := range x {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(terminal))
	}

	diag := tally.Summary()
	if diag.Saturated > 0 {
		e.log.Warn("trajectories reached the ceiling",
			"knockout", s.Key(), "runs", diag.Saturated, "of", diag.Runs, "sim_max", e.cfg.SimMax)
	}
	if diag.Floored > 0 {
		e.log.Warn("trajectories reached the floor",
			"knockout", s.Key(), "runs", diag.Floored, "of", diag.Runs, "sim_min", e.cfg.SimMin)
	}

	return &Outcome{
		Set:         s,
		Mask:        mask,
		Mean:        mean,
		Samples:     len(terminal),
		Diagnostics: diag,
	}, nil
}

// Model builds the reduced dynamics of posterior sample i.
func (e *Evaluator) Model(i int, mask []bool) (*glv.Model, error) {
	smp, err := e.store.Sample(i)
	if err != nil {
		return nil, err
	}
	red := Slice(smp, mask)

	stepper, err := integrators.New(e.cfg.Integrator)
	if err != nil {
		return nil, err
	}
	opts := []glv.Option{
		glv.WithCeiling(e.cfg.SimMax),
		glv.WithFloor(e.cfg.SimMin),
		glv.WithStepSize(e.cfg.Sim.Dt),
		glv.WithStepper(stepper),
	}
	if len(e.cfg.Windows) > 0 {
		opts = append(opts, glv.WithPerturbations(red.Perturbations, e.cfg.Windows))
	}
	return glv.New(red.Growth, red.Interaction, opts...)
}

func (e *Evaluator) simulate(ctx context.Context, i int, mask []bool, x0 dynamo.State, tally *metrics.Tally) (dynamo.State, error) {
	model, err := e.Model(i, mask)
	if err != nil {
		return nil, err
	}
	ceiling, floor := metrics.NewCeiling(model.Ceiling()), metrics.NewFloor(model.Floor())

	s := sim.New(model)
	s.AddObserver(ceiling)
	s.AddObserver(floor)
	traj, err := s.Run(ctx, x0, sim.Config{Dt: e.cfg.Sim.Dt, Days: e.cfg.Sim.Days})
	if err != nil {
		return nil, err
	}
	tally.Add(ceiling, floor)
	return traj.Final(), nil
}

// locate attaches the knockout set and sample index to err.
func (e *Evaluator) locate(err error, s Set, i int) error {
	var nerr *dynamo.NumericInstabilityError
	if errors.As(err, &nerr) {
		nerr.Knockout = s.Key()
		nerr.Sample = i
		return nerr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("knockout %s: posterior sample %d: %w", s.Key(), i, err)
}

// EvaluateAll evaluates the baseline followed by every set, in order.
// Every set is validated before the first simulation starts. Baseline
// entries in sets reuse the baseline outcome.
func (e *Evaluator) EvaluateAll(ctx context.Context, sets []Set) (*Outcome, []*Outcome, error) {
	if err := ValidateAll(e.reg, sets); err != nil {
		return nil, nil, err
	}
	base, err := e.Evaluate(ctx, Set{})
	if err != nil {
		return nil, nil, err
	}
	outs := make([]*Outcome, len(sets))
	for k, s := range sets {
		e.log.Info("knockout", "set", s.Key(), "index", k+1, "of", len(sets))
		if s.IsBase() {
			o := *base
			o.Set = s
			outs[k] = &o
			continue
		}
		if outs[k], err = e.Evaluate(ctx, s); err != nil {
			return nil, nil, err
		}
	}
	return base, outs, nil
}
