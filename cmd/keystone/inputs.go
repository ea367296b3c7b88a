package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/san-kum/keystone/internal/config"
	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/glv"
	"github.com/san-kum/keystone/internal/knockout"
	"github.com/san-kum/keystone/internal/posterior"
	"github.com/san-kum/keystone/internal/sim"
	"github.com/san-kum/keystone/internal/taxa"
	"github.com/spf13/cobra"
)

const (
	typeLeaveOneOut  = "leave-one-out"
	typePerturbation = "perturbation"
)

// checkType accepts the keystoneness types that can be computed.
func checkType(t string) error {
	switch t {
	case typeLeaveOneOut:
		return nil
	case typePerturbation:
		return fmt.Errorf("%w: %q is not implemented", dynamo.ErrUnsupportedType, t)
	default:
		return fmt.Errorf("%w: %q (want %s)", dynamo.ErrUnsupportedType, t, typeLeaveOneOut)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig applies, in order: defaults, the config file, the preset and
// the flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	}
	if preset != "" {
		if err := cfg.ApplyPreset(preset); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Inputs.Dir = modelDir
	}
	if flags.Changed("max-posterior") {
		cfg.Run.MaxPosterior = maxPosterior
	}
	if flags.Changed("workers") {
		cfg.Run.Workers = workers
	}
	if flags.Changed("dt") {
		cfg.Simulation.Dt = dt
	}
	if flags.Changed("days") {
		cfg.Simulation.Days = days
	}
	if flags.Changed("integrator") {
		cfg.Simulation.Integrator = integrator
	}
	if flags.Changed("results") {
		cfg.Results.Path = resultsPath
	}
	if flags.Changed("backend") {
		cfg.Results.Backend = backend
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type inputs struct {
	reg     *taxa.Registry
	store   *posterior.Set
	initial []float64
	windows []glv.Window
}

// loadInputs reads the taxonomy, the posterior arrays, the initial
// conditions and the perturbation windows.
func loadInputs(cfg *config.Config) (*inputs, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	store, err := posterior.LoadDir(cfg.Inputs.Dir, cfg.Inputs.Files, reg.Len())
	if err != nil {
		return nil, err
	}
	store = store.Head(cfg.Run.MaxPosterior)

	rows, err := taxa.LoadAbundance(cfg.Resolve(cfg.Inputs.Abundance), reg)
	if err != nil {
		return nil, err
	}
	initial, err := taxa.InitialConditions(rows, cfg.Inputs.InitialTime, cfg.Inputs.DetectionLimit)
	if err != nil {
		return nil, err
	}

	var windows []glv.Window
	if cfg.Inputs.Perturbations != "" {
		perts, err := taxa.LoadPerturbations(cfg.Resolve(cfg.Inputs.Perturbations))
		if err != nil {
			return nil, err
		}
		if windows, err = windowsFor(perts, store.NumPerturbations()); err != nil {
			return nil, err
		}
	}

	return &inputs{reg: reg, store: store, initial: initial, windows: windows}, nil
}

func loadRegistry(cfg *config.Config) (*taxa.Registry, error) {
	return taxa.LoadTaxonomy(cfg.Resolve(cfg.Inputs.Taxonomy))
}

// windowsFor pairs the k-th perturbation of the table with the k-th
// perturbation effect array.
func windowsFor(perts []taxa.Perturbation, effects int) ([]glv.Window, error) {
	if len(perts) != effects {
		return nil, dynamo.Configf("perturbations", "table lists %d perturbations, the posterior has %d effect arrays", len(perts), effects)
	}
	windows := make([]glv.Window, len(perts))
	for k, p := range perts {
		windows[k] = glv.Window{Start: p.Start, End: p.End, Index: k}
	}
	return windows, nil
}

func newEvaluator(cfg *config.Config, in *inputs, log *slog.Logger) (*knockout.Evaluator, error) {
	return knockout.NewEvaluator(in.store, in.reg, in.initial, cfg.Evaluator(in.windows),
		knockout.WithRunner(sim.NewRunner(cfg.Run.Workers)),
		knockout.WithLogger(log))
}
