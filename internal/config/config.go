package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/glv"
	"github.com/san-kum/keystone/internal/integrators"
	"github.com/san-kum/keystone/internal/knockout"
	"github.com/san-kum/keystone/internal/posterior"
	"github.com/san-kum/keystone/internal/sim"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDt             = 0.1
	DefaultDays           = 20.0
	DefaultInitialTime    = 1.0
	DefaultDetectionLimit = 1e5
	DefaultLogEvery       = 100
)

type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Inputs     InputsConfig     `yaml:"inputs"`
	Run        RunConfig        `yaml:"run"`
	Results    ResultsConfig    `yaml:"results"`
}

type SimulationConfig struct {
	Integrator string  `yaml:"integrator"`
	Dt         float64 `yaml:"dt"`
	Days       float64 `yaml:"days"`
	SimMax     float64 `yaml:"sim_max"`
	SimMin     float64 `yaml:"sim_min"`
}

// InputsConfig locates the posterior and the tables. Relative paths are
// resolved against Dir.
type InputsConfig struct {
	Dir            string          `yaml:"dir"`
	Files          posterior.Files `yaml:"files"`
	Taxonomy       string          `yaml:"taxonomy"`
	Abundance      string          `yaml:"abundance"`
	Perturbations  string          `yaml:"perturbations"`
	InitialTime    float64         `yaml:"initial_time"`
	DetectionLimit float64         `yaml:"detection_limit"`
}

type RunConfig struct {
	// MaxPosterior caps the number of posterior samples; 0 uses all.
	MaxPosterior int `yaml:"max_posterior"`
	Workers      int `yaml:"workers"`
	LogEvery     int `yaml:"log_every"`
}

type ResultsConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Integrator: "euler",
			Dt:         DefaultDt,
			Days:       DefaultDays,
			SimMax:     glv.DefaultSimMax,
			SimMin:     glv.DefaultSimMin,
		},
		Inputs: InputsConfig{
			Dir:            ".",
			Files:          posterior.DefaultFiles(),
			Taxonomy:       "taxonomy.tsv",
			Abundance:      "abundance.tsv",
			InitialTime:    DefaultInitialTime,
			DetectionLimit: DefaultDetectionLimit,
		},
		Run: RunConfig{
			Workers:  1,
			LogEvery: DefaultLogEvery,
		},
		Results: ResultsConfig{
			Backend: "dir",
			Path:    "results",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dynamo.Resource("read", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, dynamo.Configf(path, "%v", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return dynamo.Configf(path, "%v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return dynamo.Resource("write", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	s := c.Simulation
	if !(s.Dt > 0) {
		return dynamo.Configf("simulation.dt", "must be positive, got %g", s.Dt)
	}
	if !(s.Days > 0) {
		return dynamo.Configf("simulation.days", "must be positive, got %g", s.Days)
	}
	if s.Dt > s.Days {
		return dynamo.Configf("simulation.dt", "%g is longer than the horizon of %g days", s.Dt, s.Days)
	}
	if !(s.SimMax > 0) {
		return dynamo.Configf("simulation.sim_max", "must be positive, got %g", s.SimMax)
	}
	if s.SimMin < 0 || s.SimMin >= s.SimMax {
		return dynamo.Configf("simulation.sim_min", "must be in [0, %g), got %g", s.SimMax, s.SimMin)
	}
	if _, err := integrators.New(s.Integrator); err != nil {
		return err
	}
	if !(c.Inputs.DetectionLimit > 0) {
		return dynamo.Configf("inputs.detection_limit", "must be positive, got %g", c.Inputs.DetectionLimit)
	}
	if c.Run.MaxPosterior < 0 {
		return dynamo.Configf("run.max_posterior", "must not be negative, got %d", c.Run.MaxPosterior)
	}
	if c.Run.Workers < 0 {
		return dynamo.Configf("run.workers", "must not be negative, got %d", c.Run.Workers)
	}
	return nil
}

// Resolve returns p relative to the input directory unless it is absolute
// or empty.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Inputs.Dir, p)
}

// Evaluator converts the settings into the evaluator configuration.
func (c *Config) Evaluator(windows []glv.Window) knockout.Config {
	return knockout.Config{
		Sim: sim.Config{
			Dt:   c.Simulation.Dt,
			Days: c.Simulation.Days,
		},
		SimMax:     c.Simulation.SimMax,
		SimMin:     c.Simulation.SimMin,
		Integrator: c.Simulation.Integrator,
		Windows:    windows,
		LogEvery:   c.Run.LogEvery,
	}
}

// ApplyPreset replaces the simulation settings with a named preset.
func (c *Config) ApplyPreset(name string) error {
	p := GetPreset(name)
	if p == nil {
		return dynamo.Configf("preset", "unknown preset %q (have %v)", name, ListPresets())
	}
	c.Simulation = *p
	return nil
}

func (s SimulationConfig) String() string {
	return fmt.Sprintf("%s dt=%g days=%g sim_max=%g sim_min=%g", s.Integrator, s.Dt, s.Days, s.SimMax, s.SimMin)
}
