package sim

import (
	"context"

	"github.com/san-kum/keystone/internal/dynamo"
)

// Model advances abundances from t-dt to t.
type Model interface {
	Step(x dynamo.State, t, dt float64) dynamo.State
	Dim() int
}

type Config struct {
	Dt   float64 `yaml:"dt"`
	Days float64 `yaml:"days"`
	// SampleTimes are the days at which the state is recorded, in
	// non-decreasing order. Empty means the final day only.
	SampleTimes []float64 `yaml:"sample_times,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Dt:   0.1,
		Days: 20,
	}
}

// Steps is the number of integration steps covering Days.
func (c Config) Steps() int {
	return int(c.Days/c.Dt + 0.5)
}

type Trajectory struct {
	Times      []float64
	States     []dynamo.State
	StepsTaken int
}

// Final returns the last recorded state.
func (tr *Trajectory) Final() dynamo.State {
	if len(tr.States) == 0 {
		return nil
	}
	return tr.States[len(tr.States)-1]
}

// Job computes one terminal abundance vector.
type Job func(ctx context.Context) (dynamo.State, error)

// Runner executes independent jobs and returns their results in submission
// order. A failing job aborts the whole run.
type Runner interface {
	Run(ctx context.Context, jobs []Job) ([]dynamo.State, error)
}
