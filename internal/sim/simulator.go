package sim

import (
	"context"
	"math"

	"github.com/san-kum/keystone/internal/dynamo"
)

type Simulator struct {
	model     Model
	observers []dynamo.Observer
}

func New(model Model) *Simulator {
	return &Simulator{
		model:     model,
		observers: make([]dynamo.Observer, 0),
	}
}

func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }

// Run integrates from x0 at day 0 for cfg.Days and records the state at the
// step nearest to each sample time. Any non-finite or zero abundance stops
// the run with a *dynamo.NumericInstabilityError.
func (s *Simulator) Run(ctx context.Context, x0 dynamo.State, cfg Config) (*Trajectory, error) {
	if err := s.validate(x0, cfg); err != nil {
		return nil, err
	}

	steps := cfg.Steps()
	record, err := recordSteps(cfg, steps)
	if err != nil {
		return nil, err
	}

	result := &Trajectory{
		Times:  make([]float64, 0, len(record)),
		States: make([]dynamo.State, 0, len(record)),
	}

	x := x0.Clone()
	next := 0
	capture := func(step int, t float64) {
		for next < len(record) && record[next] == step {
			result.Times = append(result.Times, t)
			result.States = append(result.States, x.Clone())
			next++
		}
	}

	for _, obs := range s.observers {
		obs.OnStep(x, 0, 0)
	}
	capture(0, 0)

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		t := float64(i) * cfg.Dt
		x = s.model.Step(x, t, cfg.Dt)
		if err := checkState(x, i, t); err != nil {
			return result, err
		}
		result.StepsTaken++

		for _, obs := range s.observers {
			obs.OnStep(x, i, t)
		}
		capture(i, t)
	}

	return result, nil
}

func (s *Simulator) validate(x0 dynamo.State, cfg Config) error {
	if !(cfg.Dt > 0) {
		return dynamo.Configf("dt", "must be positive, got %g", cfg.Dt)
	}
	if !(cfg.Days > 0) {
		return dynamo.Configf("days", "must be positive, got %g", cfg.Days)
	}
	if len(x0) != s.model.Dim() {
		return dynamo.Configf("initial_conditions", "have %d entries, model has %d taxa", len(x0), s.model.Dim())
	}
	for i, v := range x0 {
		if !(v > 0) || math.IsInf(v, 0) {
			return dynamo.Configf("initial_conditions", "entry %d is %g, must be finite and strictly positive", i, v)
		}
	}
	return nil
}

// recordSteps maps sample times to the nearest step index.
func recordSteps(cfg Config, steps int) ([]int, error) {
	if len(cfg.SampleTimes) == 0 {
		return []int{steps}, nil
	}
	record := make([]int, len(cfg.SampleTimes))
	for i, t := range cfg.SampleTimes {
		if i > 0 && t < cfg.SampleTimes[i-1] {
			return nil, dynamo.Configf("sample_times", "not in increasing order at %g", t)
		}
		k := int(math.Round(t / cfg.Dt))
		if k < 0 || k > steps {
			return nil, dynamo.Configf("sample_times", "time %g is outside [0, %g]", t, cfg.Days)
		}
		record[i] = k
	}
	return record, nil
}

func checkState(x dynamo.State, step int, t float64) error {
	for i, v := range x {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &dynamo.NumericInstabilityError{
				Sample: -1,
				Step:   step,
				Time:   t,
				Taxon:  i,
				Value:  v,
			}
		}
	}
	return nil
}
