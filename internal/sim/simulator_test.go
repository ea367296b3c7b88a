package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/keystone/internal/dynamo"
)

// decay multiplies every entry by exp(-k dt) per step.
type decay struct {
	k   float64
	dim int
}

func (d *decay) Step(x dynamo.State, t, dt float64) dynamo.State {
	out := make(dynamo.State, len(x))
	for i := range x {
		out[i] = x[i] * math.Exp(-d.k*dt)
	}
	return out
}

func (d *decay) Dim() int { return d.dim }

// poison returns value at step failAt and behaves like identity otherwise.
type poison struct {
	failAt int
	value  float64
	steps  int
}

func (p *poison) Step(x dynamo.State, t, dt float64) dynamo.State {
	p.steps++
	out := x.Clone()
	if p.steps == p.failAt {
		out[1] = p.value
	}
	return out
}

func (p *poison) Dim() int { return 2 }

type countingObserver struct {
	calls int
}

func (c *countingObserver) OnStep(x dynamo.State, step int, t float64) { c.calls++ }

func TestSimulatorRun(t *testing.T) {
	s := New(&decay{k: 1, dim: 1})
	obs := &countingObserver{}
	s.AddObserver(obs)

	result, err := s.Run(context.Background(), dynamo.State{1.0}, Config{Dt: 0.1, Days: 1.0})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.StepsTaken != 10 {
		t.Errorf("expected 10 steps, got %d", result.StepsTaken)
	}
	if len(result.States) != 1 || len(result.Times) != 1 {
		t.Fatalf("expected only the final state, got %d states", len(result.States))
	}
	if math.Abs(result.Times[0]-1.0) > 1e-12 {
		t.Errorf("expected final time 1.0, got %v", result.Times[0])
	}
	if got := result.Final()[0]; math.Abs(got-math.Exp(-1)) > 1e-12 {
		t.Errorf("expected final state %.6f, got %.6f", math.Exp(-1), got)
	}
	if obs.calls != 11 {
		t.Errorf("expected 11 observer calls, got %d", obs.calls)
	}
}

func TestSimulatorSampleTimes(t *testing.T) {
	s := New(&decay{k: 1, dim: 1})
	cfg := Config{Dt: 0.1, Days: 2, SampleTimes: []float64{0, 0.52, 1, 2}}

	result, err := s.Run(context.Background(), dynamo.State{1.0}, cfg)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	wantTimes := []float64{0, 0.5, 1, 2}
	if len(result.Times) != len(wantTimes) {
		t.Fatalf("expected %d samples, got %d", len(wantTimes), len(result.Times))
	}
	for i, want := range wantTimes {
		if math.Abs(result.Times[i]-want) > 1e-9 {
			t.Errorf("sample %d: time %v, want %v", i, result.Times[i], want)
		}
		if math.Abs(result.States[i][0]-math.Exp(-want)) > 1e-9 {
			t.Errorf("sample %d: state %v, want %v", i, result.States[i][0], math.Exp(-want))
		}
	}
}

func TestSimulatorInvalidConfig(t *testing.T) {
	s := New(&decay{k: 1, dim: 2})

	tests := []struct {
		name string
		x0   dynamo.State
		cfg  Config
	}{
		{"zero dt", dynamo.State{1, 1}, Config{Dt: 0, Days: 1.0}},
		{"negative dt", dynamo.State{1, 1}, Config{Dt: -0.1, Days: 1.0}},
		{"zero days", dynamo.State{1, 1}, Config{Dt: 0.1, Days: 0}},
		{"zero initial condition", dynamo.State{1, 0}, Config{Dt: 0.1, Days: 1}},
		{"negative initial condition", dynamo.State{-1, 1}, Config{Dt: 0.1, Days: 1}},
		{"wrong dimension", dynamo.State{1}, Config{Dt: 0.1, Days: 1}},
		{"sample time beyond horizon", dynamo.State{1, 1}, Config{Dt: 0.1, Days: 1, SampleTimes: []float64{2}}},
		{"unordered sample times", dynamo.State{1, 1}, Config{Dt: 0.1, Days: 1, SampleTimes: []float64{0.5, 0.2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Run(context.Background(), tt.x0, tt.cfg)
			if !errors.Is(err, dynamo.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestSimulatorReportsInstability(t *testing.T) {
	for _, value := range []float64{0, math.NaN(), math.Inf(1)} {
		s := New(&poison{failAt: 4, value: value})
		_, err := s.Run(context.Background(), dynamo.State{1, 1}, Config{Dt: 0.5, Days: 5})

		var nerr *dynamo.NumericInstabilityError
		if !errors.As(err, &nerr) {
			t.Fatalf("value %v: expected NumericInstabilityError, got %v", value, err)
		}
		if nerr.Step != 4 || nerr.Taxon != 1 || math.Abs(nerr.Time-2) > 1e-12 {
			t.Errorf("value %v: wrong location %+v", value, nerr)
		}
	}
}

func TestSimulatorDeterministic(t *testing.T) {
	cfg := Config{Dt: 0.01, Days: 3}
	a, err := New(&decay{k: 0.3, dim: 3}).Run(context.Background(), dynamo.State{1, 2, 3}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(&decay{k: 0.3, dim: 3}).Run(context.Background(), dynamo.State{1, 2, 3}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Final() {
		if a.Final()[i] != b.Final()[i] {
			t.Errorf("entry %d differs: %v vs %v", i, a.Final()[i], b.Final()[i])
		}
	}
}

func TestSimulatorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&decay{k: 1, dim: 1}).Run(ctx, dynamo.State{1}, Config{Dt: 0.1, Days: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConfigSteps(t *testing.T) {
	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{Dt: 0.1, Days: 20}, 200},
		{Config{Dt: 0.01, Days: 20}, 2000},
		{Config{Dt: 0.1, Days: 5}, 50},
		{Config{Dt: 0.3, Days: 1}, 3},
	}
	for _, tt := range tests {
		if got := tt.cfg.Steps(); got != tt.want {
			t.Errorf("Steps(%+v) = %d, want %d", tt.cfg, got, tt.want)
		}
	}
}
