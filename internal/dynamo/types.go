package dynamo

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// State is a vector of per-taxon abundances at one time point.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// IsValid reports whether every entry is finite.
func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsPositive reports whether every entry is finite and strictly positive.
func (s State) IsPositive() bool {
	for _, v := range s {
		if !(v > 0) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	return floats.Norm(s, 2)
}

// Sub returns s - other without modifying either.
func (s State) Sub(other State) State {
	result := s.Clone()
	floats.Sub(result, other)
	return result
}

// Masked returns the entries of s whose mask entry is true, in order.
func (s State) Masked(mask []bool) State {
	result := make(State, 0, len(s))
	for i, keep := range mask {
		if keep {
			result = append(result, s[i])
		}
	}
	return result
}

// System is a gLV-style system expressed in log space:
// d(log x)/dt = Derive(x, t).
type System interface {
	Derive(x State, t float64) State
	Dim() int
}

// Stepper advances a System one step from time t to t+dt.
type Stepper interface {
	Step(sys System, x State, t, dt float64) State
}

// Observer is notified of every simulated state.
type Observer interface {
	OnStep(x State, step int, t float64)
}
