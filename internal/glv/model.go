package glv

import (
	"math"
	"sort"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/integrators"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultSimMax = 1e20
	DefaultSimMin = 1e-100

	// edgeScale times the step size absorbs float error when a time sits
	// on a window boundary.
	edgeScale = 1e-9
)

// Window is a half-open interval [Start, End) during which growth is scaled
// by perturbation effect Index.
type Window struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Index int     `yaml:"index"`
}

// Contains reports whether t lies in the window, with both edges moved
// back by tol.
func (w Window) Contains(t, tol float64) bool {
	return t >= w.Start-tol && t < w.End-tol
}

// CheckWindows rejects empty or overlapping windows and windows whose
// effect index is outside [0, effects). It returns the windows sorted by
// start.
func CheckWindows(windows []Window, effects int) ([]Window, error) {
	ws := append([]Window(nil), windows...)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Start < ws[j].Start })
	for i, w := range ws {
		if w.Index < 0 || w.Index >= effects {
			return nil, dynamo.Configf("perturbation", "window [%g, %g) refers to effect %d of %d", w.Start, w.End, w.Index, effects)
		}
		if !(w.Start < w.End) {
			return nil, dynamo.Configf("perturbation", "window %d is empty: [%g, %g)", w.Index, w.Start, w.End)
		}
		if i > 0 && w.Start < ws[i-1].End {
			return nil, dynamo.Configf("perturbation", "windows [%g, %g) and [%g, %g) overlap", ws[i-1].Start, ws[i-1].End, w.Start, w.End)
		}
	}
	return ws, nil
}

// CheckBounds validates a ceiling and floor pair.
func CheckBounds(simMax, simMin float64) error {
	if !(simMax > 0) {
		return dynamo.Configf("sim_max", "must be positive, got %g", simMax)
	}
	if simMin < 0 || math.IsNaN(simMin) {
		return dynamo.Configf("sim_min", "must be non-negative, got %g", simMin)
	}
	if simMin >= simMax {
		return dynamo.Configf("sim_min", "floor %g is not below ceiling %g", simMin, simMax)
	}
	return nil
}

// Model is one posterior sample of a gLV system:
//
//	d(log x)/dt = r(t) + A x
//
// where r(t) is the growth vector, multiplied by (1 + p_k) while t lies in
// window k. A Model is not safe for concurrent use when its stepper keeps
// scratch buffers.
type Model struct {
	dim         int
	growth      []float64
	interaction *mat.Dense
	adjusted    [][]float64
	windows     []Window
	simMax      float64
	simMin      float64
	tol         float64
	stepper     dynamo.Stepper
}

type Option func(*Model) error

// WithPerturbations registers perturbation effect vectors and the windows in
// which they apply. Windows must not overlap.
func WithPerturbations(effects [][]float64, windows []Window) Option {
	return func(m *Model) error {
		for k, p := range effects {
			if len(p) != m.dim {
				return dynamo.Configf("perturbation", "effect %d has %d entries, want %d", k, len(p), m.dim)
			}
		}
		ws, err := CheckWindows(windows, len(effects))
		if err != nil {
			return err
		}
		m.adjusted = make([][]float64, len(effects))
		for k, p := range effects {
			g := make([]float64, m.dim)
			for i := range g {
				g[i] = m.growth[i] * (1 + p[i])
			}
			m.adjusted[k] = g
		}
		m.windows = ws
		return nil
	}
}

// WithCeiling sets the saturation ceiling applied after every step.
func WithCeiling(simMax float64) Option {
	return func(m *Model) error {
		m.simMax = simMax
		return nil
	}
}

// WithFloor sets the lower clamp applied after every step. A zero floor
// disables clamping, leaving underflow to the integrator's checks.
func WithFloor(simMin float64) Option {
	return func(m *Model) error {
		m.simMin = simMin
		return nil
	}
}

// WithStepSize sets the integration step used to scale the window edge
// tolerance. The default is one day.
func WithStepSize(dt float64) Option {
	return func(m *Model) error {
		if !(dt > 0) {
			return dynamo.Configf("dt", "must be positive, got %g", dt)
		}
		m.tol = dt * edgeScale
		return nil
	}
}

func WithStepper(s dynamo.Stepper) Option {
	return func(m *Model) error {
		m.stepper = s
		return nil
	}
}

// New builds a model from a growth vector and a square interaction matrix.
// The inputs are copied.
func New(growth []float64, interaction mat.Matrix, opts ...Option) (*Model, error) {
	r, c := interaction.Dims()
	if r != c || r != len(growth) {
		return nil, dynamo.Configf("interaction", "shape (%d, %d) does not match %d growth rates", r, c, len(growth))
	}
	if len(growth) == 0 {
		return nil, dynamo.Configf("growth", "no taxa to simulate")
	}
	m := &Model{
		dim:         len(growth),
		growth:      append([]float64(nil), growth...),
		interaction: mat.DenseCopyOf(interaction),
		simMax:      DefaultSimMax,
		simMin:      DefaultSimMin,
		tol:         edgeScale,
		stepper:     integrators.NewLogEuler(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if err := CheckBounds(m.simMax, m.simMin); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) Dim() int { return m.dim }

func (m *Model) Ceiling() float64 { return m.simMax }

func (m *Model) Floor() float64 { return m.simMin }

// Growth returns the effective growth vector at time t.
func (m *Model) Growth(t float64) []float64 {
	for _, w := range m.windows {
		if w.Start-m.tol > t {
			break
		}
		if w.Contains(t, m.tol) {
			return m.adjusted[w.Index]
		}
	}
	return m.growth
}

// Derive returns the per-capita rate r(t) + A x.
func (m *Model) Derive(x dynamo.State, t float64) dynamo.State {
	var ax mat.VecDense
	ax.MulVec(m.interaction, mat.NewVecDense(m.dim, x))
	rate := make(dynamo.State, m.dim)
	growth := m.Growth(t)
	for i := range rate {
		rate[i] = growth[i] + ax.AtVec(i)
	}
	return rate
}

// Step returns the abundances at time t given abundances x at t-dt. The
// growth in effect is the one at t-dt. Results are clamped to the floor and
// the ceiling, so +Inf becomes the ceiling. NaN passes through for the
// caller to detect.
func (m *Model) Step(x dynamo.State, t, dt float64) dynamo.State {
	next := m.stepper.Step(m, x, t-dt, dt)
	for i, v := range next {
		switch {
		case v >= m.simMax:
			next[i] = m.simMax
		case v < m.simMin:
			next[i] = m.simMin
		}
	}
	return next
}
