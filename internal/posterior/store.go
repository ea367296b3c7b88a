// Package posterior gives read-only access to the Gibbs samples produced by
// the upstream inference: growth rates, self-interactions, the interaction
// matrix and optional perturbation effects, one tuple per posterior sample.
package posterior

import (
	"github.com/san-kum/keystone/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Sample is one posterior draw. Its slices and matrix may alias the store's
// memory and must be treated as read-only.
type Sample struct {
	Growth          []float64
	SelfInteraction []float64
	Interaction     *mat.Dense
	Perturbations   [][]float64
}

type Store interface {
	NumSamples() int
	NumTaxa() int
	NumPerturbations() int
	Sample(i int) (Sample, error)
}

// Set is an in-memory Store backed by flat row-major arrays.
type Set struct {
	samples     int
	taxa        int
	growth      []float64
	self        []float64
	interaction []float64
	perts       [][]float64
}

// NewSet wraps flat arrays of shapes (S,N), (S,N), (S,N,N) and (S,N) per
// perturbation. The arrays are not copied.
func NewSet(samples, taxa int, growth, self, interaction []float64, perts ...[]float64) (*Set, error) {
	if samples <= 0 || taxa <= 0 {
		return nil, dynamo.Configf("posterior", "empty posterior (%d samples, %d taxa)", samples, taxa)
	}
	check := func(name string, got, want int) error {
		if got != want {
			return dynamo.Configf(name, "has %d values, want %d for %d samples of %d taxa", got, want, samples, taxa)
		}
		return nil
	}
	if err := check("growth", len(growth), samples*taxa); err != nil {
		return nil, err
	}
	if err := check("self_interactions", len(self), samples*taxa); err != nil {
		return nil, err
	}
	if err := check("interactions", len(interaction), samples*taxa*taxa); err != nil {
		return nil, err
	}
	for k, p := range perts {
		if err := check(perturbationName(k), len(p), samples*taxa); err != nil {
			return nil, err
		}
	}
	return &Set{
		samples:     samples,
		taxa:        taxa,
		growth:      growth,
		self:        self,
		interaction: interaction,
		perts:       perts,
	}, nil
}

// FromSamples copies a list of samples into a Set.
func FromSamples(list []Sample) (*Set, error) {
	if len(list) == 0 {
		return nil, dynamo.Configf("posterior", "no samples")
	}
	n := len(list[0].Growth)
	k := len(list[0].Perturbations)
	var growth, self, interaction []float64
	perts := make([][]float64, k)
	for i, s := range list {
		if len(s.Perturbations) != k {
			return nil, dynamo.Configf("perturbations", "sample %d has %d perturbations, want %d", i, len(s.Perturbations), k)
		}
		if s.Interaction == nil {
			return nil, dynamo.Configf("interactions", "sample %d has no interaction matrix", i)
		}
		r, c := s.Interaction.Dims()
		if r != n || c != n {
			return nil, dynamo.Configf("interactions", "sample %d has shape (%d, %d), want (%d, %d)", i, r, c, n, n)
		}
		growth = append(growth, s.Growth...)
		self = append(self, s.SelfInteraction...)
		for row := 0; row < n; row++ {
			interaction = append(interaction, s.Interaction.RawRowView(row)...)
		}
		for j, p := range s.Perturbations {
			perts[j] = append(perts[j], p...)
		}
	}
	return NewSet(len(list), n, growth, self, interaction, perts...)
}

func (s *Set) NumSamples() int { return s.samples }

func (s *Set) NumTaxa() int { return s.taxa }

func (s *Set) NumPerturbations() int { return len(s.perts) }

func (s *Set) Sample(i int) (Sample, error) {
	if i < 0 || i >= s.samples {
		return Sample{}, dynamo.Configf("posterior", "sample %d out of range [0, %d)", i, s.samples)
	}
	n := s.taxa
	smp := Sample{
		Growth:          s.growth[i*n : (i+1)*n : (i+1)*n],
		SelfInteraction: s.self[i*n : (i+1)*n : (i+1)*n],
		Interaction:     mat.NewDense(n, n, s.interaction[i*n*n:(i+1)*n*n:(i+1)*n*n]),
	}
	for _, p := range s.perts {
		smp.Perturbations = append(smp.Perturbations, p[i*n:(i+1)*n:(i+1)*n])
	}
	return smp, nil
}

// Head returns a view of the first n samples; n <= 0 or beyond the end
// keeps every sample.
func (s *Set) Head(n int) *Set {
	if n <= 0 || n >= s.samples {
		return s
	}
	t := s.taxa
	h := &Set{
		samples:     n,
		taxa:        t,
		growth:      s.growth[:n*t],
		self:        s.self[:n*t],
		interaction: s.interaction[:n*t*t],
	}
	for _, p := range s.perts {
		h.perts = append(h.perts, p[:n*t])
	}
	return h
}
