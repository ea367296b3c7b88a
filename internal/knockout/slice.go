package knockout

import (
	"math"

	"github.com/san-kum/keystone/internal/posterior"
	"gonum.org/v1/gonum/mat"
)

// Reduced holds one posterior sample restricted to the retained taxa.
type Reduced struct {
	Growth          []float64
	SelfInteraction []float64
	Interaction     *mat.Dense
	Perturbations   [][]float64
}

// Slice restricts a sample to the taxa retained by mask, keeping their
// relative order, and overwrites the diagonal of the interaction matrix
// with -|self interaction|. The sample itself is not modified.
func Slice(s posterior.Sample, mask []bool) Reduced {
	keep := make([]int, 0, len(mask))
	for i, k := range mask {
		if k {
			keep = append(keep, i)
		}
	}
	m := len(keep)

	r := Reduced{
		Growth:          make([]float64, m),
		SelfInteraction: make([]float64, m),
		Interaction:     mat.NewDense(m, m, nil),
		Perturbations:   make([][]float64, len(s.Perturbations)),
	}
	for k := range s.Perturbations {
		r.Perturbations[k] = make([]float64, m)
	}

	for a, i := range keep {
		r.Growth[a] = s.Growth[i]
		r.SelfInteraction[a] = -math.Abs(s.SelfInteraction[i])
		for k, p := range s.Perturbations {
			r.Perturbations[k][a] = p[i]
		}
		for b, j := range keep {
			r.Interaction.Set(a, b, s.Interaction.At(i, j))
		}
		r.Interaction.Set(a, a, r.SelfInteraction[a])
	}
	return r
}
