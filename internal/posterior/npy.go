package posterior

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/sbinet/npyio"
)

// Files names the arrays of a posterior directory. Perturbation is a
// pattern where "{pidx}" is replaced by the perturbation index.
type Files struct {
	Growth          string `yaml:"growth"`
	SelfInteraction string `yaml:"self_interactions"`
	Interaction     string `yaml:"interactions"`
	Perturbation    string `yaml:"perturbation"`
}

func DefaultFiles() Files {
	return Files{
		Growth:          "growth.npy",
		SelfInteraction: "self_interactions.npy",
		Interaction:     "interactions.npy",
		Perturbation:    "perturbation{pidx}.npy",
	}
}

func (f Files) PerturbationFile(k int) string {
	return strings.ReplaceAll(f.Perturbation, "{pidx}", fmt.Sprint(k))
}

func perturbationName(k int) string {
	return fmt.Sprintf("perturbation%d", k)
}

// readArray reads a C-ordered float64 NumPy array and its shape.
func readArray(path string) ([]float64, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, dynamo.Resource("open", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, nil, dynamo.Resource("decode", path, err)
	}
	if r.Header.Descr.Fortran {
		return nil, nil, dynamo.Configf(filepath.Base(path), "fortran-ordered arrays are not supported")
	}
	shape := append([]int(nil), r.Header.Descr.Shape...)
	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]float64, size)
	if err := r.Read(&data); err != nil {
		return nil, nil, dynamo.Resource("decode", path, err)
	}
	return data, shape, nil
}

func checkShape(name string, got, want []int) error {
	if len(got) != len(want) {
		return dynamo.Configf(name, "has shape %v, want %v", got, want)
	}
	for i := range got {
		if want[i] >= 0 && got[i] != want[i] {
			return dynamo.Configf(name, "has shape %v, want %v", got, want)
		}
	}
	return nil
}

// LoadDir reads the posterior arrays from dir. Perturbation files are read
// in index order until one is missing. When nTaxa is positive it must match
// the arrays.
func LoadDir(dir string, files Files, nTaxa int) (*Set, error) {
	growth, gshape, err := readArray(filepath.Join(dir, files.Growth))
	if err != nil {
		return nil, err
	}
	if len(gshape) != 2 {
		return nil, dynamo.Configf("growth", "has shape %v, want (n_samples, n_taxa)", gshape)
	}
	samples, taxa := gshape[0], gshape[1]
	if nTaxa > 0 && taxa != nTaxa {
		return nil, dynamo.Configf("growth", "has %d taxa, the registry has %d", taxa, nTaxa)
	}

	self, sshape, err := readArray(filepath.Join(dir, files.SelfInteraction))
	if err != nil {
		return nil, err
	}
	if err := checkShape("self_interactions", sshape, []int{samples, taxa}); err != nil {
		return nil, err
	}

	interaction, ishape, err := readArray(filepath.Join(dir, files.Interaction))
	if err != nil {
		return nil, err
	}
	if err := checkShape("interactions", ishape, []int{samples, taxa, taxa}); err != nil {
		return nil, err
	}

	var perts [][]float64
	if files.Perturbation != "" {
		for k := 0; ; k++ {
			path := filepath.Join(dir, files.PerturbationFile(k))
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				break
			}
			p, pshape, err := readArray(path)
			if err != nil {
				return nil, err
			}
			if err := checkShape(perturbationName(k), pshape, []int{samples, taxa}); err != nil {
				return nil, err
			}
			perts = append(perts, p)
			if !strings.Contains(files.Perturbation, "{pidx}") {
				break
			}
		}
	}

	return NewSet(samples, taxa, growth, self, interaction, perts...)
}
