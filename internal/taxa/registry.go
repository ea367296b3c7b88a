// Package taxa holds the taxon registry that fixes the ordering of every
// posterior array, plus the subject tables used to derive initial
// conditions and perturbation windows.
package taxa

import (
	"fmt"
	"strings"

	"github.com/san-kum/keystone/internal/dynamo"
)

// Taxonomy is the classification of a taxon, from kingdom to species.
// Missing ranks are empty.
type Taxonomy struct {
	Kingdom string
	Phylum  string
	Class   string
	Order   string
	Family  string
	Genus   string
	Species string
}

// Ranks returns the taxonomy as rank/value pairs, most general first.
func (tx Taxonomy) Ranks() [][2]string {
	return [][2]string{
		{"kingdom", tx.Kingdom},
		{"phylum", tx.Phylum},
		{"class", tx.Class},
		{"order", tx.Order},
		{"family", tx.Family},
		{"genus", tx.Genus},
		{"species", tx.Species},
	}
}

type Taxon struct {
	Name     string
	Index    int
	Sequence string
	Taxonomy Taxonomy
}

func (t Taxon) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Taxon %s (index %d)", t.Name, t.Index)
	for _, r := range t.Taxonomy.Ranks() {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\t%s: %s", r[0], r[1])
	}
	return b.String()
}

// Registry is an ordered, read-only set of taxa.
type Registry struct {
	taxa  []Taxon
	index map[string]int
}

// NewRegistry builds a registry; Index fields are reassigned to the slice
// position.
func NewRegistry(taxa []Taxon) (*Registry, error) {
	r := &Registry{
		taxa:  make([]Taxon, len(taxa)),
		index: make(map[string]int, len(taxa)),
	}
	for i, t := range taxa {
		if t.Name == "" {
			return nil, dynamo.Configf("taxa", "taxon %d has no name", i)
		}
		if _, dup := r.index[t.Name]; dup {
			return nil, dynamo.Configf("taxa", "duplicated taxon %q", t.Name)
		}
		t.Index = i
		r.taxa[i] = t
		r.index[t.Name] = i
	}
	return r, nil
}

// FromNames builds a registry of taxa without taxonomy.
func FromNames(names ...string) (*Registry, error) {
	taxa := make([]Taxon, len(names))
	for i, n := range names {
		taxa[i] = Taxon{Name: n}
	}
	return NewRegistry(taxa)
}

func (r *Registry) Len() int { return len(r.taxa) }

func (r *Registry) At(i int) Taxon { return r.taxa[i] }

// Resolve returns the taxon with the given name.
func (r *Registry) Resolve(name string) (Taxon, error) {
	i, ok := r.index[name]
	if !ok {
		return Taxon{}, dynamo.Configf("taxa", "unknown taxon %q", name)
	}
	return r.taxa[i], nil
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.taxa))
	for i, t := range r.taxa {
		names[i] = t.Name
	}
	return names
}
