// Package ranking orders knockout sets by how far removing them moves the
// mean terminal community away from the baseline.
package ranking

import (
	"math"
	"sort"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/knockout"
	"gonum.org/v1/gonum/stat"
)

// Entry is one ranked knockout set.
type Entry struct {
	Set knockout.Set
	// Position is the 0-based index of the set in the input list.
	Position int
	Effect   float64
	Outcome  *knockout.Outcome
}

type Result struct {
	Entries  []Entry
	Spearman float64
}

// Effect is the Euclidean norm of the shift in mean terminal abundance of
// the retained taxa relative to the baseline. Outcomes that do not match
// the baseline's taxa are configuration errors.
func Effect(base dynamo.State, o *knockout.Outcome) (float64, error) {
	if err := o.Check(len(base)); err != nil {
		return 0, err
	}
	ref := base
	if o.Mask != nil {
		ref = base.Masked(o.Mask)
	}
	return o.Mean.Sub(ref).Norm(), nil
}

// Rank sorts the outcomes by descending effect. Equal effects keep their
// input order.
func Rank(base *knockout.Outcome, outcomes []*knockout.Outcome) (Result, error) {
	if err := base.Check(len(base.Mean)); err != nil {
		return Result{}, err
	}
	entries := make([]Entry, len(outcomes))
	for i, o := range outcomes {
		eff, err := Effect(base.Mean, o)
		if err != nil {
			return Result{}, err
		}
		entries[i] = Entry{
			Set:      o.Set,
			Position: i,
			Effect:   eff,
			Outcome:  o,
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Effect > entries[j].Effect
	})
	return Result{Entries: entries, Spearman: spearman(entries)}, nil
}

// spearman correlates the ranked input positions with 0..n-1. Positions
// are distinct integers so they are their own ranks.
func spearman(entries []Entry) float64 {
	if len(entries) < 2 {
		return math.NaN()
	}
	pos := make([]float64, len(entries))
	ord := make([]float64, len(entries))
	for i, e := range entries {
		pos[i] = float64(e.Position)
		ord[i] = float64(i)
	}
	return stat.Correlation(pos, ord, nil)
}
