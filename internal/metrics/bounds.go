package metrics

import (
	"sync"

	"github.com/san-kum/keystone/internal/dynamo"
)

// Bound counts the steps of a trajectory in which at least one abundance
// sits at a clamp level. It implements dynamo.Observer.
type Bound struct {
	level float64
	hits  int
	steps int
}

// NewCeiling tracks saturation at the upper clamp.
func NewCeiling(level float64) *Bound {
	return &Bound{level: level}
}

// NewFloor tracks collapse onto the lower clamp.
func NewFloor(level float64) *Bound {
	return &Bound{level: level}
}

func (b *Bound) OnStep(x dynamo.State, step int, t float64) {
	b.steps++
	for _, v := range x {
		if v == b.level {
			b.hits++
			return
		}
	}
}

func (b *Bound) Hits() int { return b.hits }

// Value is the fraction of observed steps at the bound.
func (b *Bound) Value() float64 {
	if b.steps == 0 {
		return 0
	}
	return float64(b.hits) / float64(b.steps)
}

// Tally aggregates bound hits over many trajectories. It is safe for
// concurrent use.
type Tally struct {
	mu        sync.Mutex
	runs      int
	saturated int
	floored   int
	// summed per-trajectory fractions of steps at each bound
	ceilShare  float64
	floorShare float64
}

// Add records one trajectory.
func (t *Tally) Add(ceiling, floor *Bound) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	if ceiling != nil && ceiling.Hits() > 0 {
		t.saturated++
		t.ceilShare += ceiling.Value()
	}
	if floor != nil && floor.Hits() > 0 {
		t.floored++
		t.floorShare += floor.Value()
	}
}

// Summary is a snapshot of a Tally.
type Summary struct {
	Runs      int
	Saturated int
	Floored   int
	// CeilingShare and FloorShare are the mean fraction of steps spent at
	// the bound by the trajectories that reached it.
	CeilingShare float64
	FloorShare   float64
}

func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Summary{Runs: t.runs, Saturated: t.saturated, Floored: t.floored}
	if t.saturated > 0 {
		s.CeilingShare = t.ceilShare / float64(t.saturated)
	}
	if t.floored > 0 {
		s.FloorShare = t.floorShare / float64(t.floored)
	}
	return s
}
