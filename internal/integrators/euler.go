package integrators

import (
	"math"

	"github.com/san-kum/keystone/internal/dynamo"
)

// LogEuler takes an explicit Euler step in log space:
// log x' = log x + f(x, t)*dt. It preserves positivity for finite inputs.
type LogEuler struct{}

func NewLogEuler() *LogEuler {
	return &LogEuler{}
}

func (e *LogEuler) Step(sys dynamo.System, x dynamo.State, t, dt float64) dynamo.State {
	rate := sys.Derive(x, t)
	result := make(dynamo.State, len(x))
	for i := range x {
		result[i] = math.Exp(math.Log(x[i]) + rate[i]*dt)
	}
	return result
}
