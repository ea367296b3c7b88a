package integrators

import (
	"math"

	"github.com/san-kum/keystone/internal/dynamo"
)

// LogRK4 is the classic fourth order Runge-Kutta scheme applied to
// y = log x. It keeps scratch buffers between calls, so one instance must
// not be shared between goroutines.
type LogRK4 struct {
	y, k1, k2, k3, k4 dynamo.State
	scratch           dynamo.State
}

func NewLogRK4() *LogRK4 {
	return &LogRK4{}
}

func (r *LogRK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.y = make(dynamo.State, n)
		r.k1 = make(dynamo.State, n)
		r.k2 = make(dynamo.State, n)
		r.k3 = make(dynamo.State, n)
		r.k4 = make(dynamo.State, n)
		r.scratch = make(dynamo.State, n)
	}
}

// rate evaluates d(log x)/dt at log-state y.
func (r *LogRK4) rate(sys dynamo.System, y dynamo.State, t float64, dst dynamo.State) {
	for i := range y {
		r.scratch[i] = math.Exp(y[i])
	}
	copy(dst, sys.Derive(r.scratch, t))
}

func (r *LogRK4) Step(sys dynamo.System, x dynamo.State, t, dt float64) dynamo.State {
	n := len(x)
	r.ensureScratch(n)

	for i := 0; i < n; i++ {
		r.y[i] = math.Log(x[i])
	}
	r.rate(sys, r.y, t, r.k1)

	mid := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		mid[i] = r.y[i] + dt*0.5*r.k1[i]
	}
	r.rate(sys, mid, t+dt*0.5, r.k2)

	for i := 0; i < n; i++ {
		mid[i] = r.y[i] + dt*0.5*r.k2[i]
	}
	r.rate(sys, mid, t+dt*0.5, r.k3)

	for i := 0; i < n; i++ {
		mid[i] = r.y[i] + dt*r.k3[i]
	}
	r.rate(sys, mid, t+dt, r.k4)

	result := make(dynamo.State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		result[i] = math.Exp(r.y[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i]))
	}

	return result
}
