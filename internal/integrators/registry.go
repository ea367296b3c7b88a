package integrators

import (
	"sort"

	"github.com/san-kum/keystone/internal/dynamo"
)

var steppers = map[string]func() dynamo.Stepper{
	"euler": func() dynamo.Stepper { return NewLogEuler() },
	"rk4":   func() dynamo.Stepper { return NewLogRK4() },
}

// New returns a fresh stepper registered under name. Steppers may hold
// scratch state, so every goroutine needs its own.
func New(name string) (dynamo.Stepper, error) {
	fn, ok := steppers[name]
	if !ok {
		return nil, dynamo.Configf("integrator", "unknown integrator %q (available: %v)", name, Names())
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(steppers))
	for name := range steppers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
