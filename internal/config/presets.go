package config

import (
	"sort"

	"github.com/san-kum/keystone/internal/glv"
)

// Presets are named simulation settings. batch and fine are the Euler step
// sizes of the published rankings; rk4 cross-checks batch with a higher
// order step.
var Presets = map[string]*SimulationConfig{
	"batch": {
		Integrator: "euler", Dt: 0.1, Days: 20,
		SimMax: glv.DefaultSimMax, SimMin: glv.DefaultSimMin,
	},
	"fine": {
		Integrator: "euler", Dt: 0.01, Days: 20,
		SimMax: glv.DefaultSimMax, SimMin: glv.DefaultSimMin,
	},
	"rk4": {
		Integrator: "rk4", Dt: 0.1, Days: 20,
		SimMax: glv.DefaultSimMax, SimMin: glv.DefaultSimMin,
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *SimulationConfig {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
