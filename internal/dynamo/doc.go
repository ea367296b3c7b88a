// Package dynamo provides the shared primitives of the keystoneness engine.
//
// The package defines the vocabulary every other package speaks:
//
//   - [State]: per-taxon abundance vector
//   - [System]: log-space rate function, d(log x)/dt = f(x, t)
//   - [Stepper]: one integration step of a [System]
//   - [Observer]: hook receiving every simulated state
//
// # Errors
//
// Failures are classified as [ErrConfiguration], [ErrNumericInstability] or
// [ErrResource]. The typed errors [ConfigurationError],
// [NumericInstabilityError] and [ResourceError] carry the context needed to
// diagnose a run (field, knockout set, posterior sample, path) and unwrap to
// their class:
//
//	var nerr *dynamo.NumericInstabilityError
//	if errors.As(err, &nerr) {
//	    // nerr.Knockout, nerr.Sample
//	}
package dynamo
