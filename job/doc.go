// Package job defines the contract between the step engine and domain
// trading code. A job class implements Compute plus any of the optional
// capability interfaces; the lifecycle controller checks interface
// satisfaction instead of probing for methods at runtime.
//
// A minimal job only computes:
//
//	type VerifyPairNotOpen struct {
//	    s *step.Step
//	}
//
//	func (j *VerifyPairNotOpen) Compute(ctx context.Context) (any, error) { ... }
//
// Optional behaviours are added by implementing the matching interface:
// Skipper to skip, DoubleChecker to re-validate side effects, Resolver to
// run compensating logic when the step ultimately fails, and so on.
package job
