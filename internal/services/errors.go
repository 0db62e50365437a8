// internal/services/errors.go
package services

import "errors"

// Engine error taxonomy. Validation and matching failures are handled locally
// and recorded on the product or the operator alert channel; only persistence
// failures propagate to the scheduler as fatal.
var (
	// ErrInvalidObservation marks a malformed observation. It is logged and
	// discarded; prior product state is untouched.
	ErrInvalidObservation = errors.New("invalid supplier observation")

	// ErrDuplicateObservation marks an observed_at already processed for the
	// product. The pipeline treats it as a successful no-op.
	ErrDuplicateObservation = errors.New("observation already processed")

	// ErrPolicyTimeout is transient: the attempt is abandoned and retried on
	// the next scheduled cycle.
	ErrPolicyTimeout = errors.New("policy invocation timed out")

	// ErrNoSuitableReplacement means no candidate cleared the similarity
	// threshold. The heal attempt is abandoned and the product flagged for
	// manual review; it is not retried within the same cycle.
	ErrNoSuitableReplacement = errors.New("no suitable replacement candidate")

	// ErrConcurrentWriteConflict is an optimistic-lock failure. The pipeline
	// run is retried once before being surfaced as transient.
	ErrConcurrentWriteConflict = errors.New("concurrent write conflict")
)
