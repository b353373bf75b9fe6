package arbiter

import "fmt"

// InvariantViolationError means an assumption the protocol relies on no
// longer holds (e.g. the ledger is missing a vote for a site about to be
// killed). It is fatal: the caller must crash this site rather than return
// an unsafe decision.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("mesh arbiter invariant violated (%s): %s", e.Invariant, e.Detail)
}
