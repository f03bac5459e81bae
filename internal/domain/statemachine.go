package domain

import "fmt"

// leaseTransitions is the lease status transition table. Terminal states
// have no outgoing edges. PENDING may default directly when failures
// accumulate before activation.
var leaseTransitions = map[LeaseStatus][]LeaseStatus{
	LeasePending:   {LeaseActive, LeaseDefaulted},
	LeaseActive:    {LeaseCompleted, LeaseDefaulted},
	LeaseCompleted: {},
	LeaseDefaulted: {},
}

// CanTransition reports whether from -> to is a permitted lease
// transition.
func CanTransition(from, to LeaseStatus) bool {
	for _, next := range leaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransitionError when from -> to is
// not in the transition table.
func ValidateTransition(from, to LeaseStatus) error {
	if !CanTransition(from, to) {
		return NewInvalidTransitionError("validate_transition",
			fmt.Sprintf("invalid transition: %s -> %s", from, to))
	}
	return nil
}
