package session

import (
	"fmt"

	"handover-sim/pkg/types"
)

// ExhaustionError reports that a port pool ran past 65535. It is fatal to the run.
type ExhaustionError struct {
	Direction types.Direction
	Last      uint16
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("%s port space exhausted (last issued %d)", e.Direction, e.Last)
}

// BearerActivationError reports a dedicated bearer rejected by the bearer
// manager. Only that bearer is abandoned.
type BearerActivationError struct {
	IMSI   uint64
	Bearer int
	Cause  error
}

func (e *BearerActivationError) Error() string {
	return fmt.Sprintf("bearer %d of IMSI %d rejected: %v", e.Bearer, e.IMSI, e.Cause)
}

func (e *BearerActivationError) Unwrap() error {
	return e.Cause
}
