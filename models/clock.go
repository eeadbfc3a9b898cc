package models

import "time"

// Clock is the single time source for every timestamp written by the
// state machine, the ledger and the orchestrator.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
