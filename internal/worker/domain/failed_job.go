package domain

import "time"

// Failure reasons stored with a failed job
const (
	ReasonMaxTries    = "max_tries_exceeded"
	ReasonPermanent   = "permanent_error"
	ReasonUndecodable = "undecodable_payload"
	ReasonReleaseLost = "release_lost"
)

// FailedJob is a job the worker gave up on, kept for inspection and retry
type FailedJob struct {
	ID        string
	Queue     string
	MessageID string
	Payload   []byte
	Exception string
	Reason    string
	Attempts  uint
	FailedAt  time.Time
}
