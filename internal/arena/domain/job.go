package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus represents lifecycle state for a generated job.
type JobStatus string

const (
	// JobOpen accepts bids.
	JobOpen JobStatus = "OPEN"
	// JobAssigned has a winning bid and awaits execution/settlement.
	JobAssigned JobStatus = "ASSIGNED"
	// JobCompleted settled successfully.
	JobCompleted JobStatus = "COMPLETED"
	// JobFailed did not settle; FailureReason explains why.
	JobFailed JobStatus = "FAILED"
)

// Job is one unit of auctioned work.
type Job struct {
	ID            string
	Type          string
	Status        JobStatus
	MaxBid        decimal.Decimal
	Round         int64
	WinningBidID  string
	WinnerAgentID string
	ResultPayload string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// jobTransitions enumerates the monotone job status machine.
var jobTransitions = map[JobStatus][]JobStatus{
	JobOpen:     {JobAssigned},
	JobAssigned: {JobCompleted, JobFailed},
}

// ValidateJobTransition rejects job status regressions.
func ValidateJobTransition(from, to JobStatus) error {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s", from, to)
}
