package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/warrant/internal/contracts"
)

type JobStatus string

const (
	StatusPending         JobStatus = "PENDING"
	StatusProcessing      JobStatus = "PROCESSING"
	StatusCompleted       JobStatus = "COMPLETED"
	StatusFailedRetryable JobStatus = "FAILED_RETRYABLE"
	StatusFailed          JobStatus = "FAILED"
	StatusDead            JobStatus = "DEAD"
	StatusCanceled        JobStatus = "CANCELED"
)

// Terminal reports whether no further transitions are allowed out of s.
func Terminal(s JobStatus) bool {
	switch s {
	case StatusCompleted, StatusDead, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// JobRecord is the durable queue entry. The embedded ticket and payload are
// immutable; everything else is mutated only through the fenced state
// transitions in the queue package.
type JobRecord struct {
	JobID           string
	JobType         string
	ActorID         string
	TraceID         string
	Ticket          contracts.JobTicket
	Payload         string
	ContractVersion string
	Status          JobStatus
	WorkerID        *string
	Attempts        int
	MaxAttempts     int
	NextRunAt       time.Time
	TicketExpiresAt time.Time
	LastError       *string
	LastErrorAt     *time.Time
	LeaseUntil      *time.Time
	LastHeartbeatAt *time.Time
	CanceledAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StateVersion    int
}

// Envelope reconstructs the queue unit from the record.
func (j *JobRecord) Envelope() contracts.Envelope {
	return contracts.Envelope{
		Ticket:  j.Ticket,
		Payload: j.Payload,
		Version: j.ContractVersion,
	}
}

// DLQRecord is the write-once snapshot taken when a job is dead-lettered.
// The live queue never reads it back; it exists for operator inspection.
type DLQRecord struct {
	JobID         string
	Ticket        contracts.JobTicket
	Payload       string
	LastError     string
	TotalAttempts int
	LastWorkerID  *string
	JobType       string
	TraceID       string
	DeadAt        time.Time
}

// WorkerInfo is the registration row for one executor process.
type WorkerInfo struct {
	ID            uuid.UUID
	Hostname      string
	JobTypes      []string
	LastHeartbeat time.Time
	Status        string
	RegisteredAt  time.Time
}

// ExecutionLog records one execution attempt, written at claim time so a
// crashed executor still leaves a trail.
type ExecutionLog struct {
	ID             uuid.UUID
	JobID          string
	WorkerID       uuid.UUID
	WorkerHostname string
	JobType        string
	Attempt        int
	StartedAt      time.Time
	FinishedAt     *time.Time
	Outcome        *string
	ErrorMessage   *string
	TraceID        string
	PayloadHash    string
}
