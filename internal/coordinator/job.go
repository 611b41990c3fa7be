package coordinator

import (
	"sync"
	"time"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
)

// JobStatus is the caller-visible lifecycle of a submitted job.
type JobStatus string

const (
	JobPending            JobStatus = "pending"
	JobInProgress         JobStatus = "in_progress"
	JobCompleted          JobStatus = "completed"
	JobPartiallyCompleted JobStatus = "partially_completed"
	JobFailed             JobStatus = "failed"
)

// AssignmentStatus is the lifecycle of one partition's dispatch.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentDispatched AssignmentStatus = "dispatched"
	AssignmentSucceeded  AssignmentStatus = "succeeded"
	AssignmentFailed     AssignmentStatus = "failed"
	AssignmentAbandoned  AssignmentStatus = "abandoned"
)

// LocalAssignee is the sentinel assignee for partitions executed on the
// coordinator itself when no peer is available.
const LocalAssignee = "local"

// TaskAssignment tracks one partition of one job. Identity is
// (job id, partition index).
//
// Invariants:
//   - AttemptCount counts re-dispatches and never exceeds the coordinator's
//     maxRetries.
//   - Once Abandoned an assignment is never dispatched again for this job.
type TaskAssignment struct {
	JobID          string           `json:"job_id"`
	PartitionIndex int              `json:"partition_index"`
	Assignee       string           `json:"assignee"`
	Status         AssignmentStatus `json:"status"`
	AttemptCount   int              `json:"attempt_count"`
	Deadline       time.Time        `json:"deadline,omitempty"`
	LastError      string           `json:"last_error,omitempty"`

	// failedPeers records peers that already failed this partition so a
	// re-dispatch never lands on one of them again.
	failedPeers map[string]bool
}

// PartitionDiagnostic is the per-partition row surfaced in a JobResult.
type PartitionDiagnostic struct {
	PartitionIndex int              `json:"partition_index"`
	Assignee       string           `json:"assignee"`
	Status         AssignmentStatus `json:"status"`
	AttemptCount   int              `json:"attempt_count"`
	Error          string           `json:"error,omitempty"`
}

// JobResult is what Await hands back: the job's outcome, the combined
// predictions over every succeeded partition, and per-partition diagnostics.
type JobResult struct {
	JobID       string                `json:"job_id"`
	Status      JobStatus             `json:"status"`
	Predictions []model.Prediction    `json:"predictions,omitempty"`
	Partitions  []PartitionDiagnostic `json:"partitions"`
}

// job is the coordinator-owned record for one submitted unit of work. It is
// created at submission and mutated only by the coordinator instance that
// created it; discovery and heartbeat never touch it.
type job struct {
	mu sync.Mutex

	id      string
	combine CombinePolicy

	status      JobStatus
	partitions  []model.Tensor
	assignments []*TaskAssignment
	results     map[int][]model.Prediction

	finishedAt time.Time

	// done closes when every assignment has reached a terminal state and
	// the job's final status is set.
	done chan struct{}
}

// snapshotResult builds a JobResult from the job's current state. Used both
// for terminal results and for mid-flight snapshots when Await times out.
func (j *job) snapshotResult() *JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	res := &JobResult{
		JobID:      j.id,
		Status:     j.status,
		Partitions: make([]PartitionDiagnostic, len(j.assignments)),
	}
	succeeded := make(map[int][]model.Prediction, len(j.results))
	for idx, preds := range j.results {
		succeeded[idx] = preds
	}
	for i, a := range j.assignments {
		res.Partitions[i] = PartitionDiagnostic{
			PartitionIndex: a.PartitionIndex,
			Assignee:       a.Assignee,
			Status:         a.Status,
			AttemptCount:   a.AttemptCount,
			Error:          a.LastError,
		}
	}

	// A snapshot taken before the job finished reports partial progress:
	// at least one success alongside unfinished or abandoned partitions
	// reads as partially completed to the waiting caller.
	if j.status == JobInProgress && len(succeeded) > 0 {
		res.Status = JobPartiallyCompleted
	}
	if len(succeeded) > 0 {
		res.Predictions = j.combine.Combine(succeeded)
	}
	return res
}
