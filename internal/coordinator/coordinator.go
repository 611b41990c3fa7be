package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/registry"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/transport"
)

const (
	// DefaultDispatchTimeout bounds one partition dispatch attempt.
	DefaultDispatchTimeout = 10 * time.Second
	// DefaultMaxRetries is how many re-dispatches a partition gets after
	// its first attempt fails.
	DefaultMaxRetries = 2
	// DefaultRetention is how long finished jobs stay queryable before the
	// janitor purges them.
	DefaultRetention = 10 * time.Minute

	janitorPeriod = time.Minute
)

// ErrJobNotFound is returned by Await and Status for unknown or purged jobs.
var ErrJobNotFound = errors.New("job not found")

// Coordinator splits submitted jobs into partitions, dispatches them to
// ranked Active peers over the lockstep transport, retries failed partitions
// on the next-best peer, and aggregates whatever succeeded.
//
// Job and assignment records are owned exclusively by the coordinator
// instance that created them; discovery and heartbeat never mutate them. The
// registry is the only shared structure, and the coordinator writes to it
// only to record task-completion liveness, task failures, and demotions of
// peers that exhausted their retries.
type Coordinator struct {
	reg    *registry.Registry
	runner transport.TaskRunner
	local  model.Interface

	dispatchTimeout time.Duration
	maxRetries      int
	retention       time.Duration

	// onDemote, if set, is called when repeated dispatch failures demote a
	// peer. Used to drop pooled connections.
	onDemote func(addr string)

	mu   sync.RWMutex
	jobs map[string]*job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDispatchTimeout overrides the per-assignment deadline.
func WithDispatchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.dispatchTimeout = d
		}
	}
}

// WithMaxRetries overrides the re-dispatch budget per partition.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetention overrides how long finished jobs remain queryable.
func WithRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithOnDemote registers a callback invoked when the coordinator demotes a
// peer after retry exhaustion.
func WithOnDemote(fn func(addr string)) Option {
	return func(c *Coordinator) { c.onDemote = fn }
}

// New creates a coordinator. local is the fallback engine used when no peer
// is available for a partition; it must not be nil.
func New(reg *registry.Registry, runner transport.TaskRunner, local model.Interface, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:             reg,
		runner:          runner,
		local:           local,
		dispatchTimeout: DefaultDispatchTimeout,
		maxRetries:      DefaultMaxRetries,
		retention:       DefaultRetention,
		jobs:            make(map[string]*job),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the retention janitor. Optional: a coordinator without a
// janitor works, it just never forgets finished jobs.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(janitorPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.purgeExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the janitor. In-flight job dispatches are not interrupted.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Submit accepts one job and returns its id immediately; partitioning and
// dispatch run in the background. The partition strategy and combine policy
// are parameters of the job, not of the coordinator.
func (c *Coordinator) Submit(payload model.Tensor, strategy PartitionStrategy, combine CombinePolicy) (string, error) {
	if strategy == nil {
		return "", fmt.Errorf("submit: partition strategy required")
	}
	if combine == nil {
		return "", fmt.Errorf("submit: combine policy required")
	}

	partitions, err := strategy.Plan(payload)
	if err != nil {
		return "", fmt.Errorf("submit: partition plan: %w", err)
	}

	j := &job{
		id:         uuid.NewString(),
		combine:    combine,
		status:     JobPending,
		partitions: partitions,
		results:    make(map[int][]model.Prediction, len(partitions)),
		done:       make(chan struct{}),
	}
	j.assignments = make([]*TaskAssignment, len(partitions))
	for i := range partitions {
		j.assignments[i] = &TaskAssignment{
			JobID:          j.id,
			PartitionIndex: i,
			Status:         AssignmentPending,
			failedPeers:    make(map[string]bool),
		}
	}

	c.mu.Lock()
	c.jobs[j.id] = j
	c.mu.Unlock()

	log.Printf("coordinator: job %s submitted, %d partitions, strategy %s, combine %s",
		j.id, len(partitions), strategy.Name(), combine.Name())

	go c.run(j)
	return j.id, nil
}

// Await blocks until the job finishes or the timeout elapses, whichever
// comes first. A timeout cancels only this wait: dispatches keep running and
// a later Await can still observe the final result. The snapshot returned on
// timeout reports partially_completed when at least one partition has
// succeeded.
func (c *Coordinator) Await(jobID string, timeout time.Duration) (*JobResult, error) {
	j, ok := c.getJob(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-j.done:
		return j.snapshotResult(), nil
	case <-timer.C:
		return j.snapshotResult(), nil
	}
}

// Status returns the job's current lifecycle state.
func (c *Coordinator) Status(jobID string) (JobStatus, error) {
	j, ok := c.getJob(jobID)
	if !ok {
		return "", ErrJobNotFound
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, nil
}

// run drives one job from assignment through aggregation.
func (c *Coordinator) run(j *job) {
	j.mu.Lock()
	j.status = JobInProgress
	j.mu.Unlock()

	// Rank once per job: ascending CPU, RTT tie-break. Partitions round-
	// robin over this order; retries walk it again excluding failed peers.
	ranked := rankPeers(c.reg.ListActive())

	j.mu.Lock()
	for i, a := range j.assignments {
		if len(ranked) == 0 {
			a.Assignee = LocalAssignee
		} else {
			a.Assignee = ranked[i%len(ranked)].Address
		}
	}
	j.mu.Unlock()

	var wg sync.WaitGroup
	for i := range j.assignments {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c.dispatchPartition(j, idx, ranked)
		}(i)
	}
	wg.Wait()

	c.finalize(j)
}

// dispatchPartition runs one partition to a terminal state: Succeeded, or
// Abandoned after the retry budget is spent. Every attempt gets its own
// deadline and, on timeout or unreachability, its own fresh connection — the
// transport client discards the wedged handle before we ever retry.
func (c *Coordinator) dispatchPartition(j *job, idx int, ranked []registry.PeerInfo) {
	for {
		j.mu.Lock()
		a := j.assignments[idx]
		assignee := a.Assignee
		a.Status = AssignmentDispatched
		a.Deadline = time.Now().Add(c.dispatchTimeout)
		tensor := j.partitions[idx]
		total := len(j.partitions)
		j.mu.Unlock()

		if assignee == LocalAssignee {
			c.runLocal(j, idx, tensor)
			return
		}

		preds, err := c.runRemote(j.id, idx, total, assignee, tensor)
		if err == nil {
			c.reg.MarkTaskSuccess(assignee)
			j.mu.Lock()
			a.Status = AssignmentSucceeded
			a.LastError = ""
			j.results[idx] = preds
			j.mu.Unlock()
			return
		}

		// Classify the failure. Connection-level failures count against
		// the peer's liveness; an inference failure means the peer is up
		// but choked on this partition, so only the partition is retried.
		kind, _ := protocol.KindOf(err)
		if kind != protocol.KindInferenceFailure {
			c.reg.MarkProbeFailure(assignee)
		}
		log.Printf("coordinator: job %s partition %d on %s failed (%s): %v",
			j.id, idx, assignee, kind, err)

		j.mu.Lock()
		a.Status = AssignmentFailed
		a.LastError = err.Error()
		a.failedPeers[assignee] = true
		canRetry := a.AttemptCount < c.maxRetries
		if canRetry {
			a.AttemptCount++
		}
		failed := a.failedPeers
		j.mu.Unlock()

		if !canRetry {
			// Demote only for connection-level failures; a peer that
			// answered with an inference error is alive.
			c.abandon(j, idx, assignee, kind != protocol.KindInferenceFailure)
			return
		}

		next, ok := nextBestPeer(ranked, failed)
		if !ok {
			// Every ranked peer already failed this partition. Local
			// execution is the last resort and is never itself retried.
			j.mu.Lock()
			a.Assignee = LocalAssignee
			j.mu.Unlock()
			continue
		}
		j.mu.Lock()
		a.Assignee = next
		j.mu.Unlock()
	}
}

// runRemote performs one dispatch attempt against a peer.
func (c *Coordinator) runRemote(jobID string, idx, total int, addr string, tensor model.Tensor) ([]model.Prediction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
	defer cancel()

	result, err := c.runner.RunTask(ctx, addr, protocol.TaskPayload{
		JobID:           jobID,
		PartitionIndex:  idx,
		TotalPartitions: total,
		Tensor:          tensor,
	})
	if err != nil {
		return nil, err
	}
	return result.Predictions, nil
}

// runLocal executes a partition on the coordinator itself. Failure here is
// fatal to the partition: there is nothing further to fall back to.
func (c *Coordinator) runLocal(j *job, idx int, tensor model.Tensor) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
	defer cancel()

	a := j.assignments[idx]
	preds, err := c.local.Infer(ctx, tensor)

	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		log.Printf("coordinator: job %s partition %d local execution failed: %v", j.id, idx, err)
		a.Status = AssignmentAbandoned
		a.LastError = err.Error()
		return
	}
	a.Status = AssignmentSucceeded
	a.LastError = ""
	j.results[idx] = preds
}

// abandon marks a partition terminally failed and demotes the peer whose
// failure exhausted the budget: repeated dispatch failure is itself a
// liveness signal.
func (c *Coordinator) abandon(j *job, idx int, addr string, demote bool) {
	j.mu.Lock()
	j.assignments[idx].Status = AssignmentAbandoned
	j.mu.Unlock()

	if demote {
		c.reg.Demote(addr)
		if c.onDemote != nil {
			c.onDemote(addr)
		}
		log.Printf("coordinator: job %s partition %d abandoned, peer %s demoted", j.id, idx, addr)
		return
	}
	log.Printf("coordinator: job %s partition %d abandoned", j.id, idx)
}

// finalize computes the job's terminal status once every assignment is
// terminal, then releases waiters.
func (c *Coordinator) finalize(j *job) {
	j.mu.Lock()
	succeeded := len(j.results)
	switch {
	case succeeded == len(j.assignments):
		j.status = JobCompleted
	case succeeded > 0:
		j.status = JobPartiallyCompleted
	default:
		j.status = JobFailed
	}
	j.finishedAt = time.Now()
	status := j.status
	j.mu.Unlock()

	log.Printf("coordinator: job %s finished %s (%d/%d partitions)",
		j.id, status, succeeded, len(j.assignments))
	close(j.done)
}

func (c *Coordinator) getJob(id string) (*job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[id]
	return j, ok
}

// purgeExpired discards finished jobs past the retention window.
func (c *Coordinator) purgeExpired() {
	cutoff := time.Now().Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, j := range c.jobs {
		j.mu.Lock()
		expired := !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(c.jobs, id)
		}
	}
}

// nextBestPeer returns the highest-ranked peer not yet failed for this
// partition.
func nextBestPeer(ranked []registry.PeerInfo, failed map[string]bool) (string, bool) {
	for _, p := range ranked {
		if !failed[p.Address] {
			return p.Address, true
		}
	}
	return "", false
}
