package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/protocol"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/registry"
)

func floatPtr(v float64) *float64 { return &v }

func testTensor(h, w int) model.Tensor {
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(i)
	}
	return model.Tensor{Height: h, Width: w, Channels: 1, Data: data}
}

// peerBehavior decides one dispatch attempt's outcome for a fake peer.
type peerBehavior func(task protocol.TaskPayload) (*protocol.TaskResult, error)

// fakeRunner routes RunTask to per-address behaviors and records every
// dispatch per partition, in order.
type fakeRunner struct {
	mu         sync.Mutex
	behaviors  map[string]peerBehavior
	dispatches map[int][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		behaviors:  make(map[string]peerBehavior),
		dispatches: make(map[int][]string),
	}
}

func (f *fakeRunner) set(addr string, b peerBehavior) {
	f.mu.Lock()
	f.behaviors[addr] = b
	f.mu.Unlock()
}

func (f *fakeRunner) attemptsFor(idx int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatches[idx]...)
}

func (f *fakeRunner) totalAttempts(idx int) int { return len(f.attemptsFor(idx)) }

func (f *fakeRunner) RunTask(ctx context.Context, addr string, task protocol.TaskPayload) (*protocol.TaskResult, error) {
	f.mu.Lock()
	f.dispatches[task.PartitionIndex] = append(f.dispatches[task.PartitionIndex], addr)
	b := f.behaviors[addr]
	f.mu.Unlock()

	if b == nil {
		return nil, protocol.NewError(protocol.KindUnreachable, errors.New("no such peer"))
	}
	return b(task)
}

// succeedWith returns a behavior that answers every partition with one
// prediction labeled after the peer, scored by partition index.
func succeedWith(addr string) peerBehavior {
	return func(task protocol.TaskPayload) (*protocol.TaskResult, error) {
		return &protocol.TaskResult{
			JobID:          task.JobID,
			PartitionIndex: task.PartitionIndex,
			Predictions: []model.Prediction{
				{Label: fmt.Sprintf("%s-p%d", addr, task.PartitionIndex), Score: 1},
			},
		}, nil
	}
}

func failWith(kind protocol.ErrorKind) peerBehavior {
	return func(task protocol.TaskPayload) (*protocol.TaskResult, error) {
		return nil, protocol.NewError(kind, errors.New("induced failure"))
	}
}

func activePeer(reg *registry.Registry, addr string, cpu float64, rtt time.Duration) {
	reg.MarkProbeSuccess(addr, protocol.Metrics{CPUPercent: &cpu}, rtt)
}

// TestJobCompletesAcrossPeers verifies the happy path: every partition's
// first dispatch succeeds, the job completes, and results combine in
// partition order.
func TestJobCompletesAcrossPeers(t *testing.T) {
	reg := registry.New()
	activePeer(reg, "peer:a", 10, time.Millisecond)
	activePeer(reg, "peer:b", 20, time.Millisecond)

	runner := newFakeRunner()
	runner.set("peer:a", succeedWith("peer:a"))
	runner.set("peer:b", succeedWith("peer:b"))

	coord := New(reg, runner, model.NewStubClassifier([]string{"x"}, 0))
	jobID, err := coord.Submit(testTensor(8, 4), FixedCountStrategy{Count: 4}, ConcatStrips{})
	require.NoError(t, err)

	result, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, result.Status)
	require.Len(t, result.Partitions, 4)
	require.Len(t, result.Predictions, 4)

	// Round-robin over the CPU ranking: a, b, a, b.
	assert.Equal(t, "peer:a-p0", result.Predictions[0].Label)
	assert.Equal(t, "peer:b-p1", result.Predictions[1].Label)
	assert.Equal(t, "peer:a-p2", result.Predictions[2].Label)
	assert.Equal(t, "peer:b-p3", result.Predictions[3].Label)

	for _, p := range result.Partitions {
		assert.Equal(t, AssignmentSucceeded, p.Status)
		assert.Zero(t, p.AttemptCount)
	}

	status, err := coord.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, status)
}

// TestNoActivePeersRunsLocally verifies local execution is the fallback
// when the registry has no Active peers at assignment time.
func TestNoActivePeersRunsLocally(t *testing.T) {
	reg := registry.New()
	runner := newFakeRunner()
	coord := New(reg, runner, model.NewStubClassifier([]string{"cat", "dog"}, 0))

	jobID, err := coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 2}, ConcatStrips{})
	require.NoError(t, err)

	result, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, result.Status)
	for _, p := range result.Partitions {
		assert.Equal(t, LocalAssignee, p.Assignee)
		assert.Equal(t, AssignmentSucceeded, p.Status)
	}
	assert.NotEmpty(t, result.Predictions)
}

// TestRetryMovesToNextBestPeer verifies a timed-out dispatch is retried on
// the next-ranked peer, never again on the one that failed.
func TestRetryMovesToNextBestPeer(t *testing.T) {
	reg := registry.New()
	activePeer(reg, "peer:bad", 5, time.Millisecond)  // best-ranked, but broken
	activePeer(reg, "peer:good", 50, time.Millisecond)

	runner := newFakeRunner()
	runner.set("peer:bad", failWith(protocol.KindTimeout))
	runner.set("peer:good", succeedWith("peer:good"))

	coord := New(reg, runner, model.NewStubClassifier([]string{"x"}, 0), WithMaxRetries(2))
	jobID, err := coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 1}, ConcatStrips{})
	require.NoError(t, err)

	result, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, result.Status)
	assert.Equal(t, []string{"peer:bad", "peer:good"}, runner.attemptsFor(0))
	assert.Equal(t, 1, result.Partitions[0].AttemptCount)
	assert.Equal(t, "peer:good", result.Partitions[0].Assignee)
}

// TestRetryBoundThenAbandoned verifies the retry budget: a partition is
// dispatched at most maxRetries+1 times, ends Abandoned, and the peer whose
// failure exhausted the budget is demoted.
func TestRetryBoundThenAbandoned(t *testing.T) {
	reg := registry.New(registry.WithFailureThreshold(100))
	activePeer(reg, "peer:a", 10, time.Millisecond)
	activePeer(reg, "peer:b", 20, time.Millisecond)
	activePeer(reg, "peer:c", 30, time.Millisecond)

	runner := newFakeRunner()
	for _, addr := range []string{"peer:a", "peer:b", "peer:c"} {
		runner.set(addr, failWith(protocol.KindTimeout))
	}

	const maxRetries = 2
	coord := New(reg, runner, model.NewStubClassifier([]string{"x"}, 0), WithMaxRetries(maxRetries))
	jobID, err := coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 1}, ConcatStrips{})
	require.NoError(t, err)

	result, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, result.Status, "zero successes means the job failed")

	p := result.Partitions[0]
	assert.Equal(t, AssignmentAbandoned, p.Status)
	assert.Equal(t, maxRetries, p.AttemptCount)
	assert.LessOrEqual(t, runner.totalAttempts(0), maxRetries+1)

	// Each attempt hit a different peer.
	attempts := runner.attemptsFor(0)
	seen := make(map[string]bool)
	for _, addr := range attempts {
		assert.False(t, seen[addr], "peer %s dispatched twice for one partition", addr)
		seen[addr] = true
	}

	// The last peer tried was demoted; repeated dispatch failure is a
	// liveness signal.
	last, _ := reg.Get(attempts[len(attempts)-1])
	assert.Equal(t, registry.StatusDisconnected, last.Status)
}

// TestSlowPeerYieldsPartialCompletion covers the canonical degraded
// scenario: four partitions over two peers, one of which never answers
// within the deadline, with no retry budget. The responsive peer's
// partitions succeed, the rest are abandoned, the slow peer is demoted.
func TestSlowPeerYieldsPartialCompletion(t *testing.T) {
	reg := registry.New(registry.WithFailureThreshold(2))
	activePeer(reg, "peer:fast", 10, time.Millisecond)
	activePeer(reg, "peer:slow", 90, time.Millisecond)

	runner := newFakeRunner()
	runner.set("peer:fast", succeedWith("peer:fast"))
	runner.set("peer:slow", failWith(protocol.KindTimeout))

	coord := New(reg, runner, model.NewStubClassifier([]string{"x"}, 0), WithMaxRetries(0))
	jobID, err := coord.Submit(testTensor(8, 4), FixedCountStrategy{Count: 4}, ConcatStrips{})
	require.NoError(t, err)

	result, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobPartiallyCompleted, result.Status)

	// Ranking puts fast first, so it owns even partitions.
	for _, p := range result.Partitions {
		if p.PartitionIndex%2 == 0 {
			assert.Equal(t, AssignmentSucceeded, p.Status, "partition %d", p.PartitionIndex)
			assert.Equal(t, "peer:fast", p.Assignee)
		} else {
			assert.Equal(t, AssignmentAbandoned, p.Status, "partition %d", p.PartitionIndex)
			assert.NotEmpty(t, p.Error)
		}
	}
	assert.Len(t, result.Predictions, 2)

	slow, _ := reg.Get("peer:slow")
	assert.Equal(t, registry.StatusDisconnected, slow.Status)
	fast, _ := reg.Get("peer:fast")
	assert.Equal(t, registry.StatusActive, fast.Status)
}

// TestAwaitTimeoutCancelsOnlyTheWaiter verifies a timed-out Await returns a
// partial snapshot while dispatches keep running, and a later Await sees
// the completed job.
func TestAwaitTimeoutCancelsOnlyTheWaiter(t *testing.T) {
	reg := registry.New()
	activePeer(reg, "peer:fast", 10, time.Millisecond)
	activePeer(reg, "peer:block", 20, time.Millisecond)

	release := make(chan struct{})
	runner := newFakeRunner()
	runner.set("peer:fast", succeedWith("peer:fast"))
	runner.set("peer:block", func(task protocol.TaskPayload) (*protocol.TaskResult, error) {
		<-release
		return succeedWith("peer:block")(task)
	})

	coord := New(reg, runner, model.NewStubClassifier([]string{"x"}, 0))
	jobID, err := coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 2}, ConcatStrips{})
	require.NoError(t, err)

	// Wait for the fast partition, then time out on the blocked one.
	require.Eventually(t, func() bool {
		return runner.totalAttempts(0) > 0 && runner.totalAttempts(1) > 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the fast result land

	snapshot, err := coord.Await(jobID, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, JobPartiallyCompleted, snapshot.Status)
	assert.Len(t, snapshot.Predictions, 1)

	close(release)
	final, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, final.Status)
	assert.Len(t, final.Predictions, 2)
}

// TestInferenceFailureRetriesWithoutDemotion verifies a peer that answers
// with a structured inference error keeps its liveness while the partition
// moves on.
func TestInferenceFailureRetriesWithoutDemotion(t *testing.T) {
	reg := registry.New(registry.WithFailureThreshold(1))
	activePeer(reg, "peer:choker", 10, time.Millisecond)
	activePeer(reg, "peer:solid", 20, time.Millisecond)

	runner := newFakeRunner()
	runner.set("peer:choker", failWith(protocol.KindInferenceFailure))
	runner.set("peer:solid", succeedWith("peer:solid"))

	coord := New(reg, runner, model.NewStubClassifier([]string{"x"}, 0), WithMaxRetries(1))
	jobID, err := coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 1}, ConcatStrips{})
	require.NoError(t, err)

	result, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, result.Status)
	assert.Equal(t, []string{"peer:choker", "peer:solid"}, runner.attemptsFor(0))

	choker, _ := reg.Get("peer:choker")
	assert.Equal(t, registry.StatusActive, choker.Status,
		"an inference error is not a liveness failure")
}

// TestSubmitValidation covers rejected submissions.
func TestSubmitValidation(t *testing.T) {
	coord := New(registry.New(), newFakeRunner(), model.NewStubClassifier([]string{"x"}, 0))

	_, err := coord.Submit(testTensor(4, 4), nil, ConcatStrips{})
	assert.Error(t, err)

	_, err = coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 2}, nil)
	assert.Error(t, err)

	_, err = coord.Submit(model.Tensor{Height: 2, Width: 2, Channels: 1}, FixedCountStrategy{Count: 2}, ConcatStrips{})
	assert.Error(t, err, "tensor with mismatched data must be rejected at submit")

	_, err = coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 0}, ConcatStrips{})
	assert.Error(t, err)
}

// TestUnknownJob covers Await/Status on missing ids.
func TestUnknownJob(t *testing.T) {
	coord := New(registry.New(), newFakeRunner(), model.NewStubClassifier([]string{"x"}, 0))

	_, err := coord.Await("nope", time.Millisecond)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = coord.Status("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

// TestLocalExecutionFailureIsFatalToPartition verifies the last-resort path
// is never retried.
func TestLocalExecutionFailureIsFatalToPartition(t *testing.T) {
	reg := registry.New()
	runner := newFakeRunner()
	// A stub with no labels fails every inference.
	coord := New(reg, runner, model.NewStubClassifier(nil, 0))

	jobID, err := coord.Submit(testTensor(4, 4), FixedCountStrategy{Count: 2}, ConcatStrips{})
	require.NoError(t, err)

	result, err := coord.Await(jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, result.Status)
	for _, p := range result.Partitions {
		assert.Equal(t, AssignmentAbandoned, p.Status)
		assert.Zero(t, p.AttemptCount, "local execution must not consume retries")
	}
}
