// Package coordinator implements the task-dispatch and aggregation engine:
// it accepts one job at a time from callers, splits the payload per the
// job's partition strategy, assigns partitions across the active peer set,
// and reassembles whatever completed.
//
// # Overview
//
// A job moves through a fixed pipeline:
//
//	Submit ──► partition plan ──► ranked assignment ──► dispatch ──► aggregate
//
//  1. Submit validates the payload, runs the partition strategy, and
//     returns a job id immediately; everything after that happens in the
//     background.
//  2. Assignment reads the registry's Active snapshot once per job, ranks
//     peers by ascending reported CPU (round-trip latency breaks ties),
//     and deals partitions round-robin over that order. With no Active
//     peers, partitions run locally.
//  3. Dispatch gives every attempt its own deadline. A timed-out or
//     unreachable dispatch marks the assignment failed and re-dispatches
//     to the next-best peer that has not already failed this partition,
//     up to the retry budget. Exhaustion abandons the partition and
//     demotes the peer that spent the last attempt.
//  4. Aggregation runs the job's combine policy over every succeeded
//     partition, keyed by partition index; order of completion is
//     irrelevant.
//
// # Failure semantics
//
// Dispatch failures never reach the caller as raw transport errors. The
// caller sees a JobStatus (completed, partially_completed, failed) plus a
// per-partition diagnostic list; abandoned partitions are reported there,
// never silently dropped. Local execution is the last resort and is not
// retried: a local failure is fatal to that partition.
//
// # Ownership
//
// Job and TaskAssignment records belong to the Coordinator instance that
// created them. The registry is shared, but the coordinator touches it only
// to record task-completion liveness, count task failures, and demote peers
// that exhausted their retry budget.
package coordinator
