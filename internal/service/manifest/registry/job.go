// Package registry owns the asynchronous manifest-build machinery: jobs keyed
// by numeric correlation id, a bounded worker pool executing them, and a
// reaper reclaiming jobs nobody fetched in time.
package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a build job.
type State int32

const (
	StateSubmitted State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "SUBMITTED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Artifact is the product of a completed build: the rendered manifest in both
// schema versions and its character encoding.
type Artifact struct {
	Document []byte
	Legacy   []byte
	Charset  string
}

// BuildFunc assembles the manifest for one job. It runs on the registry's
// worker pool and must honor ctx cancellation.
type BuildFunc func(ctx context.Context) (*Artifact, error)

// Job is one manifest build tracked by the registry. Its completion is a
// single value observed exactly once, either by a retrieval or by the reaper.
type Job struct {
	id        int64
	traceID   uuid.UUID
	createdAt time.Time

	build  BuildFunc
	cancel context.CancelFunc

	state atomic.Int32
	done  chan struct{}

	// artifact and err are written once before done is closed.
	artifact *Artifact
	err      error

	// claimed guards the one-consumer invariant between Retrieve and the
	// reaper.
	claimed atomic.Bool
}

func newJob(id int64, build BuildFunc, cancel context.CancelFunc) *Job {
	return &Job{
		id:        id,
		traceID:   uuid.New(),
		createdAt: time.Now(),
		build:     build,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// ID returns the job's correlation id.
func (j *Job) ID() int64 { return j.id }

// State returns the job's current lifecycle state.
func (j *Job) State() State { return State(j.state.Load()) }

// Age returns how long ago the job was submitted.
func (j *Job) Age(now time.Time) time.Duration { return now.Sub(j.createdAt) }

// Cancel requests best-effort cancellation of the job's in-flight execution.
// Partial catalog state is not rolled back; the completion resolves to a
// cancellation outcome, never a partial success.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// Done is closed once the job reached a final state.
func (j *Job) Done() <-chan struct{} { return j.done }

// claim marks the job consumed. Only the first caller wins.
func (j *Job) claim() bool { return j.claimed.CompareAndSwap(false, true) }

// finish records the outcome and releases waiters. Must be called once.
func (j *Job) finish(state State, artifact *Artifact, err error) {
	j.artifact = artifact
	j.err = err
	j.state.Store(int32(state))
	close(j.done)
}
