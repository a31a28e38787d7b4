package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medviewer/pacs-connector/internal/service/observability"

	"golang.org/x/sync/semaphore"
)

// ErrNotFound reports an unknown, already-consumed, failed or timed-out
// correlation id. All four cases look identical to the caller.
var ErrNotFound = errors.New("manifest not found")

const (
	// DefaultPoolSize bounds how many builds run concurrently.
	DefaultPoolSize = 5
	// DefaultMaxLifeCycle is both the retrieval wait bound and the reaper's
	// eviction age. Keeping them equal means no fetch can outlive the window
	// in which the reaper would have reclaimed the job.
	DefaultMaxLifeCycle = 5 * time.Minute
	// DefaultCleanFrequency is the reaper's scan interval.
	DefaultCleanFrequency = time.Minute
)

// Registry maps correlation ids to manifest-build jobs. Submissions are
// dispatched onto a bounded worker pool; retrieval consumes an id at most
// once. The registry and its reaper are the only state shared across
// concurrent activities.
type Registry struct {
	mu   sync.Mutex
	jobs map[int64]*Job

	seq     atomic.Int64
	sem     *semaphore.Weighted
	maxLife time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	log     *slog.Logger
	metrics *observability.Metrics
}

// New constructs a registry with a worker pool of poolSize and the given
// retrieval/eviction bound. Zero arguments select the defaults.
func New(poolSize int, maxLifeCycle time.Duration, log *slog.Logger, metrics *observability.Metrics) *Registry {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if maxLifeCycle <= 0 {
		maxLifeCycle = DefaultMaxLifeCycle
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Registry{
		jobs:    make(map[int64]*Job),
		sem:     semaphore.NewWeighted(int64(poolSize)),
		maxLife: maxLifeCycle,
		baseCtx: ctx,
		stop:    stop,
		log:     log,
		metrics: metrics,
	}
}

// MaxLifeCycle returns the shared retrieval/eviction bound.
func (r *Registry) MaxLifeCycle() time.Duration { return r.maxLife }

// Submit registers a new job and dispatches its execution onto the worker
// pool, returning the correlation id immediately.
func (r *Registry) Submit(build BuildFunc) int64 {
	id := r.seq.Add(1)
	jobCtx, cancel := context.WithCancel(r.baseCtx)
	job := newJob(id, build, cancel)

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	r.metrics.ObserveSubmitted()
	r.log.Info("manifest build submitted", "id", id, "trace", job.traceID.String())

	r.wg.Add(1)
	go r.run(jobCtx, job)
	return id
}

// SubmitDocument registers a pre-built document: adapter execution is skipped
// and completion is immediate. The document serves both schema versions.
func (r *Registry) SubmitDocument(doc []byte, charset string) int64 {
	id := r.seq.Add(1)
	job := newJob(id, nil, nil)
	job.finish(StateCompleted, &Artifact{Document: doc, Legacy: doc, Charset: charset}, nil)

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	r.metrics.ObserveSubmitted()
	r.log.Info("pre-built manifest submitted", "id", id, "trace", job.traceID.String())
	return id
}

func (r *Registry) run(ctx context.Context, job *Job) {
	defer r.wg.Done()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		job.finish(StateCancelled, nil, err)
		r.metrics.ObserveCompleted("cancelled", 0)
		return
	}
	defer r.sem.Release(1)

	job.state.Store(int32(StateRunning))
	r.metrics.SetActiveDelta(1)
	start := time.Now()

	artifact, err := job.build(ctx)
	elapsed := time.Since(start).Seconds()
	r.metrics.SetActiveDelta(-1)

	switch {
	case ctx.Err() != nil:
		job.finish(StateCancelled, nil, ctx.Err())
		r.metrics.ObserveCompleted("cancelled", elapsed)
		r.log.Info("manifest build cancelled", "id", job.id, "trace", job.traceID.String())
	case err != nil:
		job.finish(StateFailed, nil, err)
		r.metrics.ObserveCompleted("failed", elapsed)
		r.log.Error("manifest build failed", "id", job.id, "trace", job.traceID.String(), "error", err)
	default:
		job.finish(StateCompleted, artifact, nil)
		r.metrics.ObserveCompleted("completed", elapsed)
		r.log.Info("manifest build completed", "id", job.id, "trace", job.traceID.String(),
			"duration_s", elapsed)
	}
}

// Retrieve blocks on the job's completion up to the max-life-cycle bound and
// consumes the entry: whatever the outcome, the id answers at most one
// retrieval. An unknown, already-consumed, failed, cancelled or timed-out id
// reports ErrNotFound. Cancellation of the caller's own context does not
// consume the entry; the job stays registered for a later retrieval or the
// reaper.
func (r *Registry) Retrieve(ctx context.Context, id int64) (*Artifact, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	timer := time.NewTimer(r.maxLife)
	defer timer.Stop()

	var timedOut bool
	select {
	case <-job.done:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		return nil, fmt.Errorf("manifest retrieval abandoned: %w", ctx.Err())
	}

	if !job.claim() {
		// the reaper got there first
		return nil, ErrNotFound
	}
	r.remove(id)

	if timedOut {
		job.Cancel()
		r.log.Warn("manifest retrieval timed out", "id", id)
		return nil, ErrNotFound
	}
	if job.err != nil || job.artifact == nil {
		return nil, ErrNotFound
	}
	return job.artifact, nil
}

// evictStale reclaims every unconsumed entry older than the max-life-cycle
// bound: cancel if still running, remove, log.
func (r *Registry) evictStale(now time.Time) int {
	r.mu.Lock()
	var stale []*Job
	for _, job := range r.jobs {
		if job.Age(now) > r.maxLife {
			stale = append(stale, job)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, job := range stale {
		if !job.claim() {
			continue // a retrieval won the race
		}
		job.Cancel()
		r.remove(job.id)
		r.metrics.ObserveEvicted()
		r.log.Info("evicted stale manifest job", "id", job.id, "state", job.State().String(),
			"age", job.Age(now).String())
		evicted++
	}
	return evicted
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Close cancels every in-flight build and waits for the workers to drain.
func (r *Registry) Close() {
	r.stop()
	r.wg.Wait()
}
