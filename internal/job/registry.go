package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doctree/scribe/internal/config"
	"github.com/doctree/scribe/internal/llmgateway"
	"github.com/doctree/scribe/internal/safeurl"
	"github.com/google/uuid"
)

// MaxConcurrentJobs is the hard ceiling the transport layer checks via
// ActiveCount before calling Create; the registry itself does not enforce
// it, per spec.md's "enforced by the transport layer" design.
const MaxConcurrentJobs = 999

// Registry is the process-wide id → Job map and the sole authority that
// spawns runner goroutines. It holds the shared, read-mostly dependencies
// every runner needs (the LLM gateway and its model-list cache, the
// structured logger) and guards the id → Job map with mu; a job's own
// status, counters and events are guarded by the Job itself.
type Registry struct {
	gateway *llmgateway.Gateway
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry wires the three provider clients from env; a provider with
// no API key configured is left nil, so Generate on that prefix fails
// fast with a "not configured" error rather than ever dialing out.
func NewRegistry(env config.Environment, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	gateway := llmgateway.NewGateway(
		llmgateway.NewOllamaClient(env.OllamaBaseURL()),
		llmgateway.NewOpenRouterClientEnabled(env.OpenRouterEnabled(), env.OpenRouterBaseURL(), env.OpenRouterAPIKey()),
		llmgateway.NewOpenCodeClientEnabled(env.OpenCodeEnabled(), env.OpenCodeBaseURL(), env.OpenCodeAPIKey()),
	)

	return &Registry{
		gateway: gateway,
		logger:  logger,
		jobs:    make(map[string]*Job),
	}
}

// Create validates the request's origin and proxy URLs against SSRF,
// assigns a UUID, spawns the runner goroutine, and stores the job. A
// rejected request never spawns a runner (spec's SSRF-attempt scenario).
func (r *Registry) Create(ctx context.Context, request config.JobRequest) (*Job, error) {
	origin := request.OriginURL()
	if err := safeurl.AssertNotSSRF(ctx, origin.String()); err != nil {
		return nil, err
	}
	if proxy := request.ProxyURL(); proxy != nil {
		if err := safeurl.AssertNotSSRF(ctx, proxy.String()); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	j := newJob(uuid.NewString(), request, cancel)

	r.mu.Lock()
	r.jobs[j.id] = j
	r.mu.Unlock()

	rn := newRunner(j, r.gateway, r.logger)
	go func() {
		defer cancel()
		rn.run(runCtx)
	}()

	return j, nil
}

// Get returns the job by id, or ok=false if no such job was ever created.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Cancel sets the job's cancellation flag, flips its status, and emits
// the job_cancelled terminal event. The runner observes the flag at its
// next loop head and exits without emitting its own terminal event —
// Job.emit's terminalSent guard makes that race safe either way.
func (r *Registry) Cancel(id string) (*Job, bool) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	j.cancelled.Store(true)
	if j.cancelCtx != nil {
		j.cancelCtx()
	}
	if j.Status() == StatusPending || j.Status() == StatusRunning {
		j.setStatus(StatusCancelled)
	}

	total, done, _ := j.Progress()
	j.emit(Event{Kind: EventJobCancelled, Data: EventData{
		Phase: "cancelled", Message: "job cancelled", Level: LevelWarning,
		Status: StatusCancelled, PagesTotal: total, PagesDone: done,
	}})

	return j, true
}

// ActiveCount returns the number of jobs whose status is pending or
// running. The transport layer calls this before Create to enforce
// MaxConcurrentJobs; the registry itself never refuses a Create on count.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		switch j.Status() {
		case StatusPending, StatusRunning:
			n++
		}
	}
	return n
}

// Shutdown cancels every active job and waits for each runner to exit,
// or for timeout to elapse, whichever comes first.
func (r *Registry) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		switch j.Status() {
		case StatusPending, StatusRunning:
			r.Cancel(j.id)
		}
	}

	deadline := time.After(timeout)
	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-deadline:
			return fmt.Errorf("shutdown: timed out waiting for %d job(s)", len(jobs))
		}
	}
	return nil
}
