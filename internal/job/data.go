/*
Package job implements C6, the Job Orchestrator: a registry of in-process
jobs, each driven by a single runner goroutine through a fixed pipeline
(discovery, filtering, per-page fetch/chunk/clean, write), reporting
progress on a per-job event channel and guaranteeing exactly one terminal
event per job.
*/
package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doctree/scribe/internal/config"
)

// Status is a Job's lifecycle state. Only completed, cancelled, and
// failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// EventKind tags an Event's payload shape. job_done, job_cancelled, and
// job_error are terminal: at most one is ever observed on a job's stream.
// The runner's own pipeline only ever terminates via job_done (with
// status completed or failed) or, for registry-driven cancellation,
// job_cancelled; job_error is reserved for a future caller-facing
// surface that is not yet exercised by the pipeline itself.
type EventKind string

const (
	EventPhaseChange   EventKind = "phase_change"
	EventLog           EventKind = "log"
	EventDiscovery     EventKind = "discovery"
	EventLLMStart      EventKind = "llm_start"
	EventLLMDone       EventKind = "llm_done"
	EventChunkProgress EventKind = "chunk_progress"
	EventFileSaved     EventKind = "file_saved"
	EventJobDone       EventKind = "job_done"
	EventJobCancelled  EventKind = "job_cancelled"
	EventJobError      EventKind = "job_error"
	EventKeepalive     EventKind = "keepalive"
)

func (k EventKind) Terminal() bool {
	return k == EventJobDone || k == EventJobCancelled || k == EventJobError
}

// EventLevel is the payload's severity hint for a consumer-facing UI.
type EventLevel string

const (
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// EventData is the event payload's JSON body (spec's `{event, data}`
// schema). Fields are all optional except Phase and Message; terminal
// events additionally set Status and the counters.
type EventData struct {
	Phase        string     `json:"phase"`
	Message      string     `json:"message"`
	Level        EventLevel `json:"level,omitempty"`
	ActiveModel  string     `json:"active_model,omitempty"`
	Progress     *float64   `json:"progress,omitempty"`
	URL          string     `json:"url,omitempty"`
	Status       Status     `json:"status,omitempty"`
	PagesTotal   int        `json:"pages_total,omitempty"`
	PagesDone    int        `json:"pages_completed,omitempty"`
	PagesPartial int        `json:"pages_partial,omitempty"`
	Errors       int        `json:"errors,omitempty"`
	Error        string     `json:"error,omitempty"`

	// Fields populated only by the granular sub-phase events
	// (discovery, llm_start/llm_done, chunk_progress, file_saved) that
	// mirror the original job runner's per-strategy and per-chunk detail.
	Strategy    string `json:"strategy,omitempty"`
	URLsFound   int    `json:"urls_found,omitempty"`
	Action      string `json:"action,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	ChunksTotal int    `json:"chunks_total,omitempty"`
	Retries     int    `json:"retries,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Event is one entry on a job's event stream.
type Event struct {
	Kind EventKind `json:"event"`
	Data EventData `json:"data"`
}

// eventBufferSize is the bounded channel's capacity. The producer
// (runner) blocks on a full channel rather than drop events — dropping
// would risk losing the one terminal event a consumer is waiting for.
const eventBufferSize = 256

// Job is the registry's unit of work. Every mutable field is guarded by
// mu except cancelled, which is read on every pipeline loop head and so
// is a lock-free atomic.
type Job struct {
	id      string
	request config.JobRequest

	mu             sync.Mutex
	status         Status
	pagesTotal     int
	pagesCompleted int
	currentURL     string

	cancelled atomic.Bool
	cancelCtx context.CancelFunc

	events       chan Event
	done         chan struct{}
	terminalSent atomic.Bool

	createdAt time.Time
}

func newJob(id string, request config.JobRequest, cancelCtx context.CancelFunc) *Job {
	return &Job{
		id:        id,
		request:   request,
		status:    StatusPending,
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
		cancelCtx: cancelCtx,
		createdAt: time.Now(),
	}
}

func (j *Job) ID() string               { return j.id }
func (j *Job) Request() config.JobRequest { return j.request }

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) Progress() (total, completed int, currentURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pagesTotal, j.pagesCompleted, j.currentURL
}

func (j *Job) setPagesTotal(n int) {
	j.mu.Lock()
	j.pagesTotal = n
	j.mu.Unlock()
}

func (j *Job) setCurrentURL(u string) {
	j.mu.Lock()
	j.currentURL = u
	j.mu.Unlock()
}

func (j *Job) incPagesCompleted() {
	j.mu.Lock()
	j.pagesCompleted++
	j.mu.Unlock()
}

// Cancelled reports whether cancellation has been requested. Every
// pipeline loop head checks this before starting new work.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Events exposes the job's event stream for consumption by
// event_stream's keepalive wrapper (see events.go).
func (j *Job) Events() <-chan Event { return j.events }

// Done is closed when the runner goroutine returns, terminal event
// already guaranteed sent by its finalizer.
func (j *Job) Done() <-chan struct{} { return j.done }

// emit delivers an event to the job's stream. Once a terminal event has
// been sent, every subsequent call (including further terminal attempts
// from defensive finalizer code) is a silent no-op: "an Event channel
// receives at most one terminal event."
func (j *Job) emit(evt Event) {
	if j.terminalSent.Load() {
		return
	}
	if evt.Kind.Terminal() {
		if !j.terminalSent.CompareAndSwap(false, true) {
			return
		}
	}
	j.events <- evt
}
