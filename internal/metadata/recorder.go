/*
Metadata collected
- Fetch timestamps, HTTP status codes, retry counts
- Error causes, job phase transitions
- Written artifact paths

Logging goals
- Debuggable job behavior
- Post-run auditability
- Failure diagnostics

Structured logging only: no fmt.Printf, no unstructured string building.
Allowed attribute values are primitives — URLs and paths as strings, never
objects with behavior.
*/
package metadata

import (
	"log/slog"
	"sync"
	"time"
)

// Sink is the narrow observability interface every pipeline component
// reports through. A component never logs directly; it calls the sink.
type Sink interface {
	RecordFetch(event FetchEvent)
	RecordError(observedAt time.Time, packageName, action string, cause ErrorCause, message string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
	RecordPhase(jobID, phase, message string, attrs []Attribute)
}

// Recorder is the default Sink, backed by a structured slog.Logger. It
// also accumulates the terminal crawlStats summary for a single job; a
// fresh Recorder is created per job by the registry.
type Recorder struct {
	logger *slog.Logger
	jobID  string

	mu    sync.Mutex
	stats crawlStats
}

func NewRecorder(logger *slog.Logger, jobID string) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logger: logger.With(slog.String(string(AttrJobID), jobID)),
		jobID:  jobID,
	}
}

func (r *Recorder) RecordFetch(event FetchEvent) {
	r.logger.Info("fetch",
		slog.String("url", event.FetchURL),
		slog.Int("status", event.HTTPStatus),
		slog.Duration("duration", event.Duration),
		slog.String("content_type", event.ContentType),
		slog.Int("retry_count", event.RetryCount),
		slog.String("method", event.Method),
	)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName, action string, cause ErrorCause, message string, attrs []Attribute) {
	r.mu.Lock()
	r.stats.totalErrors++
	r.mu.Unlock()

	args := []any{
		slog.Time("observed_at", observedAt),
		slog.String("package", packageName),
		slog.String("action", action),
		slog.String("cause", cause.String()),
	}
	for _, a := range attrs {
		args = append(args, slog.String(string(a.Key), a.Value))
	}
	r.logger.Error(message, args...)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	r.mu.Lock()
	if kind == ArtifactMarkdown {
		r.stats.totalPages++
	}
	r.mu.Unlock()

	args := []any{slog.String("kind", string(kind)), slog.String("path", path)}
	for _, a := range attrs {
		args = append(args, slog.String(string(a.Key), a.Value))
	}
	r.logger.Info("artifact_written", args...)
}

func (r *Recorder) RecordPhase(jobID, phase, message string, attrs []Attribute) {
	args := []any{slog.String("phase", phase)}
	for _, a := range attrs {
		args = append(args, slog.String(string(a.Key), a.Value))
	}
	r.logger.Info(message, args...)
}

// MarkPartial records that a page was persisted with at least one chunk
// that failed LLM cleanup and was kept raw.
func (r *Recorder) MarkPartial() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.pagesPartial++
}

// FinalStats returns the terminal summary. It is read exactly once, by the
// runner's finalizer, after the job has reached a terminal state.
func (r *Recorder) FinalStats(duration time.Duration) crawlStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.durationMs = duration.Milliseconds()
	return r.stats
}
