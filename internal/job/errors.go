package job

import (
	"fmt"

	"github.com/doctree/scribe/pkg/failure"
)

// RunnerError is a fatal, job-terminating error: validation at INIT, or
// an unrecoverable failure the finalizer must surface as job_done(failed).
// Every other error kind in the pipeline (per-URL fetch, per-chunk
// cleanup, LLM filter) is handled locally and never reaches this type.
type RunnerError struct {
	Stage   string
	Message string
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("job: %s: %s", e.Stage, e.Message)
}

func (e *RunnerError) Severity() failure.Severity { return failure.SeverityFatal }
func (e *RunnerError) IsRetryable() bool          { return false }

var _ failure.ClassifiedError = (*RunnerError)(nil)
