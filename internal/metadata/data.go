package metadata

import "time"

// FetchEvent describes a single network fetch for observability.
type FetchEvent struct {
	FetchURL    string
	HTTPStatus  int
	Duration    time.Duration
	ContentType string
	RetryCount  int
	Method      string
}

/*
crawlStats is a terminal, derived summary of a completed job.

It contains only aggregate counts and durations, is computed once the
runner reaches a terminal state, and is recorded exactly once. It must
never influence scheduling, retries, or job termination, and must be
constructed without reading back prior metadata.
*/
type crawlStats struct {
	totalPages   int
	pagesPartial int
	totalErrors  int
	durationMs   int64
}

func (c crawlStats) TotalPages() int   { return c.totalPages }
func (c crawlStats) PagesPartial() int { return c.pagesPartial }
func (c crawlStats) TotalErrors() int  { return c.totalErrors }
func (c crawlStats) DurationMs() int64 { return c.durationMs }

// ArtifactKind distinguishes the kinds of output artifacts a job can record.
type ArtifactKind string

const (
	ArtifactMarkdown ArtifactKind = "markdown"
	ArtifactIndex    ArtifactKind = "index"
)

type ArtifactRecord struct {
	Kind ArtifactKind
	Path string
}

/*
ErrorCause is a closed, canonical classification used exclusively for
observability (logging, metrics, reporting).

Rules:
  - ErrorCause is for observability only.
  - It must never be used to derive retry, continuation, or abort decisions
    — those decisions live on failure.ClassifiedError.Severity() and each
    error's own Retryable field.
  - Pipeline packages may map their local errors to ErrorCause but must not
    invent new meanings.

If a failure does not map cleanly, CauseUnknown is used.
*/
type ErrorCause int

const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseLLMFailure
	CauseInvariantViolation
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseLLMFailure:
		return "llm_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{Key: key, Value: val}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrMessage    AttributeKey = "message"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrJobID      AttributeKey = "job_id"
	AttrPhase      AttributeKey = "phase"
	AttrWritePath  AttributeKey = "write_path"
	AttrProvider   AttributeKey = "provider"
	AttrModel      AttributeKey = "model"
)
