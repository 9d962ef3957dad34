package discovery

import "github.com/doctree/scribe/pkg/failure"

// DiscoveryError reports an infrastructure-level failure in the cascade
// itself (not a per-candidate fetch failure, which is logged and skipped).
// It is recoverable: a cascade stage failing outright still falls through
// to the next stage, and discover() never returns empty.
type DiscoveryError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *DiscoveryError) Error() string {
	if e.Cause != nil {
		return "discovery: " + e.Stage + ": " + e.Message + ": " + e.Cause.Error()
	}
	return "discovery: " + e.Stage + ": " + e.Message
}

func (e *DiscoveryError) Severity() failure.Severity { return failure.SeverityRecoverable }
func (e *DiscoveryError) IsRetryable() bool          { return false }

var _ failure.ClassifiedError = (*DiscoveryError)(nil)
