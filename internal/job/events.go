package job

import (
	"context"
	"time"
)

// keepaliveInterval is the event_stream dequeue timeout: on each timeout
// with no event ready, the stream either emits a keepalive or, if the
// runner has already exited without a terminal event, synthesizes the
// job_done(failed) safety net. A var, not a const, so tests can shrink it.
var keepaliveInterval = 20 * time.Second

// Stream wraps a job's raw event channel with the 20s liveness check
// spec.md requires: a consumer reads from the returned channel until it
// closes, which happens exactly once a terminal event has been
// delivered or the context is cancelled. Disconnecting a consumer (by
// abandoning the returned channel, or cancelling ctx) never blocks or
// kills the runner goroutine.
func Stream(ctx context.Context, j *Job) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		timer := time.NewTimer(keepaliveInterval)
		defer timer.Stop()

		for {
			select {
			case evt, ok := <-j.events:
				if !ok {
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
				if evt.Kind.Terminal() {
					return
				}
				timer.Reset(keepaliveInterval)

			case <-timer.C:
				select {
				case <-j.Done():
					synthesized := Event{Kind: EventJobDone, Data: EventData{
						Phase:   "done",
						Message: "runner ended without terminal event",
						Level:   LevelError,
						Status:  StatusFailed,
						Error:   "runner ended without terminal event",
					}}
					select {
					case out <- synthesized:
					case <-ctx.Done():
					}
					return
				default:
				}
				select {
				case out <- Event{Kind: EventKeepalive, Data: EventData{Phase: "keepalive", Message: "still running"}}:
				case <-ctx.Done():
					return
				}
				timer.Reset(keepaliveInterval)

			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
