package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doctree/scribe/internal/browser"
	"github.com/doctree/scribe/internal/config"
	"github.com/doctree/scribe/internal/discovery"
	"github.com/doctree/scribe/internal/filter"
	"github.com/doctree/scribe/internal/llmgateway"
	"github.com/doctree/scribe/internal/metadata"
	"github.com/doctree/scribe/internal/pagefetch"
	"github.com/doctree/scribe/internal/storage"
	"github.com/doctree/scribe/pkg/limiter"
)

const robotsFetchTimeout = 10 * time.Second

// slowPageThreshold mirrors the original scraper's SLOW_PAGE_THRESHOLD_S: a
// page whose fetch takes longer than this is worth flagging, not failing.
const slowPageThreshold = 10 * time.Second

// runner drives a single Job through the INIT → DISCOVERY → FILTER_BASIC
// → FILTER_ROBOTS → FILTER_LLM → PAGE_LOOP → POSTPROCESS → DONE pipeline.
// One runner exists per running Job; it never touches another job's
// state. Every path out of run, including a panic-free early return, goes
// through the deferred finalizer, which guarantees exactly one terminal
// event per job.
type runner struct {
	job     *Job
	gateway *llmgateway.Gateway
	logger  *slog.Logger

	recorder *metadata.Recorder
	browser  browser.Fetcher
	robots   *filter.RobotsRules
	limiter  *limiter.ConcurrentRateLimiter
}

func newRunner(j *Job, gateway *llmgateway.Gateway, logger *slog.Logger) *runner {
	return &runner{
		job:      j,
		gateway:  gateway,
		logger:   logger,
		recorder: metadata.NewRecorder(logger, j.id),
		browser:  browser.NewRodFetcher(),
		limiter:  limiter.NewConcurrentRateLimiter(),
	}
}

func (r *runner) run(ctx context.Context) {
	job := r.job
	defer close(job.done)

	start := time.Now()
	var pagesPartial, totalErrors int
	success := false
	var failMessage string

	defer func() {
		r.browser.Stop()
		r.recorder.FinalStats(time.Since(start))

		if job.Cancelled() {
			// cancel() already flipped status and emitted job_cancelled.
			return
		}

		status := StatusFailed
		level := LevelError
		message := "job failed"
		if success {
			status = StatusCompleted
			level = LevelInfo
			message = "job completed"
		}
		if failMessage != "" {
			message = failMessage
		}
		job.setStatus(status)

		total, done, _ := job.Progress()
		job.emit(Event{Kind: EventJobDone, Data: EventData{
			Phase: "done", Message: message, Level: level, Status: status,
			PagesTotal: total, PagesDone: done, PagesPartial: pagesPartial,
			Errors: totalErrors, Error: failMessage,
		}})
	}()

	job.setStatus(StatusRunning)
	req := job.request
	job.emit(r.phaseEvent("init", "validating models"))

	if err := r.gateway.ValidateModel(ctx, req.CrawlModel()); err != nil {
		failMessage = (&RunnerError{Stage: "init", Message: "crawl model: " + err.Error()}).Error()
		return
	}
	if err := r.gateway.ValidateModel(ctx, req.PipelineModel()); err != nil {
		failMessage = (&RunnerError{Stage: "init", Message: "pipeline model: " + err.Error()}).Error()
		return
	}

	if err := r.browser.Start(ctx); err != nil {
		failMessage = (&RunnerError{Stage: "init", Message: "browser start: " + err.Error()}).Error()
		return
	}

	r.limiter.SetBaseDelay(req.Delay())
	if req.RespectRobotsTxt() {
		if rules, ok := r.fetchRobots(ctx, req.OriginURL()); ok {
			r.robots = &rules
			if rules.CrawlDelay() > 0 {
				r.limiter.SetCrawlDelay(req.OriginURL().Host, rules.CrawlDelay())
			}
		}
	}

	job.emit(r.phaseEvent("discovery", "discovering URLs"))
	cascade := discovery.NewCascade(&http.Client{}, r.browser, r.recorder, r)
	discovered := cascade.Discover(ctx, req.OriginURL(), req.MaxDepth(), req.FilterSitemapByPath())

	if job.Cancelled() {
		return
	}

	job.emit(r.phaseEvent("filter_basic", "applying deterministic filters"))
	filtered := filter.Filter(discovered.URLs, req.OriginURL(), req.Language())

	job.emit(r.phaseEvent("filter_robots", "applying robots.txt"))
	if r.robots != nil {
		filtered = filter.ApplyRobots(filtered, *r.robots)
	}

	if job.Cancelled() {
		return
	}

	job.emit(r.phaseEvent("filter_llm", "selecting documentation pages"))
	job.emit(Event{Kind: EventLLMStart, Data: EventData{Phase: "filter_llm", Message: "filtering URLs", Level: LevelInfo, Action: "filter", URLsFound: len(filtered)}})
	llmStart := time.Now()
	selected := r.gateway.FilterURLs(ctx, filtered, req.CrawlModel())
	job.emit(Event{Kind: EventLLMDone, Data: EventData{
		Phase: "filter_llm", Message: "filtered URLs", Level: LevelInfo,
		Action: "filter", DurationMs: time.Since(llmStart).Milliseconds(), URLsFound: len(selected),
	}})
	job.setPagesTotal(len(selected))

	fetcher := pagefetch.NewFetcher(r.recorder, req.UseNativeMarkdown(), req.UseMarkdownProxy(), proxyBaseOf(req), r.browser)
	sink := storage.NewLocalSink(r.recorder)

	job.emit(r.phaseEvent("page_loop", fmt.Sprintf("fetching %d pages", len(selected))))

	entries := r.pageLoop(ctx, selected, fetcher, &sink, &pagesPartial, &totalErrors)

	if job.Cancelled() {
		return
	}

	job.emit(r.phaseEvent("postprocess", "writing index"))
	if _, err := sink.WriteIndex(req.OutputDir(), entries); err != nil {
		failMessage = (&RunnerError{Stage: "postprocess", Message: "write index: " + err.Error()}).Error()
		return
	}

	success = true
}

// pageLoop runs SCRAPE/CHUNK/CLEAN/WRITE for each selected URL. It checks
// job.Cancelled() at its loop head and before each chunk's cleanup, so a
// cancellation mid-page never starts new network I/O but lets an
// in-flight fetch finish.
func (r *runner) pageLoop(ctx context.Context, urls []string, fetcher *pagefetch.Fetcher, sink *storage.LocalSink, pagesPartial, totalErrors *int) []storage.IndexEntry {
	job := r.job
	originPath := job.request.OriginURL().Path
	var entries []storage.IndexEntry

	for _, pageURL := range urls {
		if job.Cancelled() {
			break
		}
		job.setCurrentURL(pageURL)

		host := hostOf(pageURL)
		r.sleep(ctx, r.limiter.ResolveDelay(host))

		fetchStart := time.Now()
		result, ferr := fetcher.PageMarkdown(ctx, pageURL)
		fetchElapsed := time.Since(fetchStart)
		r.limiter.MarkLastFetchAsNow(host)
		if ferr != nil {
			*totalErrors++
			job.emit(r.logEvent(LevelError, "fetch failed: "+ferr.Error(), pageURL))
			job.incPagesCompleted()
			continue
		}
		if fetchElapsed > slowPageThreshold {
			job.emit(r.logEvent(LevelWarning, fmt.Sprintf("slow page load: %.1fs", fetchElapsed.Seconds()), pageURL))
		}

		cleaned := pagefetch.PreClean(result.Markdown)
		chunks := pagefetch.ChunkText(cleaned, pagefetch.DefaultChunkSize, result.NativeTokenCount)

		var body strings.Builder
		chunksFailed := 0
		for idx, chunk := range chunks {
			if job.Cancelled() {
				break
			}
			text := chunk.Text
			if llmgateway.NeedsCleanup(text) {
				job.emit(r.chunkEvent(pageURL, idx+1, len(chunks), "cleanup_start", 0, 0))
				cleanupStart := time.Now()
				out, ok, attempts := r.gateway.Cleanup(ctx, text, job.request.PipelineModel())
				durationMs := time.Since(cleanupStart).Milliseconds()
				if ok {
					text = out
					job.emit(r.chunkEvent(pageURL, idx+1, len(chunks), "cleanup_done", durationMs, attempts))
				} else {
					chunksFailed++
					job.emit(r.chunkEvent(pageURL, idx+1, len(chunks), "cleanup_failed", durationMs, attempts))
				}
			}
			body.WriteString(text)
			body.WriteString("\n")
		}

		u, parseErr := url.Parse(pageURL)
		urlPath := pageURL
		if parseErr == nil {
			urlPath = u.Path
		}
		relKey := storage.RelativePathFor(originPath, urlPath)

		content := []byte(body.String())
		for _, warning := range pagefetch.ValidateStructure(content) {
			job.emit(r.logEvent(LevelWarning, "structure: "+warning, pageURL))
		}

		if _, werr := sink.Write(job.request.OutputDir(), relKey, content); werr != nil {
			*totalErrors++
			job.emit(r.logEvent(LevelError, "write failed: "+werr.Error(), pageURL))
			job.incPagesCompleted()
			continue
		}
		job.emit(Event{Kind: EventFileSaved, Data: EventData{
			Phase: "page_loop", Message: "page written", Level: LevelInfo,
			URL: pageURL, SizeBytes: int64(len(content)),
		}})

		if chunksFailed > 0 {
			*pagesPartial++
			r.recorder.MarkPartial()
		}
		entries = append(entries, storage.IndexEntry{Leaf: storage.LeafName(relKey), RelativePath: relKey})
		job.incPagesCompleted()
	}

	return entries
}

func (r *runner) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (r *runner) fetchRobots(ctx context.Context, origin url.URL) (filter.RobotsRules, bool) {
	ctx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	defer cancel()

	target := origin.Scheme + "://" + origin.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return filter.RobotsRules{}, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return filter.RobotsRules{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return filter.RobotsRules{}, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return filter.RobotsRules{}, false
	}
	return filter.ParseRobotsTxt(string(body)), true
}

func (r *runner) phaseEvent(phase, message string) Event {
	r.recorder.RecordPhase(r.job.id, phase, message, nil)
	return Event{Kind: EventPhaseChange, Data: EventData{Phase: phase, Message: message, Level: LevelInfo}}
}

func (r *runner) logEvent(level EventLevel, message, url string) Event {
	return Event{Kind: EventLog, Data: EventData{Phase: "page_loop", Message: message, Level: level, URL: url}}
}

func (r *runner) chunkEvent(pageURL string, chunkIndex, chunksTotal int, action string, durationMs int64, retries int) Event {
	return Event{Kind: EventChunkProgress, Data: EventData{
		Phase: "page_loop", Message: "chunk " + action, Level: LevelInfo,
		URL: pageURL, Action: action, ChunkIndex: chunkIndex, ChunksTotal: chunksTotal,
		DurationMs: durationMs, Retries: retries,
	}}
}

// Trying, Succeeded, and Failed implement discovery.Observer so the
// cascade's per-strategy attempts surface as "discovery" events on the
// job's stream, mirroring the original job runner's discovery.trying/
// success/failed granularity.
func (r *runner) Trying(strategy discovery.Strategy) {
	r.job.emit(Event{Kind: EventDiscovery, Data: EventData{
		Phase: "discovery", Message: "trying " + string(strategy), Level: LevelInfo,
		Strategy: string(strategy), Action: "trying",
	}})
}

func (r *runner) Succeeded(strategy discovery.Strategy, urlsFound int) {
	r.job.emit(Event{Kind: EventDiscovery, Data: EventData{
		Phase: "discovery", Message: string(strategy) + " succeeded", Level: LevelInfo,
		Strategy: string(strategy), Action: "success", URLsFound: urlsFound,
	}})
}

func (r *runner) Failed(strategy discovery.Strategy) {
	r.job.emit(Event{Kind: EventDiscovery, Data: EventData{
		Phase: "discovery", Message: string(strategy) + " failed", Level: LevelInfo,
		Strategy: string(strategy), Action: "failed",
	}})
}

var _ discovery.Observer = (*runner)(nil)

// hostOf returns pageURL's host, or the raw string if it fails to parse —
// the rate limiter still buckets such URLs together rather than erroring.
func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	return u.Host
}

func proxyBaseOf(req config.JobRequest) string {
	if req.ProxyURL() == nil {
		return ""
	}
	return req.ProxyURL().String()
}
