/*
Package config builds the two configuration surfaces the pipeline reads:
a per-job JobRequest, validated once at construction, and a process-wide
Environment read once from the OS environment at startup.
*/
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"path/filepath"
	"strings"
	"time"
)

var modelIdentifierPattern = regexp.MustCompile(`^[\w./:@-]{1,100}$`)

// JobRequest is the immutable, validated input to a single crawl job.
type JobRequest struct {
	originURL      url.URL
	crawlModel     string
	pipelineModel  string
	reasoningModel string
	outputDir      string
	delay          time.Duration
	maxConcurrent  int
	maxDepth       int

	respectRobotsTxt    bool
	useNativeMarkdown   bool
	useMarkdownProxy    bool
	filterSitemapByPath bool

	proxyURL *url.URL
	language string
}

func (r JobRequest) OriginURL() url.URL        { return r.originURL }
func (r JobRequest) CrawlModel() string        { return r.crawlModel }
func (r JobRequest) PipelineModel() string     { return r.pipelineModel }
func (r JobRequest) ReasoningModel() string    { return r.reasoningModel }
func (r JobRequest) OutputDir() string         { return r.outputDir }
func (r JobRequest) Delay() time.Duration      { return r.delay }
func (r JobRequest) MaxConcurrent() int        { return r.maxConcurrent }
func (r JobRequest) MaxDepth() int             { return r.maxDepth }
func (r JobRequest) RespectRobotsTxt() bool    { return r.respectRobotsTxt }
func (r JobRequest) UseNativeMarkdown() bool   { return r.useNativeMarkdown }
func (r JobRequest) UseMarkdownProxy() bool    { return r.useMarkdownProxy }
func (r JobRequest) FilterSitemapByPath() bool { return r.filterSitemapByPath }
func (r JobRequest) ProxyURL() *url.URL        { return r.proxyURL }
func (r JobRequest) Language() string          { return r.language }

// JobRequestBuilder accumulates fields before a single validating Build().
type JobRequestBuilder struct {
	req JobRequest
	err error
}

// NewJobRequestBuilder seeds a builder with the defaults spec.md assigns
// when a field is omitted by the caller.
func NewJobRequestBuilder(origin url.URL) *JobRequestBuilder {
	return &JobRequestBuilder{
		req: JobRequest{
			originURL:           origin,
			delay:               1500 * time.Millisecond,
			maxConcurrent:       1,
			maxDepth:            5,
			respectRobotsTxt:    true,
			useNativeMarkdown:   true,
			useMarkdownProxy:    false,
			filterSitemapByPath: true,
			language:            "all",
		},
	}
}

func (b *JobRequestBuilder) WithModels(crawl, pipeline, reasoning string) *JobRequestBuilder {
	b.req.crawlModel = crawl
	b.req.pipelineModel = pipeline
	b.req.reasoningModel = reasoning
	return b
}

func (b *JobRequestBuilder) WithOutputDir(dir string) *JobRequestBuilder {
	b.req.outputDir = dir
	return b
}

func (b *JobRequestBuilder) WithDelay(d time.Duration) *JobRequestBuilder {
	b.req.delay = d
	return b
}

func (b *JobRequestBuilder) WithMaxConcurrent(n int) *JobRequestBuilder {
	b.req.maxConcurrent = n
	return b
}

func (b *JobRequestBuilder) WithMaxDepth(n int) *JobRequestBuilder {
	b.req.maxDepth = n
	return b
}

func (b *JobRequestBuilder) WithRespectRobotsTxt(v bool) *JobRequestBuilder {
	b.req.respectRobotsTxt = v
	return b
}

func (b *JobRequestBuilder) WithUseNativeMarkdown(v bool) *JobRequestBuilder {
	b.req.useNativeMarkdown = v
	return b
}

func (b *JobRequestBuilder) WithUseMarkdownProxy(v bool) *JobRequestBuilder {
	b.req.useMarkdownProxy = v
	return b
}

func (b *JobRequestBuilder) WithFilterSitemapByPath(v bool) *JobRequestBuilder {
	b.req.filterSitemapByPath = v
	return b
}

func (b *JobRequestBuilder) WithProxyURL(raw string) *JobRequestBuilder {
	if raw == "" {
		return b
	}
	u, err := url.Parse(raw)
	if err != nil {
		b.err = fmt.Errorf("proxy url: %w", err)
		return b
	}
	b.req.proxyURL = u
	return b
}

func (b *JobRequestBuilder) WithLanguage(lang string) *JobRequestBuilder {
	if lang != "" {
		b.req.language = lang
	}
	return b
}

// Build validates the accumulated fields and returns the immutable
// JobRequest, or a validation error naming the first offending field.
func (b *JobRequestBuilder) Build(dataRoot string) (JobRequest, error) {
	if b.err != nil {
		return JobRequest{}, b.err
	}
	req := b.req

	if req.originURL.Scheme != "http" && req.originURL.Scheme != "https" {
		return JobRequest{}, fmt.Errorf("origin url must be http or https, got %q", req.originURL.Scheme)
	}
	if req.originURL.Hostname() == "" {
		return JobRequest{}, fmt.Errorf("origin url missing host")
	}

	for name, v := range map[string]string{
		"crawl_model":     req.crawlModel,
		"pipeline_model":  req.pipelineModel,
		"reasoning_model": req.reasoningModel,
	} {
		if !modelIdentifierPattern.MatchString(v) {
			return JobRequest{}, fmt.Errorf("%s: invalid identifier %q", name, v)
		}
	}

	if req.delay < 100*time.Millisecond || req.delay > 60*time.Second {
		return JobRequest{}, fmt.Errorf("delay must be within [100ms, 60s], got %s", req.delay)
	}
	if req.maxConcurrent < 1 || req.maxConcurrent > 10 {
		return JobRequest{}, fmt.Errorf("max_concurrent must be within [1, 10], got %d", req.maxConcurrent)
	}
	if req.maxDepth < 1 || req.maxDepth > 20 {
		return JobRequest{}, fmt.Errorf("max_depth must be within [1, 20], got %d", req.maxDepth)
	}

	resolvedOutput, err := resolveUnderRoot(dataRoot, req.outputDir)
	if err != nil {
		return JobRequest{}, err
	}
	req.outputDir = resolvedOutput

	if req.proxyURL != nil {
		if req.proxyURL.Scheme != "https" {
			return JobRequest{}, fmt.Errorf("proxy url must be https")
		}
	}

	return req, nil
}

// resolveUnderRoot ensures a job's requested output directory resolves to a
// path inside dataRoot, rejecting any attempt to traverse outside of it.
func resolveUnderRoot(dataRoot, requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("output_dir must not be empty")
	}
	joined := filepath.Join(dataRoot, requested)
	cleanRoot := filepath.Clean(dataRoot)
	cleanJoined := filepath.Clean(joined)
	if cleanJoined != cleanRoot && !strings.HasPrefix(cleanJoined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("output_dir %q escapes data root %q", requested, dataRoot)
	}
	return cleanJoined, nil
}
