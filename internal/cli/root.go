// Package cli wires the cobra command surface for scribe: parsing crawl
// flags into a config.JobRequest, handing it to a job.Registry, and
// streaming the resulting job's events to stdout until it terminates.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doctree/scribe/internal/build"
	"github.com/doctree/scribe/internal/config"
	"github.com/doctree/scribe/internal/job"
	"github.com/spf13/cobra"
)

var (
	crawlModel          string
	pipelineModel       string
	reasoningModel      string
	outputDir           string
	delay               time.Duration
	maxConcurrent       int
	maxDepth            int
	respectRobotsTxt    bool
	useNativeMarkdown   bool
	useMarkdownProxy    bool
	filterSitemapByPath bool
	proxyURL            string
	language            string
)

var rootCmd = &cobra.Command{
	Use:   "scribe <origin-url>",
	Short: "Crawl a documentation site into clean, LLM-ready Markdown.",
	Long: `scribe crawls a documentation site starting from a single origin
URL, discovers its pages, filters them down to genuine documentation,
and writes each page as cleaned Markdown to an output directory —
streaming progress events to stdout until the job reaches a terminal
state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, args[0])
	},
}

func init() {
	rootCmd.Version = build.FullVersion()
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&crawlModel, "crawl-model", "", "model used for sitemap/link filtering (required)")
	rootCmd.Flags().StringVar(&pipelineModel, "pipeline-model", "", "model used for per-chunk Markdown cleanup (required)")
	rootCmd.Flags().StringVar(&reasoningModel, "reasoning-model", "", "model reserved for future post-crawl reasoning (required)")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory, resolved under SCRIBE_DATA_ROOT (required)")
	rootCmd.Flags().DurationVar(&delay, "delay", 1500*time.Millisecond, "delay between page fetches")
	rootCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 1, "reserved concurrency hint, 1-10")
	rootCmd.Flags().IntVar(&maxDepth, "max-depth", 5, "maximum link depth for the BFS discovery crawl")
	rootCmd.Flags().BoolVar(&respectRobotsTxt, "respect-robots-txt", true, "honor robots.txt disallow rules and crawl-delay")
	rootCmd.Flags().BoolVar(&useNativeMarkdown, "use-native-markdown", true, "first request each page as text/markdown via content negotiation")
	rootCmd.Flags().BoolVar(&useMarkdownProxy, "use-markdown-proxy", false, "fetch pages through a Markdown conversion proxy")
	rootCmd.Flags().BoolVar(&filterSitemapByPath, "filter-sitemap-by-path", true, "restrict discovery to the origin's path prefix")
	rootCmd.Flags().StringVar(&proxyURL, "proxy-url", "", "https-only Markdown proxy base URL")
	rootCmd.Flags().StringVar(&language, "language", "all", "language filter applied to discovered URLs")

	rootCmd.MarkFlagRequired("crawl-model")
	rootCmd.MarkFlagRequired("pipeline-model")
	rootCmd.MarkFlagRequired("reasoning-model")
	rootCmd.MarkFlagRequired("output-dir")
}

// BuildJobRequest turns the parsed flags and a raw origin URL into a
// validated config.JobRequest. Exported so tests can exercise flag-to-
// request translation without invoking the full cobra command.
func BuildJobRequest(rawOrigin string, dataRoot string) (config.JobRequest, error) {
	origin, err := url.Parse(rawOrigin)
	if err != nil {
		return config.JobRequest{}, fmt.Errorf("invalid origin url: %w", err)
	}

	return config.NewJobRequestBuilder(*origin).
		WithModels(crawlModel, pipelineModel, reasoningModel).
		WithOutputDir(outputDir).
		WithDelay(delay).
		WithMaxConcurrent(maxConcurrent).
		WithMaxDepth(maxDepth).
		WithRespectRobotsTxt(respectRobotsTxt).
		WithUseNativeMarkdown(useNativeMarkdown).
		WithUseMarkdownProxy(useMarkdownProxy).
		WithFilterSitemapByPath(filterSitemapByPath).
		WithProxyURL(proxyURL).
		WithLanguage(language).
		Build(dataRoot)
}

func runJob(cmd *cobra.Command, rawOrigin string) error {
	env := config.LoadEnvironment()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	req, err := BuildJobRequest(rawOrigin, env.DataRoot())
	if err != nil {
		return fmt.Errorf("building job request: %w", err)
	}

	registry := job.NewRegistry(env, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := registry.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	go func() {
		<-ctx.Done()
		registry.Cancel(j.ID())
	}()

	encoder := json.NewEncoder(cmd.OutOrStdout())
	for evt := range job.Stream(ctx, j) {
		if encErr := encoder.Encode(evt); encErr != nil {
			logger.Error("encoding event", "error", encErr)
		}
	}

	if j.Status() == job.StatusFailed {
		return fmt.Errorf("job %s failed", j.ID())
	}
	return nil
}

// TestFlags mirrors the package's flag variables for TestFlags-based test
// setup, avoiding a dependency on cobra's flag-parsing machinery in unit
// tests that only care about flags-to-JobRequest translation.
type TestFlags struct {
	CrawlModel          string
	PipelineModel       string
	ReasoningModel      string
	OutputDir           string
	Delay               time.Duration
	MaxConcurrent       int
	MaxDepth            int
	RespectRobotsTxt    bool
	UseNativeMarkdown   bool
	UseMarkdownProxy    bool
	FilterSitemapByPath bool
	ProxyURL            string
	Language            string
}

// SetFlagsForTest assigns the package-level flag variables directly,
// bypassing cobra. Test-only.
func SetFlagsForTest(f TestFlags) {
	crawlModel = f.CrawlModel
	pipelineModel = f.PipelineModel
	reasoningModel = f.ReasoningModel
	outputDir = f.OutputDir
	delay = f.Delay
	maxConcurrent = f.MaxConcurrent
	maxDepth = f.MaxDepth
	respectRobotsTxt = f.RespectRobotsTxt
	useNativeMarkdown = f.UseNativeMarkdown
	useMarkdownProxy = f.UseMarkdownProxy
	filterSitemapByPath = f.FilterSitemapByPath
	proxyURL = f.ProxyURL
	language = f.Language
}

// ResetFlags restores every package-level flag variable to its zero
// value; used between table-driven test cases that share the package's
// cobra command instance.
func ResetFlags() {
	crawlModel = ""
	pipelineModel = ""
	reasoningModel = ""
	outputDir = ""
	delay = 0
	maxConcurrent = 0
	maxDepth = 0
	respectRobotsTxt = false
	useNativeMarkdown = false
	useMarkdownProxy = false
	filterSitemapByPath = false
	proxyURL = ""
	language = ""
}
