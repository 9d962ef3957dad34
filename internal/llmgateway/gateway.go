/*
Package llmgateway implements C4: provider-routed text generation with
retry, timeout, and dynamic context sizing, plus the two pipeline-facing
helpers the Job Orchestrator calls directly: FilterURLs and Cleanup.
*/
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/doctree/scribe/pkg/failure"
	"github.com/doctree/scribe/pkg/hashutil"
	"github.com/doctree/scribe/pkg/retry"
	"github.com/doctree/scribe/pkg/timeutil"
)

// Options are the dynamic, per-call generation parameters. Every provider
// receives the same Options even if it ignores a field — the sizing
// formulas are part of the contract, not an optimization to drop.
type Options struct {
	NumCtx      int
	NumPredict  int
	Temperature float64
}

// Model is a single entry from a provider's model listing.
type Model struct {
	Name     string
	Size     int64
	IsFree   bool
	Provider string
}

// providerClient is the narrow interface each of the three provider
// adapters implements.
type providerClient interface {
	name() string
	generate(ctx context.Context, model, prompt, system string, opts Options) (string, failure.ClassifiedError)
	list(ctx context.Context) ([]Model, failure.ClassifiedError)
}

// Gateway routes by model-name prefix to one of three provider adapters
// and caches model listings for 60s per provider.
type Gateway struct {
	ollama     providerClient
	openRouter providerClient
	openCode   providerClient

	cacheMu sync.RWMutex
	cache   map[string]cachedList
}

type cachedList struct {
	models    []Model
	expiresAt time.Time
}

func NewGateway(ollama, openRouter, openCode providerClient) *Gateway {
	return &Gateway{
		ollama:     ollama,
		openRouter: openRouter,
		openCode:   openCode,
		cache:      make(map[string]cachedList),
	}
}

// NewOpenRouterClientEnabled returns an OpenRouter client, or nil if
// enabled is false, so NewGateway's route() sees an untyped nil and
// reports "provider not configured" instead of dialing out with an empty
// key.
func NewOpenRouterClientEnabled(enabled bool, baseURL, apiKey string) providerClient {
	if !enabled {
		return nil
	}
	return NewOpenRouterClient(baseURL, apiKey)
}

// NewOpenCodeClientEnabled mirrors NewOpenRouterClientEnabled for OpenCode.
func NewOpenCodeClientEnabled(enabled bool, baseURL, apiKey string) providerClient {
	if !enabled {
		return nil
	}
	return NewOpenCodeClient(baseURL, apiKey)
}

func (g *Gateway) route(model string) providerClient {
	switch {
	case strings.HasPrefix(model, "openrouter/"):
		return g.openRouter
	case strings.HasPrefix(model, "opencode/"):
		return g.openCode
	default:
		return g.ollama
	}
}

// Generate routes by model prefix and calls the resolved provider.
func (g *Gateway) Generate(ctx context.Context, model, prompt, system string, timeout time.Duration, opts Options) (string, failure.ClassifiedError) {
	client := g.route(model)
	if client == nil {
		return "", &GatewayError{Message: fmt.Sprintf("provider for model %q is not configured", model), Retryable: false}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.generate(ctx, model, prompt, system, opts)
}

// List returns a TTL-60s cached model listing for the provider that
// providerPrefix routes to. The cache is not required for correctness; it exists
// so health checks and UI listing do not spam providers.
func (g *Gateway) List(ctx context.Context, providerPrefix string) ([]Model, failure.ClassifiedError) {
	client := g.route(providerPrefix + "/x")
	if client == nil {
		return nil, &GatewayError{Message: fmt.Sprintf("unknown provider %q", providerPrefix), Retryable: false}
	}

	key, _ := hashutil.HashBytes([]byte(client.name()), hashutil.HashAlgoSHA256)

	g.cacheMu.RLock()
	entry, ok := g.cache[key]
	g.cacheMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.models, nil
	}

	models, err := client.list(ctx)
	if err != nil {
		return nil, err
	}

	g.cacheMu.Lock()
	g.cache[key] = cachedList{models: models, expiresAt: time.Now().Add(60 * time.Second)}
	g.cacheMu.Unlock()

	return models, nil
}

// ValidateModel checks a requested model name against the provider's
// catalog, per spec.md's per-provider validation rules.
func (g *Gateway) ValidateModel(ctx context.Context, model string) failure.ClassifiedError {
	switch {
	case strings.HasPrefix(model, "openrouter/"), strings.HasPrefix(model, "opencode/"):
		models, err := g.listForModel(ctx, model)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return &GatewayError{Message: "provider catalog is empty", Retryable: false}
		}
		return nil
	default:
		models, err := g.List(ctx, "ollama")
		if err != nil {
			return err
		}
		for _, m := range models {
			if m.Name == model || m.Name == model+":latest" || strings.HasPrefix(model, m.Name+":") {
				return nil
			}
		}
		sample := models
		if len(sample) > 5 {
			sample = sample[:5]
		}
		names := make([]string, 0, len(sample))
		for _, m := range sample {
			names = append(names, m.Name)
		}
		return &GatewayError{
			Message:   fmt.Sprintf("model %q not found; available: %s", model, strings.Join(names, ", ")),
			Retryable: false,
		}
	}
}

func (g *Gateway) listForModel(ctx context.Context, model string) ([]Model, failure.ClassifiedError) {
	switch {
	case strings.HasPrefix(model, "openrouter/"):
		return g.List(ctx, "openrouter")
	case strings.HasPrefix(model, "opencode/"):
		return g.List(ctx, "opencode")
	default:
		return g.List(ctx, "ollama")
	}
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// FilterURLs wraps urls in a prompt-isolation envelope to defang prompt
// injection, asks model to pick and order the relevant subset, and
// intersects the reply with the input set while preserving the reply's
// order — the model is asked for suggested reading order, basics first,
// advanced later, and that ordering must survive the membership check. Up
// to 3 attempts, backoff 1/2/4s; on total failure it returns the input
// unchanged.
func (g *Gateway) FilterURLs(ctx context.Context, urls []string, model string) []string {
	totalChars := 0
	for _, u := range urls {
		totalChars += len(u)
	}
	opts := Options{
		NumCtx:      maxInt(4096, totalChars/4+1324),
		NumPredict:  minInt(20*len(urls)+256, 4096),
		Temperature: 0,
	}

	prompt := fmt.Sprintf("Select the URLs that are documentation content pages.\n<urls>\n%s\n</urls>\nReturn a JSON array of the selected URLs, ordered by suggested reading order (basics first, advanced later).", strings.Join(urls, "\n"))

	param := retry.NewRetryParam(time.Second, 0, 1, 3, timeutil.NewBackoffParam(time.Second, 2.0, 4*time.Second))
	result := retry.Retry(param, func() ([]string, failure.ClassifiedError) {
		reply, err := g.Generate(ctx, model, prompt, "", 120*time.Second, opts)
		if err != nil {
			return nil, err
		}
		selected, perr := parseJSONArray(reply)
		if perr != nil {
			return nil, &GatewayError{Message: perr.Error(), Retryable: true}
		}
		return selected, nil
	})

	if result.Err() != nil {
		return urls
	}
	return intersect(result.Value(), urls)
}

// Cleanup asks model to clean a single chunk. An empty/whitespace reply
// counts as a failure. On total failure the original chunk is returned
// along with ok=false, so the caller can count the page as partial. The
// third return value is how many attempts the retry loop made, for
// callers that surface cleanup timing/retry detail on their own event
// streams.
func (g *Gateway) Cleanup(ctx context.Context, chunk, model string) (string, bool, int) {
	chars := len(chunk)
	opts := Options{
		NumCtx:      maxInt(2048, chars/4+1024),
		NumPredict:  minInt(chars/4+512, 4096),
		Temperature: 0.1,
	}
	timeout := clampSeconds(45+10*float64(chars)/1024, 45, 90)

	param := retry.NewRetryParam(time.Second, 0, 1, 2, timeutil.NewBackoffParam(time.Second, 3.0, 3*time.Second))
	result := retry.Retry(param, func() (string, failure.ClassifiedError) {
		reply, err := g.Generate(ctx, model, chunk, "Clean this documentation chunk: remove boilerplate, keep meaning and code exactly.", timeout, opts)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(reply) == "" {
			return "", &GatewayError{Message: "empty cleanup reply", Retryable: true}
		}
		return reply, nil
	})

	if result.Err() != nil {
		return chunk, false, result.Attempts()
	}
	return result.Value(), true, result.Attempts()
}

var noiseTokens = []string{
	"cookie", "privacy policy", "terms of service", "subscribe",
	"toggle dark", "toggle light", "dark mode", "light mode",
	"skip to content", "table of contents", "on this page",
	"all rights reserved", "powered by",
}

var codeFenceChar = regexp.MustCompile("`")

// NeedsCleanup is the skip heuristic C6 checks before dispatching a
// chunk to Cleanup.
func NeedsCleanup(chunk string) bool {
	lower := strings.ToLower(chunk)
	hasNoise := false
	for _, tok := range noiseTokens {
		if strings.Contains(lower, tok) {
			hasNoise = true
			break
		}
	}
	if !hasNoise {
		return false
	}

	fenceChars := len(codeFenceChar.FindAllString(chunk, -1))
	if len(chunk) > 0 && float64(fenceChars)/float64(len(chunk)) > 0.6 {
		return false
	}
	return true
}

func parseJSONArray(reply string) ([]string, error) {
	trimmed := strings.TrimSpace(reply)
	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}
	var out []string
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// intersect restricts selected (the LLM's ordered reply) to URLs that were
// actually present in input, preserving selected's order — a hallucinated
// URL not in input is dropped, but the model's suggested reading order is
// never reshuffled back to input order.
func intersect(selected, input []string) []string {
	set := make(map[string]struct{}, len(input))
	for _, u := range input {
		set[u] = struct{}{}
	}
	var out []string
	for _, s := range selected {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampSeconds(v, lo, hi float64) time.Duration {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return time.Duration(v * float64(time.Second))
}

// GatewayError is C4's classified error.
type GatewayError struct {
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string             { return fmt.Sprintf("llm gateway: %s", e.Message) }
func (e *GatewayError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
func (e *GatewayError) IsRetryable() bool { return e.Retryable }

var _ failure.ClassifiedError = (*GatewayError)(nil)
