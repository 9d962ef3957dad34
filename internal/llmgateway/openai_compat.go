package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/doctree/scribe/pkg/failure"
)

// openAICompatClient implements both OpenRouter and OpenCode: they share
// the /chat/completions two-message exchange shape, differing only in
// base URL, bearer key, and how model listing classifies free tiers.
type openAICompatClient struct {
	providerName string
	baseURL      string
	apiKey       string
	http         *http.Client
	listPath     string
	staticModels []Model
}

func NewOpenRouterClient(baseURL, apiKey string) *openAICompatClient {
	return &openAICompatClient{providerName: "openrouter", baseURL: baseURL, apiKey: apiKey, http: &http.Client{}, listPath: "/models"}
}

func NewOpenCodeClient(baseURL, apiKey string) *openAICompatClient {
	return &openAICompatClient{
		providerName: "opencode",
		baseURL:      baseURL,
		apiKey:       apiKey,
		http:         &http.Client{},
		staticModels: []Model{{Name: "opencode/default", Provider: "opencode"}},
	}
}

func (c *openAICompatClient) name() string { return c.providerName }

func (c *openAICompatClient) generate(ctx context.Context, model, prompt, system string, opts Options) (string, failure.ClassifiedError) {
	messages := []map[string]string{}
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	body := map[string]any{
		"model":       strings.TrimPrefix(model, c.providerName+"/"),
		"messages":    messages,
		"temperature": opts.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &GatewayError{Message: err.Error(), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &GatewayError{Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &GatewayError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GatewayError{Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode >= 500 {
		return "", &GatewayError{Message: fmt.Sprintf("%s %d: %s", c.providerName, resp.StatusCode, raw), Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return "", &GatewayError{Message: fmt.Sprintf("%s %d: %s", c.providerName, resp.StatusCode, raw), Retryable: false}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &GatewayError{Message: err.Error(), Retryable: true}
	}
	if len(parsed.Choices) == 0 {
		return "", &GatewayError{Message: "empty choices", Retryable: true}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *openAICompatClient) list(ctx context.Context) ([]Model, failure.ClassifiedError) {
	if c.staticModels != nil {
		return c.staticModels, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.listPath, nil)
	if err != nil {
		return nil, &GatewayError{Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	var parsed struct {
		Data []struct {
			ID      string `json:"id"`
			Pricing struct {
				Prompt string `json:"prompt"`
			} `json:"pricing"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &GatewayError{Message: err.Error(), Retryable: true}
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		isFree := m.Pricing.Prompt == "0" || strings.Contains(strings.ToLower(m.ID), ":free") || strings.Contains(strings.ToLower(m.ID), "free")
		models = append(models, Model{Name: m.ID, IsFree: isFree, Provider: c.providerName})
	}
	return models, nil
}
