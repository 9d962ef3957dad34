package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/doctree/scribe/pkg/failure"
)

type ollamaClient struct {
	baseURL string
	http    *http.Client
}

func NewOllamaClient(baseURL string) *ollamaClient {
	return &ollamaClient{baseURL: baseURL, http: &http.Client{}}
}

func (c *ollamaClient) name() string { return "ollama" }

func (c *ollamaClient) generate(ctx context.Context, model, prompt, system string, opts Options) (string, failure.ClassifiedError) {
	body := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"num_ctx":     opts.NumCtx,
			"num_predict": opts.NumPredict,
			"temperature": opts.Temperature,
		},
	}
	if system != "" {
		body["system"] = system
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", body, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

func (c *ollamaClient) list(ctx context.Context) ([]Model, failure.ClassifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &GatewayError{Message: err.Error(), Retryable: false}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &GatewayError{Message: err.Error(), Retryable: true}
	}

	models := make([]Model, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, Model{Name: m.Name, Size: m.Size, Provider: c.name()})
	}
	return models, nil
}

func (c *ollamaClient) postJSON(ctx context.Context, path string, body any, out any) failure.ClassifiedError {
	payload, err := json.Marshal(body)
	if err != nil {
		return &GatewayError{Message: err.Error(), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &GatewayError{Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &GatewayError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode >= 500 {
		return &GatewayError{Message: fmt.Sprintf("ollama %d: %s", resp.StatusCode, raw), Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return &GatewayError{Message: fmt.Sprintf("ollama %d: %s", resp.StatusCode, raw), Retryable: false}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Message: err.Error(), Retryable: true}
	}
	return nil
}
