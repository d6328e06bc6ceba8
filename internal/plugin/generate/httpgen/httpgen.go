package httpgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aiforum/rag-service/internal/config"
	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
)

const defaultTimeout = 120 * time.Second

func init() {
	registrygenerate.Register(registrygenerate.Plugin{
		Name:   "http",
		Loader: load,
	})
}

func load(ctx context.Context) (registrygenerate.Generator, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.GeneratorURL == "" {
		return nil, fmt.Errorf("http generator: RAG_SERVICE_GENERATOR_URL is required")
	}
	timeout := cfg.GeneratorTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPGenerator{
		baseURL: strings.TrimRight(cfg.GeneratorURL, "/"),
		apiKey:  cfg.GeneratorAPIKey,
		model:   cfg.GeneratorModel,
		timeout: timeout,
		client:  &http.Client{},
	}, nil
}

// HTTPGenerator calls an external text-generation backend over its
// POST /generate contract: {prompt, model, timeout} in, {response} out.
// It never retries; exceeding the timeout or a non-200 status is reported
// as a generate.FailedError for the orchestrator to classify.
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

func (g *HTTPGenerator) Name() string { return "http" }

type generateRequest struct {
	Prompt  string  `json:"prompt"`
	Model   string  `json:"model"`
	Timeout float64 `json:"timeout"`
}

type generateResponse struct {
	Response string         `json:"response"`
	Metadata map[string]any `json:"metadata"`
	Error    string         `json:"error"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, req registrygenerate.Request) (registrygenerate.Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Prompt:  req.Prompt,
		Model:   model,
		Timeout: timeout.Seconds(),
	})
	if err != nil {
		return registrygenerate.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return registrygenerate.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		reason := "request failed"
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("timed out after %s", timeout)
		}
		return registrygenerate.Result{}, &registrygenerate.FailedError{Backend: "http", Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return registrygenerate.Result{}, &registrygenerate.FailedError{Backend: "http", Reason: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return registrygenerate.Result{}, &registrygenerate.FailedError{
			Backend: "http",
			Reason:  fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	// Parse the backend's shape once here; everything downstream sees the
	// typed Result envelope only.
	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return registrygenerate.Result{}, &registrygenerate.FailedError{Backend: "http", Reason: "parse response", Err: err}
	}
	if parsed.Error != "" {
		return registrygenerate.Result{}, &registrygenerate.FailedError{Backend: "http", Reason: parsed.Error}
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return registrygenerate.Result{}, &registrygenerate.FailedError{Backend: "http", Reason: "empty response"}
	}
	return registrygenerate.Result{Content: parsed.Response, Metadata: parsed.Metadata}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ registrygenerate.Generator = (*HTTPGenerator)(nil)
