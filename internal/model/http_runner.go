package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// HTTPRunner forwards run requests to an external model host over HTTP.
// The host owns providers, prompting, and action execution; this client
// only moves JSON.
type HTTPRunner struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

type HTTPRunnerOption func(*HTTPRunner)

func WithHTTPClient(client *http.Client) HTTPRunnerOption {
	return func(r *HTTPRunner) {
		if client != nil {
			r.httpClient = client
		}
	}
}

func NewHTTPRunner(logger *log.Logger, baseURL string, opts ...HTTPRunnerOption) *HTTPRunner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &HTTPRunner{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *HTTPRunner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if r.baseURL == "" {
		return RunResult{}, fmt.Errorf("model host url is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return RunResult{}, fmt.Errorf("marshal run request: %w", err)
	}

	runURL := r.baseURL + "/v1/runs"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, runURL, bytes.NewReader(body))
	if err != nil {
		return RunResult{}, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return RunResult{}, fmt.Errorf("call model host: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return RunResult{}, fmt.Errorf("model host status %d: %s", resp.StatusCode, message)
	}

	var parsed RunResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return RunResult{}, fmt.Errorf("decode run result: %w", err)
	}
	return parsed, nil
}
