// Package stability implements the client for the Stability AI v2beta image
// generation service: text-to-image, upscaling, outpainting, inpainting,
// object erasure, search-and-replace and control-based transformation.
//
// All calls send multipart/form-data with bearer authentication and run
// behind a bounded retry policy. Transport failures and 5xx responses are
// retried with doubling delays, 4xx responses fail immediately.
package stability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultBaseURL is the production service endpoint prefix.
const DefaultBaseURL = "https://api.stability.ai/v2beta"

const (
	maxAttempts       = 3
	initialRetryDelay = time.Second
	requestTimeout    = 180 * time.Second
)

// Opts holds configuration options for the stability client.
type Opts struct {
	BaseURL      string
	HTTPClient   *http.Client
	OutputDir    string
	PollInterval time.Duration
	MaxPollWait  time.Duration
	RetryDelay   time.Duration
}

// Option configures the stability client.
type Option func(*Opts)

// WithBaseURL sets a custom service endpoint prefix. Used in tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// WithOutputDir sets the directory where generated images are written.
func WithOutputDir(dir string) Option {
	return func(o *Opts) { o.OutputDir = dir }
}

// WithPollInterval sets the delay between async result polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// WithMaxPollWait bounds the total time spent polling an async generation.
func WithMaxPollWait(d time.Duration) Option {
	return func(o *Opts) { o.MaxPollWait = d }
}

// WithRetryDelay sets the initial delay between retry attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Opts) { o.RetryDelay = d }
}

// Client talks to the Stability AI v2beta API.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	outputDir    string
	pollInterval time.Duration
	maxPollWait  time.Duration
	retryDelay   time.Duration
}

// NewClient creates a stability Client with the given API key and options.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stability API key is empty")
	}
	o := Opts{
		BaseURL:      DefaultBaseURL,
		HTTPClient:   &http.Client{Timeout: requestTimeout},
		OutputDir:    "output",
		PollInterval: 10 * time.Second,
		MaxPollWait:  5 * time.Minute,
		RetryDelay:   initialRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(o.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", o.OutputDir, err)
	}
	slog.Debug("Client.NewClient: stability client created", "baseURL", o.BaseURL, "outputDir", o.OutputDir)
	return &Client{
		apiKey:       apiKey,
		baseURL:      o.BaseURL,
		httpClient:   o.HTTPClient,
		outputDir:    o.OutputDir,
		pollInterval: o.PollInterval,
		maxPollWait:  o.MaxPollWait,
		retryDelay:   o.RetryDelay,
	}, nil
}

// formFile names a file part of a multipart request.
type formFile struct {
	field string
	path  string
}

// postForm sends a multipart POST to path with the given text fields and file
// parts, retrying transient failures. The accept parameter selects between
// JSON and raw image responses. On success it returns the response body and
// headers.
func (c *Client) postForm(ctx context.Context, path, accept string, fields map[string]string, files []formFile) ([]byte, http.Header, error) {
	build := func() (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, fmt.Errorf("failed to write form field %s: %w", k, err)
			}
		}
		for _, f := range files {
			part, err := mw.CreateFormFile(f.field, filepath.Base(f.path))
			if err != nil {
				return nil, fmt.Errorf("failed to create form file %s: %w", f.field, err)
			}
			src, err := os.Open(f.path)
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", f.path, err)
			}
			_, err = io.Copy(part, src)
			src.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
			}
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", accept)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}
	return c.doWithRetry(ctx, path, build)
}

// getJSON sends a GET to url (absolute) expecting JSON, retrying transient
// failures. It returns the body, headers and the final status code; 202 is
// not an error, it signals an in-progress async generation.
func (c *Client) getJSON(ctx context.Context, url string) ([]byte, http.Header, int, error) {
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	var delay = c.retryDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, nil, 0, err
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			} else if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
				return body, resp.Header, resp.StatusCode, nil
			} else {
				lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			}
		} else {
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
		}
		if !isRetryable(lastErr) || attempt == maxAttempts {
			break
		}
		slog.Warn("Client.getJSON: retrying request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return nil, nil, 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, nil, 0, lastErr
}

// doWithRetry executes the request produced by build up to maxAttempts times.
// The request is rebuilt per attempt because multipart bodies are consumed.
func (c *Client) doWithRetry(ctx context.Context, path string, build func() (*http.Request, error)) ([]byte, http.Header, error) {
	var delay = c.retryDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return body, resp.Header, nil
			} else {
				lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			}
		} else {
			lastErr = fmt.Errorf("request to %s failed: %w", path, err)
		}
		if !isRetryable(lastErr) || attempt == maxAttempts {
			break
		}
		slog.Warn("Client.doWithRetry: retrying request", "path", path, "attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, nil, lastErr
}

// writeOutput writes data to a file named name inside the output directory
// and returns the full path.
func (c *Client) writeOutput(name string, data []byte) (string, error) {
	path := filepath.Join(c.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write output %s: %w", path, err)
	}
	return path, nil
}
