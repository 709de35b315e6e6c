package dream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/internal/provider"
	"github.com/manash/seedgraph/internal/security"
	"github.com/manash/seedgraph/pkg/models"
)

const (
	defaultTimeout = 30 * time.Second

	submitPath  = "/"
	cancelPath  = "/cancel"
	historyPath = "/run_log.json"

	maxErrorBody = 4096
)

// Client talks to a dream web server.
type Client struct {
	base       *url.URL
	streamHTTP *http.Client
	httpClient *http.Client
	log        *logging.Logger
	verbose    bool
}

var _ provider.Backend = (*Client)(nil)

func New(cfg *provider.Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, provider.ErrServerURLRequired
	}

	base, err := security.ValidateServerURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Client{
		base: base,
		// The event stream stays open for the whole job, so it gets no
		// client timeout.
		streamHTTP: &http.Client{},
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:     log.With("server", base.String()),
		verbose: cfg.Verbose,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(p string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	return u.String()
}

func (c *Client) Submit(ctx context.Context, req *models.Request) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	target := c.endpoint(submitPath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	c.logRequest(http.MethodPost, target, jsonData)

	resp, err := c.streamHTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	c.logResponse(resp.StatusCode, nil)

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", provider.ErrSubmitFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp.Body, nil
}

func (c *Client) Cancel(ctx context.Context) error {
	target := c.endpoint(cancelPath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create cancel request: %w", err)
	}

	c.logRequest(http.MethodGet, target, nil)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrCancelFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	c.logResponse(resp.StatusCode, nil)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", provider.ErrCancelFailed, resp.StatusCode)
	}
	return nil
}

func (c *Client) History(ctx context.Context) ([]models.GenerationRecord, error) {
	target := c.endpoint(historyPath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create history request: %w", err)
	}

	c.logRequest(http.MethodGet, target, nil)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrHistoryFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	c.logResponse(resp.StatusCode, body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", provider.ErrHistoryFailed, resp.StatusCode)
	}

	var runLog models.RunLog
	if err := json.Unmarshal(body, &runLog); err != nil {
		return nil, fmt.Errorf("%w: failed to parse run log: %v", provider.ErrHistoryFailed, err)
	}

	return runLog.Records(), nil
}

func (c *Client) ResolveURL(ref string) (string, error) {
	return security.ResolveArtifactURL(c.base, ref)
}

func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := c.ResolveURL(ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", provider.ErrDownloadFailed, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) logRequest(method, target string, body []byte) {
	if !c.verbose {
		return
	}
	fields := []interface{}{"method", method, "url", target}
	if len(body) > 0 {
		fields = append(fields, "body", string(truncateBase64InJSON(body)))
	}
	c.log.Debug("request", fields...)
}

func (c *Client) logResponse(statusCode int, body []byte) {
	if !c.verbose {
		return
	}
	fields := []interface{}{"status", statusCode}
	if len(body) > 0 {
		fields = append(fields, "bytes", len(body))
	}
	c.log.Debug("response", fields...)
}

// truncateBase64InJSON shortens embedded seed images so verbose logs stay
// readable.
func truncateBase64InJSON(body []byte) []byte {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	truncateBase64Fields(data)

	result, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return result
}

func truncateBase64Fields(data map[string]interface{}) {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if key == "initimg" && len(v) > 100 {
				data[key] = v[:100] + "... [truncated]"
			}
		case map[string]interface{}:
			truncateBase64Fields(v)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					truncateBase64Fields(m)
				}
			}
		}
	}
}
