package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

// Config defines retry and timeout policy for a Client
type Config struct {
	Timeout     time.Duration     `yaml:"timeout"`
	MaxRetries  int               `yaml:"maxRetries"`
	BackoffUnit time.Duration     `yaml:"backoffUnit"`
	Headers     map[string]string `yaml:"-"`
}

// Client wraps http.Client with bounded retries and exponential backoff.
// Do absorbs transport errors: callers get a nil response after the retry
// budget is spent, never an error.
type Client struct {
	http       *http.Client
	streamHTTP *http.Client
	cfg        Config
	log        logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Response holds a completed, fully read HTTP exchange
type Response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

// Bytes returns the raw response body
func (r *Response) Bytes() []byte {
	return r.body
}

// JSON unmarshals the response body into v
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Stream holds a live response body; the caller owns Close
type Stream struct {
	Body       io.ReadCloser
	Header     http.Header
	StatusCode int
}

// New creates a Client. Zero config fields fall back to defaults:
// 10s timeout, 3 attempts, 1s backoff unit.
func New(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		// 下载流不能设总超时,只限制建连和响应头
		streamHTTP: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		cfg:   cfg,
		log:   log.Named("request"),
		sleep: sleepCtx,
	}
}

// Do performs an HTTP request with up to MaxRetries attempts and
// exponential backoff (unit, 2x, 4x ...) between them. body is JSON
// encoded when non-nil. Returns nil once all attempts failed.
func (c *Client) Do(ctx context.Context, method, url string, body interface{}, headers map[string]string) *Response {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.log.Error("failed to encode request body",
				logger.String("url", url),
				logger.Error(err))
			return nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.attempt(ctx, method, url, payload, headers)
		if err == nil {
			return resp
		}
		lastErr = err

		// 按错误类型分别记录
		c.log.Warn(classify(err),
			logger.String("method", method),
			logger.String("url", url),
			logger.Int("attempt", attempt),
			logger.Int("max_retries", c.cfg.MaxRetries),
			logger.Error(err))

		if ctx.Err() != nil {
			break
		}
		// 最后一次失败后不再等待
		if attempt < c.cfg.MaxRetries {
			backoff := c.cfg.BackoffUnit << (attempt - 1)
			if err := c.sleep(ctx, backoff); err != nil {
				break
			}
		}
	}

	c.log.Error("all requests failed",
		logger.String("method", method),
		logger.String("url", url),
		logger.Int("attempts", c.cfg.MaxRetries),
		logger.Error(lastErr))
	return nil
}

// DoStream performs a request under the same retry policy but hands the
// live body to the caller on success. Used for document downloads.
func (c *Client) DoStream(ctx context.Context, method, url string, headers map[string]string) (*Stream, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req, headers, false)

		resp, err := c.streamHTTP.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &Stream{Body: resp.Body, Header: resp.Header, StatusCode: resp.StatusCode}, nil
		}
		if err == nil {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			err = fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(data))
		}
		lastErr = err

		c.log.Warn(classify(err),
			logger.String("method", method),
			logger.String("url", url),
			logger.Int("attempt", attempt),
			logger.Error(err))

		if ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.MaxRetries {
			backoff := c.cfg.BackoffUnit << (attempt - 1)
			if err := c.sleep(ctx, backoff); err != nil {
				break
			}
		}
	}

	c.log.Error("all requests failed",
		logger.String("method", method),
		logger.String("url", url),
		logger.Int("attempts", c.cfg.MaxRetries),
		logger.Error(lastErr))
	return nil, fmt.Errorf("all %d requests to %s failed: %w", c.cfg.MaxRetries, url, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, headers map[string]string) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, headers, payload != nil)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, truncate(data, 512))
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, body: data}, nil
}

// setHeaders applies client defaults first, then per-call overrides
func (c *Client) setHeaders(req *http.Request, headers map[string]string, hasBody bool) {
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

// classify maps an attempt error to its log message
func classify(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "request timed out"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return "connection error"
	}
	if strings.Contains(err.Error(), "unexpected status code") {
		return "unexpected http status"
	}
	return "request failed"
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n])
	}
	return string(data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
