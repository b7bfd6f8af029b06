package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

// Client talks to the HTTP surface of a running daemon.
type Client struct {
	base string
	http *http.Client
	// retryFor bounds how long idempotent requests retry on transport errors.
	retryFor time.Duration
}

// NewClient returns a client for the daemon at base.
func NewClient(base string) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		http:     &http.Client{Timeout: 60 * time.Second},
		retryFor: 3 * time.Second,
	}
}

// apiError mirrors the JSON error body written by the daemon.
type apiError struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Get fetches path and returns the raw body of a 2xx response. Transport
// failures are retried with backoff.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.retryFor

	return backoff.RetryWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		body, status, err := c.do(req)
		if err != nil {
			return nil, err
		}
		return checkStatus(body, status, backoff.Permanent)
	}, backoff.WithContext(b, ctx))
}

// Post sends body to path. Lifecycle commands are not idempotent and are
// never retried. A non-2xx body is returned along with the error so callers
// can still print the result.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "encode request").Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	out, err := checkStatus(resp, status, func(e error) error { return e })
	if err != nil {
		return resp, err
	}
	return out, nil
}

// Stream opens path as a server-sent event stream and calls fn with the
// event name and data of every frame until ctx ends or the server closes.
func (c *Client) Stream(ctx context.Context, path string, fn func(event, data string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	streaming := &http.Client{Transport: c.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return c.transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_, err := checkStatus(body, resp.StatusCode, func(e error) error { return e })
		return err
	}

	var event string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fn(event, strings.TrimPrefix(line, "data: "))
			event = ""
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return c.transportError(err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, c.transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, c.transportError(err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) transportError(err error) error {
	return ferrors.WrapError(err, ferrors.CategoryNetwork, "daemon unreachable").
		WithContext("server", c.base).
		Retryable().
		Build()
}

// checkStatus turns a non-2xx response into a classified error using the
// category the daemon reported. wrap marks the error as permanent for retry.
func checkStatus(body []byte, status int, wrap func(error) error) ([]byte, error) {
	if status >= 200 && status < 300 {
		return body, nil
	}
	var e apiError
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		e.Error = fmt.Sprintf("daemon returned HTTP %d", status)
	}
	category := ferrors.ErrorCategory(e.Code)
	if category == "" {
		category = ferrors.CategoryInternal
	}
	b := ferrors.NewError(category, e.Error).WithContext("status", status)
	if e.Retryable {
		b = b.Retryable()
	}
	return nil, wrap(b.Build())
}
