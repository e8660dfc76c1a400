package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/comx-labs/comx-client/pkg/metrics"
	"github.com/rs/zerolog/log"
)

const backoffBase = 100 * time.Millisecond

// RetryPolicy bounds a single logical call: each attempt runs under Timeout,
// and transient failures are retried up to MaxRetries additional times.
// MaxRetries = 0 means exactly one attempt.
type RetryPolicy struct {
	Timeout    time.Duration
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

type Client struct {
	url    string
	policy RetryPolicy
	client *http.Client
}

func NewClient(url string, policy RetryPolicy) *Client {
	return &Client{
		url:    url,
		policy: policy,
		client: &http.Client{
			Timeout: policy.Timeout,
		},
	}
}

// Call sends a single request and returns the raw result. A node-level RPC
// error is returned immediately; connection failures and timeouts are retried
// with increasing backoff, and after exhaustion the last observed error is
// returned as-is.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := NewRequest(method, params)

	var result json.RawMessage
	err := c.withRetry(ctx, method, func() error {
		var err error
		result, err = c.doSingle(ctx, req)
		return err
	})
	return result, err
}

// CallBatch sends all requests as one JSON array. The returned slice matches
// the order requests were added, regardless of the order the node answered
// in; per-item failures occupy their slot without failing siblings.
func (c *Client) CallBatch(ctx context.Context, batch *BatchRequest) ([]BatchResult, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, nil
	}

	var responses []Response
	err := c.withRetry(ctx, "batch", func() error {
		var err error
		responses, err = c.doBatch(ctx, batch.requests)
		return err
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[uint64]*Response, len(responses))
	for i := range responses {
		byID[responses[i].ID] = &responses[i]
	}

	results := make([]BatchResult, len(batch.requests))
	for i, req := range batch.requests {
		resp, ok := byID[req.ID]
		switch {
		case !ok:
			results[i] = BatchResult{Err: &ParseError{Reason: "missing response for request id " + strconv.FormatUint(req.ID, 10)}}
		case resp.Error != nil:
			results[i] = BatchResult{Err: resp.Error}
		case resp.Result != nil:
			results[i] = BatchResult{Result: resp.Result}
		default:
			results[i] = BatchResult{Err: &ParseError{Reason: "response carries neither result nor error"}}
		}
	}
	return results, nil
}

func (c *Client) doSingle(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Reason: "decode response", Err: err}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, &ParseError{Reason: "missing result field"}
	}
	return resp.Result, nil
}

func (c *Client) doBatch(ctx context.Context, reqs []Request) ([]Response, error) {
	body, err := c.post(ctx, reqs)
	if err != nil {
		return nil, err
	}

	var responses []Response
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, &ParseError{Reason: "expected array response for batch request", Err: err}
	}
	return responses, nil
}

func (c *Client) post(ctx context.Context, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, &ParseError{Reason: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &ConnectionError{URL: c.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectionError{URL: c.url, Err: &statusError{code: resp.StatusCode}}
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, &ConnectionError{URL: c.url, Err: err}
	}
	return buf.Bytes(), nil
}

func (c *Client) withRetry(ctx context.Context, method string, attempt func() error) error {
	var lastErr error

	for i := 0; i <= c.policy.MaxRetries; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, backoff(i-1)); err != nil {
				return lastErr
			}
			log.Debug().
				Str("method", method).
				Int("attempt", i+1).
				Int("max_attempts", c.policy.MaxRetries+1).
				Msg("Retrying request")
		}

		started := time.Now()
		err := attempt()
		if err == nil {
			metrics.RecordRPCRequest(method, "success")
			metrics.ObserveRPCDuration(method, time.Since(started).Seconds())
			return nil
		}

		lastErr = err
		if !Retryable(err) {
			metrics.RecordRPCRequest(method, "rejected")
			return err
		}
		metrics.RecordRPCRequest(method, "transient_failure")
	}

	return lastErr
}

// classifyTransportError maps an http.Client failure onto the error taxonomy.
func (c *Client) classifyTransportError(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return &TimeoutError{Timeout: c.policy.Timeout, Err: err}
	}
	return &ConnectionError{URL: c.url, Err: err}
}

// backoff grows exponentially per completed attempt: 100ms, 200ms, 400ms, ...
func backoff(attempt int) time.Duration {
	return backoffBase << uint(attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "unexpected status code: " + strconv.Itoa(e.code)
}
