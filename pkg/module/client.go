// Package module calls external module servers with signed requests. Every
// request body is signed with the client's keypair and sent with the
// signature, public key and timestamp headers the servers verify.
package module

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/comx-labs/comx-client/pkg/keyring"
	"github.com/comx-labs/comx-client/pkg/rpc"
	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	Host       string
	Port       int
	Timeout    time.Duration
	MaxRetries int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:       "http://127.0.0.1",
		Port:       5555,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// StatusError is a non-OK reply from a module server.
type StatusError struct {
	Code   int
	Method string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusNotFound:
		return "method not found: " + e.Method
	default:
		return fmt.Sprintf("server error: %d", e.Code)
	}
}

// Request is the wire body of a module call.
type Request struct {
	TargetKey string `json:"target_key"`
	Params    any    `json:"params"`
}

type Client struct {
	cfg      ClientConfig
	http     *http.Client
	keypair  *keyring.KeyPair
	registry *EndpointRegistry
}

func NewClient(cfg ClientConfig, keypair *keyring.KeyPair) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		keypair:  keypair,
		registry: NewEndpointRegistry(),
	}
}

func (c *Client) Registry() *EndpointRegistry { return c.registry }

func (c *Client) RegisterEndpoint(cfg EndpointConfig) {
	c.registry.Register(cfg)
}

// Call invokes a module method for a target key and decodes the JSON reply
// into out. Transient failures (timeouts, 5xx) are retried with increasing
// backoff unless the registered endpoint disallows retries.
func (c *Client) Call(ctx context.Context, method, targetKey string, params any, out any) error {
	endpoint, registered := c.registry.Get(method)

	maxRetries := c.cfg.MaxRetries
	if registered && !endpoint.AllowRetries {
		maxRetries = 0
	}
	if registered && endpoint.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, endpoint.Timeout)
		defer cancel()
	}

	url, headers, body, err := c.buildRequest(method, endpoint, registered, targetKey, params)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(100 * time.Millisecond << uint(attempt-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
			log.Debug().Str("method", method).Int("attempt", attempt+1).Msg("Retrying module call")
		}

		err := c.execute(ctx, url, headers, body, method, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) execute(ctx context.Context, url string, headers http.Header, body []byte, method string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return &rpc.TimeoutError{Timeout: c.cfg.Timeout, Err: err}
		}
		return &rpc.ConnectionError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Method: method}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &rpc.ParseError{Reason: "decode module response", Err: err}
	}
	return nil
}

func (c *Client) buildRequest(method string, endpoint EndpointConfig, registered bool, targetKey string, params any) (string, http.Header, []byte, error) {
	path := method
	if registered && endpoint.Path != "" {
		path = strings.TrimPrefix(endpoint.Path, "/")
	}

	host := strings.TrimSuffix(c.cfg.Host, "/")
	var url string
	if c.cfg.Port == 0 {
		url = host + "/" + path
	} else {
		url = host + ":" + strconv.Itoa(c.cfg.Port) + "/" + path
	}

	body, err := json.Marshal(Request{TargetKey: targetKey, Params: params})
	if err != nil {
		return "", nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Signature", hex.EncodeToString(c.keypair.Sign(body)))
	headers.Set("X-Key", c.keypair.PublicKeyHex())
	headers.Set("X-Timestamp", time.Now().UTC().Format(time.RFC3339))

	return url, headers, body, nil
}

func shouldRetry(err error) bool {
	if rpc.Retryable(err) {
		return true
	}
	if statusErr, ok := err.(*StatusError); ok {
		return statusErr.Code >= 500
	}
	return false
}
