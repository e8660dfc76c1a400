package rpc

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError is a network-level failure: the node was never reached or
// the exchange broke before a well-formed response arrived. Retryable.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is an attempt that exceeded the configured deadline. Retryable.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s: %v", e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RPCError is a rejection from the node itself. The node replied, so the
// request is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ParseError is a malformed or incomplete response body.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Retryable reports whether an error is a transient transport fault.
func Retryable(err error) bool {
	var connErr *ConnectionError
	var timeoutErr *TimeoutError
	return errors.As(err, &connErr) || errors.As(err, &timeoutErr)
}
