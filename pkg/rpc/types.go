package rpc

import (
	"encoding/json"
	"sync/atomic"
)

var requestID atomic.Uint64

func nextRequestID() uint64 { return requestID.Add(1) }

type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      uint64 `json:"id"`
}

// NewRequest builds a JSON-RPC 2.0 request. The id is assigned by the
// transport and is unique per in-flight request.
func NewRequest(method string, params any) Request {
	if params == nil {
		params = map[string]any{}
	}
	return Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      nextRequestID(),
	}
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// BatchRequest is an ordered set of requests sent as a single HTTP exchange.
type BatchRequest struct {
	requests []Request
}

func NewBatchRequest() *BatchRequest {
	return &BatchRequest{}
}

func (b *BatchRequest) Add(method string, params any) {
	b.requests = append(b.requests, NewRequest(method, params))
}

func (b *BatchRequest) Len() int { return len(b.requests) }

// BatchResult holds the per-item outcome of a batch exchange. Exactly one of
// Result and Err is set.
type BatchResult struct {
	Result json.RawMessage
	Err    error
}
