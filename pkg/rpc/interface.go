package rpc

import (
	"context"
	"encoding/json"
)

// Caller is the transport surface consumed by the query and wallet layers.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	CallBatch(ctx context.Context, batch *BatchRequest) ([]BatchResult, error)
}

var _ Caller = (*Client)(nil)
