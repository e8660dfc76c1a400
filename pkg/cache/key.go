package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Query identifies a node query by method and parameters. Params must be
// JSON-marshalable; map keys are sorted by encoding/json, so two logically
// identical queries produce the same key regardless of construction order.
type Query struct {
	Method string
	Params any
}

// Key returns the deterministic cache key: method plus an md5 digest of the
// canonical params JSON.
func (q Query) Key() (string, error) {
	if q.Method == "" {
		return "", errors.New("query method cannot be empty")
	}

	var paramsHash string
	if q.Params != nil {
		data, err := json.Marshal(q.Params)
		if err != nil {
			return "", fmt.Errorf("marshal params: %w", err)
		}
		sum := md5.Sum(data)
		paramsHash = hex.EncodeToString(sum[:])
	}

	return q.Method + ":" + paramsHash, nil
}
