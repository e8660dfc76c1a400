// Package querymap is the typed query surface over the RPC transport. All
// single-key reads are routed through the query cache; batch reads go out as
// one exchange and prime the cache on the way back.
package querymap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/comx-labs/comx-client/pkg/cache"
	"github.com/comx-labs/comx-client/pkg/rpc"
	"github.com/comx-labs/comx-client/pkg/types"
)

const (
	methodQueryBalance = "query_balance"
	methodStakeFrom    = "query_stake_from"
	methodStakeTo      = "query_stake_to"
)

type Config struct {
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	MaxCacheEntries int
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval: 300 * time.Second,
		CacheTTL:        600 * time.Second,
		MaxCacheEntries: 1000,
	}
}

type QueryMap struct {
	client rpc.Caller
	cache  *cache.QueryCache
}

func New(client rpc.Caller, cfg Config) (*QueryMap, error) {
	if cfg.RefreshInterval < time.Second {
		return nil, fmt.Errorf("refresh interval must be at least 1 second")
	}
	if cfg.CacheTTL <= cfg.RefreshInterval {
		return nil, fmt.Errorf("cache TTL must be longer than the refresh interval")
	}

	m := &QueryMap{client: client}
	m.cache = cache.New(cache.Config{
		TTL:             cfg.CacheTTL,
		RefreshInterval: cfg.RefreshInterval,
		MaxEntries:      cfg.MaxCacheEntries,
	}, m.execute)
	return m, nil
}

// Close stops the cache's refresh worker.
func (m *QueryMap) Close() { m.cache.Close() }

// CacheMetrics returns a snapshot of the cache counters.
func (m *QueryMap) CacheMetrics() cache.Metrics { return m.cache.Metrics() }

func (m *QueryMap) execute(ctx context.Context, q cache.Query) (json.RawMessage, error) {
	return m.client.Call(ctx, q.Method, q.Params)
}

func balanceQuery(address string) cache.Query {
	return cache.Query{Method: methodQueryBalance, Params: map[string]string{"address": address}}
}

func stakeQuery(method, address string) cache.Query {
	return cache.Query{Method: method, Params: map[string]string{"address": address}}
}

func (m *QueryMap) GetBalance(ctx context.Context, address string) (types.Balance, error) {
	if _, err := types.ParseAddress(address); err != nil {
		return types.Balance{}, err
	}

	raw, err := m.cache.Get(ctx, balanceQuery(address))
	if err != nil {
		return types.Balance{}, err
	}
	return types.BalanceFromRPC(raw)
}

// BalanceResult is one slot of a batch balance query. Exactly one of Balance
// and Err is meaningful.
type BalanceResult struct {
	Address string
	Balance types.Balance
	Err     error
}

// GetBalances queries all addresses in a single batch exchange. The returned
// slice preserves input ordering; invalid addresses fail their slot without
// being sent, and one bad address never fails its siblings. A whole-batch
// transport failure is returned as a single top-level error.
func (m *QueryMap) GetBalances(ctx context.Context, addresses []string) ([]BalanceResult, error) {
	results := make([]BalanceResult, len(addresses))
	batch := rpc.NewBatchRequest()
	slots := make([]int, 0, len(addresses))

	for i, address := range addresses {
		results[i].Address = address
		if _, err := types.ParseAddress(address); err != nil {
			results[i].Err = err
			continue
		}
		batch.Add(methodQueryBalance, map[string]string{"address": address})
		slots = append(slots, i)
	}

	if batch.Len() == 0 {
		return results, nil
	}

	items, err := m.client.CallBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	for j, item := range items {
		i := slots[j]
		if item.Err != nil {
			results[i].Err = item.Err
			continue
		}
		balance, err := types.BalanceFromRPC(item.Result)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Balance = balance
		// Prime the cache so a follow-up single read is a hit.
		_ = m.cache.Set(balanceQuery(results[i].Address), item.Result)
	}
	return results, nil
}

func (m *QueryMap) GetStakeFrom(ctx context.Context, address string) ([]types.Address, error) {
	return m.stakeRelationship(ctx, methodStakeFrom, "stake_from", address)
}

func (m *QueryMap) GetStakeTo(ctx context.Context, address string) ([]types.Address, error) {
	return m.stakeRelationship(ctx, methodStakeTo, "stake_to", address)
}

func (m *QueryMap) stakeRelationship(ctx context.Context, method, field, address string) ([]types.Address, error) {
	if _, err := types.ParseAddress(address); err != nil {
		return nil, err
	}

	raw, err := m.cache.Get(ctx, stakeQuery(method, address))
	if err != nil {
		return nil, err
	}

	var payload map[string][]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &rpc.ParseError{Reason: "decode " + method + " result", Err: err}
	}

	stakes := payload[field]
	addresses := make([]types.Address, len(stakes))
	for i, s := range stakes {
		addresses[i] = types.Address(s)
	}
	return addresses, nil
}

// InvalidateBalance drops the cached balance for an address.
func (m *QueryMap) InvalidateBalance(address string) error {
	return m.cache.Invalidate(balanceQuery(address))
}
