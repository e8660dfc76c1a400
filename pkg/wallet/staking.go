package wallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/comx-labs/comx-client/pkg/rpc"
	"github.com/comx-labs/comx-client/pkg/types"
)

const (
	methodStake       = "staking_stake"
	methodUnstake     = "staking_unstake"
	methodClaim       = "staking_claim"
	methodStakingInfo = "staking_info"
)

type StakeRequest struct {
	From   string `json:"from"`
	Amount uint64 `json:"amount"`
	Denom  string `json:"denom"`
}

// UnstakeRequest with a nil Amount unstakes everything.
type UnstakeRequest struct {
	From   string  `json:"from"`
	Amount *uint64 `json:"amount"`
	Denom  string  `json:"denom"`
}

type StakingInfo struct {
	Address          string    `json:"address"`
	TotalStaked      uint64    `json:"total_staked"`
	RewardsAvailable uint64    `json:"rewards_available"`
	LastClaimTime    time.Time `json:"last_claim_time"`
	Denom            string    `json:"denom"`
}

func (c *Client) Stake(ctx context.Context, req StakeRequest) (TransactionState, error) {
	if _, err := types.ParseAddress(req.From); err != nil {
		return TransactionState{}, err
	}
	return c.submitStakingOp(ctx, methodStake, req)
}

func (c *Client) Unstake(ctx context.Context, req UnstakeRequest) (TransactionState, error) {
	if _, err := types.ParseAddress(req.From); err != nil {
		return TransactionState{}, err
	}
	return c.submitStakingOp(ctx, methodUnstake, req)
}

func (c *Client) ClaimRewards(ctx context.Context, address string) (TransactionState, error) {
	if _, err := types.ParseAddress(address); err != nil {
		return TransactionState{}, err
	}
	return c.submitStakingOp(ctx, methodClaim, map[string]string{"address": address})
}

func (c *Client) submitStakingOp(ctx context.Context, method string, params any) (TransactionState, error) {
	result, err := c.rpc.Call(ctx, method, params)
	if err != nil {
		return TransactionState{}, err
	}

	hash, err := txHash(result)
	if err != nil {
		return TransactionState{}, err
	}
	return c.waitForTransaction(ctx, hash)
}

func (c *Client) StakingInfo(ctx context.Context, address string) (StakingInfo, error) {
	if _, err := types.ParseAddress(address); err != nil {
		return StakingInfo{}, err
	}

	raw, err := c.rpc.Call(ctx, methodStakingInfo, map[string]string{"address": address})
	if err != nil {
		return StakingInfo{}, err
	}

	var payload struct {
		TotalStaked      uint64 `json:"total_staked"`
		RewardsAvailable uint64 `json:"rewards_available"`
		LastClaimTime    int64  `json:"last_claim_time"`
		Denom            string `json:"denom"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return StakingInfo{}, &rpc.ParseError{Reason: "decode staking info", Err: err}
	}

	info := StakingInfo{
		Address:          address,
		TotalStaked:      payload.TotalStaked,
		RewardsAvailable: payload.RewardsAvailable,
		Denom:            payload.Denom,
	}
	if info.Denom == "" {
		info.Denom = "COMAI"
	}
	if payload.LastClaimTime > 0 {
		info.LastClaimTime = time.Unix(payload.LastClaimTime, 0).UTC()
	}
	return info, nil
}
