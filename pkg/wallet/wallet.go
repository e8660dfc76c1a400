// Package wallet submits signed transactions and tracks them to confirmation.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/comx-labs/comx-client/pkg/keyring"
	"github.com/comx-labs/comx-client/pkg/rpc"
	"github.com/comx-labs/comx-client/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	methodTransfer = "wallet_transfer"
	methodTxStatus = "tx_status"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TransactionState is the submitted transaction's hash plus its last observed
// status.
type TransactionState struct {
	Hash   string   `json:"hash"`
	Status TxStatus `json:"status"`
}

type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Denom  string `json:"denom"`
	Memo   string `json:"memo,omitempty"`
}

type Client struct {
	rpc            rpc.Caller
	keypair        *keyring.KeyPair
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

func NewClient(caller rpc.Caller, keypair *keyring.KeyPair) *Client {
	return &Client{
		rpc:            caller,
		keypair:        keypair,
		confirmTimeout: 30 * time.Second,
		pollInterval:   500 * time.Millisecond,
	}
}

// Transfer validates, signs and submits a transfer, then waits for the node
// to confirm it.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (TransactionState, error) {
	tx := types.NewTransaction(req.From, req.To, strconv.FormatUint(req.Amount, 10), req.Denom, req.Memo)

	signed, err := tx.Sign(c.keypair)
	if err != nil {
		return TransactionState{}, err
	}

	result, err := c.rpc.Call(ctx, methodTransfer, signed)
	if err != nil {
		return TransactionState{}, err
	}

	hash, err := txHash(result)
	if err != nil {
		return TransactionState{}, err
	}

	log.Debug().Str("hash", hash).Str("to", req.To).Msg("Transfer submitted")
	return c.waitForTransaction(ctx, hash)
}

// waitForTransaction polls tx_status until the transaction leaves the pending
// state or the confirmation budget runs out.
func (c *Client) waitForTransaction(ctx context.Context, hash string) (TransactionState, error) {
	deadline := time.Now().Add(c.confirmTimeout)
	state := TransactionState{Hash: hash, Status: TxPending}

	for {
		raw, err := c.rpc.Call(ctx, methodTxStatus, map[string]string{"hash": hash})
		if err != nil {
			return state, err
		}

		var payload struct {
			Status TxStatus `json:"status"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return state, &rpc.ParseError{Reason: "decode tx status", Err: err}
		}

		state.Status = payload.Status
		switch payload.Status {
		case TxConfirmed:
			return state, nil
		case TxFailed:
			return state, fmt.Errorf("transaction %s failed", hash)
		}

		if time.Now().After(deadline) {
			return state, fmt.Errorf("transaction %s not confirmed within %s", hash, c.confirmTimeout)
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return state, ctx.Err()
		case <-timer.C:
		}
	}
}

func txHash(raw json.RawMessage) (string, error) {
	var payload struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", &rpc.ParseError{Reason: "decode submit response", Err: err}
	}
	if payload.Hash == "" {
		return "", &rpc.ParseError{Reason: "missing transaction hash"}
	}
	return payload.Hash, nil
}
