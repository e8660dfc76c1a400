package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

var validDenoms = map[string]bool{
	"COMAI": true,
}

// Balance is an account balance as reported by the node. Amount is kept as
// the node's decimal string to avoid silent precision loss.
type Balance struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

func NewBalance(amount, denom string) (Balance, error) {
	b := Balance{Amount: amount, Denom: denom}
	if err := b.validate(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// BalanceFromRPC decodes and validates a raw query_balance result.
func BalanceFromRPC(raw json.RawMessage) (Balance, error) {
	var b Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return Balance{}, &ValidationError{Field: "balance", Reason: err.Error()}
	}
	if err := b.validate(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (b Balance) validate() error {
	if _, err := strconv.ParseUint(b.Amount, 10, 64); err != nil {
		return &ValidationError{Field: "amount", Reason: "not an unsigned integer"}
	}
	if !validDenoms[b.Denom] {
		return &ValidationError{Field: "denom", Reason: "unknown denomination " + b.Denom}
	}
	return nil
}

// Units returns the amount as an integer count of base units.
func (b Balance) Units() (uint64, error) {
	v, err := strconv.ParseUint(b.Amount, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "amount", Reason: "not an unsigned integer"}
	}
	return v, nil
}

func (b Balance) String() string {
	return fmt.Sprintf("%s %s", b.Amount, b.Denom)
}
