package types

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const addressPrefix = "cmx1"

// Address is a bech-style account identifier: the "cmx1" prefix followed by a
// base58 payload.
type Address string

// ValidationError is a malformed input caught before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func ParseAddress(s string) (Address, error) {
	if s == "" {
		return "", &ValidationError{Field: "address", Reason: "empty"}
	}
	if !strings.HasPrefix(s, addressPrefix) {
		return "", &ValidationError{Field: "address", Reason: "missing " + addressPrefix + " prefix"}
	}
	payload := s[len(addressPrefix):]
	if payload == "" {
		return "", &ValidationError{Field: "address", Reason: "empty payload"}
	}
	if len(base58.Decode(payload)) == 0 {
		return "", &ValidationError{Field: "address", Reason: "payload is not valid base58"}
	}
	return Address(s), nil
}

func (a Address) String() string { return string(a) }
