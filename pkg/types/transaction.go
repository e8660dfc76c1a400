package types

import (
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/comx-labs/comx-client/pkg/keyring"
)

// Transaction is an unsigned transfer. Field order in signingPayload is the
// canonical signing format and must not change.
type Transaction struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
	Memo   string `json:"memo"`
}

type signingPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
	Memo   string `json:"memo"`
}

func NewTransaction(from, to, amount, denom, memo string) Transaction {
	return Transaction{From: from, To: to, Amount: amount, Denom: denom, Memo: memo}
}

func (t Transaction) Validate() error {
	if _, err := ParseAddress(t.From); err != nil {
		return err
	}
	if _, err := ParseAddress(t.To); err != nil {
		return err
	}
	amount, err := strconv.ParseUint(t.Amount, 10, 64)
	if err != nil {
		return &ValidationError{Field: "amount", Reason: "not an unsigned integer"}
	}
	if amount == 0 {
		return &ValidationError{Field: "amount", Reason: "cannot be zero"}
	}
	if !validDenoms[t.Denom] {
		return &ValidationError{Field: "denom", Reason: "unknown denomination " + t.Denom}
	}
	return nil
}

func (t Transaction) signingBytes() ([]byte, error) {
	return json.Marshal(signingPayload(t))
}

// Sign validates the transaction and attaches a signature over the canonical
// signing payload.
func (t Transaction) Sign(kp *keyring.KeyPair) (SignedTransaction, error) {
	if err := t.Validate(); err != nil {
		return SignedTransaction{}, err
	}
	msg, err := t.signingBytes()
	if err != nil {
		return SignedTransaction{}, err
	}
	return SignedTransaction{
		Transaction: t,
		Signature:   kp.Sign(msg),
		PublicKey:   kp.PublicKey(),
	}, nil
}

type SignedTransaction struct {
	Transaction Transaction `json:"transaction"`
	Signature   HexBytes    `json:"signature"`
	PublicKey   HexBytes    `json:"public_key"`
}

// Verify checks the signature against the embedded public key.
func (s SignedTransaction) Verify() error {
	return s.VerifyWithKey(s.PublicKey)
}

func (s SignedTransaction) VerifyWithKey(publicKey []byte) error {
	msg, err := s.Transaction.signingBytes()
	if err != nil {
		return err
	}
	if !keyring.Verify(publicKey, msg, s.Signature) {
		return &ValidationError{Field: "signature", Reason: "verification failed"}
	}
	return nil
}

// HexBytes marshals binary fields as hex strings on the wire.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = raw
	return nil
}
