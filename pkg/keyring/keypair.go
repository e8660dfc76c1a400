// Package keyring holds key material and exposes an opaque sign/verify
// capability. Nothing outside this package inspects private keys.
package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

// ss58Prefix is the generic substrate network identifier.
const ss58Prefix = 42

type KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ss58 string
}

// FromSeedPhrase derives a keypair from a BIP-39 mnemonic. The first 32 bytes
// of the seed become the ed25519 private seed.
func FromSeedPhrase(phrase string) (*KeyPair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(phrase, "")
	if err != nil {
		return nil, fmt.Errorf("invalid seed phrase: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return fromPrivate(priv), nil
}

// Generate creates a keypair from system randomness.
func Generate() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return fromPrivate(priv), nil
}

func fromPrivate(priv ed25519.PrivateKey) *KeyPair {
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{
		priv: priv,
		pub:  pub,
		ss58: ss58Address(pub),
	}
}

func (k *KeyPair) SS58Address() string { return k.ss58 }

func (k *KeyPair) PublicKey() []byte {
	out := make([]byte, len(k.pub))
	copy(out, k.pub)
	return out
}

func (k *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.pub)
}

func (k *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// Verify checks a detached signature against a raw public key.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// DeriveAddress produces a deterministic child address for an account index.
// The index is signed with the root key and the signature prefix is used as
// derived key material.
func (k *KeyPair) DeriveAddress(index uint32) (string, error) {
	var msg [4]byte
	binary.LittleEndian.PutUint32(msg[:], index)

	sig := k.Sign(msg[:])
	if len(sig) < ed25519.PublicKeySize {
		return "", fmt.Errorf("derived key material too short")
	}
	return ss58Address(sig[:ed25519.PublicKeySize]), nil
}

func ss58Address(pub []byte) string {
	body := make([]byte, 0, 1+len(pub)+2)
	body = append(body, ss58Prefix)
	body = append(body, pub...)

	checksum := blake2b.Sum512(body)
	body = append(body, checksum[0], checksum[1])

	return base58.Encode(body)
}
