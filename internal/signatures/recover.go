package signatures

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMalformedSignature indicates the signature is not a 65 byte hex string.
	ErrMalformedSignature = errors.New("signatures: malformed signature")
	// ErrRecoveryFailed indicates no public key could be recovered.
	ErrRecoveryFailed = errors.New("signatures: recovery failed")
)

// Recoverer recovers the signing address of a personal_sign message.
type Recoverer interface {
	RecoverSigner(message string, signature string) (string, error)
}

// PersonalSignRecoverer implements Recoverer for EIP-191 personal messages.
type PersonalSignRecoverer struct{}

// NewRecoverer returns the default Recoverer.
func NewRecoverer() PersonalSignRecoverer {
	return PersonalSignRecoverer{}
}

// RecoverSigner returns the lowercased hex address that signed message.
func (PersonalSignRecoverer) RecoverSigner(message string, signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}
	digest := accounts.TextHash([]byte(message))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return NormalizeAddress(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// Sign produces a personal_sign signature, used by fixtures and tooling.
func Sign(message string, key *ecdsa.PrivateKey) (string, error) {
	digest := accounts.TextHash([]byte(message))
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// AddressOf returns the lowercased address of a private key.
func AddressOf(key *ecdsa.PrivateKey) string {
	return NormalizeAddress(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
}

// NormalizeAddress lowercases and trims an address for comparisons and keys.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func decodeSignature(signature string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return nil, ErrMalformedSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}
