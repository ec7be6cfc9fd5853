package signatures

import (
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestRecoverSignerRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signature, err := Sign("Connecting Audius user id 7 at 1700000000", key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := NewRecoverer().RecoverSigner("Connecting Audius user id 7 at 1700000000", signature)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != AddressOf(key) {
		t.Fatalf("expected %s, got %s", AddressOf(key), recovered)
	}
}

func TestRecoverSignerDiffersForOtherMessage(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signature, err := Sign("message one", key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := NewRecoverer().RecoverSigner("message two", signature)
	if err == nil && recovered == AddressOf(key) {
		t.Fatalf("signature over another message must not recover the signer")
	}
}

func TestRecoverSignerRejectsMalformedSignature(t *testing.T) {
	_, err := NewRecoverer().RecoverSigner("hello", "0x1234")
	if !errors.Is(err, ErrMalformedSignature) {
		t.Fatalf("expected malformed signature error, got %v", err)
	}
}
