package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestVerifySignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message, err := NewChallenge(address, time.Now())
	if err != nil {
		t.Fatalf("NewChallenge() error = %v", err)
	}

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatal(err)
	}

	// Raw recovery id (0/1) as some libraries emit it.
	if err := VerifySignature(message, hexutil.Encode(sig), address); err != nil {
		t.Errorf("VerifySignature() with raw recovery id: %v", err)
	}

	// personal_sign style 27/28 recovery id.
	legacy := append([]byte(nil), sig...)
	legacy[crypto.RecoveryIDOffset] += 27
	if err := VerifySignature(message, hexutil.Encode(legacy), address); err != nil {
		t.Errorf("VerifySignature() with legacy recovery id: %v", err)
	}
}

func TestVerifySignatureWrongSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()

	message := "prmission login\naddress: 0x01\nnonce: abc\nissued: now"
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatal(err)
	}

	otherAddr := crypto.PubkeyToAddress(other.PublicKey).Hex()
	if err := VerifySignature(message, hexutil.Encode(sig), otherAddr); err == nil {
		t.Error("signature from a different key should be rejected")
	}
}

func TestVerifySignatureTamperedMessage(t *testing.T) {
	key, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message := "prmission login\naddress: 0x01\nnonce: abc\nissued: now"
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatal(err)
	}

	if err := VerifySignature(message+" tampered", hexutil.Encode(sig), address); err == nil {
		t.Error("tampered message should be rejected")
	}
}

func TestVerifySignatureMalformed(t *testing.T) {
	if err := VerifySignature("msg", "0x1234", "0x01"); err == nil {
		t.Error("short signature should be rejected")
	}
	if err := VerifySignature("msg", "zzzz", "0x01"); err == nil {
		t.Error("non-hex signature should be rejected")
	}
}

func TestNewChallengeIsUnique(t *testing.T) {
	a, err := NewChallenge("0xABCD", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewChallenge("0xABCD", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("challenges must differ between issuances")
	}
	if !strings.Contains(a, "0xabcd") {
		t.Error("challenge should carry the lowercased address")
	}
}
