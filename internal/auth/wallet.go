package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet-signature login: the server issues a one-time challenge message,
// the wallet signs it with personal_sign, the server recovers the signer
// and compares addresses. No key material ever reaches the server.

// NewChallenge builds the message a wallet must sign to authenticate.
func NewChallenge(address string, issuedAt time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("challenge nonce: %w", err)
	}
	return fmt.Sprintf("prmission login\naddress: %s\nnonce: %s\nissued: %s",
		strings.ToLower(address), hex.EncodeToString(nonce), issuedAt.UTC().Format(time.RFC3339)), nil
}

// VerifySignature checks that sigHex is a personal_sign signature of
// message by the claimed address.
func VerifySignature(message, sigHex, address string) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	// personal_sign encodes the recovery id as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(address) {
		return fmt.Errorf("signature from %s, expected %s", recovered.Hex(), address)
	}
	return nil
}
