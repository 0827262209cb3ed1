package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/bitpredict/engine/internal/domain"
)

// personalPrefix is the recoverable-message prefix. Signing clients prepend
// it before hashing so arbitrary operation payloads cannot be confused with
// transactions.
const personalPrefix = "\x19Ethereum Signed Message:\n"

func personalHash(message []byte) []byte {
	prefixed := fmt.Sprintf("%s%d%s", personalPrefix, len(message), message)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// Verifier implements domain.Authenticator by recovering the secp256k1
// public key from a prefixed-message signature and comparing its address
// against the claimed principal.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

var _ domain.Authenticator = (*Verifier)(nil)

// Verify reports whether signature over message was produced by the key
// behind the principal address. Signatures are 65 bytes (r || s || v) with v
// accepted as 0/1 or 27/28.
func (v *Verifier) Verify(principal string, message, signature []byte) (bool, error) {
	if !common.IsHexAddress(principal) {
		return false, fmt.Errorf("crypto: principal %q is not an address", principal)
	}
	if len(signature) != 65 {
		return false, fmt.Errorf("crypto: signature length %d, want 65", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalHash(message), sig)
	if err != nil {
		return false, fmt.Errorf("crypto: recover public key: %w", err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	return recovered == common.HexToAddress(principal), nil
}

// Signer signs operation payloads with the engine authority key. The
// counterpart of Verifier; used by the operator tooling and tests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the signer's account address in checksummed hex.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign produces a 65-byte recoverable signature over the prefixed message
// hash. The recovery id is left in the 0/1 form Verify accepts.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(personalHash(message), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}
