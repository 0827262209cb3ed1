// Package crypto provides authority key management, secp256k1 signature
// verification for operation authentication, and HMAC signing of published
// events.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// keyDeriveIterations follows the OWASP minimum for PBKDF2-HMAC-SHA256.
	keyDeriveIterations = 480_000
	keySaltLen          = 16
	keyAESLen           = 32

	// keyFileVersion is bumped whenever the on-disk layout changes.
	keyFileVersion = 1
)

// keyFile is the JSON layout of an encrypted authority key on disk. All
// binary fields are base64 standard encoding.
type keyFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names the places an authority private key may come from. Exactly
// one source needs to be populated; a raw key wins over an encrypted file.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded key, with or without a 0x prefix.
	RawPrivateKey string

	// EncryptedKeyPath points at a file written from EncryptKey output.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// aeadFor derives an AES-256-GCM cipher from a password and salt. Both the
// encrypt and decrypt paths must derive identically.
func aeadFor(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, keyDeriveIterations, keyAESLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// normalizeKeyHex strips an optional 0x prefix and validates the hex.
func normalizeKeyHex(privateKeyHex string) ([]byte, string, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	return keyBytes, keyHex, nil
}

// EncryptKey seals a hex-encoded private key under a password, returning the
// JSON blob that LoadKey can later read back from disk. The key is derived
// with PBKDF2-HMAC-SHA256 and sealed with AES-256-GCM.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, _, err := normalizeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, keySaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := aeadFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := keyFile{
		Version:    keyFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey opens a blob produced by EncryptKey and returns the hex-encoded
// private key without a 0x prefix.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored keyFile
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	fields := map[string]string{
		"salt":       stored.Salt,
		"nonce":      stored.Nonce,
		"ciphertext": stored.Ciphertext,
	}
	decoded := make(map[string][]byte, len(fields))
	for name, val := range fields {
		b, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", name, err)
		}
		decoded[name] = b
	}

	gcm, err := aeadFor(password, decoded["salt"])
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, decoded["nonce"], decoded["ciphertext"], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the authority private key from cfg. A raw key is returned
// as-is after validation; otherwise the encrypted key file is read and
// decrypted with KeyPassword.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		_, keyHex, err := normalizeKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return keyHex, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}
