package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Deterministic test key. Never fund this account.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	msg := []byte("success_market:7:2")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	v := NewVerifier()
	ok, err := v.Verify(signer.Address(), msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	// Tampered message fails.
	ok, err = v.Verify(signer.Address(), []byte("success_market:7:3"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	// Wrong principal fails.
	ok, err = v.Verify("0x0000000000000000000000000000000000000001", msg, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyLegacyRecoveryID(t *testing.T) {
	signer, err := NewSigner("0x" + testKeyHex)
	require.NoError(t, err)

	msg := []byte("adjourn_market:9")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	// Clients following the 27/28 convention still verify.
	sig[64] += 27
	ok, err := NewVerifier().Verify(signer.Address(), msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsBadInput(t *testing.T) {
	v := NewVerifier()

	_, err := v.Verify("not-an-address", []byte("m"), make([]byte, 65))
	assert.Error(t, err)

	_, err = v.Verify("0x0000000000000000000000000000000000000001", []byte("m"), []byte("short"))
	assert.Error(t, err)
}

func TestKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong password")
	assert.Error(t, err)
}

func TestEventSignerRoundTrip(t *testing.T) {
	es := &EventSigner{Key: "consumer-1", Secret: "topsecret"}
	payload := []byte(`{"type":"market.success"}`)

	h := es.HeadersAt("bp:events:market", payload, 1700000000)
	assert.Equal(t, "consumer-1", h["key"])
	assert.True(t, es.VerifyAt("bp:events:market", payload, 1700000000, h["signature"]))
	assert.False(t, es.VerifyAt("bp:events:market", payload, 1700000001, h["signature"]))
	assert.False(t, es.VerifyAt("bp:events:quest", payload, 1700000000, h["signature"]))
}
