package service

import (
	"fmt"

	"github.com/bitpredict/engine/internal/domain"
)

// Caller identifies the principal invoking an operation. Message is the
// canonical operation payload the caller signed; Signature is the proof
// checked against Principal through the authentication oracle.
type Caller struct {
	Principal string
	Message   []byte
	Signature []byte
}

// authenticate verifies the caller's signature over its message.
func authenticate(auth domain.Authenticator, c Caller) error {
	ok, err := auth.Verify(c.Principal, c.Message, c.Signature)
	if err != nil {
		return fmt.Errorf("service: verify signature for %s: %w", c.Principal, err)
	}
	if !ok {
		return fmt.Errorf("service: signature mismatch for %s: %w", c.Principal, domain.ErrUnauthorized)
	}
	return nil
}

// requirePrincipal checks that an authenticated caller is the expected
// privileged account.
func requirePrincipal(c Caller, want string) error {
	if c.Principal != want {
		return fmt.Errorf("service: %s is not %s: %w", c.Principal, want, domain.ErrUnauthorized)
	}
	return nil
}
