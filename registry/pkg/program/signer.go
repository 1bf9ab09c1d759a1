package program

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Signer is a caller identity that has already been authenticated. Operations
// only compare it against the authorities recorded in state.
type Signer struct {
	key solana.PublicKey
}

// VerifySigner checks an ed25519 signature of message by pub.
func VerifySigner(pub solana.PublicKey, message []byte, sig solana.Signature) (Signer, error) {
	if pub.IsZero() || !sig.Verify(pub, message) {
		return Signer{}, fmt.Errorf("%w for %s", ErrInvalidSignature, pub)
	}
	return Signer{key: pub}, nil
}

// TrustedSigner wraps an identity the host authenticated by other means.
func TrustedSigner(pub solana.PublicKey) Signer {
	return Signer{key: pub}
}

func (s Signer) PublicKey() solana.PublicKey {
	return s.key
}

func (s Signer) String() string {
	return s.key.String()
}

// authorize fails unless s is one of the allowed authorities.
func (s Signer) authorize(allowed ...solana.PublicKey) error {
	if s.key.IsZero() {
		return fmt.Errorf("%w: missing signer", state.ErrUnauthorizedAuthority)
	}
	for _, a := range allowed {
		if s.key == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", state.ErrUnauthorizedAuthority, s.key)
}
