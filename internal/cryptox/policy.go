package cryptox

import (
	"errors"

	"github.com/securechat-dev/securechat/internal/common"
)

// Path identifies which scheme produced or opened an envelope. Both send and
// receive flows go through the two policy functions below so that every call
// site reports the same tagged result and degraded-mode use is auditable.
type Path string

const (
	// PathBox is the full end-to-end asymmetric scheme.
	PathBox Path = "box"

	// PathFallback is the shared-key symmetric scheme. Confidential against
	// passive observers only.
	PathFallback Path = "fallback"
)

// SealFor applies the selection policy on the send side: use the box
// transform whenever both the local private key and the peer's public key
// are known, otherwise (or if sealing fails) degrade to the fallback.
// The returned Path tells the caller which scheme was used; callers must
// surface PathFallback as a security-relevant event.
func SealFor(plaintext []byte, peerPub, ownPriv *[KeySize]byte) (string, Path, error) {
	if peerPub != nil && ownPriv != nil {
		envelope, err := Seal(plaintext, peerPub, ownPriv)
		if err == nil {
			return envelope, PathBox, nil
		}
	}

	envelope, err := FallbackSeal(plaintext)
	if err != nil {
		return "", PathFallback, err
	}
	return envelope, PathFallback, nil
}

// OpenFrom applies the selection policy on the receive side: try the box
// transform if key material is available, then the fallback. Failure of both
// yields common.ErrDecryptionFailed.
func OpenFrom(envelope string, peerPub, ownPriv *[KeySize]byte) ([]byte, Path, error) {
	if peerPub != nil && ownPriv != nil {
		plaintext, err := Open(envelope, peerPub, ownPriv)
		if err == nil {
			return plaintext, PathBox, nil
		}
		if !errors.Is(err, common.ErrDecryptionFailed) {
			return nil, PathBox, err
		}
	}

	plaintext, err := FallbackOpen(envelope)
	if err != nil {
		return nil, PathFallback, err
	}
	return plaintext, PathFallback, nil
}
