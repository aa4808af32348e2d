// Package cryptox implements the SecureChat encryption engine: the
// asymmetric box transform used for end-to-end messages, the degraded
// symmetric fallback, and the password-based sealing of private keys
// at rest. All functions are stateless.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/securechat-dev/securechat/internal/common"
)

const (
	// KeySize is the length of Curve25519 public and private keys.
	KeySize = 32

	// NonceSize is the box/secretbox nonce length. Every envelope starts
	// with a fresh nonce of this size.
	NonceSize = 24

	saltSize     = 16
	gcmNonceSize = 12
)

// fallbackPassphrase is the published constant the shared fallback key is
// derived from. Messages sealed under it are confidential against passive
// network observers only; anyone who can read this source can decrypt them.
const fallbackPassphrase = "secret-key"

var fallbackKey = sha256.Sum256([]byte(fallbackPassphrase))

// KeyPair is a Curve25519 box key pair. The private key must never be
// persisted in cleartext; see EncryptPrivateKey.
type KeyPair struct {
	Public  *[KeySize]byte
	Private *[KeySize]byte
}

// GenerateKeyPair produces a fresh box key pair from the system CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// KeyFromBytes copies a raw 32-byte key into the fixed-size form the box
// primitives expect.
func KeyFromBytes(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("bad key length %d: %w", len(b), common.ErrKeyUnavailable)
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}

// Seal encrypts plaintext to the recipient using the asymmetric box
// transform and returns the transport envelope: base64(nonce || ciphertext).
// A fresh random nonce is drawn on every call; callers cannot supply one.
func Seal(plaintext []byte, recipientPub, senderPriv *[KeySize]byte) (string, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("drawing nonce: %w", err)
	}

	sealed := box.Seal(nonce[:], plaintext, &nonce, recipientPub, senderPriv)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It splits the envelope at the fixed nonce length,
// authenticates and decrypts. On any failure it returns
// common.ErrDecryptionFailed and no partial plaintext.
func Open(envelope string, senderPub, recipientPriv *[KeySize]byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", common.ErrDecryptionFailed)
	}
	if len(raw) < NonceSize {
		return nil, fmt.Errorf("envelope too short: %w", common.ErrDecryptionFailed)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])

	plaintext, ok := box.Open(nil, raw[NonceSize:], &nonce, senderPub, recipientPriv)
	if !ok {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}

// FallbackSeal encrypts plaintext under the fixed shared key. Degraded mode:
// use only when asymmetric material for the peer is unavailable.
func FallbackSeal(plaintext []byte) (string, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("drawing nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &fallbackKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// FallbackOpen reverses FallbackSeal.
func FallbackOpen(envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", common.ErrDecryptionFailed)
	}
	if len(raw) < NonceSize {
		return nil, fmt.Errorf("envelope too short: %w", common.ErrDecryptionFailed)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])

	plaintext, ok := secretbox.Open(nil, raw[NonceSize:], &nonce, &fallbackKey)
	if !ok {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}

// DeriveMasterKey stretches a password into a 32-byte key with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// keyBlob is the at-rest JSON structure holding a password-sealed private key.
type keyBlob struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// EncryptPrivateKey seals a private key under a password-derived key using
// AES-256-GCM and returns an opaque blob suitable for durable storage.
func EncryptPrivateKey(priv *[KeySize]byte, password []byte) ([]byte, error) {
	salt := common.GenerateRandByteArray(saltSize)
	key := DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(gcmNonceSize)
	ciphertext := aesgcm.Seal(nil, nonce, priv[:], nil)

	return json.Marshal(keyBlob{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
}

// DecryptPrivateKey opens a blob produced by EncryptPrivateKey. A wrong
// password fails GCM authentication and surfaces as
// common.ErrInvalidCredential, indistinguishable from a missing account.
func DecryptPrivateKey(blob []byte, password []byte) (*[KeySize]byte, error) {
	var b keyBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return nil, fmt.Errorf("parsing key blob: %w", common.ErrInvalidCredential)
	}
	if len(b.Nonce) != gcmNonceSize || len(b.Salt) == 0 || len(b.Ciphertext) == 0 {
		return nil, fmt.Errorf("malformed key blob: %w", common.ErrInvalidCredential)
	}

	key := DeriveMasterKey(password, b.Salt)
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, b.Nonce, b.Ciphertext, nil)
	if err != nil {
		return nil, common.ErrInvalidCredential
	}
	defer common.WipeByteArray(plaintext)

	return KeyFromBytes(plaintext)
}
