// Package rustdesk implements the client-facing side of the RustDesk
// protocol: NaCl handshake, session encryption, rendezvous registration,
// and video/audio/HID adaptation against an external coordinator.
// Grounded directly on original_source/src/rustdesk/crypto.rs, which
// wraps the same primitive family (sodiumoxide ⇒ NaCl); this is the
// faithful same-primitive translation onto golang.org/x/crypto/nacl.
package rustdesk

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeyPair is a Curve25519 pair generated fresh per connection.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Curve25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("rustdesk: generate keypair: %w", err)
	}
	return KeyPair{Public: *pub, Private: *priv}, nil
}

// SigningKeyPair is the long-lived Ed25519 identity pair.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigningKeyPair creates a new random Ed25519 identity keypair.
func GenerateSigningKeyPair() (SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("rustdesk: generate signing keypair: %w", err)
	}
	return SigningKeyPair{Public: pub, Private: priv}, nil
}

// Sign prepends a 64-byte Ed25519 signature to message, matching the
// RustDesk SignedId wire layout (signature ++ payload).
func (k SigningKeyPair) Sign(message []byte) []byte {
	sig := ed25519.Sign(k.Private, message)
	out := make([]byte, 0, len(sig)+len(message))
	out = append(out, sig...)
	out = append(out, message...)
	return out
}

// DecryptSymmetricKey recovers the 32-byte session key the peer sealed
// with a zero nonce against our temporary Curve25519 key, per step 2 of
// the handshake.
func DecryptSymmetricKey(theirPub [32]byte, sealed []byte, ourPriv [32]byte) (*[32]byte, error) {
	var nonce [24]byte // zero nonce, per protocol
	out, ok := box.Open(nil, sealed, &nonce, &theirPub, &ourPriv)
	if !ok || len(out) != 32 {
		return nil, fmt.Errorf("rustdesk: symmetric key decryption failed")
	}
	var key [32]byte
	copy(key[:], out)
	return &key, nil
}

// EncryptMessage seals plaintext with key using a nonce derived from
// counter: little-endian, zero-padded to 24 bytes. The caller is
// responsible for incrementing counter before calling.
func EncryptMessage(key [32]byte, counter uint64, plaintext []byte) []byte {
	var nonce [24]byte
	putUint64LE(nonce[:8], counter)
	return secretbox.Seal(nil, plaintext, &nonce, &key)
}

// DecryptMessage opens ciphertext with key and the same counter-derived
// nonce scheme as EncryptMessage.
func DecryptMessage(key [32]byte, counter uint64, ciphertext []byte) ([]byte, error) {
	var nonce [24]byte
	putUint64LE(nonce[:8], counter)
	out, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("rustdesk: message decryption failed")
	}
	return out, nil
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// HashPasswordDouble computes SHA256(SHA256(password||salt)||challenge),
// matching the client-side double hash the LoginRequest carries.
func HashPasswordDouble(password, salt, challenge string) []byte {
	first := sha256.Sum256(append([]byte(password), []byte(salt)...))
	second := sha256.Sum256(append(first[:], []byte(challenge)...))
	return second[:]
}

// VerifyPasswordDouble constant-time compares a received double hash
// against the expected one for (password, salt, challenge).
func VerifyPasswordDouble(password, salt, challenge string, received []byte) bool {
	expected := HashPasswordDouble(password, salt, challenge)
	return subtle.ConstantTimeCompare(expected, received) == 1
}

