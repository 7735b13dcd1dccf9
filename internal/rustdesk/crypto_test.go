package rustdesk

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

func TestEncryptDecryptMessageRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x07}, 32))

	plaintext := []byte("hello rustdesk")
	ciphertext := EncryptMessage(key, 1, plaintext)

	got, err := DecryptMessage(key, 1, ciphertext)
	if err != nil {
		t.Fatalf("DecryptMessage: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestDecryptMessageFailsWithWrongCounter(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x09}, 32))

	ciphertext := EncryptMessage(key, 5, []byte("payload"))
	if _, err := DecryptMessage(key, 6, ciphertext); err == nil {
		t.Fatal("expected decryption to fail with mismatched counter")
	}
}

func TestDecryptSymmetricKeyRoundTrip(t *testing.T) {
	responderPub, responderPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate responder key: %v", err)
	}
	_ = responderPub

	ephemeral, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	var symmetricKey [32]byte
	copy(symmetricKey[:], bytes.Repeat([]byte{0x42}, 32))

	var zeroNonce [24]byte
	sealed := box.Seal(nil, symmetricKey[:], &zeroNonce, &ephemeral.Public, responderPriv)

	got, err := DecryptSymmetricKey(*responderPub, sealed, ephemeral.Private)
	if err != nil {
		t.Fatalf("DecryptSymmetricKey: %v", err)
	}
	if !bytes.Equal(got[:], symmetricKey[:]) {
		t.Fatalf("got %x, want %x", got[:], symmetricKey[:])
	}
}

func TestSignVerifiesAgainstPublicKey(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}

	message := []byte("device-id-and-public-key")
	signed := kp.Sign(message)

	if len(signed) != 64+len(message) {
		t.Fatalf("signed length = %d, want %d", len(signed), 64+len(message))
	}
	if !bytes.Equal(signed[64:], message) {
		t.Fatal("payload after signature does not match original message")
	}
	if !ed25519.Verify(kp.Public, message, signed[:64]) {
		t.Fatal("signature does not verify against the public key")
	}
}

func TestVerifyPasswordDoubleAcceptsMatchingPassword(t *testing.T) {
	received := HashPasswordDouble("hunter2", "salt-value", "challenge-value")
	if !VerifyPasswordDouble("hunter2", "salt-value", "challenge-value", received) {
		t.Fatal("expected matching password to verify")
	}
}

func TestVerifyPasswordDoubleRejectsWrongPassword(t *testing.T) {
	received := HashPasswordDouble("hunter2", "salt-value", "challenge-value")
	if VerifyPasswordDouble("wrong", "salt-value", "challenge-value", received) {
		t.Fatal("expected mismatched password to fail verification")
	}
}

func TestVerifyPasswordDoubleRejectsWrongSalt(t *testing.T) {
	received := HashPasswordDouble("hunter2", "salt-value", "challenge-value")
	if VerifyPasswordDouble("hunter2", "different-salt", "challenge-value", received) {
		t.Fatal("expected mismatched salt to fail verification")
	}
}
