package cipher

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestChaChaRoundTrip(t *testing.T) {
	c := NewChaCha()
	var sendKey, recvKey [32]byte
	rand.Read(sendKey[:])
	rand.Read(recvKey[:])
	if err := c.InstallKeys(sendKey, recvKey); err != nil {
		t.Fatalf("InstallKeys: %v", err)
	}

	aad := [16]byte{0x03, 0x00, 1, 2, 3, 4, 5, 6}
	plaintext := []byte("state diff payload")

	ciphertext, err := c.Seal(42, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// A peer using our sendKey as its recvKey should decrypt cleanly.
	peer := NewChaCha()
	if err := peer.InstallKeys(recvKey, sendKey); err != nil {
		t.Fatalf("peer InstallKeys: %v", err)
	}
	decrypted, err := peer.Open(42, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestChaChaTamperedAADRejected(t *testing.T) {
	c := NewChaCha()
	var key [32]byte
	rand.Read(key[:])
	c.InstallKeys(key, key)

	aad := [16]byte{1}
	ciphertext, _ := c.Seal(1, aad, []byte("hello"))

	tamperedAAD := [16]byte{2}
	if _, err := c.Open(1, tamperedAAD, ciphertext); err != ErrAuthFailed {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
}

func TestChaChaTamperedCiphertextRejected(t *testing.T) {
	c := NewChaCha()
	var key [32]byte
	rand.Read(key[:])
	c.InstallKeys(key, key)

	aad := [16]byte{1}
	ciphertext, _ := c.Seal(1, aad, []byte("hello"))
	ciphertext[0] ^= 0xFF

	if _, err := c.Open(1, aad, ciphertext); err != ErrAuthFailed {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
}

func TestChaChaWrongNonceRejected(t *testing.T) {
	c := NewChaCha()
	var key [32]byte
	rand.Read(key[:])
	c.InstallKeys(key, key)

	aad := [16]byte{1}
	ciphertext, _ := c.Seal(1, aad, []byte("hello"))
	if _, err := c.Open(2, aad, ciphertext); err != ErrAuthFailed {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
}

func TestChaChaNoKeysInstalled(t *testing.T) {
	c := NewChaCha()
	if _, err := c.Seal(0, [16]byte{}, []byte("x")); err == nil {
		t.Fatal("Seal without installed keys should error")
	}
	if _, err := c.Open(0, [16]byte{}, []byte("x")); err != ErrAuthFailed {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
}

func TestChaChaRekeyResetsState(t *testing.T) {
	c := NewChaCha()
	var key1, key2 [32]byte
	rand.Read(key1[:])
	rand.Read(key2[:])
	c.InstallKeys(key1, key1)

	aad := [16]byte{1}
	ciphertext, _ := c.Seal(1, aad, []byte("hello"))

	c.InstallKeys(key2, key2)
	if _, err := c.Open(1, aad, ciphertext); err != ErrAuthFailed {
		t.Fatal("ciphertext sealed under the old key should not decrypt under the new one")
	}
}
