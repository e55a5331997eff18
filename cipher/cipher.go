// Package cipher defines the transport's downward interface to the
// external AEAD and handshake collaborators of 2-TRANSPORT.md §6, plus
// a concrete chacha20poly1305 adapter.
package cipher

import "errors"

// ErrAuthFailed is returned by AEAD.Open when the ciphertext does not
// authenticate against the associated data and key.
var ErrAuthFailed = errors.New("cipher: authentication failed")

// AEAD is the transport's view of the encryption primitive installed
// by the handshake layer. Implementations must be infallible for Seal
// once keys are installed: the transport never expects a Seal error
// for a valid nonce/plaintext pair.
type AEAD interface {
	// Seal encrypts plaintext and authenticates it together with aad,
	// returning ciphertext||tag.
	Seal(nonce uint64, aad [16]byte, plaintext []byte) ([]byte, error)
	// Open authenticates aad against ciphertext and, on success,
	// returns the decrypted plaintext. Returns ErrAuthFailed on any
	// authentication failure; callers must treat that as a silent
	// drop, never distinguishing it from other parse failures.
	Open(nonce uint64, aad [16]byte, ciphertext []byte) ([]byte, error)
}

// KeyInstaller is implemented by an AEAD that can have its keys
// (re)installed by the handshake component. InstallKeys is called
// once on transition to Established, and again on every rekey; each
// call atomically replaces both directions' keys.
type KeyInstaller interface {
	InstallKeys(sendKey, recvKey [32]byte) error
}

// Handshaker is the transport's narrow view of the Noise_IK handshake
// state machine, entirely out of scope for this package: the
// transport only drives it forward with inbound handshake datagrams
// and forwards whatever it produces.
type Handshaker interface {
	// Advance feeds one inbound handshake datagram (empty on the
	// initiator's first call) and returns the next datagram to send,
	// if any, and whether the handshake has completed.
	Advance(datagram []byte) (response []byte, done bool, err error)
}
