package main

import "github.com/bridgefall/nomad/cipher"

// chachaTestVector seals a fixed plaintext under key (used for both
// directions) at nonce 0 so an operator can sanity-check a Go or
// third-party chacha20poly1305 implementation against this adapter
// offline, without ever exchanging a real session key over the wire.
func chachaTestVector(key [32]byte) ([]byte, error) {
	c := cipher.NewChaCha()
	if err := c.InstallKeys(key, key); err != nil {
		return nil, err
	}
	var aad [16]byte
	copy(aad[:], []byte("nomadctl-keygen"))
	return c.Seal(0, aad, []byte("nomad test vector"))
}
