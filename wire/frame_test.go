package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDataHeaderVector(t *testing.T) {
	// S1 — codec round-trip from 2-TRANSPORT.md §8.
	session := SessionID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	got := EncodeDataHeader(0x00, session, 0x00000000000000FF)

	want := []byte{
		0x03, 0x00,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF,
	}
	if !bytes.Equal(got[:], want) {
		t.Fatalf("got %x, want %x", got, want)
	}

	h, err := DecodeDataHeader(got[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Type != Data || h.Flags != 0x00 || h.SessionID != session || h.Nonce != 0xFF {
		t.Fatalf("decoded header mismatch: %+v", h)
	}
}

func TestDataHeaderRoundTrip(t *testing.T) {
	session := SessionID{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for _, nonce := range []uint64{0, 1, 0xFFFFFFFFFFFFFFFF, 0x123456789ABCDEF0} {
		h := EncodeDataHeader(0x00, session, nonce)
		decoded, err := DecodeDataHeader(h[:])
		if err != nil {
			t.Fatalf("nonce %d: decode: %v", nonce, err)
		}
		if decoded.Nonce != nonce || decoded.SessionID != session {
			t.Fatalf("nonce %d: round trip mismatch: %+v", nonce, decoded)
		}
	}
}

func TestDecodeDataHeaderTruncation(t *testing.T) {
	full := EncodeDataHeader(0, SessionID{1, 2, 3, 4, 5, 6}, 42)
	for n := 0; n < DataHeaderSize; n++ {
		if _, err := DecodeDataHeader(full[:n]); err != ErrTooShort {
			t.Fatalf("prefix len %d: got %v, want ErrTooShort", n, err)
		}
	}
}

func TestDecodeDataHeaderBadType(t *testing.T) {
	full := EncodeDataHeader(0, SessionID{}, 0)
	full[0] = 0x02 // HandshakeResp-adjacent but not Data/Close
	if _, err := DecodeDataHeader(full[:]); err != ErrBadFrameType {
		t.Fatalf("got %v, want ErrBadFrameType", err)
	}
}

func TestEncodeCloseHeader(t *testing.T) {
	session := SessionID{1, 2, 3, 4, 5, 6}
	h := EncodeClose(session, 7)
	decoded, err := DecodeDataHeader(h[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != Close || decoded.Flags != FlagClose {
		t.Fatalf("close header mismatch: %+v", decoded)
	}
}

func TestPayloadHeaderRoundTrip(t *testing.T) {
	payload := []byte("hello nomad")
	h := PayloadHeader{SendTimestamp: 111, EchoTimestamp: 222, PayloadLength: uint32(len(payload))}
	encoded := EncodePayloadHeader(h)

	full := append(encoded[:], payload...)
	decoded, rest, err := DecodePayloadHeader(full)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != h {
		t.Fatalf("header mismatch: got %+v, want %+v", decoded, h)
	}
	if !bytes.Equal(rest, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", rest, payload)
	}
}

func TestPayloadHeaderLengthMismatch(t *testing.T) {
	h := PayloadHeader{SendTimestamp: 1, EchoTimestamp: 2, PayloadLength: 100}
	encoded := EncodePayloadHeader(h)
	full := append(encoded[:], []byte("short")...)
	if _, _, err := DecodePayloadHeader(full); err != ErrLengthMismatch {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}
}

func TestPayloadHeaderTruncation(t *testing.T) {
	if _, _, err := DecodePayloadHeader(make([]byte, PayloadHeaderSize-1)); err != ErrTooShort {
		t.Fatalf("got %v, want ErrTooShort", err)
	}
}

func TestCloseReasonRoundTrip(t *testing.T) {
	for _, r := range []CloseReason{PeerClose, ProtocolViolation, PeerUnreachable, LocalShutdown} {
		b := EncodeCloseReason(r)
		decoded, err := DecodeCloseReason(b)
		if err != nil {
			t.Fatalf("reason %v: %v", r, err)
		}
		if decoded != r {
			t.Fatalf("got %v, want %v", decoded, r)
		}
	}
}

func TestCloseReasonUnknown(t *testing.T) {
	if _, err := DecodeCloseReason(0xFF); err != ErrBadCloseReason {
		t.Fatalf("got %v, want ErrBadCloseReason", err)
	}
}
