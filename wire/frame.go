// Package wire implements the NOMAD data-frame codec: the fixed
// byte layouts of 2-TRANSPORT.md §3, built as associated data for an
// external AEAD and decoded without ever panicking on adversarial input.
package wire

import (
	"encoding/binary"
	"errors"
)

// FrameType identifies the one-byte tag at offset 0 of every frame.
type FrameType byte

const (
	HandshakeInit FrameType = 0x00
	HandshakeResp FrameType = 0x01
	Data          FrameType = 0x03
	Close         FrameType = 0x04
)

func (t FrameType) String() string {
	switch t {
	case HandshakeInit:
		return "HandshakeInit"
	case HandshakeResp:
		return "HandshakeResp"
	case Data:
		return "Data"
	case Close:
		return "Close"
	default:
		return "Unknown"
	}
}

const (
	// SessionIDSize is the length in bytes of a session identifier.
	SessionIDSize = 6
	// NonceSize is the length in bytes of the wire nonce counter.
	NonceSize = 8
	// DataHeaderSize is the length of the unencrypted data-frame header,
	// which doubles as the AEAD associated data.
	DataHeaderSize = 1 + 1 + SessionIDSize + NonceSize
	// PayloadHeaderSize is the length of the fixed header inside the
	// decrypted plaintext.
	PayloadHeaderSize = 8 + 8 + 4
	// DefaultMaxPayload is the default MTU-derived payload budget.
	DefaultMaxPayload = 1200

	// FlagClose marks a data-frame header as carrying a close intent.
	FlagClose byte = 0x01
)

// ErrTooShort is returned when a decoder is given fewer bytes than its
// fixed layout requires.
var ErrTooShort = errors.New("wire: frame too short")

// ErrBadFrameType is returned when the type byte does not match any
// frame type handled by this codec.
var ErrBadFrameType = errors.New("wire: unrecognized frame type")

// ErrLengthMismatch is returned when a decoded payload_length field does
// not equal the number of bytes actually remaining after the header.
var ErrLengthMismatch = errors.New("wire: payload length mismatch")

// ErrBadCloseReason is returned when a close-reason byte does not match
// any entry in the closed CloseReason enumeration.
var ErrBadCloseReason = errors.New("wire: unrecognized close reason")

// SessionID is the opaque 6-byte value assigned by the server during
// handshake and echoed by the client in every data frame thereafter.
type SessionID [SessionIDSize]byte

// DataHeader is the decoded form of the 16-byte unencrypted prefix of a
// data or close frame.
type DataHeader struct {
	Type      FrameType
	Flags     byte
	SessionID SessionID
	Nonce     uint64
}

// EncodeDataHeader produces the bit-exact 16-byte header for a Data
// frame with the given flags, session id, and nonce.
func EncodeDataHeader(flags byte, session SessionID, nonce uint64) [DataHeaderSize]byte {
	return encodeHeader(Data, flags, session, nonce)
}

// EncodeClose produces the 16-byte header for a Close frame carrying
// the given nonce; the reserved close flag bit is always set.
func EncodeClose(session SessionID, nonce uint64) [DataHeaderSize]byte {
	return encodeHeader(Close, FlagClose, session, nonce)
}

func encodeHeader(typ FrameType, flags byte, session SessionID, nonce uint64) [DataHeaderSize]byte {
	var out [DataHeaderSize]byte
	out[0] = byte(typ)
	out[1] = flags
	copy(out[2:2+SessionIDSize], session[:])
	binary.BigEndian.PutUint64(out[2+SessionIDSize:], nonce)
	return out
}

// DecodeDataHeader parses the 16-byte header of a Data or Close frame.
// It never panics: any input shorter than DataHeaderSize yields
// ErrTooShort, and any type byte other than Data or Close yields
// ErrBadFrameType.
func DecodeDataHeader(b []byte) (DataHeader, error) {
	if len(b) < DataHeaderSize {
		return DataHeader{}, ErrTooShort
	}
	typ := FrameType(b[0])
	if typ != Data && typ != Close {
		return DataHeader{}, ErrBadFrameType
	}
	var h DataHeader
	h.Type = typ
	h.Flags = b[1]
	copy(h.SessionID[:], b[2:2+SessionIDSize])
	h.Nonce = binary.BigEndian.Uint64(b[2+SessionIDSize : DataHeaderSize])
	return h, nil
}

// BuildAAD returns the 16-byte associated-data input to AEAD for a
// header. It is an identity over the header bytes, kept as a named
// function so callers never confuse "bytes to authenticate" with
// "bytes to encrypt".
func BuildAAD(header [DataHeaderSize]byte) [DataHeaderSize]byte {
	return header
}

// PayloadHeader is the fixed header carried inside the AEAD plaintext.
type PayloadHeader struct {
	SendTimestamp uint64 // microseconds, monotonic-clock epoch
	EchoTimestamp uint64 // 0 if the peer has not yet observed one of ours
	PayloadLength uint32
}

// EncodePayloadHeader serializes a PayloadHeader to its fixed 20-byte
// wire form.
func EncodePayloadHeader(h PayloadHeader) [PayloadHeaderSize]byte {
	var out [PayloadHeaderSize]byte
	binary.BigEndian.PutUint64(out[0:8], h.SendTimestamp)
	binary.BigEndian.PutUint64(out[8:16], h.EchoTimestamp)
	binary.BigEndian.PutUint32(out[16:20], h.PayloadLength)
	return out
}

// DecodePayloadHeader parses a 20-byte payload header and validates
// that PayloadLength equals the number of bytes remaining in the
// supplied slice after the header. A mismatch is reported as
// ErrLengthMismatch rather than silently trusting the header.
func DecodePayloadHeader(b []byte) (PayloadHeader, []byte, error) {
	if len(b) < PayloadHeaderSize {
		return PayloadHeader{}, nil, ErrTooShort
	}
	h := PayloadHeader{
		SendTimestamp: binary.BigEndian.Uint64(b[0:8]),
		EchoTimestamp: binary.BigEndian.Uint64(b[8:16]),
		PayloadLength: binary.BigEndian.Uint32(b[16:20]),
	}
	rest := b[PayloadHeaderSize:]
	if uint32(len(rest)) != h.PayloadLength {
		return PayloadHeader{}, nil, ErrLengthMismatch
	}
	return h, rest, nil
}
