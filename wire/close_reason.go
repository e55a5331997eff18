package wire

import "fmt"

// CloseReason is the closed enumeration of reasons a connection can
// close, pinned to a single wire byte carried as the payload that
// follows the payload header in a Close frame's plaintext
// (SPEC_FULL.md §3 Expansion).
type CloseReason byte

const (
	PeerClose         CloseReason = 0x00
	ProtocolViolation CloseReason = 0x01
	PeerUnreachable   CloseReason = 0x02
	LocalShutdown     CloseReason = 0x03
)

func (r CloseReason) String() string {
	switch r {
	case PeerClose:
		return "PeerClose"
	case ProtocolViolation:
		return "ProtocolViolation"
	case PeerUnreachable:
		return "PeerUnreachable"
	case LocalShutdown:
		return "LocalShutdown"
	default:
		return fmt.Sprintf("CloseReason(0x%02x)", byte(r))
	}
}

// EncodeCloseReason returns the single-byte wire encoding of a reason.
func EncodeCloseReason(r CloseReason) byte {
	return byte(r)
}

// DecodeCloseReason parses a close-reason byte. An unrecognized value
// is a Protocol error (ErrBadCloseReason), never a panic.
func DecodeCloseReason(b byte) (CloseReason, error) {
	switch CloseReason(b) {
	case PeerClose, ProtocolViolation, PeerUnreachable, LocalShutdown:
		return CloseReason(b), nil
	default:
		return 0, ErrBadCloseReason
	}
}
