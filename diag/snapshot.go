// Package diag implements the CBOR-encoded diagnostics snapshot of
// 2-TRANSPORT.md §4.14: an operator-facing dump of a connection's
// RTT, migration, and phase state for `nomadctl inspect` and
// structured debug logging attachments. It never travels over the
// NOMAD UDP socket — this is the one place a wire-adjacent format
// other than the protocol's own framing appears, and it is local
// tooling only.
package diag

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bridgefall/nomad/transport"
	"github.com/bridgefall/nomad/wire"
)

// Version is the snapshot format version, bumped whenever a field is
// added or reinterpreted.
const Version = 1

// Snapshot is the CBOR-encoded connection state dump named in
// SPEC_FULL.md §4.14.
type Snapshot struct {
	Version        int            `cbor:"0,keyasint"`
	SessionID      wire.SessionID `cbor:"1,keyasint"`
	Phase          string         `cbor:"2,keyasint"`
	SRTT           time.Duration `cbor:"3,keyasint"`
	RTTVar         time.Duration `cbor:"4,keyasint"`
	RTO            time.Duration `cbor:"5,keyasint"`
	BackoffCount   int           `cbor:"6,keyasint"`
	ValidatedAddr  string        `cbor:"7,keyasint"`
	PendingAddr    string        `cbor:"8,keyasint"`
	HasPendingAddr bool          `cbor:"9,keyasint"`
	BytesToPending uint64        `cbor:"10,keyasint"`
	SendNonce      uint64        `cbor:"11,keyasint"`
	RecvHighest    uint64        `cbor:"12,keyasint"`
}

// FromConnection builds a Snapshot from a live connection's current
// state, via the narrow set of values transport.Connection exposes
// for diagnostics.
func FromConnection(c *transport.Connection) Snapshot {
	srtt, rttvar, rto, backoffCount, validatedAddr, pendingAddr, havePending, bytesToPending, sendNonce, recvHighest := c.Diagnostics()

	s := Snapshot{
		Version:        Version,
		SessionID:      c.SessionID(),
		Phase:          c.Phase().String(),
		SRTT:           srtt,
		RTTVar:         rttvar,
		RTO:            rto,
		BackoffCount:   backoffCount,
		ValidatedAddr:  validatedAddr.String(),
		HasPendingAddr: havePending,
		BytesToPending: bytesToPending,
		SendNonce:      sendNonce,
		RecvHighest:    recvHighest,
	}
	if havePending {
		s.PendingAddr = pendingAddr.String()
	}
	return s
}

// Encode serializes a Snapshot to deterministic CBOR bytes, matching
// the canonical encoding the teacher's profile codec uses so
// snapshots compare byte-for-byte across runs with identical state.
func Encode(s Snapshot) ([]byte, error) {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(s)
}

// Decode parses CBOR bytes into a Snapshot and rejects any version
// other than the one this package currently produces.
func Decode(data []byte) (Snapshot, error) {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := mode.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	if s.Version != Version {
		return Snapshot{}, fmt.Errorf("diag: unsupported snapshot version %d", s.Version)
	}
	return s, nil
}

// ParseAddr is a small helper for callers reconstructing a
// netip.AddrPort from a decoded Snapshot's string fields; an empty
// string yields the zero AddrPort.
func ParseAddr(s string) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPort{}, nil
	}
	return netip.ParseAddrPort(s)
}
