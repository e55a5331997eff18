// Package migration implements the connection migration controller of
// 2-TRANSPORT.md §4.8: validating new remote addresses, throttling
// amplification toward unvalidated ones, and rate-limiting migrations
// across subnets.
package migration

import (
	"net/netip"
	"time"
)

// AmplificationFactor bounds how many bytes may be sent toward a
// pending (not yet promoted) address relative to bytes received from
// it, preventing NOMAD from being abused as a reflection amplifier.
const AmplificationFactor = 3

// RateLimitWindow is how long after a promotion a migration from the
// same subnet (IPv4 /24, IPv6 /48) as that promotion is rejected;
// migrations from other subnets are not limited.
const RateLimitWindow = time.Second

// Controller tracks the validated and pending remote addresses for
// one connection, grounded on the original implementation's
// AddressState/subnet_key bookkeeping but reshaped around the
// pending-then-promote flow: a new source address is not trusted
// until a second authenticated frame confirms the peer actually
// received a reply there.
//
// Not safe for concurrent use.
type Controller struct {
	validatedAddr netip.AddrPort

	havePending      bool
	pendingAddr      netip.AddrPort
	bytesToPending   uint64
	bytesFromPending uint64

	haveLastMigration   bool
	lastMigrationAt     time.Time
	lastMigrationSubnet subnetKey
}

// NewController returns a controller whose anchor is pre-validated at
// initial, the address a connection was established with.
func NewController(initial netip.AddrPort) *Controller {
	return &Controller{validatedAddr: initial}
}

// ValidatedAddr returns the current validated remote address frames
// should be sent to.
func (c *Controller) ValidatedAddr() netip.AddrPort {
	return c.validatedAddr
}

// PendingAddr returns the address under validation and whether one
// exists.
func (c *Controller) PendingAddr() (netip.AddrPort, bool) {
	return c.pendingAddr, c.havePending
}

// BytesToPending returns the anti-amplification byte counter tracked
// against the pending address, for diagnostics. Zero if there is no
// pending address.
func (c *Controller) BytesToPending() uint64 {
	return c.bytesToPending
}

// OnAuthenticatedFrame updates migration state after a frame from
// source has passed AEAD decryption, following 2-TRANSPORT.md §4.8
// steps 1-4. payloadLen is the decrypted payload size in bytes, used
// for anti-amplification accounting. Returns true if the frame's
// source was accepted as the (possibly newly promoted) validated
// address or a pending candidate being tracked; false only means the
// migration was rejected by the rate limiter — the caller still
// delivers the payload upward regardless.
func (c *Controller) OnAuthenticatedFrame(now time.Time, source netip.AddrPort, payloadLen int) bool {
	if source == c.validatedAddr {
		return true
	}

	if c.havePending && source == c.pendingAddr {
		c.bytesFromPending += uint64(payloadLen)
		c.promote(now)
		return true
	}

	subnet := subnetOf(source)
	if c.haveLastMigration && now.Sub(c.lastMigrationAt) < RateLimitWindow && subnet == c.lastMigrationSubnet {
		return false
	}

	c.havePending = true
	c.pendingAddr = source
	c.bytesToPending = 0
	c.bytesFromPending = uint64(payloadLen)
	return true
}

func (c *Controller) promote(now time.Time) {
	c.validatedAddr = c.pendingAddr
	c.havePending = false
	c.bytesToPending = 0
	c.lastMigrationAt = now
	c.haveLastMigration = true
	c.lastMigrationSubnet = subnetOf(c.validatedAddr)
}

// CanSend reports whether n more bytes may be sent toward dest given
// the anti-amplification cap. The validated address is always
// unrestricted; a pending address is capped at
// AmplificationFactor x bytes received from it so far; any other
// address (not validated, not pending) cannot be sent to at all.
func (c *Controller) CanSend(dest netip.AddrPort, n int) bool {
	if dest == c.validatedAddr {
		return true
	}
	if c.havePending && dest == c.pendingAddr {
		allowed := c.bytesFromPending * AmplificationFactor
		return c.bytesToPending+uint64(n) <= allowed
	}
	return false
}

// OnSend records n bytes sent toward dest, for anti-amplification
// accounting against a pending address. A no-op for the validated
// address, which is unmetered.
func (c *Controller) OnSend(dest netip.AddrPort, n int) {
	if c.havePending && dest == c.pendingAddr {
		c.bytesToPending += uint64(n)
	}
}

// subnetKey is a fixed-size comparable value so it can be used as a
// map key or compared with ==: 3 bytes for an IPv4 /24, 6 bytes for
// an IPv6 /48, zero-padded.
type subnetKey struct {
	bytes [6]byte
	is6   bool
}

func subnetOf(addr netip.AddrPort) subnetKey {
	ip := addr.Addr()
	if ip.Is4() || ip.Is4In6() {
		b := ip.As4()
		var k subnetKey
		copy(k.bytes[:3], b[:3])
		return k
	}
	b := ip.As16()
	var k subnetKey
	copy(k.bytes[:6], b[:6]) // first 48 bits
	k.is6 = true
	return k
}
