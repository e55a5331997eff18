package transport

import (
	"errors"
	"math"
	"net/netip"
	"time"

	"github.com/bridgefall/nomad/pacing"
	"github.com/bridgefall/nomad/replay"
	"github.com/bridgefall/nomad/wire"
)

// errNonceExhausted is returned by allocateNonce once sendNonce has
// reached math.MaxUint64: reusing it would mean reusing an AEAD nonce,
// so the connection is closed instead of wrapping silently, per §3's
// nonce-wraparound invariant and §7's Protocol-error table.
var errNonceExhausted = errors.New("transport: send nonce exhausted")

// HandleDatagram runs the inbound pipeline of 2-TRANSPORT.md §4.5 for
// one UDP datagram already known to belong to this connection's
// session: frame decode, nonce-window check, AEAD decrypt, migration
// update, payload-header decode, and RTT sampling. Any failure in
// the first three stages is a silent drop recorded in Metrics; a
// failure decoding the payload header after successful AEAD is
// authenticated-malformed-input and is fatal for the connection.
func (c *Connection) HandleDatagram(now time.Time, from netip.AddrPort, datagram []byte) {
	if c.phase != Established && c.phase != Closing {
		return
	}

	header, err := wire.DecodeDataHeader(datagram)
	if err != nil {
		c.metrics.DropTooShort.Add(1)
		return
	}

	verdict := c.recvWindow.CheckAndUpdate(header.Nonce)
	if verdict != replay.Ok {
		c.metrics.DropReplay.Add(1)
		return
	}

	var aad [wire.DataHeaderSize]byte
	copy(aad[:], datagram[:wire.DataHeaderSize])
	ciphertext := datagram[wire.DataHeaderSize:]
	plaintext, err := c.aead.Open(header.Nonce, aad, ciphertext)
	if err != nil {
		c.metrics.DropAuthFailed.Add(1)
		return
	}

	c.metrics.FramesRecvd.Add(1)

	// Rejected migrations still deliver the payload upward, per §4.8 —
	// the return value only distinguishes promotion/pending bookkeeping
	// from rate-limited ones, neither of which affects delivery.
	c.migrationCtl.OnAuthenticatedFrame(now, from, len(plaintext))

	if header.Type == wire.Close {
		c.handleClose(now, plaintext)
		return
	}

	payloadHeader, payload, err := wire.DecodePayloadHeader(plaintext)
	if err != nil {
		// Authenticated but malformed: fatal per §4.5/§7 Protocol error.
		c.phase = Closed
		c.closeReason = wire.ProtocolViolation
		resolveLogger(c.logger).Warn("connection closed: malformed payload header", "session", sessionHex(c.session))
		return
	}

	if payloadHeader.SendTimestamp != 0 {
		c.lastPeerTimestamp = payloadHeader.SendTimestamp
	}
	if payloadHeader.EchoTimestamp != 0 {
		if elapsed, ok := c.tsTracker.Sample(payloadHeader.EchoTimestamp, now); ok {
			c.rttEstimator.OnSample(elapsed)
			srtt, _, _ := c.rttEstimator.Snapshot()
			c.pacer.SetSRTT(srtt)
			c.retransmit.SetRTO(c.rttEstimator.CurrentRTO())
			c.metrics.RTTSamples.Add(1)
		}
	}

	c.deliver(payload)
	c.pacer.OnAckNeeded(now)
}

// handleClose decodes the reason byte carried in a Close frame's
// plaintext and advances the lifecycle: an Established connection
// moves to Closing, and peerCloseConfirmed is set so checkDrained can
// declare the connection Closed without waiting on the drain timeout.
// A Close frame that fails to decode is a Protocol error, fatal for
// the connection per §7.
func (c *Connection) handleClose(now time.Time, plaintext []byte) {
	_, rest, err := wire.DecodePayloadHeader(plaintext)
	if err != nil || len(rest) < 1 {
		c.phase = Closed
		c.closeReason = wire.ProtocolViolation
		resolveLogger(c.logger).Warn("connection closed: malformed close frame", "session", sessionHex(c.session))
		return
	}
	reason, err := wire.DecodeCloseReason(rest[0])
	if err != nil {
		c.phase = Closed
		c.closeReason = wire.ProtocolViolation
		resolveLogger(c.logger).Warn("connection closed: bad close reason", "session", sessionHex(c.session))
		return
	}

	if c.phase == Established {
		c.phase = Closing
		c.closingAt = now
		resolveLogger(c.logger).Info("connection closing (peer)", "session", sessionHex(c.session), "reason", reason)
	}
	c.closeReason = reason
	c.peerCloseConfirmed = true
	c.checkDrained(now)
}

// DrivePacer runs one tick of the outbound pipeline: if the pacer
// says to send now, allocate a nonce, build the payload and data
// headers, encrypt, and transmit toward the migration-validated (or
// anti-amplification-limited pending) address. Returns the instant
// the caller should next wake up to re-poll the pacer, if any.
func (c *Connection) DrivePacer(now time.Time) (wakeAt time.Time, haveWake bool) {
	if c.phase == Closing {
		c.checkDrained(now)
		if c.phase == Closing {
			return now.Add(pacing.CollectionInterval), true
		}
		return time.Time{}, false
	}
	if c.phase != Established {
		return time.Time{}, false
	}

	action := c.pacer.Poll(now)
	switch action.Kind {
	case pacing.ActionIdle:
		return time.Time{}, false
	case pacing.ActionWaitUntil:
		return action.At, true
	}

	var payload []byte
	if len(c.outbox) > 0 {
		payload = c.outbox[0]
		c.outbox = c.outbox[1:]
	}

	dest := c.migrationDest()
	if !c.sendAllowed(dest, len(payload)) {
		// Nothing we're allowed to send right now; try again on the
		// next collection tick rather than spin.
		return now.Add(pacing.CollectionInterval), true
	}

	if err := c.sendFrame(now, dest, payload); err == nil {
		c.pacer.OnFrameSent(now)
	}
	return time.Time{}, false
}

func (c *Connection) migrationDest() netip.AddrPort {
	if pending, ok := c.migrationCtl.PendingAddr(); ok {
		return pending
	}
	return c.migrationCtl.ValidatedAddr()
}

func (c *Connection) sendAllowed(dest netip.AddrPort, payloadLen int) bool {
	frameLen := wire.DataHeaderSize + wire.PayloadHeaderSize + payloadLen + aeadOverhead
	return c.migrationCtl.CanSend(dest, frameLen)
}

// aeadOverhead is the authentication tag length added by the AEAD;
// kept local rather than imported from the cipher package so
// transport has no compile-time dependency on a specific cipher
// suite's constants.
const aeadOverhead = 16

// allocateNonce returns the next send nonce, or errNonceExhausted once
// every value in the 64-bit space has been used. On exhaustion the
// connection is closed immediately rather than risk an AEAD nonce
// being reused.
func (c *Connection) allocateNonce() (uint64, error) {
	if c.sendNonce == math.MaxUint64 {
		c.phase = Closed
		c.closeReason = wire.ProtocolViolation
		resolveLogger(c.logger).Warn("connection closed: send nonce exhausted", "session", sessionHex(c.session))
		return 0, errNonceExhausted
	}
	nonce := c.sendNonce
	c.sendNonce++
	return nonce, nil
}

func (c *Connection) sendFrame(now time.Time, dest netip.AddrPort, payload []byte) error {
	nonce, err := c.allocateNonce()
	if err != nil {
		return err
	}
	header := wire.EncodeDataHeader(0, c.session, nonce)
	_, err = c.sealAndSend(now, nonce, header, dest, payload)
	return err
}

// sendClose transmits a Close frame carrying reason as the sole
// plaintext payload byte, and arms the retransmit controller against
// it so DriveRetransmit resends the exact same datagram on timeout.
func (c *Connection) sendClose(now time.Time, dest netip.AddrPort, reason wire.CloseReason) error {
	nonce, err := c.allocateNonce()
	if err != nil {
		return err
	}
	header := wire.EncodeClose(c.session, nonce)
	datagram, err := c.sealAndSend(now, nonce, header, dest, []byte{wire.EncodeCloseReason(reason)})
	if err != nil {
		return err
	}
	c.closeDatagram = datagram
	c.closeDest = dest
	c.retransmit.Arm(now)
	return nil
}

// sealAndSend builds the plaintext payload header, seals it under
// header as AEAD associated data, and transmits the result toward
// dest. It returns the raw datagram bytes so callers that need to
// retransmit verbatim (sendClose) can keep them.
func (c *Connection) sealAndSend(now time.Time, nonce uint64, header [wire.DataHeaderSize]byte, dest netip.AddrPort, payload []byte) ([]byte, error) {
	sendTS := uint64(now.UnixMicro())
	c.tsTracker.Record(sendTS, now)

	payloadHeader := wire.EncodePayloadHeader(wire.PayloadHeader{
		SendTimestamp: sendTS,
		EchoTimestamp: c.lastPeerTimestamp,
		PayloadLength: uint32(len(payload)),
	})

	plaintext := make([]byte, 0, wire.PayloadHeaderSize+len(payload))
	plaintext = append(plaintext, payloadHeader[:]...)
	plaintext = append(plaintext, payload...)

	ciphertext, err := c.aead.Seal(nonce, header, plaintext)
	if err != nil {
		return nil, err
	}

	datagram := make([]byte, 0, wire.DataHeaderSize+len(ciphertext))
	datagram = append(datagram, header[:]...)
	datagram = append(datagram, ciphertext...)

	if err := c.sender.SendTo(datagram, dest); err != nil {
		return nil, err
	}

	c.migrationCtl.OnSend(dest, len(datagram))
	c.metrics.FramesSent.Add(1)
	return datagram, nil
}
