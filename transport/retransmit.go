package transport

import (
	"time"

	"github.com/bridgefall/nomad/wire"
)

// DriveRetransmit checks whether the timer armed by sendClose has
// fired. On a fire it resends the exact Close datagram verbatim (same
// nonce, same ciphertext — not a fresh Seal, since nothing about the
// frame's content changed), feeds the timeout into the RTT estimator,
// and re-arms with the backed-off timeout. After MAX_RETRANSMITS
// consecutive fires without the peer's Close being observed, the
// connection transitions to Closed(PeerUnreachable), per §4.7.
func (c *Connection) DriveRetransmit(now time.Time) {
	if c.phase != Closing {
		return
	}
	if !c.retransmit.Poll(now) {
		return
	}

	c.rttEstimator.OnTimeout()
	c.retransmit.OnFire(now)
	c.metrics.Retransmits.Add(1)

	if c.retransmit.Exhausted() {
		c.phase = Closed
		c.closeReason = wire.PeerUnreachable
		resolveLogger(c.logger).Warn("connection closed: retransmit exhausted", "session", sessionHex(c.session))
		return
	}

	if c.closeDatagram != nil {
		_ = c.sender.SendTo(c.closeDatagram, c.closeDest)
	}
}
