package transport

import (
	"testing"
	"time"

	"github.com/bridgefall/nomad/wire"
)

// TestDriveRetransmitResendsCloseFrame exercises the retransmit
// controller's real caller path: Close sends one Close frame and arms the retransmit
// controller, and a DriveRetransmit tick after its timeout resends
// the exact same datagram rather than a freshly sealed one.
func TestDriveRetransmitResendsCloseFrame(t *testing.T) {
	c, sender := establishedConn(t)
	now := time.Unix(5000, 0)
	c.Close(now, wire.LocalShutdown)
	if sender.count() != 1 {
		t.Fatalf("sent %d datagrams, want 1", sender.count())
	}
	first := sender.last().data

	c.DriveRetransmit(now.Add(c.retransmit.CurrentTimeout()))
	if sender.count() != 2 {
		t.Fatalf("sent %d datagrams after retransmit, want 2", sender.count())
	}
	if string(sender.last().data) != string(first) {
		t.Fatal("retransmitted datagram must be byte-identical to the original Close frame")
	}
	if c.Phase() != Closing {
		t.Fatalf("phase = %v, want still Closing after one retransmit", c.Phase())
	}
}

// TestDriveRetransmitExhaustionClosesPeerUnreachable is S6 (2-TRANSPORT.md
// §8) driven through a real Connection instead of a bare
// pacing.RetransmitController.
func TestDriveRetransmitExhaustionClosesPeerUnreachable(t *testing.T) {
	c, _ := establishedConn(t)
	now := time.Unix(6000, 0)
	c.Close(now, wire.LocalShutdown)

	for i := 0; i < 8 && c.Phase() == Closing; i++ {
		now = now.Add(c.retransmit.CurrentTimeout())
		c.DriveRetransmit(now)
	}
	if c.Phase() != Closed {
		t.Fatalf("phase = %v, want Closed after MAX_RETRANSMITS exhaustion", c.Phase())
	}
	if c.CloseReason() != wire.PeerUnreachable {
		t.Fatalf("reason = %v, want PeerUnreachable", c.CloseReason())
	}
}

func TestDriveRetransmitNoopOutsideClosing(t *testing.T) {
	c, sender := establishedConn(t)
	c.DriveRetransmit(time.Unix(0, 0))
	if sender.count() != 0 {
		t.Fatal("DriveRetransmit must not send anything outside Closing")
	}
}
