// Package transport implements the NOMAD connection state machine of
// 2-TRANSPORT.md §3-§7, wiring together the frame codec, anti-replay
// window, RTT estimator, pacer, retransmit controller, migration
// controller, and an external AEAD cipher handle.
package transport

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/bridgefall/nomad/cipher"
	"github.com/bridgefall/nomad/commons/metrics"
	"github.com/bridgefall/nomad/migration"
	"github.com/bridgefall/nomad/pacing"
	"github.com/bridgefall/nomad/replay"
	"github.com/bridgefall/nomad/rtt"
	"github.com/bridgefall/nomad/wire"
)

// closeDrainTimeout bounds how long Closing waits for the peer's own
// Close frame before giving up and declaring the connection Closed
// anyway, independent of the retransmit controller's own backoff
// schedule for the outstanding Close frame.
const closeDrainTimeout = 5 * time.Second

// Phase is one of the four connection states of §4.5.
type Phase int

const (
	Handshaking Phase = iota
	Established
	Closing
	Closed
)

func (p Phase) String() string {
	switch p {
	case Handshaking:
		return "Handshaking"
	case Established:
		return "Established"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Metrics counts the disposition of every inbound datagram and
// outbound send, in the same named-Counter shape as the teacher's
// envelope.Metrics rather than a map keyed by a drop-reason enum —
// every field is safe to read concurrently via Load() without a
// connection-wide lock.
type Metrics struct {
	DropTooShort       metrics.Counter
	DropBadFrameType   metrics.Counter
	DropUnknownSession metrics.Counter
	DropReplay         metrics.Counter
	DropAuthFailed     metrics.Counter

	FramesSent  metrics.Counter
	FramesRecvd metrics.Counter
	RTTSamples  metrics.Counter
	Retransmits metrics.Counter
}

func newMetrics() *Metrics {
	return &Metrics{}
}

// Sender is the narrow "send this datagram" collaborator a Connection
// needs from its owning socket or demultiplexer, kept separate from
// netio.Socket so Connection has no compile-time dependency on any
// particular transport.
type Sender interface {
	SendTo(data []byte, addr netip.AddrPort) error
}

// Connection is one NOMAD session: the state machine, nonce counters,
// anti-replay window, RTT estimator, pacer, retransmit controller,
// and migration anchor described in 2-TRANSPORT.md §3.
//
// Not safe for concurrent use, except Metrics (atomic counters) and
// PollRecv (guarded by its own mutex), which may be called from other
// goroutines; every other method must run on the single goroutine
// driving this connection, per SPEC_FULL.md's
// single-threaded-cooperative-per-connection model.
type Connection struct {
	session wire.SessionID
	sender  Sender
	aead    cipher.AEAD

	phase       Phase
	closeReason wire.CloseReason

	closingAt          time.Time
	peerCloseConfirmed bool
	closeDatagram      []byte
	closeDest          netip.AddrPort

	sendNonce  uint64
	recvWindow replay.Window

	rttEstimator *rtt.Estimator
	tsTracker    *rtt.Tracker
	pacer        *pacing.FramePacer
	retransmit   *pacing.RetransmitController
	migrationCtl *migration.Controller

	outbox            [][]byte
	recvMu            sync.Mutex
	recvBuf           [][]byte
	lastPeerTimestamp uint64

	metrics *Metrics
	logger  *slog.Logger
}

// Config carries the pacer overrides an operator may tune via
// commons/config.TransportConfig; the zero value uses every package
// default, matching that config's "zero value means use the package
// default" convention.
type Config struct {
	MaxFrameRateHz     int
	CollectionInterval time.Duration
	DelayedACKTimeout  time.Duration
}

// New creates a connection in Handshaking phase, anchored at the
// remote address the handshake arrived from. sender is used for any
// data the connection emits once Established; aead must have keys
// installed by the handshake component before the first Established
// frame is sent.
func New(session wire.SessionID, remote netip.AddrPort, sender Sender, aead cipher.AEAD) *Connection {
	return NewWithConfig(session, remote, sender, aead, Config{})
}

// NewWithConfig is New with the pacer's rate cap, collection window,
// and delayed-ack timeout overridden from cfg.
func NewWithConfig(session wire.SessionID, remote netip.AddrPort, sender Sender, aead cipher.AEAD, cfg Config) *Connection {
	return &Connection{
		session:      session,
		sender:       sender,
		aead:         aead,
		phase:        Handshaking,
		rttEstimator: rtt.NewEstimator(),
		tsTracker:    rtt.NewTracker(),
		pacer:        pacing.NewFramePacerWithLimits(time.Now(), cfg.MaxFrameRateHz, cfg.CollectionInterval, cfg.DelayedACKTimeout),
		retransmit:   pacing.NewRetransmitController(rtt.MinRTO),
		migrationCtl: migration.NewController(remote),
		metrics:      newMetrics(),
	}
}

// SetLogger installs the logger used for phase-transition and
// connection-teardown events; a nil logger (the default) resolves to
// slog.Default() at each log call.
func (c *Connection) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Phase returns the connection's current lifecycle state.
func (c *Connection) Phase() Phase {
	return c.phase
}

// IsEstablished implements the upward is_established() interface.
func (c *Connection) IsEstablished() bool {
	return c.phase == Established
}

// Metrics returns this connection's metrics counters.
func (c *Connection) Metrics() *Metrics {
	return c.metrics
}

// RTTSnapshot implements the upward rtt_snapshot() interface.
func (c *Connection) RTTSnapshot() (srtt, rttvar, rtoVal time.Duration) {
	return c.rttEstimator.Snapshot()
}

// HandshakeComplete transitions Handshaking -> Established, per
// §4.5. Keys must already be installed on the cipher handle by the
// caller before this is invoked.
func (c *Connection) HandshakeComplete() {
	if c.phase == Handshaking {
		c.phase = Established
		resolveLogger(c.logger).Info("connection established", "session", sessionHex(c.session))
	}
}

// HandshakeFailed transitions Handshaking -> Closed(reason), for a
// handshake deadline or fatal handshake error.
func (c *Connection) HandshakeFailed(reason wire.CloseReason) {
	if c.phase == Handshaking {
		c.phase = Closed
		c.closeReason = reason
		resolveLogger(c.logger).Warn("handshake failed", "session", sessionHex(c.session), "reason", reason)
	}
}

// Submit implements the upward submit(payload_bytes) interface:
// queues payload for paced sending and notifies the pacer that state
// changed.
func (c *Connection) Submit(now time.Time, payload []byte) {
	if c.phase != Established {
		return
	}
	c.outbox = append(c.outbox, payload)
	c.pacer.OnStateChange(now)
}

// PollRecv implements the upward poll_recv() interface: returns the
// next delivered decrypted payload, if any.
func (c *Connection) PollRecv() ([]byte, bool) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if len(c.recvBuf) == 0 {
		return nil, false
	}
	payload := c.recvBuf[0]
	c.recvBuf = c.recvBuf[1:]
	return payload, true
}

func (c *Connection) deliver(payload []byte) {
	if c.phase != Established {
		return
	}
	c.recvMu.Lock()
	c.recvBuf = append(c.recvBuf, payload)
	c.recvMu.Unlock()
}

// Close implements the upward close(reason) interface: begins a
// local close, moving Established -> Closing, and sends a Close frame
// whose payload, after the payload header, is the single reason byte. The retransmit
// controller is armed against that frame until the peer's own Close
// is observed, MAX_RETRANSMITS is exhausted, or checkDrained times out.
func (c *Connection) Close(now time.Time, reason wire.CloseReason) {
	if c.phase != Established {
		return
	}
	c.phase = Closing
	c.closeReason = reason
	c.closingAt = now
	resolveLogger(c.logger).Info("connection closing", "session", sessionHex(c.session), "reason", reason)
	_ = c.sendClose(now, c.migrationDest(), reason)
	c.checkDrained(now)
}

// checkDrained transitions Closing -> Closed once the peer's Close
// has been observed ("drained") or closeDrainTimeout has elapsed
// ("timeout"), per the lifecycle's state table. Safe to call from any
// phase; a no-op unless currently Closing.
func (c *Connection) checkDrained(now time.Time) {
	if c.phase != Closing {
		return
	}
	if !c.peerCloseConfirmed && now.Sub(c.closingAt) < closeDrainTimeout {
		return
	}
	c.phase = Closed
	c.retransmit.Disarm()
	resolveLogger(c.logger).Info("connection closed", "session", sessionHex(c.session), "reason", c.closeReason)
}

// CloseReason returns the reason the connection closed, valid once
// Phase() is Closing or Closed.
func (c *Connection) CloseReason() wire.CloseReason {
	return c.closeReason
}

// SessionID returns the session identifier this connection was
// created with.
func (c *Connection) SessionID() wire.SessionID {
	return c.session
}

// Diagnostics returns the point-in-time state diag.Snapshot needs,
// exposed as plain values rather than a diag.Snapshot directly so
// this package has no dependency on the diag package.
func (c *Connection) Diagnostics() (srtt, rttvar, rtoVal time.Duration, backoffCount int, validatedAddr netip.AddrPort, pendingAddr netip.AddrPort, havePending bool, bytesToPending, sendNonce, recvHighest uint64) {
	srtt, rttvar, rtoVal = c.rttEstimator.Snapshot()
	backoffCount = c.rttEstimator.BackoffCount()
	validatedAddr = c.migrationCtl.ValidatedAddr()
	pendingAddr, havePending = c.migrationCtl.PendingAddr()
	bytesToPending = c.migrationCtl.BytesToPending()
	sendNonce = c.sendNonce
	recvHighest = c.recvWindow.HighestSeen()
	return
}

// Rekey replaces the AEAD keys and, per §6, atomically resets both
// the send nonce counter and the receive anti-replay window — the
// Open Question resolved in SPEC_FULL.md §3.
func (c *Connection) Rekey(installer cipher.KeyInstaller, sendKey, recvKey [32]byte) error {
	if err := installer.InstallKeys(sendKey, recvKey); err != nil {
		return err
	}
	c.sendNonce = 0
	c.recvWindow.Reset()
	c.tsTracker.Reset()
	return nil
}
