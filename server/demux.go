// Package server implements the shared-socket connection demultiplexer
// of 2-TRANSPORT.md §4.12/§5: one reader goroutine dispatching inbound
// datagrams to per-session bounded mailboxes, and one goroutine per
// connection draining its own mailbox.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bridgefall/nomad/cipher"
	"github.com/bridgefall/nomad/netio"
	"github.com/bridgefall/nomad/transport"
	"github.com/bridgefall/nomad/wire"
)

// DefaultMailboxCapacity is the number of inbound datagrams queued
// per session before new datagrams are dropped in favor of keeping
// the oldest ones, per the "bounded queues with drop-newest on
// overflow" requirement of §5.
const DefaultMailboxCapacity = 64

// Config configures a Demux, grounded on the teacher's Server/Config
// pairing in socks5-daemon/server.go.
type Config struct {
	ListenAddr       netip.AddrPort
	MailboxCapacity  int
	HandshakeTimeout time.Duration

	MaxPayload     int
	RecvBufferSize int
	SendBufferSize int
	V6Only         bool

	// Logger receives demux-level warnings (recv errors, dropped
	// datagrams); nil resolves to slog.Default() at each log call.
	Logger *slog.Logger
}

func normalizeConfig(cfg Config) Config {
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = DefaultMailboxCapacity
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = netio.DefaultMaxPayload
	}
	return cfg
}

// resolveLogger mirrors the teacher's envelope.resolveLogger.
func resolveLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// NewSessionFunc constructs the per-connection state and AEAD handle
// for a freshly observed session id, used the first time a datagram
// arrives for a session the demultiplexer has not seen before.
type NewSessionFunc func(session wire.SessionID, from netip.AddrPort, sender transport.Sender) (*transport.Connection, cipher.Handshaker)

// Demux owns the shared listening socket, dispatches inbound
// datagrams to per-session mailboxes, and drives one goroutine per
// connection. It never mutates a Connection directly — mailboxes
// and per-connection goroutines are the only writers of connection
// state, matching the single-threaded-cooperative-per-connection
// model named in SPEC_FULL.md §5.
type Demux struct {
	cfg    Config
	socket *netio.Socket
	onNew  NewSessionFunc
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[wire.SessionID]*session

	metrics Metrics

	wg sync.WaitGroup
}

type session struct {
	mailbox chan inboundDatagram
	conn    *transport.Connection
	cancel  context.CancelFunc
}

type inboundDatagram struct {
	from netip.AddrPort
	data []byte
}

// Metrics counts demultiplexer-level events not attributable to any
// single connection.
type Metrics struct {
	mu               sync.Mutex
	DatagramsDropped uint64 // mailbox full
	UnknownSession   uint64 // session id seen but not yet registered, and onNew declined it
	SessionsCreated  uint64
}

func (m *Metrics) incDropped() {
	m.mu.Lock()
	m.DatagramsDropped++
	m.mu.Unlock()
}

// New creates a Demux bound to cfg.ListenAddr. onNew is called once
// per newly observed session id to construct that connection's state.
func New(cfg Config, onNew NewSessionFunc) (*Demux, error) {
	cfg = normalizeConfig(cfg)
	socket, err := netio.NewBuilder().
		MaxPayload(cfg.MaxPayload).
		RecvBufferSize(cfg.RecvBufferSize).
		SendBufferSize(cfg.SendBufferSize).
		V6Only(cfg.V6Only).
		Bind(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	return &Demux{
		cfg:      cfg,
		socket:   socket,
		onNew:    onNew,
		logger:   resolveLogger(cfg.Logger),
		sessions: make(map[wire.SessionID]*session),
	}, nil
}

// LocalAddr returns the address the shared socket is bound to.
func (d *Demux) LocalAddr() netip.AddrPort {
	return d.socket.LocalAddr()
}

// Run drives the reader loop until ctx is canceled or the socket is
// closed, fanning inbound datagrams out to per-session mailboxes and
// per-connection goroutines. It blocks until every connection
// goroutine it started has exited.
func (d *Demux) Run(ctx context.Context) error {
	buf := make([]byte, netio.DefaultRecvBufferSize)
	for {
		n, from, err := d.socket.RecvFrom(ctx, buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			d.logger.Warn("demux recv error", "err", err)
			continue
		}
		if n < wire.SessionIDSize {
			continue
		}
		if n > d.socket.MaxPayload() {
			// Oversized datagrams are silently dropped.
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		d.dispatch(ctx, from, datagram)
	}
	d.wg.Wait()
	return nil
}

func (d *Demux) dispatch(ctx context.Context, from netip.AddrPort, datagram []byte) {
	header, err := wire.DecodeDataHeader(datagram)
	if err != nil {
		// Not a recognizable Data/Close frame; handshake datagrams are
		// routed by address until a session id is assigned, which is
		// out of scope here (owned by the Handshaker collaborator).
		return
	}

	d.mu.Lock()
	sess, ok := d.sessions[header.SessionID]
	if !ok {
		sess = d.createSession(ctx, header.SessionID, from)
	}
	d.mu.Unlock()

	select {
	case sess.mailbox <- inboundDatagram{from: from, data: datagram}:
	default:
		d.metrics.incDropped()
	}
}

// createSession must be called with d.mu held.
func (d *Demux) createSession(ctx context.Context, id wire.SessionID, from netip.AddrPort) *session {
	conn, _ := d.onNew(id, from, d.socket)
	connCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		mailbox: make(chan inboundDatagram, d.cfg.MailboxCapacity),
		conn:    conn,
		cancel:  cancel,
	}
	d.sessions[id] = sess
	d.metrics.mu.Lock()
	d.metrics.SessionsCreated++
	d.metrics.mu.Unlock()

	d.wg.Add(1)
	go d.driveSession(connCtx, id, sess)
	return sess
}

// driveSession is the one goroutine per connection named in §5: it
// owns sess.conn exclusively, the only writer of that connection's
// state, reading from the mailbox and the pacer/retransmit timers.
func (d *Demux) driveSession(ctx context.Context, id wire.SessionID, sess *session) {
	defer d.wg.Done()
	defer d.removeSession(id)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case datagram := <-sess.mailbox:
			sess.conn.HandleDatagram(time.Now(), datagram.from, datagram.data)
		case <-ticker.C:
			now := time.Now()
			sess.conn.DrivePacer(now)
			sess.conn.DriveRetransmit(now)
		}

		if sess.conn.Phase() == transport.Closed {
			return
		}
	}
}

func (d *Demux) removeSession(id wire.SessionID) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
}

// Metrics returns a snapshot of demultiplexer-level counters.
func (d *Demux) Metrics() Metrics {
	d.metrics.mu.Lock()
	defer d.metrics.mu.Unlock()
	return Metrics{DatagramsDropped: d.metrics.DatagramsDropped, UnknownSession: d.metrics.UnknownSession, SessionsCreated: d.metrics.SessionsCreated}
}

// Close shuts down the shared socket, unblocking Run.
func (d *Demux) Close() error {
	return d.socket.Close()
}
