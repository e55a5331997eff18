// Package netio implements the non-blocking UDP socket wrapper of
// 2-TRANSPORT.md §4.9, grounded on the original implementation's
// NomadSocket/NomadSocketBuilder shape but built on Go's net package
// plus golang.org/x/net/ipv4 and golang.org/x/sys/unix for the socket
// tuning the builder options require.
package netio

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// DefaultRecvBufferSize is the buffer size callers should pass to
// RecvFrom so that no UDP datagram is truncated.
const DefaultRecvBufferSize = 65535

// DefaultMaxPayload is the MTU-derived payload budget: 1200 bytes,
// matching wire.DefaultMaxPayload.
const DefaultMaxPayload = 1200

// ErrDatagramTooLarge is returned by Send when the given payload
// exceeds the configured maximum.
var ErrDatagramTooLarge = errors.New("netio: datagram exceeds configured maximum size")

// Socket wraps a UDP net.PacketConn with NOMAD's size and buffer
// policy. It owns the underlying file descriptor and must be closed
// exactly once by its owner — the server demultiplexer for a shared
// listening socket, or a single client connection otherwise.
type Socket struct {
	conn       *net.UDPConn
	maxPayload int
	v4         *ipv4.PacketConn
	v6         *ipv6.PacketConn
}

// Builder configures a Socket before binding, mirroring the
// NomadSocketBuilder options named in 2-TRANSPORT.md §4.9: bind
// address, socket buffer sizes, and the IPv6-only flag.
type Builder struct {
	recvBufferBytes int
	sendBufferBytes int
	maxPayload      int
	v6Only          bool
}

// NewBuilder returns a Builder with NOMAD's defaults.
func NewBuilder() *Builder {
	return &Builder{maxPayload: DefaultMaxPayload}
}

// RecvBufferSize sets SO_RCVBUF on the bound socket.
func (b *Builder) RecvBufferSize(n int) *Builder {
	b.recvBufferBytes = n
	return b
}

// SendBufferSize sets SO_SNDBUF on the bound socket.
func (b *Builder) SendBufferSize(n int) *Builder {
	b.sendBufferBytes = n
	return b
}

// MaxPayload sets the enforced maximum datagram payload size.
func (b *Builder) MaxPayload(n int) *Builder {
	b.maxPayload = n
	return b
}

// V6Only sets IPV6_V6ONLY on a socket bound to an IPv6 wildcard or
// address, rejecting IPv4-mapped traffic on that socket.
func (b *Builder) V6Only(only bool) *Builder {
	b.v6Only = only
	return b
}

// Bind creates and binds the socket, applying every configured
// option via golang.org/x/sys/unix socket-option calls before the
// first packet is read or written.
func (b *Builder) Bind(addr netip.AddrPort) (*Socket, error) {
	udpAddr := net.UDPAddrFromAddrPort(addr)
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	s := &Socket{conn: conn, maxPayload: b.maxPayload}
	if addr.Addr().Is4() || addr.Addr().Is4In6() {
		s.v4 = ipv4.NewPacketConn(conn)
	} else {
		s.v6 = ipv6.NewPacketConn(conn)
	}

	if err := b.applyOptions(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (b *Builder) applyOptions(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		if b.recvBufferBytes > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, b.recvBufferBytes); e != nil {
				sockErr = e
				return
			}
		}
		if b.sendBufferBytes > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, b.sendBufferBytes); e != nil {
				sockErr = e
				return
			}
		}
		if b.v6Only {
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); e != nil {
				sockErr = e
				return
			}
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// MaxPayload returns the configured maximum payload size.
func (s *Socket) MaxPayload() int {
	return s.maxPayload
}

// SendTo transmits data to addr. It enforces the MTU-derived size
// limit before ever touching the socket, per the spec's "enforces a
// maximum datagram size" requirement.
func (s *Socket) SendTo(data []byte, addr netip.AddrPort) error {
	if len(data) > s.maxPayload {
		return ErrDatagramTooLarge
	}
	_, err := s.conn.WriteToUDPAddrPort(data, addr)
	return err
}

// RecvFrom blocks until a datagram arrives, reading into buf and
// returning the number of bytes read and the sender's address. buf
// should be sized at least DefaultRecvBufferSize to avoid silent
// truncation of oversized or malicious datagrams — callers reject
// anything over MaxPayload after a successful read, never before, so
// that oversized datagrams are still observable for diagnostics.
//
// If ctx carries a deadline, it is applied to the underlying socket
// read deadline. The one true cancellation point is Close: a closed
// socket unblocks every pending RecvFrom with net.ErrClosed, which
// the caller's per-connection loop treats as shutdown.
func (s *Socket) RecvFrom(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return 0, netip.AddrPort{}, err
		}
	}
	n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
	return n, addr, err
}

// SetDontFragment sets the IP-layer don't-fragment hint on outbound
// datagrams, letting path-MTU probing surface fragmentation instead
// of relying on the kernel to silently reassemble or drop oversized
// packets. Only meaningful on the address family the socket was
// bound to; the other family's PacketConn handle is nil and this is
// a no-op for it.
func (s *Socket) SetDontFragment(on bool) error {
	if s.v4 != nil {
		return s.v4.SetDontFragment(on)
	}
	if s.v6 != nil {
		// IPv6 has no fragmentation by intermediate routers; DF is
		// implicit. Nothing to set.
		return nil
	}
	return nil
}

// Close releases the underlying file descriptor. Safe to call once;
// subsequent calls return the error from the second close syscall.
func (s *Socket) Close() error {
	return s.conn.Close()
}
