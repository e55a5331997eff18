package netio

import (
	"context"
	"net/netip"
	"testing"
	"time"
)

func mustLoopback(t *testing.T) netip.AddrPort {
	t.Helper()
	return netip.MustParseAddrPort("127.0.0.1:0")
}

func TestBindAssignsEphemeralPort(t *testing.T) {
	s, err := NewBuilder().Bind(mustLoopback(t))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer s.Close()
	if s.LocalAddr().Port() == 0 {
		t.Fatal("expected a nonzero ephemeral port")
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	server, err := NewBuilder().Bind(mustLoopback(t))
	if err != nil {
		t.Fatalf("bind server: %v", err)
	}
	defer server.Close()

	client, err := NewBuilder().Bind(mustLoopback(t))
	if err != nil {
		t.Fatalf("bind client: %v", err)
	}
	defer client.Close()

	payload := []byte("hello nomad")
	if err := client.SendTo(payload, server.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, DefaultRecvBufferSize)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, from, err := server.RecvFrom(ctx, buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
	if from.Addr() != client.LocalAddr().Addr() {
		t.Fatalf("from = %v, want matching client addr", from)
	}
}

func TestSendRejectsOversizedDatagram(t *testing.T) {
	s, err := NewBuilder().MaxPayload(10).Bind(mustLoopback(t))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer s.Close()

	oversized := make([]byte, 11)
	if err := s.SendTo(oversized, mustLoopback(t)); err != ErrDatagramTooLarge {
		t.Fatalf("got %v, want ErrDatagramTooLarge", err)
	}
}

func TestRecvDeadlineFromContext(t *testing.T) {
	s, err := NewBuilder().Bind(mustLoopback(t))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	buf := make([]byte, 64)
	_, _, err = s.RecvFrom(ctx, buf)
	if err == nil {
		t.Fatal("expected a deadline-exceeded error with nothing sent")
	}
}

func TestCloseUnblocksRecv(t *testing.T) {
	s, err := NewBuilder().Bind(mustLoopback(t))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		_, _, err := s.RecvFrom(context.Background(), buf)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error from RecvFrom after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RecvFrom did not unblock after Close")
	}
}
