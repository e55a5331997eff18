package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/bridgefall/nomad/cipher"
	"github.com/bridgefall/nomad/commons/config"
	"github.com/bridgefall/nomad/commons/logger"
	"github.com/bridgefall/nomad/server"
	"github.com/bridgefall/nomad/transport"
	"github.com/bridgefall/nomad/wire"
)

// runServe starts a live Demux from an operator-supplied
// commons/config.TransportConfig, the wiring point named in
// 2-TRANSPORT.md §4.13: listen address, MTU/buffer/pacer overrides,
// and log level all flow from one JSON file into netio.Builder,
// server.Config, and transport.Config.
//
// No Noise_IK handshake component is wired into this tree yet
// (cipher.Handshaker has no concrete implementation), so every
// session is established immediately from a single pre-shared key
// rather than a real per-session handshake.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a TransportConfig JSON file")
	listenOverride := fs.String("listen", "", "override the config's listen_addr")
	keyB64 := fs.String("key", "", "base64 pre-shared 32-byte key; generated if omitted")
	_ = fs.Parse(args)

	var cfg config.TransportConfig
	if *configPath != "" {
		if err := config.LoadJSONFile(*configPath, &cfg); err != nil {
			fatalf("serve: %v", err)
		}
	}
	if *listenOverride != "" {
		cfg.ListenAddr = *listenOverride
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:4433"
	}

	logger.Setup(cfg.LogLevel)

	addr, err := netip.ParseAddrPort(cfg.ListenAddr)
	if err != nil {
		fatalf("serve: bad listen_addr %q: %v", cfg.ListenAddr, err)
	}

	key, err := presharedKey(*keyB64)
	if err != nil {
		fatalf("serve: %v", err)
	}

	connCfg := transport.Config{
		MaxFrameRateHz:     cfg.MaxFrameRateHz,
		CollectionInterval: cfg.CollectionInterval.Duration,
		DelayedACKTimeout:  cfg.DelayedACKTimeout.Duration,
	}

	onNew := func(session wire.SessionID, from netip.AddrPort, sender transport.Sender) (*transport.Connection, cipher.Handshaker) {
		aead := cipher.NewChaCha()
		_ = aead.InstallKeys(key, key)
		conn := transport.NewWithConfig(session, from, sender, aead, connCfg)
		conn.HandshakeComplete()
		return conn, nil
	}

	demux, err := server.New(server.Config{
		ListenAddr:       addr,
		MailboxCapacity:  cfg.MailboxCapacity,
		HandshakeTimeout: cfg.HandshakeTimeout.Duration,
		MaxPayload:       cfg.MaxPayload,
		RecvBufferSize:   cfg.RecvBufferSize,
		SendBufferSize:   cfg.SendBufferSize,
		V6Only:           cfg.V6Only,
	}, onNew)
	if err != nil {
		fatalf("serve: %v", err)
	}
	defer demux.Close()

	fmt.Fprintf(os.Stderr, "nomadctl serve: listening on %s\n", demux.LocalAddr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := demux.Run(ctx); err != nil {
		fatalf("serve: %v", err)
	}
}

func presharedKey(b64 string) ([32]byte, error) {
	var key [32]byte
	if b64 == "" {
		if _, err := rand.Read(key[:]); err != nil {
			return key, err
		}
		return key, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return key, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
