// Command nomadctl is the operator CLI of 2-TRANSPORT.md §4.15: key
// material generation, diagnostics snapshot inspection, an offline
// RTT/pacing/retransmit simulator, and a `serve` command that runs a
// live Demux. Only `serve` touches the network.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keygen":
		runKeygen(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "simulate":
		runSimulate(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: nomadctl <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  keygen    Generate a static key placeholder and a chacha20poly1305 test vector")
	fmt.Fprintln(os.Stderr, "  inspect   Decode and print a CBOR diagnostics snapshot")
	fmt.Fprintln(os.Stderr, "  simulate  Drive the RTT/pacer/retransmit state machines against a synthetic timeline")
	fmt.Fprintln(os.Stderr, "  serve     Run a live Demux from a TransportConfig JSON file")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, "  nomadctl keygen")
	fmt.Fprintln(os.Stderr, "  nomadctl inspect session.diag")
	fmt.Fprintln(os.Stderr, "  nomadctl simulate -script timeline.json")
	fmt.Fprintln(os.Stderr, "  nomadctl serve -config transport.json")
}

func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	_ = fs.Parse(args)

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		fatalf("keygen failed: %v", err)
	}
	fmt.Printf("static_key=%s\n", base64.StdEncoding.EncodeToString(key[:]))

	vector, err := chachaTestVector(key)
	if err != nil {
		fatalf("keygen test vector failed: %v", err)
	}
	fmt.Printf("cipher_test_vector=%s\n", base64.StdEncoding.EncodeToString(vector))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
