package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bridgefall/nomad/diag"
)

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fatalf("inspect requires exactly one file argument")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fatalf("inspect read: %v", err)
	}

	snap, err := diag.Decode(data)
	if err != nil {
		fatalf("inspect decode: %v", err)
	}

	fmt.Printf("session_id=%x\n", snap.SessionID)
	fmt.Printf("phase=%s\n", snap.Phase)
	fmt.Printf("srtt=%s\n", snap.SRTT)
	fmt.Printf("rttvar=%s\n", snap.RTTVar)
	fmt.Printf("rto=%s\n", snap.RTO)
	fmt.Printf("backoff_count=%d\n", snap.BackoffCount)
	fmt.Printf("validated_addr=%s\n", snap.ValidatedAddr)
	if snap.HasPendingAddr {
		fmt.Printf("pending_addr=%s\n", snap.PendingAddr)
		fmt.Printf("bytes_to_pending=%d\n", snap.BytesToPending)
	}
	fmt.Printf("send_nonce=%d\n", snap.SendNonce)
	fmt.Printf("recv_highest=%d\n", snap.RecvHighest)
}
