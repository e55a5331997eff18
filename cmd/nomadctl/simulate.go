package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bridgefall/nomad/pacing"
	"github.com/bridgefall/nomad/rtt"
)

// simEvent is one line of a simulate timeline: at_ms since the
// simulation start, plus either a fresh RTT sample in milliseconds
// or a retransmit-timeout marker.
type simEvent struct {
	AtMs     int64  `json:"at_ms"`
	SampleMs *int64 `json:"sample_ms,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

func runSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	scriptPath := fs.String("script", "", "path to a JSON array of timeline events")
	samplesFlag := fs.String("samples", "", "comma-separated RTT samples in ms, spaced 100ms apart, as a quick alternative to -script")
	_ = fs.Parse(args)

	var events []simEvent
	switch {
	case *scriptPath != "":
		data, err := os.ReadFile(*scriptPath)
		if err != nil {
			fatalf("simulate read script: %v", err)
		}
		if err := json.Unmarshal(data, &events); err != nil {
			fatalf("simulate parse script: %v", err)
		}
	case *samplesFlag != "":
		events = parseSamplesFlag(*samplesFlag)
	default:
		fatalf("simulate requires -script or -samples")
	}

	estimator := rtt.NewEstimator()
	pacer := pacing.NewFramePacer(time.Unix(0, 0))
	retransmit := pacing.NewRetransmitController(rtt.MinRTO)

	for _, ev := range events {
		now := time.Unix(0, 0).Add(time.Duration(ev.AtMs) * time.Millisecond)
		switch {
		case ev.SampleMs != nil:
			sample := time.Duration(*ev.SampleMs) * time.Millisecond
			estimator.OnSample(sample)
			srtt, _, _ := estimator.Snapshot()
			pacer.SetSRTT(srtt)
			retransmit.SetRTO(estimator.CurrentRTO())
		case ev.Timeout:
			estimator.OnTimeout()
			retransmit.OnFire(now)
		}

		srtt, rttvar, rtoVal := estimator.Snapshot()
		fmt.Printf("t=%dms srtt=%s rttvar=%s rto=%s retransmits=%d\n",
			ev.AtMs, srtt, rttvar, rtoVal, retransmit.RetransmitCount())
	}
}

func parseSamplesFlag(raw string) []simEvent {
	parts := strings.Split(raw, ",")
	events := make([]simEvent, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ms, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			fatalf("simulate -samples: invalid value %q: %v", p, err)
		}
		events = append(events, simEvent{AtMs: int64(i) * 100, SampleMs: &ms})
	}
	return events
}
