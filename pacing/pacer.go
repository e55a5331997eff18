// Package pacing implements the outbound frame pacer and retransmit
// controller of 2-TRANSPORT.md §4.6-4.7.
package pacing

import (
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	// CollectionInterval batches rapid state changes before sending.
	CollectionInterval = 8 * time.Millisecond
	// DelayedACKTimeout bounds how long a pure-ack frame may be held
	// in hopes of piggybacking on outbound data.
	DelayedACKTimeout = 100 * time.Millisecond
	// MaxFrameRateHz is the hard cap on outbound frames per second,
	// enforced regardless of how aggressive the RTT-derived floor is.
	MaxFrameRateHz = 50
	// minFrameIntervalFloor is the absolute minimum spacing between
	// frames even at very low SRTT.
	minFrameIntervalFloor = 20 * time.Millisecond
)

// SendReason is why the pacer wants to emit a frame.
type SendReason int

const (
	ReasonStateChange SendReason = iota
	ReasonAck
	ReasonRetransmit
)

// ActionKind distinguishes the three possible pacer recommendations.
type ActionKind int

const (
	ActionIdle ActionKind = iota
	ActionSendNow
	ActionWaitUntil
)

// Action is the pacer's recommendation for what the caller should do
// next. When Kind is ActionWaitUntil, At holds the instant to retry.
type Action struct {
	Kind ActionKind
	At   time.Time
}

// FramePacer rate-limits outbound frames per 2-TRANSPORT.md §4.6. The
// zero value is not ready for use; call NewFramePacer.
//
// Not safe for concurrent use — owned by the single goroutine driving
// one connection.
type FramePacer struct {
	start time.Time

	lastFrameSent    time.Time
	haveLastFrame    bool
	stateChangeAt    time.Time
	haveStateChange  bool
	ackPendingAt     time.Time
	haveAckPending   bool
	dataPending      bool

	framesSent uint64
	srtt       time.Duration

	// rateCap, collectionInterval, and delayedACKTimeout default to
	// the package constants of the same name but can be overridden
	// per connection via NewFramePacerWithLimits, e.g. from an
	// operator-supplied commons/config.TransportConfig.
	rateCap            vegeta.ConstantPacer
	collectionInterval time.Duration
	delayedACKTimeout  time.Duration
	maxFrameRateHz     int
}

// NewFramePacer returns a pacer anchored at now, with no pending work,
// using every package default.
func NewFramePacer(now time.Time) *FramePacer {
	return NewFramePacerWithLimits(now, 0, 0, 0)
}

// NewFramePacerWithLimits is NewFramePacer with the rate cap,
// collection window, and delayed-ack timeout overridden; a zero
// argument falls back to that setting's package default.
func NewFramePacerWithLimits(now time.Time, maxFrameRateHz int, collectionInterval, delayedACKTimeout time.Duration) *FramePacer {
	if maxFrameRateHz <= 0 {
		maxFrameRateHz = MaxFrameRateHz
	}
	if collectionInterval <= 0 {
		collectionInterval = CollectionInterval
	}
	if delayedACKTimeout <= 0 {
		delayedACKTimeout = DelayedACKTimeout
	}
	return &FramePacer{
		start:              now,
		rateCap:            vegeta.ConstantPacer{Freq: maxFrameRateHz, Per: time.Second},
		collectionInterval: collectionInterval,
		delayedACKTimeout:  delayedACKTimeout,
		maxFrameRateHz:     maxFrameRateHz,
	}
}

// SetSRTT feeds the latest smoothed RTT from the rtt estimator, used
// to compute the adaptive minimum frame interval.
func (p *FramePacer) SetSRTT(srtt time.Duration) {
	p.srtt = srtt
}

// OnStateChange records that local state changed and must eventually
// be sent, starting the collection window if one is not already open.
func (p *FramePacer) OnStateChange(now time.Time) {
	if !p.haveStateChange {
		p.stateChangeAt = now
		p.haveStateChange = true
	}
	p.dataPending = true
}

// OnAckNeeded records that an inbound frame needs acknowledging.
func (p *FramePacer) OnAckNeeded(now time.Time) {
	if !p.haveAckPending {
		p.ackPendingAt = now
		p.haveAckPending = true
	}
}

// OnFrameSent records that a frame was just emitted, clearing all
// pending-send state and counting toward the rate cap.
func (p *FramePacer) OnFrameSent(now time.Time) {
	p.lastFrameSent = now
	p.haveLastFrame = true
	p.haveStateChange = false
	p.haveAckPending = false
	p.dataPending = false
	p.framesSent++
}

// ClearPending drops pending-data bookkeeping without counting a send,
// used when an ack arrives for data that was about to be sent anyway.
func (p *FramePacer) ClearPending() {
	p.dataPending = false
	p.haveStateChange = false
}

// minFrameInterval is max(srtt/2, 20ms), additionally floored by the
// hard MAX_FRAME_RATE cap so a very small SRTT can never beat it.
func (p *FramePacer) minFrameInterval() time.Duration {
	floor := minFrameIntervalFloor
	half := p.srtt / 2
	if half > floor {
		floor = half
	}
	hardFloor := time.Second / time.Duration(p.maxFrameRateHz)
	if hardFloor > floor {
		floor = hardFloor
	}
	return floor
}

// Poll returns what the caller should do right now: nothing, wait
// until a specific instant, or send immediately.
func (p *FramePacer) Poll(now time.Time) Action {
	needsSend := p.dataPending || p.haveAckPending
	if !needsSend {
		return Action{Kind: ActionIdle}
	}

	if p.haveLastFrame {
		nextAllowed := p.lastFrameSent.Add(p.minFrameInterval())
		if now.Before(nextAllowed) {
			return Action{Kind: ActionWaitUntil, At: nextAllowed}
		}
	}

	// The rate cap admits frame n (counting from 0) no earlier than
	// n/maxFrameRateHz after start, so the first frame is held only by
	// the collection window.
	if p.framesSent > 0 {
		if wait, _ := p.rateCap.Pace(now.Sub(p.start), p.framesSent-1); wait > 0 {
			return Action{Kind: ActionWaitUntil, At: now.Add(wait)}
		}
	}

	if p.haveStateChange {
		collectionEnd := p.stateChangeAt.Add(p.collectionInterval)
		if now.Before(collectionEnd) && !p.haveAckPending {
			return Action{Kind: ActionWaitUntil, At: collectionEnd}
		}
	}

	if !p.dataPending && p.haveAckPending {
		deadline := p.ackPendingAt.Add(p.delayedACKTimeout)
		if now.Before(deadline) {
			return Action{Kind: ActionWaitUntil, At: deadline}
		}
	}

	return Action{Kind: ActionSendNow}
}
