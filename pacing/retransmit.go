package pacing

import (
	"time"

	"github.com/bridgefall/nomad/rtt"
)

// MaxRetransmits is the number of consecutive timer fires tolerated
// before the connection is declared unreachable, per 2-TRANSPORT.md
// §4.7.
const MaxRetransmits = 8

// RetransmitController tracks the single outstanding retransmittable
// event a connection may have at once: a control-bearing data frame
// advertising new state, armed against a timer that backs off
// exponentially on each fire.
//
// Not safe for concurrent use.
type RetransmitController struct {
	armed    bool
	deadline time.Time
	count    int
	timeout  time.Duration
	baseRTO  time.Duration
}

// NewRetransmitController returns a controller with no event armed,
// using initialRTO as the base timeout for the first arm.
func NewRetransmitController(initialRTO time.Duration) *RetransmitController {
	return &RetransmitController{baseRTO: initialRTO, timeout: initialRTO}
}

// SetRTO updates the base timeout from the RTT estimator. It only
// takes effect immediately if no backoff is currently in progress;
// an in-flight backoff keeps running on its own schedule.
func (c *RetransmitController) SetRTO(rto time.Duration) {
	c.baseRTO = rto
	if c.count == 0 {
		c.timeout = rto
	}
}

// Arm schedules the next retransmit check at now+timeout.
func (c *RetransmitController) Arm(now time.Time) {
	c.armed = true
	c.deadline = now.Add(c.timeout)
}

// Disarm cancels any scheduled retransmit, used once the outstanding
// data is acknowledged.
func (c *RetransmitController) Disarm() {
	c.armed = false
	c.count = 0
	c.timeout = c.baseRTO
}

// Poll reports whether the armed timer has fired by now. It does not
// mutate state; callers that act on a fire must call OnFire.
func (c *RetransmitController) Poll(now time.Time) bool {
	return c.armed && !now.Before(c.deadline)
}

// Exhausted reports whether MaxRetransmits consecutive fires have
// occurred without an intervening Disarm, meaning the caller must
// tear the connection down with reason PeerUnreachable.
func (c *RetransmitController) Exhausted() bool {
	return c.count >= MaxRetransmits
}

// OnFire records a timer fire: it doubles the timeout (capped at
// rtt.MaxRTO) and re-arms the timer at now plus the new timeout. The
// caller is expected to resend and feed OnTimeout to the RTT estimator.
func (c *RetransmitController) OnFire(now time.Time) {
	c.count++
	c.timeout *= 2
	if c.timeout > rtt.MaxRTO {
		c.timeout = rtt.MaxRTO
	}
	c.Arm(now)
}

// RetransmitCount returns the number of consecutive fires since the
// last Disarm.
func (c *RetransmitController) RetransmitCount() int {
	return c.count
}

// CurrentTimeout returns the timeout that will be used for the next
// Arm call, reflecting any backoff already applied.
func (c *RetransmitController) CurrentTimeout() time.Duration {
	return c.timeout
}
