package amqp

import "time"

// heartbeatMonitor tracks traffic in both directions against the
// negotiated heartbeat interval. An interval of zero disables it.
//
// A heartbeat frame is due once nothing has been sent for a full
// interval; the peer is considered dead after two intervals of silence.
type heartbeatMonitor struct {
	interval time.Duration
	lastSent time.Time
	lastRecv time.Time
}

func newHeartbeatMonitor(intervalSec uint16, now time.Time) *heartbeatMonitor {
	return &heartbeatMonitor{
		interval: time.Duration(intervalSec) * time.Second,
		lastSent: now,
		lastRecv: now,
	}
}

func (hb *heartbeatMonitor) enabled() bool {
	return hb.interval > 0
}

// observeSend marks outbound traffic. Any frame counts, not just
// heartbeat frames.
func (hb *heartbeatMonitor) observeSend(now time.Time) {
	hb.lastSent = now
}

// observeRecv marks inbound traffic.
func (hb *heartbeatMonitor) observeRecv(now time.Time) {
	hb.lastRecv = now
}

func (hb *heartbeatMonitor) shouldSend(now time.Time) bool {
	return hb.enabled() && now.Sub(hb.lastSent) >= hb.interval
}

func (hb *heartbeatMonitor) expired(now time.Time) bool {
	return hb.enabled() && now.Sub(hb.lastRecv) >= 2*hb.interval
}
