package netconn

import (
	"time"

	"pygase/internal/logging"
	"pygase/internal/wire"
)

// PackageBuilder constructs the bytes for one outgoing package given a
// freshly stamped header, draining queued events into it via drain.
// ClientConnection and ServerConnection each supply their own variant
// (time_order vs. state-update payload).
type PackageBuilder func(h wire.Header, drain func(add func([]byte) error)) []byte

// RunSendLoop transmits one package per tick at the connection's current
// congestion-controlled cadence until stop is closed or the connection is
// found Disconnected (spec §4.4, §4.9, §4.10's sender coroutines; §5's
// "timeout... exits the sender loop"). The caller restarts it by calling
// RunSendLoop again once activity resumes (spec §4.11 step 4). It also
// sweeps expired pending acks on every tick so timeout callbacks fire
// without a dedicated goroutine.
func (c *Connection) RunSendLoop(stop <-chan struct{}, build PackageBuilder) {
	interval := c.SendInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.timedOut:
			return
		case now := <-ticker.C:
			seq := c.NextLocalSequence(now)
			snap := c.HeaderSnapshot(seq)
			header := wire.Header{Sequence: snap.Sequence, Ack: snap.Ack, AckBitfield: snap.AckBitfield}

			data := build(header, func(add func([]byte) error) {
				c.DrainOutgoing(seq, add)
			})
			if err := c.transport.Send(c.remoteAddr, data); err != nil {
				if c.logger != nil {
					c.logger.Error("netconn: send failed",
						logging.String("remote", c.remoteAddr.String()),
						logging.Error(err))
				}
			} else if c.metrics != nil {
				c.metrics.ObserveSend(len(data))
			}

			c.SweepTimeouts(now)

			if next := c.SendInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// RunCongestionSupervisor ticks the congestion-avoidance state machine
// every minThrottleTime/2 until stop is closed (spec §4.5).
func (c *Connection) RunCongestionSupervisor(stop <-chan struct{}) {
	ticker := time.NewTicker(minThrottleTime / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			c.TickCongestion(now)
		}
	}
}

// RunTimeoutSupervisor periodically demotes the connection to
// Disconnected once the peer has been silent past the configured
// timeout (spec §4.4's liveness rule).
func (c *Connection) RunTimeoutSupervisor(stop <-chan struct{}, onDisconnect func()) {
	ticker := time.NewTicker(c.timeout / 4)
	defer ticker.Stop()
	wasConnected := false
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			disconnected := c.CheckTimeout(now)
			if disconnected && wasConnected && onDisconnect != nil {
				onDisconnect()
			}
			wasConnected = !disconnected
		}
	}
}
