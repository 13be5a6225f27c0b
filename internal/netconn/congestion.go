package netconn

import "time"

const (
	// goodSendInterval is the package send cadence while quality is good.
	goodSendInterval = time.Second / 40
	// badSendInterval is the package send cadence once throttled.
	badSendInterval = time.Second / 20
	// latencyThreshold is the smoothed RTT that triggers throttling.
	latencyThreshold = 250 * time.Millisecond
	// minThrottleTime is the shortest hold-down before throttling back up.
	minThrottleTime = 1 * time.Second
	// maxThrottleTime caps how long a hold-down can grow to.
	maxThrottleTime = 60 * time.Second
)

// quality mirrors the connection's good/bad congestion state (spec §4.5).
type quality int

const (
	qualityGood quality = iota
	qualityBad
)

// congestionState tracks smoothed latency and the good/bad throttle state
// machine that governs how often packages are sent.
type congestionState struct {
	latency      time.Duration
	quality      quality
	sendInterval time.Duration

	throttleTime        time.Duration
	lastQualityChange   time.Time
	lastGoodMilestone   time.Time
}

func newCongestionState() congestionState {
	return congestionState{
		quality:      qualityGood,
		sendInterval: goodSendInterval,
		throttleTime: minThrottleTime,
	}
}

// observeLatency folds a new RTT sample into the exponential moving
// average: latency += 0.1 * (sample - latency).
func (c *congestionState) observeLatency(sample time.Duration) {
	delta := float64(sample-c.latency) * 0.1
	c.latency += time.Duration(delta)
}

// Latency returns the current smoothed round-trip time.
func (c *Connection) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.congestion.latency
}

// SendInterval returns the current package send cadence.
func (c *Connection) SendInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.congestion.sendInterval
}

// Quality reports "good" or "bad" congestion state.
func (c *Connection) Quality() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.congestion.quality == qualityBad {
		return "bad"
	}
	return "good"
}

// TickCongestion runs one step of the congestion-avoidance supervisor,
// meant to be called every minThrottleTime/2 (spec §4.5).
func (c *Connection) TickCongestion(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cg := &c.congestion

	if cg.lastQualityChange.IsZero() {
		cg.lastQualityChange = now
	}
	if cg.lastGoodMilestone.IsZero() {
		cg.lastGoodMilestone = now
	}

	switch cg.quality {
	case qualityGood:
		if cg.latency > latencyThreshold {
			cg.quality = qualityBad
			cg.sendInterval = badSendInterval
			if now.Sub(cg.lastQualityChange) < cg.throttleTime {
				cg.throttleTime *= 2
				if cg.throttleTime > maxThrottleTime {
					cg.throttleTime = maxThrottleTime
				}
			}
			cg.lastQualityChange = now
		} else if now.Sub(cg.lastGoodMilestone) > cg.throttleTime {
			if cg.sendInterval > goodSendInterval {
				cg.sendInterval = goodSendInterval
			}
			cg.throttleTime /= 2
			if cg.throttleTime < minThrottleTime {
				cg.throttleTime = minThrottleTime
			}
			cg.lastGoodMilestone = now
		}
	case qualityBad:
		if cg.latency < latencyThreshold {
			cg.quality = qualityGood
			cg.lastQualityChange = now
			cg.lastGoodMilestone = now
		}
	}
}
