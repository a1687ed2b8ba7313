package network

import (
	"time"

	"github.com/danmuck/netchan/internal/observability"
	"github.com/rs/zerolog/log"
)

// processHeartbeat advances the heartbeat timer. When the interval elapses
// it asks the helper for a heartbeat and reports the misses counted before
// this beat; the channel itself never closes on misses.
func (c *Channel) processHeartbeat(elapsed time.Duration) {
	c.hbMu.Lock()
	if c.heartbeatInterval <= 0 {
		c.hbMu.Unlock()
		return
	}
	c.heartbeat.elapsed += elapsed
	if c.heartbeat.elapsed < c.heartbeatInterval {
		c.hbMu.Unlock()
		return
	}
	c.heartbeat.elapsed = 0
	missed := c.heartbeat.missCount
	c.heartbeat.missCount++
	c.hbMu.Unlock()

	if !c.helper.SendHeartbeat() {
		return
	}
	if missed > 0 {
		observability.RecordMissedHeartbeat(c.name)
		log.Debug().Str("channel", c.name).Int("missed", missed).Msg("missed heartbeat")
		c.notify.fireMissHeartbeat(c, missed)
	}
}
