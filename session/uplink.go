package session

import (
	"log/slog"

	"github.com/room4-2/duplexvoice/events"
	"github.com/room4-2/duplexvoice/transport"
)

// uplink sends queued capture chunks, one binary frame per chunk, until the
// session stops or a send fails.
func (c *Controller) uplink() {
	defer c.pumps.Done()

	var reported uint64
	for c.running.Load() {
		chunk, ok := c.queue.Pop(c.opts.PollInterval)
		reported = c.reportDrops(reported)
		if !ok {
			continue
		}
		if !c.running.Load() {
			return
		}

		if err := c.conn.Send(transport.BinaryFrame(chunk.Data)); err != nil {
			c.logger.Debug("Uplink send failed", slog.Any("error", err))
			c.requestStop(transportStop(err))
			return
		}
		c.chunksSent.Add(1)
		c.metrics.ChunkSent(len(chunk.Data))
		c.metrics.SetQueueDepth(c.queue.Len())
	}
}

// reportDrops emits a dropped-chunk event when the queue's drop counter has
// moved past reported, and returns the new count.
func (c *Controller) reportDrops(reported uint64) uint64 {
	dropped := c.queue.Dropped()
	if dropped > reported {
		c.emit(events.Event{Type: events.TypeDropped, Count: dropped})
	}
	return dropped
}
