package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/room4-2/duplexvoice/events"
	"github.com/room4-2/duplexvoice/messages"
	"github.com/room4-2/duplexvoice/transport"
)

// downlink receives frames until the session stops or the connection
// fails. Audio goes to playback; text becomes utterance, server-error or
// diagnostic events.
func (c *Controller) downlink() {
	defer c.pumps.Done()

	for c.running.Load() {
		frame, err := c.conn.Receive(c.opts.PollInterval)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			if transport.IsNormalClosure(err) {
				c.logger.Info("Server closed the connection")
			} else if !errors.Is(err, transport.ErrClosed) {
				c.logger.Warn("Downlink receive failed", slog.Any("error", err))
			}
			c.requestStop(transportStop(err))
			return
		}
		c.framesReceived.Add(1)

		switch frame.Type {
		case transport.Binary:
			c.handleAudio(messages.ClassifyBinary(frame.Data))
		case transport.Text:
			c.handleText(messages.ClassifyText(frame.Data))
		}
	}
}

func (c *Controller) handleAudio(msg messages.Inbound) {
	c.metrics.FrameReceived(msg.Kind.String(), len(msg.Audio))
	if c.opts.Playback == nil || len(msg.Audio) == 0 {
		return
	}
	if err := c.opts.Playback.Write(msg.Audio); err != nil {
		c.onDeviceError(fmt.Errorf("playback: %w", err))
	}
}

func (c *Controller) handleText(msg messages.Inbound) {
	c.metrics.FrameReceived(msg.Kind.String(), len(msg.Raw))

	if text, ok := msg.Utterance(); ok {
		c.metrics.ControlMessage(string(events.TypeUtterance))
		c.emit(events.Event{Type: events.TypeUtterance, Text: text})
		return
	}
	if text, ok := msg.ServerError(); ok {
		c.metrics.ControlMessage(string(events.TypeServerError))
		c.emit(events.Event{Type: events.TypeServerError, Text: text})
		return
	}
	c.metrics.ControlMessage(string(events.TypeDiagnostic))
	c.emit(events.Event{Type: events.TypeDiagnostic, Text: msg.Raw})
}
