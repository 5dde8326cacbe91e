package signaling

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcall/internal/util"
)

const (
	writeTimeout   = 5 * time.Second
	sendBufferSize = 64 // outgoing message channel capacity
)

// writeLoop is the single-writer goroutine of a Channel. It drains the
// outbox until the channel shuts down.
func (c *Channel) writeLoop() {
	for {
		select {
		case data := <-c.outbox:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.shutdown(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(err)
				return
			}
			util.Stats.AddSent()

		case <-c.done:
			return
		}
	}
}

// Send enqueues m for the relay. It never fails into the caller: an invalid
// message or a channel that is no longer open is logged and dropped.
func (c *Channel) Send(m Message) {
	data, err := Encode(m)
	if err != nil {
		c.log.Warn("dropping outgoing %s: %v", m.Type, err)
		return
	}

	select {
	case <-c.done:
		c.log.Warn("channel not open, dropping outgoing %s", m.Type)
		return
	default:
	}

	select {
	case c.outbox <- data:
	case <-c.done:
		c.log.Warn("channel closed, dropping outgoing %s", m.Type)
	}
}
