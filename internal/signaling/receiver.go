package signaling

import (
	"github.com/1ureka/roomcall/internal/util"
)

// readLoop reads relayed messages and delivers them in order on c.inbox.
// Messages that fail to decode are logged and skipped. The inbox is closed
// when reading stops.
func (c *Channel) readLoop() {
	defer close(c.inbox)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.log.Warn("ignoring relayed message: %v", err)
			continue
		}
		util.Stats.AddRecv()

		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}
