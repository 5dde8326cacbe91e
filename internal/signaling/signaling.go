package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/roomcall/internal/util"
)

// ErrTransport wraps failures to open the relay connection or its loss.
var ErrTransport = errors.New("signaling transport error")

// Channel is one open connection to the relay, scoped to a room. Incoming
// messages are delivered in relay order, at most once.
type Channel struct {
	room string
	conn Conn
	log  util.Logger

	inbox  chan Message
	outbox chan []byte

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewChannel starts the read and write loops over an established conn.
func NewChannel(room string, conn Conn) *Channel {
	c := &Channel{
		room:   room,
		conn:   conn,
		log:    util.NewLogger("signaling").With("room", room),
		inbox:  make(chan Message, sendBufferSize),
		outbox: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Room returns the room the channel is scoped to.
func (c *Channel) Room() string { return c.room }

// Messages returns the ordered stream of incoming messages. It is closed
// once the channel stops reading.
func (c *Channel) Messages() <-chan Message { return c.inbox }

// Done is closed when the channel is closed locally or the transport drops.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err reports why the channel stopped; nil after a local Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close releases the transport. Idempotent.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.log.Debug("channel closed")
	})
	return err
}

// shutdown records a transport failure and closes the channel.
func (c *Channel) shutdown(cause error) {
	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %w", ErrTransport, cause)
	}
	c.mu.Unlock()

	c.log.Warn("relay connection lost: %v", cause)
	_ = c.Close()
}

// Client opens room channels on one relay.
type Client struct {
	base string
	dial DialFunc
}

// NewClient returns a Client for the relay at base (http, https, ws or wss).
func NewClient(base string) *Client {
	return &Client{base: base, dial: dialWebSocket}
}

// WithDialer returns a copy of c using dial instead of gorilla's dialer.
func (c *Client) WithDialer(dial DialFunc) *Client {
	return &Client{base: c.base, dial: dial}
}

// Open connects to room's endpoint. Failures wrap ErrTransport.
func (c *Client) Open(ctx context.Context, room string) (*Channel, error) {
	u, err := RoomURL(c.base, room)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	conn, err := c.dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	util.NewLogger("signaling").With("room", room).Info("connected to %s", u)
	return NewChannel(room, conn), nil
}
