// Package session implements the call session controller: the state machine
// that joins a room, captures local media, and drives offer/answer/candidate
// exchange between the signaling channel and the negotiation engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/media"
	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/util"
)

var (
	// ErrNoLocalStream is returned by InitiateCall when no local media is held.
	ErrNoLocalStream = errors.New("no local media stream")
	// ErrNotJoined is returned by InitiateCall outside a joined room.
	ErrNotJoined = errors.New("not joined to a room")
	// ErrCallInProgress is returned by InitiateCall while a negotiation runs.
	ErrCallInProgress = errors.New("negotiation already in progress")
	// ErrStopped is returned by commands once the controller has shut down.
	ErrStopped = errors.New("session controller stopped")
)

// State is the controller's position in the call lifecycle.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateNegotiating
	StateInCall
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateNegotiating:
		return "negotiating"
	case StateInCall:
		return "in-call"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role says which side produced the offer of the current negotiation.
type Role int

const (
	RoleNone Role = iota
	RoleLocal
	RoleRemote
)

func (r Role) String() string {
	switch r {
	case RoleLocal:
		return "local"
	case RoleRemote:
		return "remote"
	default:
		return "none"
	}
}

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	State        State
	Role         Role
	Room         string
	LocalStream  *media.LocalStream
	RemoteStream *negotiation.RemoteStream
}

// Channel is an open signaling channel. *signaling.Channel implements it.
type Channel interface {
	Send(signaling.Message)
	Messages() <-chan signaling.Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Opener opens the signaling channel of a room.
type Opener interface {
	Open(ctx context.Context, room string) (Channel, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, room string) (Channel, error)

func (f OpenerFunc) Open(ctx context.Context, room string) (Channel, error) { return f(ctx, room) }

// Capturer acquires and releases the local media stream. *media.Binding
// implements it.
type Capturer interface {
	Acquire(ctx context.Context, c media.Constraints) (*media.LocalStream, error)
	Release(s *media.LocalStream) error
}

// Hooks receive the controller's outputs. They run on the controller
// goroutine: they must not block and must not call back into the controller.
type Hooks struct {
	OnState           func(Snapshot)
	OnLocalStream     func(*media.LocalStream)         // nil when cleared
	OnRemoteStream    func(*negotiation.RemoteStream)  // nil when cleared
	OnConnectionState func(webrtc.PeerConnectionState) // diagnostics
	OnError           func(error)
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Capture     Capturer
	Signaling   Opener
	Peers       negotiation.Factory
	ICE         negotiation.Config
	Constraints media.Constraints
	Hooks       Hooks
}

// Controller is the call session state machine. All state is owned by one
// goroutine; commands and asynchronous results are posted to it.
type Controller struct {
	deps Deps
	log  util.Logger

	cmds   chan command
	events chan event
	done   chan struct{}
	cancel context.CancelFunc

	snapMu sync.RWMutex
	snap   Snapshot

	// Owned by the loop goroutine.
	ctx        context.Context
	state      State
	role       Role
	room       string
	gen        uint64 // bumped on every join and leave
	attempt    uint64 // bumped whenever a negotiation supersedes the previous one
	join       *pendingJoin
	joinCancel context.CancelFunc
	stream     *media.LocalStream
	remote     *negotiation.RemoteStream
	ch         Channel
	inbox      <-chan signaling.Message
	engine     *negotiation.Engine
	worker     *worker
	sentOffer  string // SDP of the local offer awaiting an answer

	captureBusy bool           // a capture request is outstanding
	flights     sync.WaitGroup // join and cleanup goroutines
}

// New starts a controller in Idle. It runs until ctx is cancelled or Stop is
// called, leaving any joined room on the way out.
func New(ctx context.Context, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		deps:   deps,
		log:    util.NewLogger("session"),
		cmds:   make(chan command),
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		ctx:    ctx,
	}
	c.snap = Snapshot{State: StateIdle}
	go c.loop()
	return c
}

// Join enters room: local capture and the signaling channel are opened in
// parallel. Joining while already in a room leaves it first. The outcome is
// reported through the hooks.
func (c *Controller) Join(room string) error {
	if room == "" {
		return errors.New("room name required")
	}
	return c.do(command{kind: cmdJoin, room: room})
}

// Leave releases media, the peer connection and the signaling channel and
// returns to Idle. Idempotent.
func (c *Controller) Leave() error {
	return c.do(command{kind: cmdLeave})
}

// InitiateCall creates a connection, attaches local tracks and sends an
// offer to the room.
func (c *Controller) InitiateCall() error {
	return c.do(command{kind: cmdCall})
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Stop leaves the current room and ends the controller. Idempotent.
func (c *Controller) Stop() {
	c.cancel()
	<-c.done
}

// Done is closed once the controller has shut down.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) do(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrStopped
	}
}
