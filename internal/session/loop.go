package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/media"
	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/signaling"
)

const eventBuffer = 256

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdCall
)

type command struct {
	kind  commandKind
	room  string
	reply chan error
}

type eventKind int

const (
	evCaptured eventKind = iota
	evOpened
	evOffered
	evAnswered
	evAnswerApplied
	evLocalCandidate
	evRemoteStream
	evConnState
)

// event is the result of work done off the loop, tagged with the join
// generation and negotiation attempt it belongs to.
type event struct {
	kind    eventKind
	gen     uint64
	attempt uint64

	stream    *media.LocalStream
	ch        Channel
	sdp       webrtc.SessionDescription
	applied   bool
	candidate webrtc.ICECandidateInit
	remote    *negotiation.RemoteStream
	conn      webrtc.PeerConnectionState
	err       error
}

// pendingJoin collects the two halves of a join.
type pendingJoin struct {
	ctx             context.Context
	stream          *media.LocalStream
	ch              Channel
	captured        bool
	opened          bool
	captureDeferred bool
	err             error
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) loop() {
	defer close(c.done)

	for {
		var chDone <-chan struct{}
		if c.ch != nil {
			chDone = c.ch.Done()
		}

		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case cmd := <-c.cmds:
			cmd.reply <- c.handleCommand(cmd)

		case ev := <-c.events:
			c.handleEvent(ev)

		case msg, ok := <-c.inbox:
			if !ok {
				c.inbox = nil
				continue
			}
			c.handleMessage(msg)

		case <-chDone:
			c.transportLost()
		}
	}
}

// shutdown leaves the room and waits for in-flight join and cleanup work so
// that late capture grants and channels are released rather than leaked.
func (c *Controller) shutdown() {
	c.leave()

	flights := make(chan struct{})
	go func() {
		c.flights.Wait()
		close(flights)
	}()

	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-flights:
			for {
				select {
				case ev := <-c.events:
					c.handleEvent(ev)
				default:
					c.log.Debug("controller stopped")
					return
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (c *Controller) handleCommand(cmd command) error {
	switch cmd.kind {
	case cmdJoin:
		if c.state != StateIdle {
			c.log.Info("leaving %q to join %q", c.room, cmd.room)
			c.leave()
		}
		c.startJoin(cmd.room)
		return nil
	case cmdLeave:
		c.leave()
		return nil
	case cmdCall:
		return c.initiateCall()
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

func (c *Controller) startJoin(room string) {
	c.gen++
	c.room = room

	ctx, cancel := context.WithCancel(c.ctx)
	c.joinCancel = cancel
	c.join = &pendingJoin{ctx: ctx}
	c.setState(StateJoining, RoleNone)

	if c.captureBusy {
		// The previous join's capture has not returned yet; the binding
		// allows one request at a time.
		c.join.captureDeferred = true
	} else {
		c.startCapture(ctx, c.gen)
	}

	gen := c.gen
	c.flights.Add(1)
	go func() {
		defer c.flights.Done()
		ch, err := c.deps.Signaling.Open(ctx, room)
		c.post(event{kind: evOpened, gen: gen, ch: ch, err: err})
	}()
}

func (c *Controller) startCapture(ctx context.Context, gen uint64) {
	c.captureBusy = true
	c.flights.Add(1)
	go func() {
		defer c.flights.Done()
		stream, err := c.deps.Capture.Acquire(ctx, c.deps.Constraints)
		c.post(event{kind: evCaptured, gen: gen, stream: stream, err: err})
	}()
}

// leave releases everything the session holds and returns to Idle. Every
// release step is attempted even if an earlier one fails.
func (c *Controller) leave() {
	if c.state == StateIdle {
		return
	}
	c.gen++
	c.attempt++
	c.sentOffer = ""

	if c.joinCancel != nil {
		c.joinCancel()
		c.joinCancel = nil
	}

	var errs []error
	if j := c.join; j != nil {
		errs = append(errs, c.deps.Capture.Release(j.stream), closeChannel(j.ch))
		c.join = nil
	}
	if c.worker != nil {
		c.worker.stop()
		c.worker = nil
	}
	if c.stream != nil {
		errs = append(errs, c.deps.Capture.Release(c.stream))
	}
	if engine, ch := c.engine, c.ch; engine != nil || ch != nil {
		// Closing the engine waits for a negotiation step in progress, so it
		// runs off the loop. The handle is closed before its channel.
		c.flights.Add(1)
		go func() {
			defer c.flights.Done()
			if engine != nil {
				engine.Close()
			}
			if err := closeChannel(ch); err != nil {
				c.log.Warn("closing signaling channel: %v", err)
			}
		}()
	}
	c.engine, c.ch, c.inbox = nil, nil, nil

	c.clearLocal()
	c.clearRemote()
	room := c.room
	c.room = ""
	c.setState(StateIdle, RoleNone)

	if err := errors.Join(errs...); err != nil {
		c.log.Warn("leaving %q: %v", room, err)
		return
	}
	c.log.Info("left %q", room)
}

func (c *Controller) initiateCall() error {
	switch c.state {
	case StateJoined, StateInCall:
	case StateNegotiating:
		return ErrCallInProgress
	default:
		return ErrNotJoined
	}
	if c.stream == nil {
		return ErrNoLocalStream
	}

	c.attempt++
	c.sentOffer = ""
	gen, attempt := c.gen, c.attempt
	engine, stream := c.engine, c.stream
	c.clearRemote()
	c.setState(StateNegotiating, RoleLocal)

	c.worker.submit(func() {
		var sdp webrtc.SessionDescription
		err := engine.CreateConnection()
		if err == nil {
			err = engine.AttachLocalTracks(stream)
		}
		if err == nil {
			sdp, err = engine.MakeOffer(stream)
		}
		c.post(event{kind: evOffered, gen: gen, attempt: attempt, sdp: sdp, err: err})
	})
	return nil
}

// ---------------------------------------------------------------------------
// Inbound signaling
// ---------------------------------------------------------------------------

func (c *Controller) handleMessage(msg signaling.Message) {
	if c.engine == nil {
		c.log.Warn("ignoring %s outside a joined room", msg.Type)
		return
	}
	engine, stream, gen := c.engine, c.stream, c.gen

	switch msg.Type {
	case signaling.MsgTypeOffer:
		if c.state == StateNegotiating && c.role == RoleLocal {
			// Both sides see the same pair of offers, so exactly one keeps
			// its own. An offer not yet sent always yields.
			if c.sentOffer != "" && c.sentOffer > msg.Offer.SDP {
				c.log.Warn("remote offer collides with ours, keeping ours")
				return
			}
			c.log.Warn("remote offer collides with local offer, answering remote")
		}
		c.attempt++
		c.sentOffer = ""
		attempt := c.attempt
		offer := *msg.Offer
		c.clearRemote()
		c.setState(StateNegotiating, RoleRemote)

		c.worker.submit(func() {
			answer, err := engine.AcceptOffer(offer, stream)
			c.post(event{kind: evAnswered, gen: gen, attempt: attempt, sdp: answer, err: err})
		})

	case signaling.MsgTypeAnswer:
		if c.state != StateNegotiating || c.role != RoleLocal {
			c.log.Warn("stale answer ignored (state %s)", c.state)
			return
		}
		attempt := c.attempt
		answer := *msg.Answer

		c.worker.submit(func() {
			err := engine.AcceptAnswer(answer)
			st := engine.State()
			applied := st == negotiation.StateStable || st == negotiation.StateConnected || st == negotiation.StateFailed
			c.post(event{kind: evAnswerApplied, gen: gen, attempt: attempt, applied: applied, err: err})
		})

	case signaling.MsgTypeCandidate:
		cand := *msg.Candidate
		c.worker.submit(func() { engine.AddRemoteCandidate(cand) })
	}
}

// ---------------------------------------------------------------------------
// Asynchronous results
// ---------------------------------------------------------------------------

func (c *Controller) handleEvent(ev event) {
	switch ev.kind {
	case evCaptured:
		c.onCaptured(ev)
	case evOpened:
		c.onOpened(ev)
	case evOffered:
		c.onOffered(ev)
	case evAnswered:
		c.onAnswered(ev)
	case evAnswerApplied:
		c.onAnswerApplied(ev)
	case evLocalCandidate:
		if ev.gen == c.gen && c.ch != nil {
			c.ch.Send(signaling.NewCandidate(ev.candidate))
		}
	case evRemoteStream:
		if ev.gen == c.gen && c.engine != nil {
			c.remote = ev.remote
			c.publish()
			if c.deps.Hooks.OnRemoteStream != nil {
				c.deps.Hooks.OnRemoteStream(ev.remote)
			}
		}
	case evConnState:
		c.onConnState(ev)
	}
}

func (c *Controller) onCaptured(ev event) {
	c.captureBusy = false

	if ev.gen != c.gen || c.join == nil {
		if ev.stream != nil {
			c.log.Debug("releasing capture from an abandoned join")
			if err := c.deps.Capture.Release(ev.stream); err != nil {
				c.log.Warn("releasing abandoned capture: %v", err)
			}
		}
		if c.join != nil && c.join.captureDeferred {
			c.join.captureDeferred = false
			c.startCapture(c.join.ctx, c.gen)
		}
		return
	}

	c.join.captured = true
	c.join.stream = ev.stream
	if ev.err != nil {
		c.failJoin(ev.err)
	}
	c.maybeFinishJoin()
}

func (c *Controller) onOpened(ev event) {
	if ev.gen != c.gen || c.join == nil {
		if err := closeChannel(ev.ch); err != nil {
			c.log.Warn("closing abandoned channel: %v", err)
		}
		return
	}

	c.join.opened = true
	c.join.ch = ev.ch
	if ev.err != nil {
		c.failJoin(ev.err)
	}
	c.maybeFinishJoin()
}

// failJoin records a join failure and cancels the other half.
func (c *Controller) failJoin(err error) {
	c.join.err = errors.Join(c.join.err, err)
	if c.joinCancel != nil {
		c.joinCancel()
	}
}

func (c *Controller) maybeFinishJoin() {
	j := c.join
	if !j.captured || !j.opened {
		return
	}
	c.join = nil
	if c.joinCancel != nil {
		c.joinCancel()
		c.joinCancel = nil
	}

	if j.err != nil {
		if err := errors.Join(c.deps.Capture.Release(j.stream), closeChannel(j.ch)); err != nil {
			c.log.Warn("cleaning up failed join: %v", err)
		}
		room := c.room
		c.room = ""
		c.setState(StateIdle, RoleNone)
		c.report(fmt.Errorf("join %q: %w", room, j.err))
		return
	}

	c.stream = j.stream
	c.ch = j.ch
	c.inbox = j.ch.Messages()
	c.engine = negotiation.New(c.deps.ICE, c.deps.Peers, c.engineHandlers(c.gen))
	c.worker = newWorker()

	if c.deps.Hooks.OnLocalStream != nil {
		c.deps.Hooks.OnLocalStream(c.stream)
	}
	c.setState(StateJoined, RoleNone)
	c.log.Info("joined %q", c.room)
}

func (c *Controller) onOffered(ev event) {
	if ev.gen != c.gen {
		c.log.Debug("discarding offer from a previous session")
		return
	}
	if ev.attempt != c.attempt {
		c.log.Debug("discarding superseded local offer")
		return
	}
	if ev.err != nil {
		c.negotiationFailed(ev.err)
		return
	}
	c.ch.Send(signaling.NewOffer(ev.sdp))
	c.sentOffer = ev.sdp.SDP
	c.log.Info("offer sent")
}

func (c *Controller) onAnswered(ev event) {
	if ev.gen != c.gen || ev.attempt != c.attempt {
		c.log.Debug("discarding stale answer")
		return
	}
	if ev.err != nil {
		c.negotiationFailed(ev.err)
		return
	}
	c.ch.Send(signaling.NewAnswer(ev.sdp))
	c.log.Info("answer sent")
	c.setState(StateInCall, RoleRemote)
}

func (c *Controller) onAnswerApplied(ev event) {
	if ev.gen != c.gen || ev.attempt != c.attempt ||
		c.state != StateNegotiating || c.role != RoleLocal {
		return
	}
	if ev.err != nil {
		c.negotiationFailed(ev.err)
		return
	}
	if !ev.applied {
		c.log.Warn("answer did not match the outstanding offer")
		return
	}
	c.log.Info("answer applied")
	c.setState(StateInCall, RoleLocal)
}

func (c *Controller) onConnState(ev event) {
	if ev.gen != c.gen {
		return
	}
	if ev.conn == webrtc.PeerConnectionStateFailed {
		c.log.Warn("peer connection failed")
	}
	if c.deps.Hooks.OnConnectionState != nil {
		c.deps.Hooks.OnConnectionState(ev.conn)
	}
}

// negotiationFailed discards the handle and keeps the media so the user can
// retry from Joined. The teardown queues behind any step still holding the
// engine, and ahead of the next negotiation.
func (c *Controller) negotiationFailed(err error) {
	c.attempt++
	c.sentOffer = ""
	c.worker.submit(c.engine.Teardown)
	c.clearRemote()
	c.setState(StateJoined, RoleNone)
	c.report(err)
}

func (c *Controller) transportLost() {
	err := c.ch.Err()
	if err == nil {
		err = signaling.ErrTransport
	}
	c.report(fmt.Errorf("relay connection lost: %w", err))
	c.leave()
}

// ---------------------------------------------------------------------------
// Outputs
// ---------------------------------------------------------------------------

func (c *Controller) engineHandlers(gen uint64) negotiation.Handlers {
	return negotiation.Handlers{
		OnCandidate: func(cand webrtc.ICECandidateInit) {
			c.post(event{kind: evLocalCandidate, gen: gen, candidate: cand})
		},
		OnRemoteStream: func(s *negotiation.RemoteStream) {
			c.post(event{kind: evRemoteStream, gen: gen, remote: s})
		},
		OnConnectionState: func(s webrtc.PeerConnectionState) {
			c.post(event{kind: evConnState, gen: gen, conn: s})
		},
	}
}

func (c *Controller) clearLocal() {
	if c.stream == nil {
		return
	}
	c.stream = nil
	c.publish()
	if c.deps.Hooks.OnLocalStream != nil {
		c.deps.Hooks.OnLocalStream(nil)
	}
}

func (c *Controller) clearRemote() {
	if c.remote == nil {
		return
	}
	c.remote = nil
	c.publish()
	if c.deps.Hooks.OnRemoteStream != nil {
		c.deps.Hooks.OnRemoteStream(nil)
	}
}

func (c *Controller) setState(s State, r Role) {
	changed := c.state != s || c.role != r
	c.state, c.role = s, r
	snap := c.publish()
	if changed {
		c.log.Debug("state %s (%s)", s, r)
		if c.deps.Hooks.OnState != nil {
			c.deps.Hooks.OnState(snap)
		}
	}
}

func (c *Controller) publish() Snapshot {
	snap := Snapshot{
		State:        c.state,
		Role:         c.role,
		Room:         c.room,
		LocalStream:  c.stream,
		RemoteStream: c.remote,
	}
	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
	return snap
}

func (c *Controller) report(err error) {
	c.log.Error("%v", err)
	if c.deps.Hooks.OnError != nil {
		c.deps.Hooks.OnError(err)
	}
}

func closeChannel(ch Channel) error {
	if ch == nil {
		return nil
	}
	return ch.Close()
}
