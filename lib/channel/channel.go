// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phosphorescence/eos/lib/clock"
	"github.com/phosphorescence/eos/lib/codec"
)

// State is the lifecycle state of a channel.
type State int

const (
	Uninitialized State = iota
	Handshaking
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Handshaking:
		return "handshaking"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Role says which end of the handshake a channel is. The initiator
// sends requests; the acceptor serves them.
type Role string

const (
	Initiator Role = "initiator"
	Acceptor  Role = "acceptor"
)

// ErrWrongRole is returned when an initiator-only operation is called
// on an acceptor or the reverse.
var ErrWrongRole = errors.New("operation not valid for this channel role")

// Config configures one end of a channel.
type Config struct {
	// Origin identifies this end. It is sent in the knock or ack.
	Origin string

	// Expect is the origin the peer must present. Empty accepts any.
	Expect string

	// Timeout bounds the handshake. For an initiator it covers
	// knock to ack; for an acceptor, ack to complete. Zero waits
	// until ctx is done.
	Timeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// Trace, if set, observes every state transition.
	Trace func(State)
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Request is an application message as seen by the acceptor's handler.
type Request struct {
	Body codec.RawMessage

	// Interrupt is set when the initiator opened an interrupt port
	// with this request. The handler may send on it for as long as
	// the channel lives, including after replying.
	Interrupt *InterruptSender
}

// Decode unmarshals the body.
func (r Request) Decode(target any) error { return decodeBody(r.Body, target) }

// Reply is what an acceptor's handler answers with.
type Reply struct {
	Body any

	// Listen, if set, opens an interrupt port on the acceptor and
	// hands it to the initiator in the response. Listen is called
	// for every interrupt the initiator sends on it.
	Listen InterruptHandler
}

// Response is the answer to a request as seen by the initiator.
type Response struct {
	Body codec.RawMessage

	// Interrupt is set when the acceptor opened an interrupt port in
	// its reply.
	Interrupt *InterruptSender
}

// Decode unmarshals the body.
func (r Response) Decode(target any) error { return decodeBody(r.Body, target) }

// Handler serves one request on the acceptor. A returned error is sent
// to the initiator as a remote MessageError and does not close the
// channel.
type Handler func(ctx context.Context, request Request) (Reply, error)

// InterruptHandler receives interrupt bodies. Calls for one port are
// sequential; calls for different ports may run concurrently.
type InterruptHandler func(body codec.RawMessage)

// Channel is one end of an established channel. Construct with Knock
// (initiator) or Listen (acceptor).
type Channel struct {
	role   Role
	link   *Link
	config Config
	logger *slog.Logger

	lifetime context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	state    State
	releases []func()

	// Initiator side.
	remote  PortID
	queue   *Queue[*outgoing]
	turn    *OneShot
	control *Durable

	// Acceptor side.
	session   *Durable
	bootstrap *Durable
	pending   PortID
	peer      PortID
}

type outgoing struct {
	body      any
	interrupt InterruptHandler
	onSuccess func(Response)
	onError   func(error)
}

func (o *outgoing) succeed(response Response) {
	if o.onSuccess != nil {
		o.onSuccess(response)
	}
}

func (o *outgoing) fail(err error) {
	if o.onError != nil {
		o.onError(err)
	}
}

func newChannel(role Role, link *Link, config Config) *Channel {
	lifetime, cancel := context.WithCancel(context.Background())
	return &Channel{
		role:     role,
		link:     link,
		config:   config,
		logger:   config.Logger.With("role", string(role)),
		lifetime: lifetime,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (c *Channel) transition(next State) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
	c.observe(next)
}

func (c *Channel) observe(state State) {
	c.logger.Debug("channel state", "state", state.String())
	if c.config.Trace != nil {
		c.config.Trace(state)
	}
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns which end of the handshake this channel is.
func (c *Channel) Role() Role { return c.role }

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Post enqueues a request. Requests are sent one at a time in the
// order they were posted; the next is not sent until the previous one
// has been answered. Exactly one of onSuccess or onError is called,
// from the channel's delivery goroutine. Either may be nil.
func (c *Channel) Post(message any, onSuccess func(Response), onError func(error)) error {
	return c.post(&outgoing{body: message, onSuccess: onSuccess, onError: onError})
}

func (c *Channel) post(item *outgoing) error {
	if c.role != Initiator {
		return ErrWrongRole
	}
	return c.queue.Push(item)
}

// Request posts message and waits for its response. If ctx ends first
// the request still occupies its place in the queue; its response is
// discarded.
func (c *Channel) Request(ctx context.Context, message any) (Response, error) {
	return c.request(ctx, &outgoing{body: message})
}

// OpenInterrupt posts message together with a new interrupt port
// listened on by this end, and waits for the response. handler
// receives everything the acceptor sends on that port until the
// channel closes.
func (c *Channel) OpenInterrupt(ctx context.Context, message any, handler InterruptHandler) (Response, error) {
	if handler == nil {
		return Response{}, errors.New("OpenInterrupt requires a handler")
	}
	return c.request(ctx, &outgoing{body: message, interrupt: handler})
}

type result struct {
	response Response
	err      error
}

func (c *Channel) request(ctx context.Context, item *outgoing) (Response, error) {
	results := make(chan result, 1)
	item.onSuccess = func(response Response) { results <- result{response: response} }
	item.onError = func(err error) { results <- result{err: err} }
	if err := c.post(item); err != nil {
		return Response{}, err
	}
	select {
	case outcome := <-results:
		return outcome.response, outcome.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// drain is the initiator's delivery loop. The acceptor's turn
// envelope confirms it processed complete; after that each queued
// request is exchanged in order.
func (c *Channel) drain() {
	turn, err := c.turn.Receive(c.lifetime)
	if err != nil {
		c.Close()
		return
	}
	if turn.Type != TypeTurn {
		c.logger.Warn("closing channel", "error", &MessageError{Reason: fmt.Sprintf("expected turn, got %q", turn.Type)})
		c.Close()
		return
	}
	for {
		item, err := c.queue.Shift(c.lifetime)
		if err != nil {
			return
		}
		if err := c.exchange(item); err != nil {
			c.logger.Warn("closing channel", "error", err)
			c.Close()
			return
		}
	}
}

// watchPeer closes the initiator when the acceptor abandons the
// control port, whether or not a request is in flight.
func (c *Channel) watchPeer() {
	for {
		envelope, err := c.control.Receive(c.lifetime)
		if err != nil {
			if c.lifetime.Err() == nil {
				c.logger.Debug("peer closed the channel")
				c.Close()
			}
			return
		}
		c.logger.Debug("ignoring envelope on control port", "type", envelope.Type)
	}
}

// exchange sends one request and delivers its response. A non-nil
// return is fatal to the channel.
func (c *Channel) exchange(item *outgoing) error {
	body, err := encodeBody(item.body)
	if err != nil {
		item.fail(err)
		return nil
	}
	reply, err := c.link.NewOneShot()
	if err != nil {
		item.fail(ErrChannelClosed)
		return err
	}
	envelope := Envelope{Type: TypeMessage, Body: body, Reply: reply.ID()}
	if item.interrupt != nil {
		port, err := c.link.NewDurable()
		if err != nil {
			reply.Release()
			item.fail(ErrChannelClosed)
			return err
		}
		c.listen(port, item.interrupt)
		envelope.Interrupt = port.ID()
	}
	if err := c.link.send(c.remote, envelope); err != nil {
		reply.Release()
		item.fail(ErrChannelClosed)
		return err
	}

	response, err := reply.Receive(c.lifetime)
	if err != nil {
		item.fail(ErrChannelClosed)
		return ErrChannelClosed
	}
	switch response.Type {
	case TypeMessage:
		item.succeed(Response{Body: response.Body, Interrupt: c.sender(response.Interrupt)})
	case TypeError:
		item.fail(&MessageError{Reason: response.Error, Remote: true})
	default:
		malformed := &MessageError{Reason: fmt.Sprintf("unexpected %q envelope in reply", response.Type)}
		item.fail(malformed)
		return malformed
	}
	return nil
}

// Serve runs the acceptor's message loop until the channel closes or
// ctx ends. Requests are handled one at a time; the context passed to
// handler ends when the channel closes. Returns nil when either end
// closed the channel.
func (c *Channel) Serve(ctx context.Context, handler Handler) error {
	if c.role != Acceptor {
		return ErrWrongRole
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.lifetime, cancel)
	defer stop()

	for {
		envelope, err := c.session.Receive(ctx)
		if errors.Is(err, ErrChannelClosed) || c.lifetime.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if envelope.Type != TypeMessage || envelope.Reply == 0 {
			return &MessageError{Reason: fmt.Sprintf("expected message with reply port, got %q reply=%d", envelope.Type, envelope.Reply)}
		}

		c.mu.Lock()
		c.pending = envelope.Reply
		c.mu.Unlock()

		reply, handlerErr := handler(ctx, Request{Body: envelope.Body, Interrupt: c.sender(envelope.Interrupt)})
		response := c.respond(reply, handlerErr)

		c.mu.Lock()
		c.pending = 0
		c.mu.Unlock()

		if err := c.link.send(envelope.Reply, response); err != nil {
			return err
		}
	}
}

func (c *Channel) respond(reply Reply, handlerErr error) Envelope {
	if handlerErr != nil {
		return Envelope{Type: TypeError, Error: handlerErr.Error()}
	}
	body, err := encodeBody(reply.Body)
	if err != nil {
		return Envelope{Type: TypeError, Error: err.Error()}
	}
	response := Envelope{Type: TypeMessage, Body: body}
	if reply.Listen != nil {
		port, err := c.link.NewDurable()
		if err != nil {
			return Envelope{Type: TypeError, Error: err.Error()}
		}
		c.listen(port, reply.Listen)
		response.Interrupt = port.ID()
	}
	return response
}

// refuseKnocks answers knocks that arrive after the handshake so a
// second initiator fails fast instead of timing out.
func (c *Channel) refuseKnocks() {
	for {
		envelope, err := c.bootstrap.Receive(c.lifetime)
		if err != nil {
			return
		}
		c.logger.Debug("refusing knock on open channel", "origin", envelope.Origin)
		if envelope.Type == TypeKnock && envelope.Reply != 0 {
			c.link.send(envelope.Reply, Envelope{Type: TypeError, Error: "listener busy"})
		}
	}
}

// Close closes the channel: queued and in-flight requests fail with
// ErrChannelClosed, local ports are released, and the peer is told.
// Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	releases := c.releases
	c.releases = nil
	pending := c.pending
	peer := c.peer
	c.mu.Unlock()

	c.observe(Closed)
	c.cancel()

	if c.queue != nil {
		for _, item := range c.queue.Destroy() {
			item.fail(ErrChannelClosed)
		}
	}
	switch c.role {
	case Initiator:
		if c.remote != 0 {
			c.link.abandon(c.remote)
		}
		if c.turn != nil {
			c.turn.Release()
		}
		if c.control != nil {
			c.control.Release()
		}
	case Acceptor:
		if pending != 0 {
			c.link.abandon(pending)
		}
		if peer != 0 {
			c.link.abandon(peer)
		}
		if c.session != nil {
			c.session.Release()
		}
		if c.bootstrap != nil {
			c.bootstrap.Release()
		}
	}
	for _, release := range releases {
		release()
	}
	close(c.done)
	return nil
}
