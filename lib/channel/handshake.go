// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/phosphorescence/eos/lib/version"
)

// ProtocolVersion is the handshake version both ends must present.
const ProtocolVersion = version.ProtocolVersion

var errHandshakeTimeout = errors.New("handshake timed out")

// handshakeContext derives a context that ends after config.Timeout on
// config.Clock.
func (c Config) handshakeContext(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if c.Timeout <= 0 {
		return ctx, func() { cancel(nil) }
	}
	timer := c.Clock.AfterFunc(c.Timeout, func() { cancel(errHandshakeTimeout) })
	return ctx, func() {
		timer.Stop()
		cancel(nil)
	}
}

// waitFailure turns a Receive error during the handshake into a
// HandshakeError.
func waitFailure(ctx context.Context, phase string, err error) *HandshakeError {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, errHandshakeTimeout) {
			return &HandshakeError{Reason: "timed out waiting for " + phase}
		}
		return &HandshakeError{Reason: "abandoned waiting for " + phase, Err: cause}
	}
	return &HandshakeError{Reason: "link closed waiting for " + phase, Err: err}
}

// Knock establishes a channel as the initiator. A knock is sent to the
// bootstrap port of every candidate link; the first acknowledgement
// decides the channel. A malformed, refused, or mismatched
// acknowledgement rejects the whole channel, as does silence until the
// timeout.
func Knock(ctx context.Context, config Config, links ...*Link) (*Channel, error) {
	config = config.withDefaults()
	channel := newChannel(Initiator, nil, config)
	channel.transition(Handshaking)

	fail := func(handshakeErr *HandshakeError) (*Channel, error) {
		channel.Close()
		return nil, handshakeErr
	}
	if len(links) == 0 {
		return fail(&HandshakeError{Reason: "no candidate links"})
	}

	waitCtx, stop := config.handshakeContext(ctx)
	defer stop()

	type answer struct {
		link     *Link
		envelope Envelope
		err      error
	}
	answers := make(chan answer, len(links))
	var replies []*OneShot
	defer func() {
		for _, reply := range replies {
			reply.Release()
		}
	}()

	config.Logger.Debug("knocking", "origin", config.Origin, "candidates", len(links))
	for _, link := range links {
		reply, err := link.NewOneShot()
		if err != nil {
			continue
		}
		knock := Envelope{Type: TypeKnock, Version: ProtocolVersion, Origin: config.Origin, Reply: reply.ID()}
		if err := link.send(BootstrapPort, knock); err != nil {
			reply.Release()
			continue
		}
		replies = append(replies, reply)
		go func() {
			envelope, err := reply.Receive(waitCtx)
			answers <- answer{link: link, envelope: envelope, err: err}
		}()
	}
	if len(replies) == 0 {
		return fail(&HandshakeError{Reason: "no candidate link accepted a knock", Err: ErrChannelClosed})
	}

	var chosen answer
	var lastErr error
	for range replies {
		candidate := <-answers
		if candidate.err == nil {
			chosen = candidate
			break
		}
		if waitCtx.Err() != nil {
			return fail(waitFailure(waitCtx, "ack", candidate.err))
		}
		lastErr = candidate.err
	}
	if chosen.link == nil {
		return fail(waitFailure(waitCtx, "ack", lastErr))
	}
	if invalid := validateAck(chosen.envelope, config.Expect); invalid != nil {
		return fail(invalid)
	}

	link := chosen.link
	turn, err := link.NewOneShot()
	if err != nil {
		return fail(&HandshakeError{Reason: "allocating turn port", Err: err})
	}
	control, err := link.NewDurable()
	if err != nil {
		turn.Release()
		return fail(&HandshakeError{Reason: "allocating control port", Err: err})
	}
	channel.mu.Lock()
	channel.link = link
	channel.remote = chosen.envelope.Reply
	channel.queue = NewQueue[*outgoing]()
	channel.turn = turn
	channel.control = control
	channel.mu.Unlock()

	complete := Envelope{Type: TypeComplete, Reply: turn.ID(), Control: control.ID()}
	if err := link.send(channel.remote, complete); err != nil {
		return fail(&HandshakeError{Reason: "sending complete", Err: err})
	}

	channel.transition(Open)
	go channel.drain()
	go channel.watchPeer()
	return channel, nil
}

func validateAck(envelope Envelope, expect string) *HandshakeError {
	switch {
	case envelope.Type == TypeError:
		return &HandshakeError{Reason: "listener refused: " + envelope.Error}
	case envelope.Type != TypeAck:
		return &HandshakeError{Reason: fmt.Sprintf("expected ack, got %q", envelope.Type)}
	case envelope.Version != ProtocolVersion:
		return &HandshakeError{Reason: fmt.Sprintf("protocol version mismatch: peer %d, local %d", envelope.Version, ProtocolVersion)}
	case expect != "" && envelope.Origin != expect:
		return &HandshakeError{Reason: fmt.Sprintf("unexpected origin %q", envelope.Origin)}
	case envelope.Reply == 0:
		return &HandshakeError{Reason: "ack carries no session port"}
	}
	return nil
}

func validateKnock(envelope Envelope, expect string) *HandshakeError {
	switch {
	case envelope.Type != TypeKnock:
		return &HandshakeError{Reason: fmt.Sprintf("expected knock, got %q", envelope.Type)}
	case envelope.Version != ProtocolVersion:
		return &HandshakeError{Reason: fmt.Sprintf("protocol version mismatch: peer %d, local %d", envelope.Version, ProtocolVersion)}
	case expect != "" && envelope.Origin != expect:
		return &HandshakeError{Reason: fmt.Sprintf("unexpected origin %q", envelope.Origin)}
	case envelope.Reply == 0:
		return &HandshakeError{Reason: "knock carries no reply port"}
	}
	return nil
}

// Listen establishes a channel as the acceptor. It waits for a knock on
// the link's bootstrap port until ctx ends, acknowledges it with a
// fresh session port, and waits up to config.Timeout for the
// initiator's complete. A knock it does not expect is answered with an
// error and otherwise ignored; a malformed complete rejects the
// channel.
//
// After Listen returns, call Serve to run the message loop.
func Listen(ctx context.Context, link *Link, config Config) (*Channel, error) {
	config = config.withDefaults()

	bootstrap, err := link.Bootstrap()
	if err != nil {
		return nil, &HandshakeError{Reason: "claiming bootstrap port", Err: err}
	}
	channel := newChannel(Acceptor, link, config)
	channel.bootstrap = bootstrap
	channel.transition(Handshaking)

	fail := func(handshakeErr *HandshakeError) (*Channel, error) {
		channel.Close()
		return nil, handshakeErr
	}

	var knock Envelope
	for {
		knock, err = bootstrap.Receive(ctx)
		if err != nil {
			return fail(waitFailure(ctx, "knock", err))
		}
		invalid := validateKnock(knock, config.Expect)
		if invalid == nil {
			break
		}
		config.Logger.Debug("ignoring knock", "origin", knock.Origin, "reason", invalid.Reason)
		if knock.Reply != 0 {
			link.send(knock.Reply, Envelope{Type: TypeError, Error: invalid.Reason})
		}
	}

	session, err := link.NewDurable()
	if err != nil {
		return fail(&HandshakeError{Reason: "allocating session port", Err: err})
	}
	channel.session = session
	ack := Envelope{Type: TypeAck, Version: ProtocolVersion, Origin: config.Origin, Reply: session.ID()}
	if err := link.send(knock.Reply, ack); err != nil {
		return fail(&HandshakeError{Reason: "sending ack", Err: err})
	}

	waitCtx, stop := config.handshakeContext(ctx)
	defer stop()
	complete, err := session.Receive(waitCtx)
	if err != nil {
		return fail(waitFailure(waitCtx, "complete", err))
	}
	if complete.Type != TypeComplete || complete.Reply == 0 || complete.Control == 0 {
		return fail(&HandshakeError{Reason: fmt.Sprintf("expected complete with turn and control ports, got %q", complete.Type)})
	}
	channel.mu.Lock()
	channel.peer = complete.Control
	channel.mu.Unlock()
	if err := link.send(complete.Reply, Envelope{Type: TypeTurn}); err != nil {
		return fail(&HandshakeError{Reason: "sending turn", Err: err})
	}

	channel.transition(Open)
	go channel.refuseKnocks()
	return channel, nil
}
