// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/phosphorescence/eos/lib/codec"
)

const testTimeout = 5 * time.Second

// linkPair returns two links joined by an in-memory pipe.
func linkPair(t *testing.T) (*Link, *Link) {
	t.Helper()
	left, right := net.Pipe()
	a := NewLink(left, nil)
	b := NewLink(right, nil)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// rawPeer speaks frames directly so tests can send what a
// well-behaved peer never would.
type rawPeer struct {
	t       *testing.T
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
}

// rawPair returns a link and a raw peer on the other end of its pipe.
func rawPair(t *testing.T) (*Link, *rawPeer) {
	t.Helper()
	left, right := net.Pipe()
	link := NewLink(left, nil)
	t.Cleanup(func() {
		link.Close()
		right.Close()
	})
	return link, &rawPeer{t: t, conn: right, encoder: codec.NewEncoder(right), decoder: codec.NewDecoder(right)}
}

func (p *rawPeer) read() frame {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(testTimeout))
	var incoming frame
	if err := p.decoder.Decode(&incoming); err != nil {
		p.t.Fatalf("reading frame: %v", err)
	}
	return incoming
}

func (p *rawPeer) readEnvelope() (PortID, Envelope) {
	p.t.Helper()
	incoming := p.read()
	if incoming.Envelope == nil {
		p.t.Fatalf("frame for port %d carries no envelope (close=%v)", incoming.Port, incoming.Close)
	}
	return incoming.Port, *incoming.Envelope
}

func (p *rawPeer) send(to PortID, envelope Envelope) {
	p.t.Helper()
	p.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	if err := p.encoder.Encode(frame{Port: to, Envelope: &envelope}); err != nil {
		p.t.Fatalf("writing frame: %v", err)
	}
}

// stateLog records the states a channel passes through.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) trace(state State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *stateLog) reached(state State) bool {
	for _, seen := range l.snapshot() {
		if seen == state {
			return true
		}
	}
	return false
}

type handshakeResult struct {
	channel *Channel
	err     error
}

// connect establishes a channel over a fresh pipe and serves handler on
// the acceptor end.
func connect(t *testing.T, handler Handler) (*Channel, *Channel) {
	t.Helper()
	initiatorLink, acceptorLink := linkPair(t)

	accepted := make(chan handshakeResult, 1)
	go func() {
		channel, err := Listen(context.Background(), acceptorLink, Config{Origin: "worker", Timeout: testTimeout})
		accepted <- handshakeResult{channel, err}
	}()

	initiator, err := Knock(context.Background(), Config{Origin: "host", Expect: "worker", Timeout: testTimeout}, initiatorLink)
	if err != nil {
		t.Fatalf("Knock: %v", err)
	}
	var result handshakeResult
	select {
	case result = <-accepted:
	case <-time.After(testTimeout):
		t.Fatal("Listen did not return")
	}
	if result.err != nil {
		t.Fatalf("Listen: %v", result.err)
	}
	acceptor := result.channel

	ctx, cancel := context.WithCancel(context.Background())
	go acceptor.Serve(ctx, handler)
	t.Cleanup(func() {
		cancel()
		initiator.Close()
		acceptor.Close()
	})
	return initiator, acceptor
}
