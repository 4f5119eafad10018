// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/phosphorescence/eos/lib/clock"
	"github.com/phosphorescence/eos/lib/testutil"
)

func TestHandshakeOpensBothEnds(t *testing.T) {
	initiator, acceptor := connect(t, func(context.Context, Request) (Reply, error) {
		return Reply{}, nil
	})
	if initiator.State() != Open || acceptor.State() != Open {
		t.Fatalf("states = %v/%v, want open/open", initiator.State(), acceptor.State())
	}
	if initiator.Role() != Initiator || acceptor.Role() != Acceptor {
		t.Fatalf("roles = %v/%v", initiator.Role(), acceptor.Role())
	}
}

func TestKnockRejectsBadAck(t *testing.T) {
	tests := []struct {
		name   string
		ack    Envelope
		reason string
	}{
		{
			name:   "version mismatch",
			ack:    Envelope{Type: TypeAck, Version: ProtocolVersion + 1, Origin: "worker", Reply: 9},
			reason: "protocol version mismatch",
		},
		{
			name:   "missing session port",
			ack:    Envelope{Type: TypeAck, Version: ProtocolVersion, Origin: "worker"},
			reason: "no session port",
		},
		{
			name:   "wrong origin",
			ack:    Envelope{Type: TypeAck, Version: ProtocolVersion, Origin: "impostor", Reply: 9},
			reason: "unexpected origin",
		},
		{
			name:   "wrong type",
			ack:    Envelope{Type: TypeTurn, Version: ProtocolVersion, Origin: "worker", Reply: 9},
			reason: "expected ack",
		},
		{
			name:   "refused",
			ack:    Envelope{Type: TypeError, Error: "listener busy"},
			reason: "listener refused: listener busy",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			link, peer := rawPair(t)
			log := &stateLog{}
			done := make(chan handshakeResult, 1)
			go func() {
				channel, err := Knock(context.Background(), Config{
					Origin:  "host",
					Expect:  "worker",
					Timeout: testTimeout,
					Trace:   log.trace,
				}, link)
				done <- handshakeResult{channel, err}
			}()

			port, knock := peer.readEnvelope()
			if port != BootstrapPort || knock.Type != TypeKnock {
				t.Fatalf("first frame = port %d type %q, want knock on bootstrap", port, knock.Type)
			}
			if knock.Version != ProtocolVersion || knock.Origin != "host" || knock.Reply == 0 {
				t.Fatalf("knock = %+v", knock)
			}
			peer.send(knock.Reply, test.ack)

			result := testutil.RequireReceive(t, done, testTimeout, "Knock did not return")
			if result.channel != nil {
				t.Fatal("Knock returned a channel for a bad ack")
			}
			var handshakeErr *HandshakeError
			if !errors.As(result.err, &handshakeErr) {
				t.Fatalf("error = %v, want HandshakeError", result.err)
			}
			if !strings.Contains(handshakeErr.Reason, test.reason) {
				t.Fatalf("reason = %q, want it to contain %q", handshakeErr.Reason, test.reason)
			}
			if log.reached(Open) {
				t.Fatalf("channel passed through open: %v", log.snapshot())
			}
			states := log.snapshot()
			if len(states) == 0 || states[len(states)-1] != Closed {
				t.Fatalf("final state trace = %v, want it to end closed", states)
			}
		})
	}
}

func TestListenIgnoresUnexpectedKnocks(t *testing.T) {
	tests := []struct {
		name     string
		knock    Envelope
		reason   string
		answered bool
	}{
		{
			name:     "version mismatch",
			knock:    Envelope{Type: TypeKnock, Version: ProtocolVersion + 1, Origin: "host", Reply: 3},
			reason:   "protocol version mismatch",
			answered: true,
		},
		{
			name:     "wrong origin",
			knock:    Envelope{Type: TypeKnock, Version: ProtocolVersion, Origin: "stranger", Reply: 3},
			reason:   "unexpected origin",
			answered: true,
		},
		{
			name:  "no reply port",
			knock: Envelope{Type: TypeKnock, Version: ProtocolVersion, Origin: "host"},
		},
		{
			name:     "not a knock",
			knock:    Envelope{Type: TypeMessage, Version: ProtocolVersion, Origin: "host", Reply: 3},
			reason:   "expected knock",
			answered: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			link, peer := rawPair(t)
			log := &stateLog{}
			done := make(chan handshakeResult, 1)
			go func() {
				channel, err := Listen(context.Background(), link, Config{
					Origin:  "worker",
					Expect:  "host",
					Timeout: testTimeout,
					Trace:   log.trace,
				})
				done <- handshakeResult{channel, err}
			}()

			peer.send(BootstrapPort, test.knock)
			if test.answered {
				port, answer := peer.readEnvelope()
				if port != test.knock.Reply || answer.Type != TypeError {
					t.Fatalf("answer = port %d type %q, want error on %d", port, answer.Type, test.knock.Reply)
				}
				if !strings.Contains(answer.Error, test.reason) {
					t.Fatalf("refusal = %q, want it to contain %q", answer.Error, test.reason)
				}
			}
			testutil.RequireNoReceive(t, done, 50*time.Millisecond, "Listen gave up after an unexpected knock")
			if log.reached(Closed) {
				t.Fatalf("listener closed after an unexpected knock: %v", log.snapshot())
			}

			// The listener still accepts the knock it expects.
			peer.send(BootstrapPort, Envelope{Type: TypeKnock, Version: ProtocolVersion, Origin: "host", Reply: 4})
			port, ack := peer.readEnvelope()
			if port != 4 || ack.Type != TypeAck || ack.Reply == 0 {
				t.Fatalf("ack = port %d %+v", port, ack)
			}
			peer.send(ack.Reply, Envelope{Type: TypeComplete, Reply: 5, Control: 6})
			if port, turn := peer.readEnvelope(); port != 5 || turn.Type != TypeTurn {
				t.Fatalf("turn = port %d %+v", port, turn)
			}

			result := testutil.RequireReceive(t, done, testTimeout, "Listen did not return")
			if result.err != nil {
				t.Fatalf("Listen: %v", result.err)
			}
			if result.channel.State() != Open {
				t.Fatalf("state = %v, want open", result.channel.State())
			}
		})
	}
}

func TestListenAbandonedWhileIgnoringKnocks(t *testing.T) {
	link, peer := rawPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan handshakeResult, 1)
	go func() {
		channel, err := Listen(ctx, link, Config{Origin: "worker", Expect: "host", Timeout: testTimeout})
		done <- handshakeResult{channel, err}
	}()

	peer.send(BootstrapPort, Envelope{Type: TypeKnock, Version: ProtocolVersion, Origin: "stranger", Reply: 3})
	peer.readEnvelope()
	cancel()

	result := testutil.RequireReceive(t, done, testTimeout, "Listen did not return")
	var handshakeErr *HandshakeError
	if !errors.As(result.err, &handshakeErr) || !strings.Contains(handshakeErr.Reason, "waiting for knock") {
		t.Fatalf("error = %v, want HandshakeError waiting for knock", result.err)
	}
}

func TestListenRejectsBadComplete(t *testing.T) {
	link, peer := rawPair(t)
	done := make(chan handshakeResult, 1)
	go func() {
		channel, err := Listen(context.Background(), link, Config{Origin: "worker", Timeout: testTimeout})
		done <- handshakeResult{channel, err}
	}()

	peer.send(BootstrapPort, Envelope{Type: TypeKnock, Version: ProtocolVersion, Origin: "host", Reply: 4})
	_, ack := peer.readEnvelope()
	if ack.Type != TypeAck || ack.Reply == 0 {
		t.Fatalf("ack = %+v", ack)
	}
	// A complete without a turn port is malformed.
	peer.send(ack.Reply, Envelope{Type: TypeComplete})

	result := testutil.RequireReceive(t, done, testTimeout, "Listen did not return")
	var handshakeErr *HandshakeError
	if !errors.As(result.err, &handshakeErr) {
		t.Fatalf("error = %v, want HandshakeError", result.err)
	}
}

func TestKnockTimesOut(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	link, peer := rawPair(t)
	log := &stateLog{}
	done := make(chan handshakeResult, 1)
	go func() {
		channel, err := Knock(context.Background(), Config{
			Origin:  "host",
			Timeout: 3 * time.Second,
			Clock:   fake,
			Trace:   log.trace,
		}, link)
		done <- handshakeResult{channel, err}
	}()

	peer.readEnvelope()
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)
	testutil.RequireNoReceive(t, done, 20*time.Millisecond, "Knock returned before the timeout")
	fake.Advance(time.Second)

	result := testutil.RequireReceive(t, done, testTimeout, "Knock did not time out")
	var handshakeErr *HandshakeError
	if !errors.As(result.err, &handshakeErr) || !strings.Contains(handshakeErr.Reason, "timed out") {
		t.Fatalf("error = %v, want a timeout HandshakeError", result.err)
	}
	if !log.reached(Closed) || log.reached(Open) {
		t.Fatalf("state trace = %v", log.snapshot())
	}
}

func TestListenTimesOutWaitingForComplete(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	link, peer := rawPair(t)
	done := make(chan handshakeResult, 1)
	go func() {
		channel, err := Listen(context.Background(), link, Config{Origin: "worker", Timeout: time.Second, Clock: fake})
		done <- handshakeResult{channel, err}
	}()

	peer.send(BootstrapPort, Envelope{Type: TypeKnock, Version: ProtocolVersion, Origin: "host", Reply: 4})
	peer.readEnvelope()
	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	result := testutil.RequireReceive(t, done, testTimeout, "Listen did not time out")
	var handshakeErr *HandshakeError
	if !errors.As(result.err, &handshakeErr) || !strings.Contains(handshakeErr.Reason, "timed out") {
		t.Fatalf("error = %v, want a timeout HandshakeError", result.err)
	}
}

func TestKnockCancelled(t *testing.T) {
	link, peer := rawPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan handshakeResult, 1)
	go func() {
		channel, err := Knock(ctx, Config{Origin: "host"}, link)
		done <- handshakeResult{channel, err}
	}()

	peer.readEnvelope()
	cancel()
	result := testutil.RequireReceive(t, done, testTimeout, "Knock ignored cancellation")
	if !errors.Is(result.err, context.Canceled) {
		t.Fatalf("error = %v, want it to wrap context.Canceled", result.err)
	}
}

func TestKnockWithoutLinks(t *testing.T) {
	if _, err := Knock(context.Background(), Config{}); err == nil {
		t.Fatal("Knock with no links succeeded")
	}
}

func TestKnockUsesFirstAnsweringLink(t *testing.T) {
	silentLink, silentPeer := rawPair(t)
	initiatorLink, acceptorLink := linkPair(t)

	go func() {
		acceptor, err := Listen(context.Background(), acceptorLink, Config{Origin: "worker", Timeout: testTimeout})
		if err != nil {
			t.Errorf("Listen: %v", err)
			return
		}
		acceptor.Serve(context.Background(), func(_ context.Context, request Request) (Reply, error) {
			return Reply{Body: "pong"}, nil
		})
	}()

	done := make(chan handshakeResult, 1)
	go func() {
		channel, err := Knock(context.Background(), Config{Origin: "host", Timeout: testTimeout}, silentLink, initiatorLink)
		done <- handshakeResult{channel, err}
	}()
	silentPeer.readEnvelope()

	result := testutil.RequireReceive(t, done, testTimeout, "Knock did not return")
	if result.err != nil {
		t.Fatalf("Knock: %v", result.err)
	}
	defer result.channel.Close()

	response, err := result.channel.Request(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	var body string
	if err := response.Decode(&body); err != nil || body != "pong" {
		t.Fatalf("response = %q, %v", body, err)
	}
}

func TestSecondKnockRefusedWhileOpen(t *testing.T) {
	initiatorLink, acceptorLink := linkPair(t)
	accepted := make(chan handshakeResult, 1)
	go func() {
		channel, err := Listen(context.Background(), acceptorLink, Config{Origin: "worker", Timeout: testTimeout})
		accepted <- handshakeResult{channel, err}
	}()

	first, err := Knock(context.Background(), Config{Origin: "host", Timeout: testTimeout}, initiatorLink)
	if err != nil {
		t.Fatalf("first Knock: %v", err)
	}
	defer first.Close()
	acceptor := testutil.RequireReceive(t, accepted, testTimeout, "Listen did not return")
	if acceptor.err != nil {
		t.Fatalf("Listen: %v", acceptor.err)
	}
	defer acceptor.channel.Close()

	_, err = Knock(context.Background(), Config{Origin: "host", Timeout: testTimeout}, initiatorLink)
	var handshakeErr *HandshakeError
	if !errors.As(err, &handshakeErr) || !strings.Contains(handshakeErr.Reason, "busy") {
		t.Fatalf("second Knock error = %v, want busy refusal", err)
	}
	if first.State() != Open {
		t.Fatalf("first channel state = %v after refused knock", first.State())
	}
}
