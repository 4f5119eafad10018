// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the request/response protocol between the
// host and a playlist worker.
//
// Two ends share a [Link], a framed CBOR stream over any byte pipe.
// Each side owns the ports it allocates; a frame names the receiving
// port and carries one [Envelope]. Knocks arrive on port 0.
//
// A channel is established by a three-message handshake. The
// initiator ([Knock]) sends a knock with its protocol version, origin,
// and a reply port. The acceptor ([Listen]) answers with an ack
// carrying a session port. The initiator sends complete with a turn
// port and a control port, and the acceptor confirms with turn. A
// listener answers knocks it does not expect with an error and keeps
// waiting. A handshake that fails for
// any reason leaves the channel closed and returns a [HandshakeError];
// there is no partially open state.
//
// Once open, the initiator's requests are delivered strictly one at a
// time in posting order. Each carries a fresh reply port, and may carry
// an interrupt port for out-of-band messages from the acceptor. The
// acceptor's reply may open an interrupt port in the other direction.
// Closing either end fails every request still waiting with
// [ErrChannelClosed]. An acceptor that closes abandons the control
// port, so the initiator closes too even when it is idle.
package channel
