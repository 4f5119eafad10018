// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is returned by every operation on a channel, port,
// or queue after it has been closed, and delivered to every request
// still waiting when the close happened.
var ErrChannelClosed = errors.New("channel closed")

// HandshakeError reports that a channel never became usable: the peer
// spoke a different protocol version, answered from the wrong origin,
// sent a malformed handshake message, was busy, or did not answer in
// time. The channel is closed; the handshake is never retried.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed: %s: %v", e.Reason, e.Err)
	}
	return "handshake failed: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// MessageError reports a bad message. A malformed envelope (Remote
// false) is fatal to the channel. An error the remote handler returned
// (Remote true) fails only the request it answered.
type MessageError struct {
	Reason string
	Remote bool
}

func (e *MessageError) Error() string {
	if e.Remote {
		return "remote error: " + e.Reason
	}
	return "malformed message: " + e.Reason
}
