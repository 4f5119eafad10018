// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"

	"github.com/phosphorescence/eos/lib/codec"
)

// PortID addresses a port owned by the receiving side of a link. Each
// side allocates its own ids, so ids never collide on the wire. Port 0
// is the bootstrap port a listener receives knocks on.
type PortID uint64

// BootstrapPort is where knocks are delivered.
const BootstrapPort PortID = 0

// Type is the envelope type.
type Type string

const (
	TypeKnock     Type = "knock"
	TypeAck       Type = "ack"
	TypeComplete  Type = "complete"
	TypeTurn      Type = "turn"
	TypeMessage   Type = "message"
	TypeError     Type = "error"
	TypeInterrupt Type = "interrupt"
)

// Envelope is the unit of every exchange on a channel.
type Envelope struct {
	Type    Type   `cbor:"type"`
	Version int    `cbor:"version,omitempty"`
	Origin  string `cbor:"origin,omitempty"`

	// Reply is a port owned by the sender where the receiver answers.
	Reply PortID `cbor:"reply,omitempty"`

	// Interrupt is a port owned by the sender that accepts
	// out-of-band interrupt envelopes for as long as the channel
	// lives.
	Interrupt PortID `cbor:"interrupt,omitempty"`

	// Control is a port owned by the initiator, sent in complete. The
	// acceptor abandons it when it closes so an idle initiator learns
	// of the close.
	Control PortID `cbor:"control,omitempty"`

	Body  codec.RawMessage `cbor:"body,omitempty"`
	Error string           `cbor:"error,omitempty"`
}

// frame is what travels on a link: an envelope for a port, or notice
// that the sender has abandoned a port of the receiver's.
type frame struct {
	Port     PortID    `cbor:"port"`
	Envelope *Envelope `cbor:"envelope,omitempty"`
	Close    bool      `cbor:"close,omitempty"`
}

func encodeBody(body any) (codec.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(codec.RawMessage); ok {
		return raw, nil
	}
	data, err := codec.Marshal(body)
	if err != nil {
		return nil, &MessageError{Reason: fmt.Sprintf("encoding body: %v", err)}
	}
	return data, nil
}

func decodeBody(raw codec.RawMessage, target any) error {
	if len(raw) == 0 {
		return &MessageError{Reason: "empty body"}
	}
	if err := codec.Unmarshal(raw, target); err != nil {
		return &MessageError{Reason: fmt.Sprintf("decoding body: %v", err)}
	}
	return nil
}
