// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

// InterruptSender sends out-of-band envelopes to an interrupt port the
// peer listens on. Interrupts bypass the request queue: any number may
// be sent while a request is in flight, and they carry no ordering
// guarantee relative to requests.
type InterruptSender struct {
	channel *Channel
	port    PortID
}

func (c *Channel) sender(port PortID) *InterruptSender {
	if port == 0 {
		return nil
	}
	return &InterruptSender{channel: c, port: port}
}

// Send delivers body to the peer's interrupt handler. Returns
// ErrChannelClosed once either end has closed.
func (s *InterruptSender) Send(body any) error {
	select {
	case <-s.channel.done:
		return ErrChannelClosed
	default:
	}
	encoded, err := encodeBody(body)
	if err != nil {
		return err
	}
	return s.channel.link.send(s.port, Envelope{Type: TypeInterrupt, Body: encoded})
}

// listen delivers interrupts arriving on port to handler until the
// channel closes.
func (c *Channel) listen(port *Durable, handler InterruptHandler) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		port.Release()
		return
	}
	c.releases = append(c.releases, port.Release)
	c.mu.Unlock()

	go func() {
		for {
			envelope, err := port.Receive(c.lifetime)
			if err != nil {
				return
			}
			if envelope.Type != TypeInterrupt {
				c.logger.Debug("dropping non-interrupt envelope on interrupt port",
					"port", port.ID(), "type", envelope.Type)
				continue
			}
			handler(envelope.Body)
		}
	}()
}
