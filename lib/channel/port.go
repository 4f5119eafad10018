// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"sync"
)

// OneShot is a local port that accepts exactly one envelope. The link
// unregisters it as soon as that envelope arrives, so a second delivery
// to the same id is dropped.
type OneShot struct {
	link  *Link
	id    PortID
	queue *Queue[Envelope]
	once  sync.Once
}

// NewOneShot allocates a one-shot reply port.
func (l *Link) NewOneShot() (*OneShot, error) {
	id, queue, err := l.register(false, true)
	if err != nil {
		return nil, err
	}
	return &OneShot{link: l, id: id, queue: queue}, nil
}

// ID returns the id to hand to the peer.
func (p *OneShot) ID() PortID { return p.id }

// Receive waits for the envelope. Any call after the first returns
// ErrChannelClosed.
func (p *OneShot) Receive(ctx context.Context) (Envelope, error) {
	envelope, err := p.queue.Shift(ctx)
	p.Release()
	return envelope, err
}

// Release abandons the port without receiving.
func (p *OneShot) Release() {
	p.once.Do(func() { p.link.unregister(p.id) })
}

// Durable is a local port that accepts any number of envelopes until
// released or the link closes.
type Durable struct {
	link  *Link
	id    PortID
	queue *Queue[Envelope]
	once  sync.Once
}

// NewDurable allocates a multi-use port.
func (l *Link) NewDurable() (*Durable, error) {
	id, queue, err := l.register(false, false)
	if err != nil {
		return nil, err
	}
	return &Durable{link: l, id: id, queue: queue}, nil
}

// Bootstrap claims port 0, where knocks arrive. Only one listener may
// hold it at a time.
func (l *Link) Bootstrap() (*Durable, error) {
	id, queue, err := l.register(true, false)
	if err != nil {
		return nil, err
	}
	return &Durable{link: l, id: id, queue: queue}, nil
}

// ID returns the id to hand to the peer.
func (p *Durable) ID() PortID { return p.id }

// Receive waits for the next envelope.
func (p *Durable) Receive(ctx context.Context) (Envelope, error) {
	return p.queue.Shift(ctx)
}

// Release closes the port. Pending and future Receive calls fail with
// ErrChannelClosed.
func (p *Durable) Release() {
	p.once.Do(func() { p.link.unregister(p.id) })
}
