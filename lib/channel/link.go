// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/phosphorescence/eos/lib/codec"
)

// Link carries frames between two execution contexts over a byte
// stream: a worker's stdin/stdout pair, or an in-memory pipe. It routes
// each inbound frame to the local port it addresses and drops frames
// for ports that do not exist, so a peer can only reach ports it was
// explicitly handed.
//
// A Link is shared by every channel and port on it. Closing the Link
// closes all of them.
type Link struct {
	conn   io.ReadWriteCloser
	logger *slog.Logger

	writeMu sync.Mutex
	encoder *codec.Encoder

	mu       sync.Mutex
	ports    map[PortID]*mailbox
	nextPort PortID
	closed   bool
	err      error
	done     chan struct{}
}

type mailbox struct {
	queue   *Queue[Envelope]
	oneShot bool
}

// NewLink starts routing frames read from conn. The Link owns conn and
// closes it on Close.
func NewLink(conn io.ReadWriteCloser, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	link := &Link{
		conn:     conn,
		logger:   logger,
		encoder:  codec.NewEncoder(conn),
		ports:    make(map[PortID]*mailbox),
		nextPort: BootstrapPort + 1,
		done:     make(chan struct{}),
	}
	go link.readLoop()
	return link
}

func (l *Link) readLoop() {
	decoder := codec.NewDecoder(l.conn)
	for {
		var incoming frame
		if err := decoder.Decode(&incoming); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				l.shutdown(nil)
			} else {
				l.shutdown(&MessageError{Reason: fmt.Sprintf("reading frame: %v", err)})
			}
			return
		}
		l.route(incoming)
	}
}

func (l *Link) route(incoming frame) {
	l.mu.Lock()
	box, ok := l.ports[incoming.Port]
	if ok && (incoming.Close || box.oneShot) {
		delete(l.ports, incoming.Port)
	}
	l.mu.Unlock()

	if !ok {
		l.logger.Debug("dropping frame for unknown port", "port", incoming.Port)
		return
	}
	switch {
	case incoming.Close:
		box.queue.Close()
	case incoming.Envelope == nil:
		l.logger.Debug("dropping empty frame", "port", incoming.Port)
	default:
		box.queue.Push(*incoming.Envelope)
	}
}

// register allocates a local port. id 0 requests the bootstrap port.
func (l *Link) register(bootstrap, oneShot bool) (PortID, *Queue[Envelope], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, nil, ErrChannelClosed
	}
	id := BootstrapPort
	if !bootstrap {
		id = l.nextPort
		l.nextPort++
	} else if _, taken := l.ports[BootstrapPort]; taken {
		return 0, nil, errors.New("bootstrap port already has a listener")
	}
	queue := NewQueue[Envelope]()
	l.ports[id] = &mailbox{queue: queue, oneShot: oneShot}
	return id, queue, nil
}

func (l *Link) unregister(id PortID) {
	l.mu.Lock()
	box, ok := l.ports[id]
	delete(l.ports, id)
	l.mu.Unlock()
	if ok {
		box.queue.Destroy()
	}
}

func (l *Link) write(outgoing frame) error {
	select {
	case <-l.done:
		return ErrChannelClosed
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.encoder.Encode(outgoing); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// send delivers envelope to the peer's port.
func (l *Link) send(to PortID, envelope Envelope) error {
	return l.write(frame{Port: to, Envelope: &envelope})
}

// abandon tells the peer that its port will never be used again.
func (l *Link) abandon(to PortID) error {
	return l.write(frame{Port: to, Close: true})
}

func (l *Link) shutdown(cause error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.err = cause
	ports := l.ports
	l.ports = nil
	close(l.done)
	l.mu.Unlock()

	for _, box := range ports {
		box.queue.Close()
	}
	if cause != nil {
		l.logger.Warn("link failed", "error", cause)
	}
}

// Close closes every port and the underlying stream.
func (l *Link) Close() error {
	l.shutdown(nil)
	return l.conn.Close()
}

// Done is closed once the link has stopped routing frames.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err returns the error that stopped the link, or nil if it stopped
// because the stream ended or Close was called.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
