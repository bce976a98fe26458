// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tunnel presents the outer bidirectional BytesMessage stream of a
// BuildKit Session RPC as a byte-oriented net.Conn, so that a vanilla
// *grpc.Server can be driven over it as a reverse tunnel. See
// session.Session for how the adapter is wired into an accept loop.
package tunnel

import (
	"io"
	"net"
	"sync"
	"time"

	control "github.com/moby/buildkit/api/services/control"
)

// Adapter turns a pair of BytesMessage channels into a net.Conn. Reads
// concatenate successive message payloads with no framing of their own;
// each Write produces exactly one outbound message whose payload equals
// the write's buffer. Bytes are never reordered, coalesced, or split beyond
// what the channels naturally provide.
type Adapter struct {
	inbound  <-chan *control.BytesMessage
	outbound chan<- *control.BytesMessage

	mu      sync.Mutex
	readBuf []byte

	closeOnce sync.Once
	closed    chan struct{}
}

var _ net.Conn = (*Adapter)(nil)

// NewAdapter wraps an inbound and an outbound channel of BytesMessage as a
// duplex byte stream. Closing the inbound channel upstream surfaces as
// io.EOF on Read; calling Close surfaces as io.EOF on Read and as
// io.ErrClosedPipe on Write. Write blocks while the outbound channel is
// full. A closed outbound channel is not detected: a Write to it panics.
func NewAdapter(inbound <-chan *control.BytesMessage, outbound chan<- *control.BytesMessage) *Adapter {
	return &Adapter{
		inbound:  inbound,
		outbound: outbound,
		closed:   make(chan struct{}),
	}
}

func (a *Adapter) Read(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for len(a.readBuf) == 0 {
		select {
		case <-a.closed:
			return 0, io.EOF
		default:
		}
		select {
		case msg, ok := <-a.inbound:
			if !ok {
				return 0, io.EOF
			}
			a.readBuf = msg.Data
		case <-a.closed:
			return 0, io.EOF
		}
	}

	n := copy(p, a.readBuf)
	a.readBuf = a.readBuf[n:]
	return n, nil
}

func (a *Adapter) Write(p []byte) (int, error) {
	select {
	case <-a.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case a.outbound <- &control.BytesMessage{Data: buf}:
		return len(p), nil
	case <-a.closed:
		return 0, io.ErrClosedPipe
	}
}

// Close marks the adapter closed. It does not close the underlying
// channels, which are owned by the Session's pump goroutines.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

type pipeAddr struct{ name string }

func (p pipeAddr) Network() string { return "buildkit-session" }
func (p pipeAddr) String() string  { return p.name }

func (a *Adapter) LocalAddr() net.Addr  { return pipeAddr{"local"} }
func (a *Adapter) RemoteAddr() net.Addr { return pipeAddr{"remote"} }

// No timeouts are imposed by this layer; liveness is governed by the
// underlying transport's keep-alive and the daemon's own watchdog.
func (a *Adapter) SetDeadline(time.Time) error      { return nil }
func (a *Adapter) SetReadDeadline(time.Time) error  { return nil }
func (a *Adapter) SetWriteDeadline(time.Time) error { return nil }
