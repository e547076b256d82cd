/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/Seednode/imposter/session"
)

var (
	ErrClosed          = errors.New("connection closed")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrSignalingLost   = errors.New("signaling broker unreachable")
)

// Switchboard connects Loopback nodes living in the same process.
type Switchboard struct {
	mu    sync.Mutex
	nodes map[string]*Loopback
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{
		nodes: make(map[string]*Loopback),
	}
}

// Node registers a new endpoint with a random peer id.
func (s *Switchboard) Node() *Loopback {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := &Loopback{
		id:    uuid.NewString(),
		board: s,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		conns: make(map[*pipeConn]struct{}),
	}
	s.nodes[n.id] = n

	return n
}

func (s *Switchboard) lookup(id string) (*Loopback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]

	return n, ok
}

func (s *Switchboard) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, id)
}

// Loopback is an in-process session.Transport. Dial waits for both ends
// to be serving.
type Loopback struct {
	id    string
	board *Switchboard

	handler session.Handler
	ready   chan struct{}
	done    chan struct{}

	mu    sync.Mutex
	conns map[*pipeConn]struct{}
}

func (l *Loopback) ID() string {
	return l.id
}

func (l *Loopback) Serve(ctx context.Context, h session.Handler) error {
	l.handler = h
	close(l.ready)

	<-ctx.Done()

	l.board.remove(l.id)
	close(l.done)

	l.mu.Lock()
	conns := make([]*pipeConn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	return nil
}

// await blocks until l is serving.
func (l *Loopback) await(ctx context.Context) error {
	select {
	case <-l.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-l.done:
		return fmt.Errorf("%w: %s stopped", ErrPeerUnavailable, l.id)
	default:
		return nil
	}
}

func (l *Loopback) Dial(ctx context.Context, peerID string, metadata map[string]string) (session.Conn, error) {
	if err := l.await(ctx); err != nil {
		return nil, err
	}

	node, ok := l.board.lookup(peerID)
	if !ok || node == l {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, peerID)
	}

	if err := node.await(ctx); err != nil {
		return nil, err
	}

	near := newPipeConn(l, peerID, maps.Clone(metadata))
	far := newPipeConn(node, l.id, maps.Clone(metadata))
	near.peer, far.peer = far, near

	l.track(near)
	node.track(far)

	node.handler.HandleOpen(far)

	go near.pump(l.handler)
	go far.pump(node.handler)

	return near, nil
}

func (l *Loopback) track(c *pipeConn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.conns[c] = struct{}{}
}

func (l *Loopback) untrack(c *pipeConn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.conns, c)
}

// pipeConn is one end of an in-process connection. Its inbox holds
// messages addressed to the owning node.
type pipeConn struct {
	owner    *Loopback
	remoteID string
	metadata map[string]string
	peer     *pipeConn

	mu     sync.RWMutex
	closed bool
	inbox  chan []byte
	once   sync.Once
}

func newPipeConn(owner *Loopback, remoteID string, metadata map[string]string) *pipeConn {
	return &pipeConn{
		owner:    owner,
		remoteID: remoteID,
		metadata: metadata,
		inbox:    make(chan []byte, 64),
	}
}

func (c *pipeConn) PeerID() string {
	return c.remoteID
}

func (c *pipeConn) Metadata() map[string]string {
	return c.metadata
}

func (c *pipeConn) Send(data []byte) error {
	return c.peer.deliver(append([]byte(nil), data...))
}

func (c *pipeConn) deliver(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	c.inbox <- data

	return nil
}

// Close shuts both ends. Each side still receives what was sent before the
// close, followed by HandleClose.
func (c *pipeConn) Close() error {
	c.shutdown()
	c.peer.shutdown()

	return nil
}

func (c *pipeConn) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.inbox)
		c.mu.Unlock()
	})
}

func (c *pipeConn) pump(h session.Handler) {
	for data := range c.inbox {
		h.HandleMessage(c, data)
	}

	c.owner.untrack(c)
	h.HandleClose(c)
}
