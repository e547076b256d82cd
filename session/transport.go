/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import "context"

// Conn is one open peer connection. Messages sent on a Conn arrive in
// order; nothing is guaranteed across connections.
type Conn interface {
	// PeerID is the remote end's transport-level identifier.
	PeerID() string
	// Metadata is whatever the dialing side attached when connecting.
	Metadata() map[string]string
	Send(data []byte) error
	Close() error
}

// Handler receives connection events. A Transport calls it from its own
// goroutines.
type Handler interface {
	HandleOpen(c Conn)
	HandleMessage(c Conn, data []byte)
	HandleClose(c Conn)
	HandleError(c Conn, err error)
}

// Transport opens and accepts peer connections.
type Transport interface {
	// ID is the local peer id. When hosting it doubles as the room code.
	ID() string
	// Serve delivers events for incoming and dialed connections to h until
	// ctx is done.
	Serve(ctx context.Context, h Handler) error
	// Dial connects to peerID and returns once the connection is open.
	// The dialing side gets no HandleOpen for the returned Conn.
	Dial(ctx context.Context, peerID string, metadata map[string]string) (Conn, error)
}
