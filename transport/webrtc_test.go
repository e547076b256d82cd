/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectTimeout = 15 * time.Second

// fakeBroker greets every client with hello and then echoes nothing.
func fakeBroker(t *testing.T, hello Signal) string {
	t.Helper()

	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if err := ws.WriteJSON(hello); err != nil {
			return
		}

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func register(t *testing.T, hello Signal) (*WebRTC, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return Register(ctx, WebRTCConfig{SignalURL: fakeBroker(t, hello)})
}

func TestRegisterTakesAssignedID(t *testing.T) {
	t.Parallel()

	tr, err := register(t, Signal{Type: SignalID, ID: "peer-1"})
	require.NoError(t, err)

	assert.Equal(t, "peer-1", tr.ID())
	assert.Empty(t, tr.config.ICEServers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tr.Serve(ctx, &recorder{})
	}()

	cancel()
	assert.NoError(t, <-done)
}

func TestRegisterRejectsUnexpectedGreeting(t *testing.T) {
	t.Parallel()

	_, err := register(t, Signal{Type: SignalError, Message: "full"})
	assert.ErrorContains(t, err, `unexpected "error"`)

	_, err = register(t, Signal{Type: SignalID})
	assert.Error(t, err)
}

func TestRegisterUnreachableBroker(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Register(ctx, WebRTCConfig{SignalURL: "ws://127.0.0.1:1/signal"})
	assert.ErrorContains(t, err, "connecting to signaling broker")
}

func TestResolveRoutesByPeer(t *testing.T) {
	t.Parallel()

	tr, err := register(t, Signal{Type: SignalID, ID: "peer-1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.ws.Close() })

	bob, err := tr.expect("bob")
	require.NoError(t, err)
	cara, err := tr.expect("cara")
	require.NoError(t, err)

	_, err = tr.expect("bob")
	assert.Error(t, err)

	tr.resolve(Signal{Type: SignalAnswer, From: "bob", SDP: "v=0"})
	tr.resolve(Signal{Type: SignalError, Target: "cara", Message: "unknown peer"})
	tr.resolve(Signal{Type: SignalAnswer, From: "dan"})

	assert.Equal(t, "v=0", (<-bob).SDP)
	assert.Equal(t, SignalError, (<-cara).Type)

	tr.forget("bob")
	_, err = tr.expect("bob")
	assert.NoError(t, err)
}

func TestRegisterKeepsICEServers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := Register(ctx, WebRTCConfig{
		SignalURL:  fakeBroker(t, Signal{Type: SignalID, ID: "peer-1"}),
		ICEServers: DefaultICEServers,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.ws.Close() })

	require.Len(t, tr.config.ICEServers, 1)
	assert.Equal(t, DefaultICEServers, tr.config.ICEServers[0].URLs)
}

// relay is a minimal signaling broker: it numbers clients and forwards
// offers and answers to their target.
type relay struct {
	url string

	mu      sync.Mutex
	next    int
	clients map[string]*relayClient
}

type relayClient struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *relayClient) write(sig Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.WriteJSON(sig)
}

func newRelay(t *testing.T) *relay {
	t.Helper()

	r := &relay{clients: make(map[string]*relayClient)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := &relayClient{ws: ws}

		r.mu.Lock()
		r.next++
		id := "peer-" + strconv.Itoa(r.next)
		r.clients[id] = c
		r.mu.Unlock()

		defer func() {
			r.mu.Lock()
			delete(r.clients, id)
			r.mu.Unlock()
		}()

		c.write(Signal{Type: SignalID, ID: id})

		for {
			var sig Signal
			if err := ws.ReadJSON(&sig); err != nil {
				return
			}

			r.mu.Lock()
			target, ok := r.clients[sig.Target]
			r.mu.Unlock()

			if !ok {
				c.write(Signal{Type: SignalError, Target: sig.Target, Message: "peer unavailable"})
				continue
			}

			sig.From = id
			target.write(sig)
		}
	}))
	t.Cleanup(srv.Close)

	r.url = "ws" + strings.TrimPrefix(srv.URL, "http")

	return r
}

// drop disconnects every client, as a broker restart would.
func (r *relay) drop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		_ = c.ws.Close()
	}
}

// localSettings restricts pion to loopback UDP so peers in one process
// connect without STUN.
func localSettings() *webrtc.SettingEngine {
	s := &webrtc.SettingEngine{}
	s.SetIncludeLoopbackCandidate(true)
	s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	return s
}

type served struct {
	*WebRTC
	rec  *recorder
	done chan error
}

func registerLocal(t *testing.T, r *relay) *served {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := Register(ctx, WebRTCConfig{SignalURL: r.url, SettingEngine: localSettings()})
	require.NoError(t, err)

	serveCtx, stop := context.WithCancel(context.Background())
	s := &served{WebRTC: tr, rec: &recorder{}, done: make(chan error, 1)}

	go func() {
		s.done <- tr.Serve(serveCtx, s.rec)
	}()

	t.Cleanup(func() {
		stop()
		assert.NoError(t, <-s.done)
	})

	return s
}

func dialPeer(t *testing.T, from, to *served, metadata map[string]string) (*dataConn, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := from.Dial(ctx, to.ID(), metadata)
	if err != nil {
		return nil, err
	}

	return conn.(*dataConn), nil
}

func sawEvent(r *recorder, want event) bool {
	for _, e := range r.snapshot() {
		if e == want {
			return true
		}
	}

	return false
}

func TestWebRTCDataChannel(t *testing.T) {
	t.Parallel()

	r := newRelay(t)
	alice := registerLocal(t, r)
	bob := registerLocal(t, r)

	conn, err := dialPeer(t, alice, bob, map[string]string{"username": "Alice", "isJoining": "true"})
	require.NoError(t, err)

	assert.Equal(t, bob.ID(), conn.PeerID())
	assert.Equal(t, "Alice", conn.Metadata()["username"])

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Send([]byte(m)))
	}

	got := waitEventsFor(t, bob.rec, 4, connectTimeout)
	assert.Equal(t, []event{
		{kind: "open", peer: alice.ID(), data: "Alice"},
		{kind: "message", peer: alice.ID(), data: "one"},
		{kind: "message", peer: alice.ID(), data: "two"},
		{kind: "message", peer: alice.ID(), data: "three"},
	}, got)

	inbound := bob.rec.inbound()
	require.Len(t, inbound, 1)
	assert.Equal(t, "true", inbound[0].Metadata()["isJoining"])

	require.NoError(t, inbound[0].Send([]byte("pong")))
	assert.Equal(t,
		[]event{{kind: "message", peer: bob.ID(), data: "pong"}},
		waitEventsFor(t, alice.rec, 1, connectTimeout))

	_ = conn.Close()

	require.Eventually(t, func() bool {
		return sawEvent(alice.rec, event{kind: "close", peer: bob.ID()})
	}, connectTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return sawEvent(bob.rec, event{kind: "close", peer: alice.ID()})
	}, connectTimeout, 10*time.Millisecond)

	assert.ErrorIs(t, conn.Send([]byte("late")), ErrClosed)
}

func TestWebRTCDialUnknownPeer(t *testing.T) {
	t.Parallel()

	r := newRelay(t)
	alice := registerLocal(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	_, err := alice.Dial(ctx, "nobody", nil)
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestWebRTCOutlivesSignaling(t *testing.T) {
	t.Parallel()

	r := newRelay(t)
	alice := registerLocal(t, r)
	bob := registerLocal(t, r)

	conn, err := dialPeer(t, alice, bob, nil)
	require.NoError(t, err)
	waitEventsFor(t, bob.rec, 1, connectTimeout)

	r.drop()

	for _, s := range []*served{alice, bob} {
		require.Eventually(t, func() bool {
			select {
			case <-s.lost:
				return true
			default:
				return false
			}
		}, connectTimeout, 10*time.Millisecond)
	}

	require.NoError(t, conn.Send([]byte("still here")))
	got := waitEventsFor(t, bob.rec, 2, connectTimeout)
	assert.Equal(t, event{kind: "message", peer: alice.ID(), data: "still here"}, got[1])

	require.NoError(t, bob.rec.inbound()[0].Send([]byte("me too")))
	assert.Equal(t,
		[]event{{kind: "message", peer: bob.ID(), data: "me too"}},
		waitEventsFor(t, alice.rec, 1, connectTimeout))

	_, err = alice.Dial(context.Background(), bob.ID(), nil)
	assert.ErrorIs(t, err, ErrSignalingLost)

	for _, s := range []*served{alice, bob} {
		assert.Empty(t, s.done, "Serve returned after losing signaling")
	}
}
