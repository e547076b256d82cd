/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/Seednode/imposter/transport"
)

// Broker introduces peers to each other. Each websocket client is given a
// peer id; offers and answers addressed to an id are relayed to its socket.
// Game traffic never passes through here.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*signalClient

	limit rate.Limit
	burst int
	log   zerolog.Logger
}

type signalClient struct {
	id      string
	conn    *websocket.Conn
	send    chan transport.Signal
	limiter *rate.Limiter
}

func newBroker(cfg *Config, log zerolog.Logger) *Broker {
	return &Broker{
		clients: make(map[string]*signalClient),
		limit:   rate.Limit(cfg.rate),
		burst:   cfg.burst,
		log:     log.With().Str("component", "broker").Logger(),
	}
}

func (b *Broker) register(conn *websocket.Conn) *signalClient {
	c := &signalClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan transport.Signal, 16),
		limiter: rate.NewLimiter(b.limit, b.burst),
	}

	b.mu.Lock()
	b.clients[c.id] = c
	c.send <- transport.Signal{Type: transport.SignalID, ID: c.id}
	count := len(b.clients)
	b.mu.Unlock()

	b.log.Debug().Str("peer", c.id).Int("clients", count).Msg("peer registered")

	return c
}

func (b *Broker) unregister(c *signalClient) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.send)
	}
	count := len(b.clients)
	b.mu.Unlock()

	b.log.Debug().Str("peer", c.id).Int("clients", count).Msg("peer left")
}

func (b *Broker) online(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.clients[id]

	return ok
}

// trySendLocked queues sig for c, dropping the client if it cannot keep up.
// b.mu must be held for reading.
func (b *Broker) trySendLocked(c *signalClient, sig transport.Signal) {
	select {
	case c.send <- sig:
	default:
		b.log.Warn().Str("peer", c.id).Msg("send queue full, disconnecting")
		_ = c.conn.Close()
	}
}

func (b *Broker) route(from *signalClient, sig transport.Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.clients[from.id]; !ok {
		return
	}

	if !from.limiter.Allow() {
		b.trySendLocked(from, transport.Signal{
			Type:    transport.SignalError,
			Target:  sig.Target,
			Message: "rate limited",
		})

		return
	}

	switch sig.Type {
	case transport.SignalOffer, transport.SignalAnswer:
	default:
		b.log.Debug().Str("peer", from.id).Str("type", sig.Type).Msg("ignoring signal")
		return
	}

	target, ok := b.clients[sig.Target]
	if !ok || target == from {
		b.trySendLocked(from, transport.Signal{
			Type:    transport.SignalError,
			Target:  sig.Target,
			Message: "peer unavailable",
		})

		return
	}

	sig.From = from.id
	b.trySendLocked(target, sig)

	b.log.Debug().
		Str("from", from.id).
		Str("target", target.id).
		Str("type", sig.Type).
		Msg("relayed signal")
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, c := range b.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(b.clients, id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveSignalSocket(b *Broker) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.Warn().Err(err).Str("client", realIP(r)).Msg("websocket upgrade")
			return
		}

		c := b.register(conn)

		go c.writePump()
		c.readPump(b)
	}
}

// maxSignalSize bounds one signaling frame. A non-trickle SDP with a
// handful of candidates is a few KiB.
const maxSignalSize = 64 << 10

func (c *signalClient) readPump(b *Broker) {
	defer func() {
		b.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxSignalSize)

	for {
		var sig transport.Signal
		if err := c.conn.ReadJSON(&sig); err != nil {
			return
		}

		b.route(c, sig)
	}
}

func (c *signalClient) writePump() {
	defer c.conn.Close()

	for sig := range c.send {
		if err := c.conn.WriteJSON(sig); err != nil {
			return
		}
	}
}

// serveRoomQR renders a room code as a PNG QR code so guests can scan it
// instead of typing it. Unknown codes are refused so the broker does not
// become a general QR service.
func serveRoomQR(cfg *Config, b *Broker) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if code == "" || !b.online(code) {
			http.Error(w, "unknown room", http.StatusNotFound)
			return
		}

		const qrSize = 320
		png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
