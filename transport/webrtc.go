/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/Seednode/imposter/session"
)

const channelLabel = "session"

// DefaultICEServers are public STUN servers.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

type WebRTCConfig struct {
	SignalURL     string
	// ICEServers may be empty, in which case only host candidates are used.
	ICEServers    []string
	// SettingEngine tunes pion; nil uses its defaults.
	SettingEngine *webrtc.SettingEngine
	Logger        *zerolog.Logger
}

// WebRTC carries session traffic over pion data channels. Offers and answers
// travel through a websocket signaling broker, which also hands out the
// local peer id.
type WebRTC struct {
	id     string
	api    *webrtc.API
	config webrtc.Configuration
	log    zerolog.Logger

	ws  *websocket.Conn
	wmu sync.Mutex

	ready   chan struct{}
	handler session.Handler

	// lost is closed once the broker connection is gone. Open data
	// channels keep working; new dials fail.
	lost     chan struct{}
	lostOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan Signal
	conns   map[*dataConn]struct{}
}

// Register connects to the signaling broker and waits for it to assign a
// peer id.
func Register(ctx context.Context, cfg WebRTCConfig) (*WebRTC, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.SignalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to signaling broker: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}

	var hello Signal
	if err := ws.ReadJSON(&hello); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("reading peer id: %w", err)
	}

	_ = ws.SetReadDeadline(time.Time{})

	if hello.Type != SignalID || hello.ID == "" {
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected %q from signaling broker", hello.Type)
	}

	var config webrtc.Configuration
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	api := webrtc.NewAPI()
	if cfg.SettingEngine != nil {
		api = webrtc.NewAPI(webrtc.WithSettingEngine(*cfg.SettingEngine))
	}

	t := &WebRTC{
		id:      hello.ID,
		api:     api,
		config:  config,
		ws:      ws,
		ready:   make(chan struct{}),
		lost:    make(chan struct{}),
		pending: make(map[string]chan Signal),
		conns:   make(map[*dataConn]struct{}),
	}

	if cfg.Logger != nil {
		t.log = cfg.Logger.With().Str("component", "webrtc").Str("id", t.id).Logger()
	} else {
		t.log = zerolog.Nop()
	}

	return t, nil
}

func (t *WebRTC) ID() string {
	return t.id
}

// Serve accepts offers relayed by the broker until ctx is done. Losing the
// broker only stops new connections; Serve then waits for ctx while the open
// data channels carry on.
func (t *WebRTC) Serve(ctx context.Context, h session.Handler) error {
	t.handler = h
	close(t.ready)

	go func() {
		<-ctx.Done()
		_ = t.ws.Close()
	}()

	defer t.closeAll()

	for {
		var sig Signal
		if err := t.ws.ReadJSON(&sig); err != nil {
			if ctx.Err() == nil {
				t.log.Error().Err(err).Msg("signaling lost, no new peers can connect")
				t.signalingLost()
				<-ctx.Done()
			}
			return nil
		}

		switch sig.Type {
		case SignalOffer:
			go func() {
				if err := t.accept(ctx, sig); err != nil {
					t.log.Error().Err(err).Str("peer", sig.From).Msg("accepting connection")
				}
			}()
		case SignalAnswer, SignalError:
			t.resolve(sig)
		default:
			t.log.Debug().Str("type", sig.Type).Msg("ignoring signal")
		}
	}
}

func (t *WebRTC) Dial(ctx context.Context, peerID string, metadata map[string]string) (session.Conn, error) {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-t.lost:
		return nil, ErrSignalingLost
	default:
	}

	answers, err := t.expect(peerID)
	if err != nil {
		return nil, err
	}
	defer t.forget(peerID)

	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, err
	}

	conn := newDataConn(t, peerID, metadata, pc)

	opened := make(chan struct{})
	var openOnce sync.Once

	ordered := true
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	conn.attach(dc, func() {
		openOnce.Do(func() { close(opened) })
	})

	fail := func(err error) (session.Conn, error) {
		_ = pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	err = t.signal(Signal{
		Type:     SignalOffer,
		Target:   peerID,
		SDP:      pc.LocalDescription().SDP,
		Metadata: metadata,
	})
	if err != nil {
		return fail(err)
	}

	select {
	case sig := <-answers:
		if sig.Type == SignalError {
			return fail(fmt.Errorf("%w: %s", ErrPeerUnavailable, sig.Message))
		}

		err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  sig.SDP,
		})
		if err != nil {
			return fail(err)
		}
	case <-t.lost:
		return fail(ErrSignalingLost)
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	select {
	case <-opened:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	t.track(conn)

	t.log.Debug().Str("peer", peerID).Msg("connection opened")

	return conn, nil
}

func (t *WebRTC) accept(ctx context.Context, offer Signal) error {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return err
	}

	conn := newDataConn(t, offer.From, offer.Metadata, pc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			_ = dc.Close()
			return
		}

		conn.attach(dc, func() {
			t.handler.HandleOpen(conn)
		})
	})

	err = pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	})
	if err != nil {
		_ = pc.Close()
		return err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return ctx.Err()
	}

	t.track(conn)

	return t.signal(Signal{
		Type:   SignalAnswer,
		Target: offer.From,
		SDP:    pc.LocalDescription().SDP,
	})
}

func (t *WebRTC) signalingLost() {
	t.lostOnce.Do(func() {
		close(t.lost)
	})
}

func (t *WebRTC) signal(sig Signal) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	return t.ws.WriteJSON(sig)
}

func (t *WebRTC) expect(peerID string) (chan Signal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[peerID]; ok {
		return nil, fmt.Errorf("already dialing %s", peerID)
	}

	ch := make(chan Signal, 1)
	t.pending[peerID] = ch

	return ch, nil
}

func (t *WebRTC) forget(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, peerID)
}

// resolve hands an answer or error to the Dial waiting on the sender. Errors
// name the unreachable peer in Target.
func (t *WebRTC) resolve(sig Signal) {
	peer := sig.From
	if sig.Type == SignalError {
		peer = sig.Target
	}

	t.mu.Lock()
	ch, ok := t.pending[peer]
	t.mu.Unlock()

	if !ok {
		t.log.Debug().Str("peer", peer).Str("type", sig.Type).Msg("unsolicited signal")
		return
	}

	select {
	case ch <- sig:
	default:
	}
}

func (t *WebRTC) track(c *dataConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conns[c] = struct{}{}
}

func (t *WebRTC) untrack(c *dataConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.conns, c)
}

func (t *WebRTC) closeAll() {
	t.mu.Lock()
	conns := make([]*dataConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// dataConn is a session.Conn over one ordered, reliable data channel.
type dataConn struct {
	owner    *WebRTC
	peerID   string
	metadata map[string]string
	pc       *webrtc.PeerConnection

	mu sync.Mutex
	dc *webrtc.DataChannel

	openOnce  sync.Once
	closeOnce sync.Once
}

func newDataConn(owner *WebRTC, peerID string, metadata map[string]string, pc *webrtc.PeerConnection) *dataConn {
	c := &dataConn{
		owner:    owner,
		peerID:   peerID,
		metadata: metadata,
		pc:       pc,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.closed()
		}
	})

	return c
}

// attach wires dc's callbacks to the owner's handler. onOpen runs once,
// before the first message is delivered.
func (c *dataConn) attach(dc *webrtc.DataChannel, onOpen func()) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	open := func() {
		c.openOnce.Do(onOpen)
	}

	dc.OnOpen(open)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		open()
		c.owner.handler.HandleMessage(c, msg.Data)
	})
	dc.OnClose(c.closed)
	dc.OnError(func(err error) {
		c.owner.handler.HandleError(c, err)
	})
}

func (c *dataConn) PeerID() string {
	return c.peerID
}

func (c *dataConn) Metadata() map[string]string {
	return c.metadata
}

func (c *dataConn) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return ErrClosed
	}

	if err := dc.SendText(string(data)); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, webrtc.ErrConnectionClosed) {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return err
	}

	return nil
}

func (c *dataConn) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}

	err := c.pc.Close()
	c.closed()

	return err
}

func (c *dataConn) closed() {
	c.closeOnce.Do(func() {
		c.owner.untrack(c)
		c.owner.handler.HandleClose(c)
	})
}
