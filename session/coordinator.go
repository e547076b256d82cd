/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Session is the whole local view of the game. Only the coordinator's
// goroutine touches it.
type Session struct {
	RoomID   string
	LocalID  string
	Username string
	Role     Role
	Phase    Phase
	Roster   Roster

	// Secret is set on the host while a round is running.
	Secret *Secret
	// Assignment is the local player's view of the running round.
	Assignment *Assignment

	// Err is set once a guest's session has ended.
	Err error
}

// State is a copy of the session handed to callers outside the loop.
type State struct {
	RoomID     string
	LocalID    string
	Username   string
	Role       Role
	Phase      Phase
	Players    []Player
	Assignment *Assignment
	Err        error
}

type Options struct {
	Notifier Notifier
	Assigner *Assigner
	Logger   *zerolog.Logger
}

type eventKind int

const (
	eventOpen eventKind = iota
	eventMessage
	eventClose
	eventError
)

type event struct {
	kind eventKind
	conn Conn
	data []byte
	err  error
}

type action struct {
	fn   func() error
	errc chan error
}

// Coordinator runs one client's session. Transport callbacks and local
// actions are funneled into Run, which applies them one at a time.
type Coordinator struct {
	transport Transport
	notify    Notifier
	assigner  *Assigner
	log       zerolog.Logger

	session Session
	joining bool

	// dialClosed is a connection that closed while JoinSession was still
	// dialing it.
	dialClosed Conn

	// conns holds the host's inbound connections, rostered or not.
	conns    map[string]Conn
	// hostConn is the guest's only connection.
	hostConn Conn

	events  chan event
	actions chan action
	done    chan struct{}
}

func New(t Transport, opts Options) *Coordinator {
	c := &Coordinator{
		transport: t,
		notify:    opts.Notifier,
		assigner:  opts.Assigner,
		conns:     make(map[string]Conn),
		events:    make(chan event, 256),
		actions:   make(chan action),
		done:      make(chan struct{}),
	}

	if c.notify == nil {
		c.notify = NopNotifier{}
	}
	if c.assigner == nil {
		c.assigner = NewAssigner(nil, nil)
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("component", "session").Logger()
	} else {
		c.log = zerolog.Nop()
	}

	return c
}

// Run serves the transport and processes events and actions until ctx is
// done or the transport stops. Every other method needs Run to be running.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- c.transport.Serve(ctx, c)
	}()

	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-serveErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("%w: %w", ErrTransport, err)
			}
			return nil

		case ev := <-c.events:
			c.handleEvent(ev)

		case a := <-c.actions:
			a.errc <- a.fn()
		}
	}
}

func (c *Coordinator) shutdown() {
	close(c.done)

	for id, conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, id)
	}

	if c.hostConn != nil {
		_ = c.hostConn.Close()
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (c *Coordinator) do(fn func() error) error {
	a := action{fn: fn, errc: make(chan error, 1)}

	select {
	case c.actions <- a:
	case <-c.done:
		return ErrSessionClosed
	}

	return <-a.errc
}

func (c *Coordinator) push(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) HandleOpen(conn Conn) {
	c.push(event{kind: eventOpen, conn: conn})
}

func (c *Coordinator) HandleMessage(conn Conn, data []byte) {
	c.push(event{kind: eventMessage, conn: conn, data: data})
}

func (c *Coordinator) HandleClose(conn Conn) {
	c.push(event{kind: eventClose, conn: conn})
}

func (c *Coordinator) HandleError(conn Conn, err error) {
	c.push(event{kind: eventError, conn: conn, err: err})
}

func (c *Coordinator) handleEvent(ev event) {
	switch ev.kind {
	case eventOpen:
		c.handleOpen(ev.conn)
	case eventMessage:
		c.handleMessage(ev.conn, ev.data)
	case eventClose:
		c.handleClose(ev.conn)
	case eventError:
		c.log.Error().Err(ev.err).Str("peer", ev.conn.PeerID()).Msg("connection error")
		c.handleClose(ev.conn)
	}
}

func (c *Coordinator) handleOpen(conn Conn) {
	if c.session.Role != RoleHost {
		c.log.Warn().Str("peer", conn.PeerID()).Msg("refusing inbound connection while not hosting")
		_ = conn.Close()

		return
	}

	if existing, ok := c.conns[conn.PeerID()]; ok && existing != conn {
		c.log.Warn().Str("peer", conn.PeerID()).Msg("refusing second connection from peer")
		_ = conn.Close()

		return
	}

	c.conns[conn.PeerID()] = conn

	c.log.Debug().
		Str("peer", conn.PeerID()).
		Str("username", conn.Metadata()["username"]).
		Msg("connection opened")
}

func (c *Coordinator) handleMessage(conn Conn, data []byte) {
	switch c.session.Role {
	case RoleHost:
		if c.conns[conn.PeerID()] != conn {
			c.log.Debug().Str("peer", conn.PeerID()).Msg("dropping message from unregistered connection")
			return
		}
	case RoleGuest:
		if conn != c.hostConn || c.session.Err != nil {
			return
		}
	default:
		return
	}

	m, err := Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Str("peer", conn.PeerID()).Msg("dropping message")
		return
	}

	dispatch[c.session.Role][m.Kind()](c, conn, m)
}

func (c *Coordinator) handleClose(conn Conn) {
	switch c.session.Role {
	case RoleHost:
		if c.conns[conn.PeerID()] != conn {
			return
		}
		delete(c.conns, conn.PeerID())

		c.log.Debug().Str("peer", conn.PeerID()).Msg("connection closed")

		if !c.session.Roster.Remove(conn.PeerID()) {
			return
		}

		c.log.Info().
			Str("peer", conn.PeerID()).
			Int("players", c.session.Roster.Len()).
			Msg("player left")

		c.notify.RosterChanged(c.session.Roster.Snapshot())
		c.broadcast(c.rosterSnapshot(), "")

	case RoleGuest:
		if conn == c.hostConn {
			c.fail(ErrHostUnreachable)
		}

	default:
		if c.joining {
			c.log.Debug().Str("peer", conn.PeerID()).Msg("connection closed while joining")
			c.dialClosed = conn
		}
	}
}

// fail ends a guest's session for good.
func (c *Coordinator) fail(err error) {
	if c.session.Err != nil {
		return
	}

	c.session.Err = err
	c.log.Error().Err(err).Str("room", c.session.RoomID).Msg("session ended")

	if c.hostConn != nil {
		_ = c.hostConn.Close()
	}

	c.notify.SessionFailed(err)
}

func (c *Coordinator) send(conn Conn, m Message) {
	data, err := Encode(m)
	if err != nil {
		c.log.Error().Err(err).Stringer("kind", m.Kind()).Msg("encoding message")
		return
	}

	if err := conn.Send(data); err != nil {
		c.log.Error().
			Err(err).
			Str("peer", conn.PeerID()).
			Stringer("kind", m.Kind()).
			Msg("sending message")
	}
}

// broadcast sends m to every rostered guest except skip.
func (c *Coordinator) broadcast(m Message, skip string) {
	for _, p := range c.session.Roster.Snapshot() {
		if p.PeerID == c.session.LocalID || p.PeerID == skip {
			continue
		}

		if conn, ok := c.conns[p.PeerID]; ok {
			c.send(conn, m)
		}
	}
}

func (c *Coordinator) rosterSnapshot() RosterSnapshot {
	return RosterSnapshot{Players: c.session.Roster.Snapshot()}
}

func (c *Coordinator) enterLobby() {
	c.session.Phase = PhaseLobby
	c.session.Secret = nil
	c.session.Assignment = nil

	c.notify.PhaseChanged(c.session.Phase)
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrEmptyUsername
	}

	return username, nil
}

// CreateSession makes the local client the host of a new session and
// returns the room code guests use to join.
func (c *Coordinator) CreateSession(username string) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}

	var room string

	err = c.do(func() error {
		if c.joining {
			return fmt.Errorf("%w: join in progress", ErrInvalidTransition)
		}

		if err := c.session.Phase.advance(PhaseLobby); err != nil {
			return err
		}

		c.session.Role = RoleHost
		c.session.Username = username
		c.session.LocalID = c.transport.ID()
		c.session.RoomID = c.session.LocalID
		c.session.Roster.AddHost(c.session.LocalID, username)
		room = c.session.RoomID

		c.log.Info().Str("room", room).Str("username", username).Msg("session created")

		c.notify.PhaseChanged(c.session.Phase)
		c.notify.RosterChanged(c.session.Roster.Snapshot())

		return nil
	})

	return room, err
}

// JoinSession connects to the host behind hostID and asks to be admitted.
// The roster arrives asynchronously through the Notifier.
func (c *Coordinator) JoinSession(ctx context.Context, hostID, username string) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}

	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return fmt.Errorf("%w: empty room code", ErrHostUnreachable)
	}

	err = c.do(func() error {
		if c.joining || !c.session.Phase.CanTransitionTo(PhaseLobby) {
			return fmt.Errorf("%w: already in a session", ErrInvalidTransition)
		}

		c.joining = true

		return nil
	})
	if err != nil {
		return err
	}

	conn, dialErr := c.transport.Dial(ctx, hostID, map[string]string{
		"username":  username,
		"isJoining": "true",
	})

	return c.do(func() error {
		c.joining = false

		closed := c.dialClosed
		c.dialClosed = nil

		if dialErr != nil {
			c.log.Error().Err(dialErr).Str("room", hostID).Msg("connecting to host")

			return fmt.Errorf("%w: %w", ErrHostUnreachable, dialErr)
		}

		if closed != nil && closed == conn {
			c.log.Error().Str("room", hostID).Msg("host closed the connection before the join")
			_ = conn.Close()

			return fmt.Errorf("%w: connection closed while joining", ErrHostUnreachable)
		}

		if err := c.session.Phase.advance(PhaseLobby); err != nil {
			_ = conn.Close()

			return err
		}

		c.session.Role = RoleGuest
		c.session.Username = username
		c.session.LocalID = c.transport.ID()
		c.session.RoomID = hostID
		c.hostConn = conn

		c.log.Info().Str("room", hostID).Str("username", username).Msg("joining session")

		c.send(conn, Join{Username: username, PeerID: c.session.LocalID})

		c.notify.PhaseChanged(c.session.Phase)

		return nil
	})
}

// StartGame deals roles for a new round. Host only.
func (c *Coordinator) StartGame() error {
	return c.do(func() error {
		if c.session.Role != RoleHost {
			return ErrNotHost
		}

		if !c.session.Phase.CanTransitionTo(PhaseInGame) {
			return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, c.session.Phase)
		}

		if n := c.session.Roster.Len(); n < MinPlayers {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientPlayers, n, MinPlayers)
		}

		players := c.session.Roster.Snapshot()

		secret, err := c.assigner.Assign(players)
		if err != nil {
			return err
		}

		for _, p := range players {
			if p.PeerID == c.session.LocalID {
				continue
			}

			conn, ok := c.conns[p.PeerID]
			if !ok {
				continue
			}

			a := secret.For(p.PeerID)
			start := GameStart{IsImposter: a.Imposter}
			if !a.Imposter {
				item := a.Item
				start.SharedItem = &item
			}

			c.send(conn, start)
		}

		if err := c.session.Phase.advance(PhaseInGame); err != nil {
			return err
		}

		local := secret.For(c.session.LocalID)
		c.session.Secret = &secret
		c.session.Assignment = &local

		c.log.Info().
			Str("room", c.session.RoomID).
			Int("players", len(players)).
			Msg("round started")

		c.notify.PhaseChanged(c.session.Phase)
		c.notify.RoleAssigned(local)

		return nil
	})
}

// ReturnToLobby ends the local round. On the host it ends the round for
// everyone.
func (c *Coordinator) ReturnToLobby() error {
	return c.do(func() error {
		if c.session.Err != nil {
			return fmt.Errorf("%w: %w", ErrSessionClosed, c.session.Err)
		}

		if c.session.Phase != PhaseInGame {
			return fmt.Errorf("%w: not in a round", ErrInvalidTransition)
		}

		if c.session.Role == RoleHost {
			c.broadcast(ReturnToLobby{}, "")
			c.log.Info().Str("room", c.session.RoomID).Msg("round ended")
		}

		c.enterLobby()

		return nil
	})
}

// State returns a copy of the current session.
func (c *Coordinator) State() (State, error) {
	var st State

	err := c.do(func() error {
		st = State{
			RoomID:   c.session.RoomID,
			LocalID:  c.session.LocalID,
			Username: c.session.Username,
			Role:     c.session.Role,
			Phase:    c.session.Phase,
			Players:  c.session.Roster.Snapshot(),
			Err:      c.session.Err,
		}

		if c.session.Assignment != nil {
			a := *c.session.Assignment
			st.Assignment = &a
		}

		return nil
	})

	return st, err
}

// IsClosed reports whether err means the session can no longer be used.
func IsClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrHostUnreachable)
}
