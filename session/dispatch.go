/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import "fmt"

// Role is what the local client is in the session.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

type handlerFunc func(c *Coordinator, from Conn, m Message)

// Every (role, kind) pair must have an entry; see checkDispatch.
var dispatch = map[Role]map[Kind]handlerFunc{
	RoleHost: {
		KindJoin:           (*Coordinator).hostJoin,
		KindRosterSnapshot: (*Coordinator).ignore,
		KindGameStart:      (*Coordinator).ignore,
		KindReturnToLobby:  (*Coordinator).ignore,
		KindRejected:       (*Coordinator).ignore,
	},
	RoleGuest: {
		KindJoin:           (*Coordinator).ignore,
		KindRosterSnapshot: (*Coordinator).guestRosterSnapshot,
		KindGameStart:      (*Coordinator).guestGameStart,
		KindReturnToLobby:  (*Coordinator).guestReturnToLobby,
		KindRejected:       (*Coordinator).guestRejected,
	},
}

func init() {
	if err := checkDispatch(dispatch); err != nil {
		panic(err)
	}
}

func checkDispatch(table map[Role]map[Kind]handlerFunc) error {
	for _, role := range []Role{RoleHost, RoleGuest} {
		for kind := Kind(0); kind < numKinds; kind++ {
			if table[role][kind] == nil {
				return fmt.Errorf("no handler for %s receiving %s", role, kind)
			}
		}
	}

	return nil
}

func (c *Coordinator) ignore(from Conn, m Message) {
	c.log.Debug().
		Str("peer", from.PeerID()).
		Stringer("kind", m.Kind()).
		Stringer("role", c.session.Role).
		Msg("ignoring message")
}

func (c *Coordinator) hostJoin(from Conn, m Message) {
	join := m.(Join)

	if join.PeerID != from.PeerID() {
		c.log.Warn().
			Str("peer", from.PeerID()).
			Str("claimed", join.PeerID).
			Msg("dropping join with mismatched peer id")

		return
	}

	if err := c.session.Roster.Add(join.PeerID, join.Username); err != nil {
		c.log.Warn().Err(err).Str("peer", from.PeerID()).Msg("rejecting join")
		c.send(from, Rejected{Reason: err.Error()})

		return
	}

	c.log.Info().
		Str("peer", join.PeerID).
		Str("username", join.Username).
		Int("players", c.session.Roster.Len()).
		Msg("player joined")

	c.notify.RosterChanged(c.session.Roster.Snapshot())

	snapshot := c.rosterSnapshot()
	c.send(from, snapshot)
	c.broadcast(snapshot, from.PeerID())
}

func (c *Coordinator) guestRosterSnapshot(from Conn, m Message) {
	snapshot := m.(RosterSnapshot)

	var next Roster
	if err := next.ReplaceWith(snapshot.Players); err != nil {
		c.log.Warn().Err(err).Msg("dropping roster snapshot")

		return
	}

	if host, _ := next.Host(); host.PeerID != from.PeerID() {
		c.log.Warn().
			Str("peer", from.PeerID()).
			Str("claimed", host.PeerID).
			Msg("dropping roster snapshot naming another host")

		return
	}

	c.session.Roster = next

	c.notify.RosterChanged(c.session.Roster.Snapshot())
}

func (c *Coordinator) guestGameStart(from Conn, m Message) {
	start := m.(GameStart)

	if err := c.session.Phase.advance(PhaseInGame); err != nil {
		c.log.Warn().Err(err).Msg("dropping game start")

		return
	}

	a := Assignment{Imposter: start.IsImposter}
	if start.SharedItem != nil {
		a.Item = *start.SharedItem
	}
	c.session.Assignment = &a

	c.notify.PhaseChanged(c.session.Phase)
	c.notify.RoleAssigned(a)
}

func (c *Coordinator) guestReturnToLobby(from Conn, m Message) {
	if c.session.Phase != PhaseInGame {
		c.log.Debug().Stringer("phase", c.session.Phase).Msg("already out of the round")

		return
	}

	c.enterLobby()
}

func (c *Coordinator) guestRejected(from Conn, m Message) {
	c.fail(fmt.Errorf("%w: %s", ErrJoinRejected, m.(Rejected).Reason))
}
