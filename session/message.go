/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a Message variant.
type Kind int

const (
	KindJoin Kind = iota
	KindRosterSnapshot
	KindGameStart
	KindReturnToLobby
	KindRejected

	numKinds
)

var kindNames = [numKinds]string{
	KindJoin:           "join",
	KindRosterSnapshot: "playersList",
	KindGameStart:      "gameStart",
	KindReturnToLobby:  "backToLobby",
	KindRejected:       "rejected",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func kindFromTag(tag string) (Kind, bool) {
	for k, name := range kindNames {
		if name == tag {
			return Kind(k), true
		}
	}
	return 0, false
}

// Message is one of Join, RosterSnapshot, GameStart, ReturnToLobby or
// Rejected. The set is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

// Join is sent by a guest to the host once its connection is open.
type Join struct {
	Username string
	PeerID   string
}

// RosterSnapshot carries the host's full ordered roster. It replaces the
// guest's mirror wholesale.
type RosterSnapshot struct {
	Players []Player
}

// GameStart tells one guest its own role for the round. SharedItem is nil
// for the imposter and set for everyone else.
type GameStart struct {
	IsImposter bool
	SharedItem *string
}

// ReturnToLobby ends the current round.
type ReturnToLobby struct{}

// Rejected is sent only to a connection whose Join was refused.
type Rejected struct {
	Reason string
}

func (Join) Kind() Kind           { return KindJoin }
func (RosterSnapshot) Kind() Kind { return KindRosterSnapshot }
func (GameStart) Kind() Kind      { return KindGameStart }
func (ReturnToLobby) Kind() Kind  { return KindReturnToLobby }
func (Rejected) Kind() Kind       { return KindRejected }

func (Join) isMessage()           {}
func (RosterSnapshot) isMessage() {}
func (GameStart) isMessage()      {}
func (ReturnToLobby) isMessage()  {}
func (Rejected) isMessage()       {}

// Fields are pointers so that a missing field can be told apart from a zero
// value.
type wireMessage struct {
	Type       string        `json:"type"`
	Username   *string       `json:"username,omitempty"`
	PeerID     *string       `json:"peerId,omitempty"`
	Players    *[]wirePlayer `json:"players,omitempty"`
	IsImposter *bool         `json:"isImposter,omitempty"`
	SharedItem *string       `json:"sharedItem,omitempty"`
	Reason     *string       `json:"reason,omitempty"`
}

type wirePlayer struct {
	PeerID   *string `json:"peerId"`
	Username *string `json:"username"`
	IsHost   *bool   `json:"isHost"`
}

// Encode serializes m for the wire. It refuses messages that Decode would
// reject.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Kind().String()}

	switch v := m.(type) {
	case Join:
		w.Username = &v.Username
		w.PeerID = &v.PeerID
	case RosterSnapshot:
		players := make([]wirePlayer, len(v.Players))
		for i := range v.Players {
			p := v.Players[i]
			players[i] = wirePlayer{PeerID: &p.PeerID, Username: &p.Username, IsHost: &p.IsHost}
		}
		w.Players = &players
	case GameStart:
		w.IsImposter = &v.IsImposter
		w.SharedItem = v.SharedItem
	case ReturnToLobby:
	case Rejected:
		w.Reason = &v.Reason
	default:
		return nil, fmt.Errorf("%w: unknown message %T", ErrMalformedMessage, m)
	}

	if _, err := w.message(); err != nil {
		return nil, err
	}

	return json.Marshal(w)
}

// Decode parses a wire message. Unknown fields are ignored; anything that
// does not form a complete variant yields ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return w.message()
}

func (w *wireMessage) message() (Message, error) {
	kind, ok := kindFromTag(w.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, w.Type)
	}

	switch kind {
	case KindJoin:
		if w.Username == nil || *w.Username == "" {
			return nil, malformed(kind, "username")
		}
		if w.PeerID == nil || *w.PeerID == "" {
			return nil, malformed(kind, "peerId")
		}
		return Join{Username: *w.Username, PeerID: *w.PeerID}, nil

	case KindRosterSnapshot:
		if w.Players == nil {
			return nil, malformed(kind, "players")
		}
		players := make([]Player, 0, len(*w.Players))
		for _, p := range *w.Players {
			switch {
			case p.PeerID == nil || *p.PeerID == "":
				return nil, malformed(kind, "players.peerId")
			case p.Username == nil || *p.Username == "":
				return nil, malformed(kind, "players.username")
			case p.IsHost == nil:
				return nil, malformed(kind, "players.isHost")
			}
			players = append(players, Player{PeerID: *p.PeerID, Username: *p.Username, IsHost: *p.IsHost})
		}
		return RosterSnapshot{Players: players}, nil

	case KindGameStart:
		if w.IsImposter == nil {
			return nil, malformed(kind, "isImposter")
		}
		if *w.IsImposter {
			if w.SharedItem != nil {
				return nil, fmt.Errorf("%w: %s: imposter must not carry sharedItem", ErrMalformedMessage, kind)
			}
			return GameStart{IsImposter: true}, nil
		}
		if w.SharedItem == nil || *w.SharedItem == "" {
			return nil, malformed(kind, "sharedItem")
		}
		item := *w.SharedItem
		return GameStart{SharedItem: &item}, nil

	case KindReturnToLobby:
		return ReturnToLobby{}, nil

	case KindRejected:
		if w.Reason == nil {
			return nil, malformed(kind, "reason")
		}
		return Rejected{Reason: *w.Reason}, nil
	}

	return nil, fmt.Errorf("%w: unhandled type %q", ErrMalformedMessage, w.Type)
}

func malformed(kind Kind, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformedMessage, kind, field)
}
