/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import (
	"fmt"
	"slices"
)

// Player is a participant in the session, keyed by its peer id.
type Player struct {
	PeerID   string
	Username string
	IsHost   bool
}

// Roster is the ordered list of players. The host owns the authoritative
// copy; guests hold a mirror replaced by every RosterSnapshot.
type Roster struct {
	players []Player
}

// AddHost resets the roster to contain only the local host.
func (r *Roster) AddHost(peerID, username string) {
	r.players = []Player{{PeerID: peerID, Username: username, IsHost: true}}
}

// Add appends a non-host player.
func (r *Roster) Add(peerID, username string) error {
	if r.Contains(peerID) {
		return fmt.Errorf("%w: %s", ErrDuplicatePeer, peerID)
	}

	r.players = append(r.players, Player{PeerID: peerID, Username: username})

	return nil
}

// Remove drops the player with the given peer id, keeping the order of the
// rest. It reports whether anything was removed.
func (r *Roster) Remove(peerID string) bool {
	i := r.IndexOf(peerID)
	if i < 0 {
		return false
	}

	r.players = slices.Delete(r.players, i, i+1)

	return true
}

// Snapshot returns a copy of the roster in order.
func (r *Roster) Snapshot() []Player {
	return slices.Clone(r.players)
}

// ReplaceWith overwrites the mirror with a snapshot received from the host.
// A snapshot that would break the one-host or unique-peer rules is refused
// and leaves the roster untouched.
func (r *Roster) ReplaceWith(players []Player) error {
	hosts := 0
	seen := make(map[string]struct{}, len(players))

	for _, p := range players {
		if _, ok := seen[p.PeerID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePeer, p.PeerID)
		}
		seen[p.PeerID] = struct{}{}

		if p.IsHost {
			hosts++
		}
	}

	if hosts != 1 {
		return fmt.Errorf("%w: snapshot has %d hosts", ErrMalformedMessage, hosts)
	}

	r.players = slices.Clone(players)

	return nil
}

func (r *Roster) Len() int {
	return len(r.players)
}

func (r *Roster) Contains(peerID string) bool {
	return r.IndexOf(peerID) >= 0
}

func (r *Roster) IndexOf(peerID string) int {
	return slices.IndexFunc(r.players, func(p Player) bool {
		return p.PeerID == peerID
	})
}

// Host returns the entry flagged as host.
func (r *Roster) Host() (Player, bool) {
	for _, p := range r.players {
		if p.IsHost {
			return p, true
		}
	}

	return Player{}, false
}
