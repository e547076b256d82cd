/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import "fmt"

// MinPlayers is the smallest roster a round can start with.
const MinPlayers = 3

// Phase is where the local client is in the session.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseLobby
	PhaseInGame
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseLobby:
		return "lobby"
	case PhaseInGame:
		return "in-game"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var transitions = map[Phase][]Phase{
	PhaseSetup:  {PhaseLobby},
	PhaseLobby:  {PhaseInGame},
	PhaseInGame: {PhaseLobby},
}

// CanTransitionTo reports whether moving from p to target is allowed.
// Setup is left exactly once; Lobby and InGame alternate freely after that.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == target {
			return true
		}
	}

	return false
}

func (p *Phase) advance(target Phase) error {
	if !p.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *p, target)
	}

	*p = target

	return nil
}
