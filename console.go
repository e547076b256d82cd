/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Seednode/imposter/session"
)

// console renders session notifications as text and turns typed lines into
// session actions.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, format, args...)
}

func (c *console) PhaseChanged(phase session.Phase) {
	switch phase {
	case session.PhaseLobby:
		c.printf("In the lobby.\n")
	case session.PhaseInGame:
		c.printf("The round has started.\n")
	}
}

func (c *console) RosterChanged(players []session.Player) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "Players (%d):\n", len(players))
	for _, p := range players {
		if p.IsHost {
			fmt.Fprintf(c.out, "  %s (Host)\n", p.Username)
		} else {
			fmt.Fprintf(c.out, "  %s\n", p.Username)
		}
	}
}

func (c *console) RoleAssigned(a session.Assignment) {
	if a.Imposter {
		c.printf("You are the IMPOSTER! Blend in; everyone else got the same character.\n")
		return
	}

	c.printf("You are a NORMAL PLAYER. Your character: %s\n", a.Item)
}

func (c *console) SessionFailed(err error) {
	c.printf("Session ended: %v\nType quit to exit.\n", err)
}

func (c *console) help(role session.Role) {
	if role == session.RoleHost {
		c.printf("Commands: start, lobby, players, quit\n")
		return
	}

	c.printf("Commands: lobby, players, quit\n")
}

// run reads commands from in until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader, coord *session.Coordinator) {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.exec(coord, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// exec runs one command and reports whether the console should exit.
func (c *console) exec(coord *session.Coordinator, cmd string) bool {
	var err error

	switch strings.ToLower(cmd) {
	case "":
		return false
	case "quit", "exit":
		return true
	case "start":
		err = coord.StartGame()
	case "lobby", "back":
		err = coord.ReturnToLobby()
	case "players", "status":
		var st session.State
		st, err = coord.State()
		if err == nil {
			c.RosterChanged(st.Players)
			c.printf("Room code: %s (%s, %s)\n", st.RoomID, st.Role, st.Phase)
		}
	default:
		st, _ := coord.State()
		c.help(st.Role)
		return false
	}

	switch {
	case err == nil:
	case errors.Is(err, session.ErrInsufficientPlayers):
		c.printf("Need at least %d players to start.\n", session.MinPlayers)
	case session.IsClosed(err):
		c.printf("The session is over: %v\n", err)
	default:
		c.printf("Cannot %s: %v\n", cmd, err)
	}

	return false
}
