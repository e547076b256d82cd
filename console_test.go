/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/imposter/session"
	"github.com/Seednode/imposter/transport"
)

func TestConsoleNotifications(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	con := newConsole(&out)

	con.PhaseChanged(session.PhaseLobby)
	con.RosterChanged([]session.Player{
		{PeerID: "a", Username: "Alice", IsHost: true},
		{PeerID: "b", Username: "Bob"},
	})
	con.RoleAssigned(session.Assignment{Item: "Goku"})
	con.RoleAssigned(session.Assignment{Imposter: true})
	con.SessionFailed(session.ErrHostUnreachable)

	assert.Equal(t, "In the lobby.\n"+
		"Players (2):\n"+
		"  Alice (Host)\n"+
		"  Bob\n"+
		"You are a NORMAL PLAYER. Your character: Goku\n"+
		"You are the IMPOSTER! Blend in; everyone else got the same character.\n"+
		"Session ended: host unreachable: transport error\nType quit to exit.\n", out.String())
}

func hostCoordinator(t *testing.T, con *console) *session.Coordinator {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	coord := session.New(transport.NewSwitchboard().Node(), session.Options{Notifier: con})

	done := make(chan error, 1)
	go func() {
		done <- coord.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	_, err := coord.CreateSession("Alice")
	require.NoError(t, err)

	return coord
}

func TestConsoleCommands(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	con := newConsole(&out)
	coord := hostCoordinator(t, con)
	out.Reset()

	assert.False(t, con.exec(coord, "start"))
	assert.Equal(t, "Need at least 3 players to start.\n", out.String())
	out.Reset()

	assert.False(t, con.exec(coord, "lobby"))
	assert.True(t, strings.HasPrefix(out.String(), "Cannot lobby: "))
	out.Reset()

	assert.False(t, con.exec(coord, "PLAYERS"))
	assert.Contains(t, out.String(), "Players (1):\n  Alice (Host)\n")
	assert.Contains(t, out.String(), "(host, lobby)")
	out.Reset()

	assert.False(t, con.exec(coord, "dance"))
	assert.Equal(t, "Commands: start, lobby, players, quit\n", out.String())
	out.Reset()

	assert.False(t, con.exec(coord, ""))
	assert.Empty(t, out.String())

	assert.True(t, con.exec(coord, "quit"))
	assert.True(t, con.exec(coord, "exit"))
}

func TestConsoleRunStopsOnQuit(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	con := newConsole(&out)
	coord := hostCoordinator(t, con)

	con.run(context.Background(), strings.NewReader("players\nquit\nstart\n"), coord)

	assert.Contains(t, out.String(), "Room code: ")
	assert.NotContains(t, out.String(), "Need at least")
}

func TestConsoleRunStopsOnEOF(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	con := newConsole(&out)
	coord := hostCoordinator(t, con)

	con.run(context.Background(), strings.NewReader(""), coord)

	_, err := coord.State()
	assert.False(t, errors.Is(err, session.ErrSessionClosed))
}

func TestRoleFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, session.RoleHost, roleFor(""))
	assert.Equal(t, session.RoleGuest, roleFor("room"))
}
