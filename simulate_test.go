/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"Alice", "Bob", "Cara"}, playerNames("", 3))
	assert.Equal(t, []string{"Zed", "Bob", "Cara", "Dan"}, playerNames("Zed", 4))

	names := playerNames("", 12)
	assert.Equal(t, "Jon", names[9])
	assert.Equal(t, "Player 11", names[10])
	assert.Equal(t, "Player 12", names[11])
}

func TestRunSimulation(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		dialTimeout: 5 * time.Second,
		items:       []string{"Goku"},
		players:     4,
		rounds:      3,
	}

	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, runSimulation(ctx, cfg, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1+cfg.rounds*(1+cfg.players))
	assert.True(t, strings.HasPrefix(lines[0], "Room code: "))

	for round := range cfg.rounds {
		block := lines[1+round*(1+cfg.players):][:1+cfg.players]

		assert.Equal(t, "Round "+string(rune('1'+round))+":", block[0])
		assert.True(t, strings.HasPrefix(block[1], "  Alice (Host): "))

		imposters := 0
		for _, line := range block[1:] {
			switch {
			case strings.HasSuffix(line, ": IMPOSTER"):
				imposters++
			default:
				assert.True(t, strings.HasSuffix(line, ": Goku"), line)
			}
		}
		assert.Equal(t, 1, imposters, "round %d", round+1)
	}
}

func TestSimulateCommand(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cmd := newCmd(cfg)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"simulate", "--name", "Zed", "--item", "Totoro"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Round 1:")
	assert.Contains(t, out.String(), "  Zed (Host): ")
	assert.NotContains(t, out.String(), "Round 2:")
}

func TestSimulateCommandRejectsTooFewPlayers(t *testing.T) {
	t.Parallel()

	cmd := newCmd(&Config{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"simulate", "--players", "2"})

	assert.ErrorContains(t, cmd.ExecuteContext(context.Background()), "--players must be at least 3")
}
