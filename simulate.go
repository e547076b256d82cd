/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Seednode/imposter/session"
	"github.com/Seednode/imposter/transport"
)

var simulatedNames = []string{"Alice", "Bob", "Cara", "Dan", "Erin", "Finn", "Gus", "Hana", "Ivy", "Jon"}

func playerNames(host string, n int) []string {
	if host == "" {
		host = simulatedNames[0]
	}

	names := make([]string, n)
	names[0] = host
	for i := 1; i < n; i++ {
		if i < len(simulatedNames) {
			names[i] = simulatedNames[i]
		} else {
			names[i] = "Player " + strconv.Itoa(i+1)
		}
	}

	return names
}

// waitUntil polls cond until it holds, fails, or d elapses.
func waitUntil(ctx context.Context, d time.Duration, what string, cond func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
}

// allStates reports whether every coordinator's state satisfies pred.
func allStates(coords []*session.Coordinator, pred func(session.State) bool) func() (bool, error) {
	return func() (bool, error) {
		for _, c := range coords {
			st, err := c.State()
			if err != nil {
				return false, err
			}
			if st.Err != nil {
				return false, st.Err
			}
			if !pred(st) {
				return false, nil
			}
		}
		return true, nil
	}
}

// runSimulation plays cfg.rounds rounds between cfg.players in-process peers
// connected through a loopback switchboard.
func runSimulation(ctx context.Context, cfg *Config, out io.Writer) error {
	log := newLogger(cfg)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	board := transport.NewSwitchboard()
	assigner := session.NewAssigner(cfg.items, nil)
	names := playerNames(cfg.name, cfg.players)

	coords := make([]*session.Coordinator, len(names))
	runErrs := make(chan error, len(names))

	for i := range names {
		node := board.Node()
		coords[i] = session.New(node, session.Options{
			Assigner: assigner,
			Logger:   &log,
		})

		go func(c *session.Coordinator) {
			runErrs <- c.Run(ctx)
		}(coords[i])
	}

	err := simulate(ctx, cfg, coords, names, out)

	stop()

	for range coords {
		err = errors.Join(err, <-runErrs)
	}

	return err
}

func simulate(ctx context.Context, cfg *Config, coords []*session.Coordinator, names []string, out io.Writer) error {
	host := coords[0]

	code, err := host.CreateSession(names[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Room code: %s\n", code)

	for i, guest := range coords[1:] {
		joinCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
		err := guest.JoinSession(joinCtx, code, names[i+1])
		cancel()
		if err != nil {
			return err
		}
	}

	err = waitUntil(ctx, cfg.dialTimeout, "everyone to join", allStates(coords, func(st session.State) bool {
		return len(st.Players) == len(coords)
	}))
	if err != nil {
		return err
	}

	for round := 1; round <= cfg.rounds; round++ {
		if err := host.StartGame(); err != nil {
			return err
		}

		err := waitUntil(ctx, cfg.dialTimeout, "roles", allStates(coords, func(st session.State) bool {
			return st.Phase == session.PhaseInGame && st.Assignment != nil
		}))
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Round %d:\n", round)

		for i, c := range coords {
			st, err := c.State()
			if err != nil {
				return err
			}

			label := names[i]
			if st.Role == session.RoleHost {
				label += " (Host)"
			}

			if st.Assignment.Imposter {
				fmt.Fprintf(out, "  %s: IMPOSTER\n", label)
			} else {
				fmt.Fprintf(out, "  %s: %s\n", label, st.Assignment.Item)
			}
		}

		if err := host.ReturnToLobby(); err != nil {
			return err
		}

		err = waitUntil(ctx, cfg.dialTimeout, "lobby", allStates(coords, func(st session.State) bool {
			return st.Phase == session.PhaseLobby
		}))
		if err != nil {
			return err
		}
	}

	return nil
}
