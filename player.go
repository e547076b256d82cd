/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"io"

	"github.com/skip2/go-qrcode"

	"github.com/Seednode/imposter/session"
	"github.com/Seednode/imposter/transport"
)

// runPlayer hosts a new session when room is empty and joins room otherwise,
// then hands the terminal to the console until the player quits.
func runPlayer(ctx context.Context, cfg *Config, room string, in io.Reader, out io.Writer) error {
	log := newLogger(cfg)

	registerCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	tr, err := transport.Register(registerCtx, transport.WebRTCConfig{
		SignalURL:  cfg.signalURL,
		ICEServers: cfg.iceServers,
		Logger:     &log,
	})
	cancel()
	if err != nil {
		return err
	}

	con := newConsole(out)

	coord := session.New(tr, session.Options{
		Notifier: con,
		Assigner: session.NewAssigner(cfg.items, nil),
		Logger:   &log,
	})

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- coord.Run(ctx)
	}()

	if err := start(ctx, cfg, coord, room, con); err != nil {
		stop()
		return errors.Join(err, <-runErr)
	}

	con.help(roleFor(room))
	con.run(ctx, in, coord)
	stop()

	return <-runErr
}

func roleFor(room string) session.Role {
	if room == "" {
		return session.RoleHost
	}

	return session.RoleGuest
}

func start(ctx context.Context, cfg *Config, coord *session.Coordinator, room string, con *console) error {
	if room != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
		defer cancel()

		con.printf("Joining room %s...\n", room)

		return coord.JoinSession(dialCtx, room, cfg.name)
	}

	code, err := coord.CreateSession(cfg.name)
	if err != nil {
		return err
	}

	con.printf("Room code: %s\nShare it with the other players.\n", code)

	if cfg.qr != "" {
		if err := qrcode.WriteFile(code, qrcode.Medium, 320, cfg.qr); err != nil {
			return err
		}

		con.printf("QR code written to %s\n", cfg.qr)
	}

	return nil
}
