/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/imposter/session"
	"github.com/Seednode/imposter/transport"
)

const peerTimeout = 15 * time.Second

type webrtcPlayer struct {
	*session.Coordinator
	tr *transport.WebRTC
}

func newWebRTCPlayer(t *testing.T, srv *httptest.Server) *webrtcPlayer {
	t.Helper()

	settings := &webrtc.SettingEngine{}
	settings.SetIncludeLoopbackCandidate(true)
	settings.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := transport.Register(ctx, transport.WebRTCConfig{
		SignalURL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/signal",
		SettingEngine: settings,
	})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(context.Background())
	coord := session.New(tr, session.Options{})

	done := make(chan error, 1)
	go func() {
		done <- coord.Run(runCtx)
	}()

	t.Cleanup(func() {
		stop()
		assert.NoError(t, <-done)
	})

	return &webrtcPlayer{Coordinator: coord, tr: tr}
}

func waitAll(t *testing.T, players []*webrtcPlayer, what string, cond func(session.State) bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		for _, p := range players {
			st, err := p.State()
			if err != nil || st.Err != nil || !cond(st) {
				return false
			}
		}
		return true
	}, peerTimeout, 10*time.Millisecond, what)
}

func TestGameOutlivesBroker(t *testing.T) {
	t.Parallel()

	srv, b := newTestBroker(t, &Config{})

	players := []*webrtcPlayer{
		newWebRTCPlayer(t, srv),
		newWebRTCPlayer(t, srv),
		newWebRTCPlayer(t, srv),
	}
	host := players[0]

	room, err := host.CreateSession("Alice")
	require.NoError(t, err)

	for i, name := range []string{"Bob", "Cara"} {
		ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
		err := players[i+1].JoinSession(ctx, room, name)
		cancel()
		require.NoError(t, err)
	}

	waitAll(t, players, "lobby of three", func(st session.State) bool {
		return len(st.Players) == 3
	})

	b.closeAll()

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err := host.tr.Dial(ctx, "nobody", nil)
		return errors.Is(err, transport.ErrSignalingLost)
	}, peerTimeout, 50*time.Millisecond, "host never noticed the broker going away")

	require.NoError(t, host.StartGame())
	waitAll(t, players, "roles", func(st session.State) bool {
		return st.Phase == session.PhaseInGame && st.Assignment != nil
	})

	require.NoError(t, host.ReturnToLobby())
	waitAll(t, players, "back in the lobby", func(st session.State) bool {
		return st.Phase == session.PhaseLobby
	})
}
