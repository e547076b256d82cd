/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicatePeer       = errors.New("peer is already in the roster")
	ErrEmptyUsername       = errors.New("username must not be empty")
	ErrInsufficientPlayers = errors.New("not enough players to start")
	ErrInvalidTransition   = errors.New("invalid phase transition")
	ErrJoinRejected        = errors.New("join rejected by host")
	ErrMalformedMessage    = errors.New("malformed message")
	ErrNotHost             = errors.New("only the host may do that")
	ErrSessionClosed       = errors.New("session is closed")
	ErrTransport           = errors.New("transport error")

	// ErrHostUnreachable is reported to a guest whose connection to the host
	// failed or dropped.
	ErrHostUnreachable = fmt.Errorf("host unreachable: %w", ErrTransport)
)
