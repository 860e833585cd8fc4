package dgt4

import "errors"

var (
	// ErrConnection reports a transport connect failure (refused, unreachable, timed out).
	ErrConnection = errors.New("dgt4: connection failed")
	// ErrNotConnected is returned when a command is issued before Connect.
	ErrNotConnected = errors.New("dgt4: not connected")
	// ErrProtocol reports a malformed or short register response.
	ErrProtocol = errors.New("dgt4: protocol error")
	// ErrFraming is returned when an odd-length buffer is packed into registers.
	ErrFraming = errors.New("dgt4: odd-length register buffer")
)
