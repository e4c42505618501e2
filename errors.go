package mohnet

import (
	"errors"
	"fmt"
	"time"

	"github.com/hako/durafmt"
)

var (
	ErrBadCommand   = errors.New("illegal server message")
	ErrNotConnected = errors.New("not connected")
	ErrNoResponse   = errors.New("server did not respond")

	// ErrDesync means a message was lost after the compression state
	// advanced past it, nothing decoded later can be trusted
	ErrDesync = errors.New("compression state out of sync")
)

// A DisconnectError is returned when the server ended the connection
type DisconnectError struct {
	Reason string
}

func (e *DisconnectError) Error() string {
	if e.Reason == "" {
		return "server disconnected"
	}
	return "server disconnected - " + e.Reason
}

// A TimeoutError is returned when the server was silent for too long
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("server connection timed out after %s", durafmt.Parse(e.Duration).LimitFirstN(2))
}

func (e *TimeoutError) Timeout() bool { return true }
