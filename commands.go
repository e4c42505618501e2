package mohnet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCommandOverflow    = errors.New("client command overflow")
	ErrCommandCycled      = errors.New("reliable command was cycled out")
	ErrCommandNotReceived = errors.New("requested a command not received")
)

// ReliableCommands is the log of client commands the server has not
// acknowledged yet. Unacknowledged commands are always its tail.
type ReliableCommands struct {
	cmds        [MaxReliableCommands]string
	sequence    int32
	acknowledge int32
}

func (r *ReliableCommands) Reset() { *r = ReliableCommands{} }

// Add queues cmd for sending until it is acknowledged
func (r *ReliableCommands) Add(cmd string) error {
	if r.sequence-r.acknowledge >= MaxReliableCommands {
		return fmt.Errorf("%w: %d unacknowledged", ErrCommandOverflow, r.sequence-r.acknowledge)
	}

	r.sequence++
	r.cmds[r.sequence&(MaxReliableCommands-1)] = cmd
	return nil
}

// Acknowledge records the last command the server executed
func (r *ReliableCommands) Acknowledge(n int32) {
	if n > r.sequence {
		return
	}
	r.acknowledge = n
	if r.acknowledge < r.sequence-MaxReliableCommands {
		r.acknowledge = r.sequence
	}
}

func (r *ReliableCommands) Sequence() int32     { return r.sequence }
func (r *ReliableCommands) Acknowledged() int32 { return r.acknowledge }

// Pending calls fn for every unacknowledged command, oldest first
func (r *ReliableCommands) Pending(fn func(seq int32, cmd string)) {
	for i := r.acknowledge + 1; i <= r.sequence; i++ {
		fn(i, r.cmds[i&(MaxReliableCommands-1)])
	}
}

// Get returns command n if it is still in the log
func (r *ReliableCommands) Get(n int32) (string, bool) {
	if n <= r.sequence-MaxReliableCommands || n > r.sequence || n <= 0 {
		return "", false
	}
	return r.cmds[n&(MaxReliableCommands-1)], true
}

// ServerCommands is the log of commands received from the server.
// They are executed in order as the snapshots referencing them are
// read.
type ServerCommands struct {
	cmds     [MaxReliableCommands]string
	sequence int32
	executed int32

	bigConfig strings.Builder
}

// Reset empties the log and continues numbering after seq
func (s *ServerCommands) Reset(seq int32) {
	s.cmds = [MaxReliableCommands]string{}
	s.sequence = seq
	s.executed = seq
	s.bigConfig.Reset()
}

// Sequence returns the number of the last received command
func (s *ServerCommands) Sequence() int32 { return s.sequence }

// Executed returns the number of the last executed command
func (s *ServerCommands) Executed() int32 { return s.executed }

// Add stores command seq, it reports false for commands already received
func (s *ServerCommands) Add(seq int32, cmd string) bool {
	if s.sequence >= seq {
		return false
	}

	s.sequence = seq
	s.cmds[seq&(MaxReliableCommands-1)] = cmd
	return true
}

// Get tokenizes command n. Big configstrings arrive in parts, Get
// reports false for the parts and returns the assembled cs command
// with the last one. A disconnect command is returned as an error.
func (s *ServerCommands) Get(n int32) ([]string, bool, error) {
	if n <= s.sequence-MaxReliableCommands {
		return nil, false, fmt.Errorf("%w: %d", ErrCommandCycled, n)
	}
	if n > s.sequence {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrCommandNotReceived, n, s.sequence)
	}

	s.executed = n
	args := Tokenize(s.cmds[n&(MaxReliableCommands-1)])
	if len(args) == 0 {
		return nil, false, nil
	}

	switch args[0] {
	case "disconnect":
		return nil, false, &DisconnectError{Reason: DecodeText(ArgsFrom(args, 1))}
	case "bcs0":
		s.bigConfig.Reset()
		fmt.Fprintf(&s.bigConfig, "cs %s \"%s", arg(args, 1), arg(args, 2))
		return nil, false, nil
	case "bcs1":
		s.bigConfig.WriteString(arg(args, 2))
		return nil, false, nil
	case "bcs2":
		s.bigConfig.WriteString(arg(args, 2))
		s.bigConfig.WriteByte('"')
		args = Tokenize(s.bigConfig.String())
		s.bigConfig.Reset()
	}

	return args, true, nil
}

func arg(args []string, n int) string {
	if n >= len(args) {
		return ""
	}
	return args[n]
}
