package mohnet

import (
	"errors"
	"fmt"

	"github.com/HimbeerserverDE/mohnet/game"
)

// known protocol versions
const (
	ProtocolAAMin = 5
	ProtocolAA    = 8
	ProtocolAAMax = 8

	ProtocolTAMin = 15
	ProtocolSH    = 15
	ProtocolBT    = 17
	ProtocolTAMax = 17
)

var ErrProtocolVersion = errors.New("unsupported protocol version")

// FamilyOf returns the wire family of a protocol version
func FamilyOf(protocol int) (game.Family, error) {
	switch {
	case protocol >= ProtocolAAMin && protocol <= ProtocolAAMax:
		return game.AA, nil
	case protocol >= ProtocolTAMin && protocol <= ProtocolTAMax:
		return game.TA, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrProtocolVersion, protocol)
}

// server to client op codes
const (
	SvcBad uint8 = iota
	SvcNop
	SvcGamestate
	SvcConfigString
	SvcBaseline
	SvcServerCommand
	SvcDownload
	SvcSnapshot
	SvcCenterprint
	SvcLocprint
	SvcCGameMessage
	SvcEOF
)

// client to server op codes
const (
	ClcBad uint8 = iota
	ClcNop
	ClcMove
	ClcMoveNoDelta
	ClcClientCommand
	ClcEOF
)

const (
	// MaxReliableCommands is the size of both command logs
	MaxReliableCommands = 64

	// MaxPacketUsercmds bounds the commands of one clc_move
	MaxPacketUsercmds = 32

	// PacketBackup is the number of outgoing packets remembered
	PacketBackup = 32
	PacketMask   = PacketBackup - 1
)
