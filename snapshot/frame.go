/*
Package snapshot parses delta compressed world frames into a ring and
turns the stream of frames into entity lifecycle events for the game
layer.
*/
package snapshot

import (
	"errors"

	"github.com/HimbeerserverDE/mohnet/game"
)

const (
	// PacketBackup is the number of frames kept for delta decoding
	PacketBackup = 32
	PacketMask   = PacketBackup - 1

	MaxParseEntities = 2048
	MaxSnapEntities  = 256

	MaxMapAreaBytes = 32
	MaxSounds       = 64
)

// snapshot flags
const (
	FlagRateDelayed = 1 << 0
	FlagNotActive   = 1 << 1
	FlagServerCount = 1 << 2
)

var (
	ErrBadDelta        = errors.New("snapshot: cannot delta from base frame")
	ErrEndOfMessage    = errors.New("snapshot: end of message in packet entities")
	ErrAreaMask        = errors.New("snapshot: invalid area mask size")
	ErrTooManySounds   = errors.New("snapshot: too many sounds")
	ErrTimeBackwards   = errors.New("snapshot: server time went backwards")
	ErrSnapshotOrder   = errors.New("snapshot: latest snapshot went backwards")
	ErrTooManyEntities = errors.New("snapshot: too many entities")
)

// A Sound starts or stops a sound on an entity channel
type Sound struct {
	Stop     bool
	Streamed bool
	Entity   int32
	Channel  int32
	Index    int32

	HasOrigin bool
	Origin    game.Vec3

	// negative values mean the engine default
	Volume  float32
	MinDist float32
	MaxDist float32
	Pitch   float32
}

// A Frame is one received snapshot. Entities are stored separately.
type Frame struct {
	Valid bool

	Flags      uint8
	ServerTime int32
	// Residual is the sub frame remainder sent by team assault servers
	Residual   uint8
	MessageNum int32
	DeltaNum   int32
	Ping       int32
	AreaMask   []byte
	CmdNum     int32

	PS game.PlayerState

	NumEntities      int
	ParseEntitiesNum int32

	ServerCommandNum int32

	Sounds []Sound
}

// A Snapshot is a Frame with a private copy of its entities
type Snapshot struct {
	Frame
	Entities []game.EntityState
}

// Baselines are the per entity defaults of a gamestate
type Baselines [game.MaxGEntities]game.EntityState

// Reset sets every baseline to the empty state of its number
func (b *Baselines) Reset() {
	for i := range b {
		b[i] = game.EntityState{Number: int32(i)}
	}
}
