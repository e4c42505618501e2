package mohnet

import (
	"fmt"
	"strconv"
	"time"

	"github.com/HimbeerserverDE/mohnet/configstring"
	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/hashicorp/go-multierror"
)

// DefaultServerFPS is assumed when the server info does not carry sv_fps
const DefaultServerFPS = 20

// A Gamestate is the level state a server sends once after connecting
// and on every map change
type Gamestate struct {
	ConfigStrings *configstring.Table
	Baselines     snapshot.Baselines

	ServerCommandSequence int32
	ClientNum             int32
	ChecksumFeed          int32

	// FrameTime is the duration of one server frame
	FrameTime time.Duration
}

func NewGamestate() *Gamestate {
	g := &Gamestate{ConfigStrings: configstring.New(configstring.MaxConfigStrings, configstring.MaxChars)}
	g.Reset()
	return g
}

func (g *Gamestate) Reset() {
	g.ConfigStrings.Reset()
	g.Baselines.Reset()
	g.ServerCommandSequence = 0
	g.ClientNum = 0
	g.ChecksumFeed = 0
	g.FrameTime = time.Second / DefaultServerFPS
}

func (g *Gamestate) ServerInfo() string { return g.ConfigStrings.Get(configstring.ServerInfo) }
func (g *Gamestate) SystemInfo() string { return g.ConfigStrings.Get(configstring.SystemInfo) }

// ServerID returns the id the server changes on every level load
func (g *Gamestate) ServerID() int32 {
	id, _ := strconv.Atoi(InfoValueForKey(g.SystemInfo(), "sv_serverid"))
	return int32(id)
}

func (g *Gamestate) MapName() string { return InfoValueForKey(g.ServerInfo(), "mapname") }

// FrameTimeFromInfo derives the server frame time from sv_fps
func FrameTimeFromInfo(serverInfo string) time.Duration {
	fps, err := strconv.Atoi(InfoValueForKey(serverInfo, "sv_fps"))
	if err != nil || fps <= 0 {
		fps = DefaultServerFPS
	}
	return time.Second / time.Duration(fps)
}

// Parse reads the body of a gamestate message, the op code has been
// consumed already
func (g *Gamestate) Parse(m *msg.Message, fam game.Family) (err error) {
	defer func() { err = multierror.Prefix(err, "Gamestate.Parse:") }()

	g.Reset()
	if g.ServerCommandSequence, err = m.ReadLong(); err != nil {
		return err
	}

	fields := game.EntityFields(fam)
	var null game.EntityState
	for {
		op, err := m.ReadByte()
		if err != nil {
			return err
		}

		switch op {
		case SvcEOF:
		case SvcConfigString:
			i, err := m.ReadShort()
			if err != nil {
				return err
			}
			s, err := m.ReadBigString()
			if err != nil {
				return err
			}
			if err := g.ConfigStrings.Set(int(i), s); err != nil {
				return err
			}
			continue
		case SvcBaseline:
			n, err := m.ReadBits(game.GEntityNumBits)
			if err != nil {
				return err
			}
			if _, err := game.ReadDeltaEntity(m, fields, &null, &g.Baselines[n], int32(n)); err != nil {
				return err
			}
			continue
		default:
			return fmt.Errorf("%w: op %d in gamestate", ErrBadCommand, op)
		}
		break
	}

	if g.ClientNum, err = m.ReadLong(); err != nil {
		return err
	}
	if g.ChecksumFeed, err = m.ReadLong(); err != nil {
		return err
	}

	if fam == game.TA {
		f, err := m.ReadFloat()
		if err != nil {
			return err
		}
		if f > 0 {
			g.FrameTime = time.Duration(float64(f) * float64(time.Second))
		}
	} else {
		g.FrameTime = FrameTimeFromInfo(g.ServerInfo())
	}
	return nil
}

// Write encodes g as a gamestate message including its op code
func (g *Gamestate) Write(m *msg.Message, fam game.Family) error {
	m.WriteByte(SvcGamestate)
	m.WriteLong(g.ServerCommandSequence)

	g.ConfigStrings.Each(func(i int, s string) bool {
		m.WriteByte(SvcConfigString)
		m.WriteShort(int16(i))
		m.WriteBigString(s)
		return true
	})

	fields := game.EntityFields(fam)
	var null game.EntityState
	for i := range g.Baselines {
		b := &g.Baselines[i]
		if *b == (game.EntityState{Number: int32(i)}) {
			continue
		}
		m.WriteByte(SvcBaseline)
		game.WriteDeltaEntity(m, fields, &null, b, true)
	}
	m.WriteByte(SvcEOF)

	m.WriteLong(g.ClientNum)
	m.WriteLong(g.ChecksumFeed)
	if fam == game.TA {
		m.WriteFloat(float32(g.FrameTime.Seconds()))
	}
	return m.Err()
}
