package mohnet

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/HimbeerserverDE/mohnet/configstring"
	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/HimbeerserverDE/mohnet/netchan"
	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

func (c *Conn) packetEvent(b []byte) error {
	if netchan.IsConnectionless(b) {
		c.connectionlessPacket(b)
		return nil
	}
	if c.state < StateGamestate {
		c.log.Debug().Str("event", "early packet").Int("len", len(b)).Msg("")
		return nil
	}

	p, err := c.chanl.Process(b)
	if errors.Is(err, netchan.ErrFragmentOrder) {
		return fmt.Errorf("%w: %w", ErrDesync, err)
	}
	if err != nil {
		return err
	}
	// more fragments to come
	if p == nil {
		return nil
	}
	if n := c.chanl.Dropped(); n > 0 {
		return fmt.Errorf("%w: %d server messages lost before %d", ErrDesync, n, p.Sequence)
	}

	c.serverMessageSequence = int32(p.Sequence)
	c.lastPacketTime = c.realtime
	return c.parseServerMessage(msg.NewReader(p.Payload, msg.Bits{Tree: c.dec}))
}

// parseServerMessage dispatches the operations of one sequenced
// message. Any decoding error is fatal since the compression state can
// not be resynchronized.
func (c *Conn) parseServerMessage(m *msg.Message) (err error) {
	defer func() {
		if !IsRecoverable(err) {
			err = multierror.Prefix(err, "parseServerMessage:")
		}
	}()

	ack, err := m.ReadLong()
	if err != nil {
		return err
	}
	c.reliable.Acknowledge(ack)

	for {
		op, err := m.ReadByte()
		if err != nil {
			return fmt.Errorf("read past end of server message: %w", err)
		}
		if op == SvcEOF {
			return nil
		}

		switch op {
		case SvcNop:
		case SvcServerCommand:
			err = c.parseCommandString(m)
		case SvcGamestate:
			err = c.parseGamestate(m)
		case SvcSnapshot:
			err = c.parseSnapshot(m)
		case SvcDownload:
			err = c.parseDownload(m)
		case SvcCenterprint:
			err = c.parseCenterprint(m)
		case SvcLocprint:
			err = c.parseLocprint(m)
		case SvcCGameMessage:
			err = c.parseCGameMessage(m)
		default:
			err = fmt.Errorf("%w: op %d", ErrBadCommand, op)
		}

		// a dropped frame was still read to its end
		if errors.Is(err, snapshot.ErrBadDelta) {
			c.report(err)
			continue
		}
		if err != nil {
			return err
		}
	}
}

func (c *Conn) parseCommandString(m *msg.Message) error {
	seq, err := m.ReadLong()
	if err != nil {
		return err
	}
	s, err := m.ReadString()
	if err != nil {
		return err
	}

	if c.serverCmds.Add(seq, s) {
		c.log.Trace().Str("event", "server command").Int32("seq", seq).Str("cmd", s).Msg("")
	}
	return nil
}

func (c *Conn) parseGamestate(m *msg.Message) error {
	c.gs.Reset()
	if err := c.gs.Parse(m, c.family); err != nil {
		return err
	}

	c.serverCmds.Reset(c.gs.ServerCommandSequence)
	c.ring.Reset()
	c.proc.Reset()
	c.pred.Reset()
	c.cmds.Reset()
	c.outPackets = [PacketBackup]outPacket{}
	c.clock = serverClock{}
	c.newSnapshots = false
	c.configStringModified(configstring.SystemInfo)

	c.log.Info().Str("event", "gamestate").Str("map", c.gs.MapName()).
		Int32("serverId", c.serverID).Int32("clientNum", c.gs.ClientNum).
		Str("configstrings", humanize.Bytes(uint64(c.gs.ConfigStrings.Size()))).
		Dur("frameTime", c.gs.FrameTime).Msg("")

	c.setState(StateInGame)
	for _, fn := range c.handlers.gamestate {
		fn(c, c.gs)
	}
	return nil
}

func (c *Conn) parseSnapshot(m *msg.Message) error {
	f, err := c.ring.Parse(m, snapshot.Header{
		Family:           c.family,
		MessageNum:       c.serverMessageSequence,
		ServerCommandNum: c.serverCmds.Sequence(),
	}, &c.gs.Baselines)
	if err != nil {
		return err
	}

	// the first packet whose commands the frame already reflects
	out := int32(c.outgoingSequence())
	for i := int32(1); i <= PacketBackup; i++ {
		p := &c.outPackets[(out-i)&PacketMask]
		if f.PS.CommandTime >= p.serverTime {
			f.Ping = c.realtime - p.realtime
			c.ring.Slot(f.MessageNum).Ping = f.Ping
			break
		}
	}

	c.newSnapshots = true
	return nil
}

func (c *Conn) outgoingSequence() uint32 {
	if c.chanl == nil {
		return 0
	}
	return c.chanl.OutgoingSequence()
}

func (c *Conn) parseCenterprint(m *msg.Message) error {
	s, err := m.ReadString()
	if err != nil {
		return err
	}

	text := DecodeText(s)
	for _, fn := range c.handlers.centerprint {
		fn(c, text)
	}
	return nil
}

func (c *Conn) parseLocprint(m *msg.Message) error {
	x, err := m.ReadShort()
	if err != nil {
		return err
	}
	y, err := m.ReadShort()
	if err != nil {
		return err
	}
	s, err := m.ReadString()
	if err != nil {
		return err
	}

	text := DecodeText(s)
	for _, fn := range c.handlers.locprint {
		fn(c, int(x), int(y), text)
	}
	return nil
}

func (c *Conn) parseCGameMessage(m *msg.Message) error {
	cms, err := ReadCGameMessages(m)
	if err != nil {
		return err
	}

	for i := range cms {
		for _, fn := range c.handlers.cgame {
			fn(c, &cms[i])
		}
	}
	return nil
}

// executeServerCommands runs every received command up to latest
func (c *Conn) executeServerCommands(latest int32) {
	for c.deferred == nil && c.serverCmds.Executed() < latest {
		args, ok, err := c.serverCmds.Get(c.serverCmds.Executed() + 1)
		if err != nil {
			c.deferred = err
			return
		}
		if !ok {
			continue
		}
		if err := c.serverCommand(args); err != nil {
			c.deferred = err
		}
	}
}

func (c *Conn) serverCommand(args []string) error {
	switch args[0] {
	case "cs":
		index, err := strconv.Atoi(arg(args, 1))
		if err != nil {
			return fmt.Errorf("%w: configstring index %q", ErrBadCommand, arg(args, 1))
		}
		s := ArgsFrom(args, 2)
		if err := c.gs.ConfigStrings.Set(index, s); err != nil {
			return err
		}
		c.configStringModified(index)

		for _, fn := range c.handlers.configString {
			fn(c, index, s)
		}
		return nil

	case "map_restart":
		c.cmds.Clear()
		c.log.Info().Str("event", "map restart").Msg("")

	case "print":
		text := DecodeText(arg(args, 1))
		c.log.Info().Str("event", "print").Msg(text)
		for _, fn := range c.handlers.print {
			fn(c, text)
		}
		return nil
	}

	for _, fn := range c.handlers.serverCommand {
		fn(c, args)
	}
	return nil
}

func (c *Conn) configStringModified(index int) {
	switch index {
	case configstring.SystemInfo:
		c.serverID = c.gs.ServerID()
	case configstring.ServerInfo:
		if c.family != game.AA {
			return
		}
		c.gs.FrameTime = FrameTimeFromInfo(c.gs.ServerInfo())
	}
}
