package mohnet

import (
	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/HimbeerserverDE/mohnet/netchan"
	"github.com/hashicorp/go-multierror"
)

// sendPacket writes a packet if the pacing allows one
func (c *Conn) sendPacket() error {
	if !c.readyToSend() {
		return nil
	}
	return c.writePacket()
}

func (c *Conn) readyToSend() bool {
	switch {
	case c.state < StateGamestate:
		return false
	case c.state == StateGamestate || !c.clock.active:
		return c.realtime-c.lastPacketSent >= preGamePacketMsec
	}
	return c.limiter.AllowN(c.now, 1)
}

// writePacket sends the acknowledgements, every unacknowledged client
// command and the usercmds issued since the last packet. The encoder
// tree only advances if the packet went out.
func (c *Conn) writePacket() (err error) {
	defer func() { err = multierror.Prefix(err, "writePacket:") }()

	enc := c.enc.Clone()
	m := msg.NewWriter(netchan.MaxMsgLen, msg.Bits{Tree: enc})
	m.WriteLong(c.serverID)
	m.WriteLong(c.serverMessageSequence)
	m.WriteLong(c.serverCmds.Sequence())

	c.reliable.Pending(func(seq int32, cmd string) {
		m.WriteByte(ClcClientCommand)
		m.WriteLong(seq)
		m.WriteString(cmd)
	})

	out := c.chanl.OutgoingSequence()
	prev := &c.outPackets[(out-1)&PacketMask]

	count := c.cmds.Current() - prev.cmdNumber
	if count > MaxPacketUsercmds {
		c.log.Debug().Str("event", "usercmds capped").Int32("count", count).Msg("")
		count = MaxPacketUsercmds
	}

	var last game.UserCmd
	if count >= 1 {
		latest, ok := c.ring.Latest()
		if !ok || latest.MessageNum != c.serverMessageSequence {
			m.WriteByte(ClcMoveNoDelta)
		} else {
			m.WriteByte(ClcMove)
		}
		m.WriteByte(byte(count))

		for n := c.cmds.Current() - count + 1; n <= c.cmds.Current(); n++ {
			cmd, _ := c.cmds.Get(n)
			game.WriteDeltaUsercmd(m, &last, &cmd)
			last = cmd
		}
	}

	c.outPackets[out&PacketMask] = outPacket{
		realtime:   c.realtime,
		serverTime: last.ServerTime,
		cmdNumber:  c.cmds.Current(),
	}
	c.lastPacketSent = c.realtime

	m.WriteByte(ClcEOF)
	if err := m.Err(); err != nil {
		return err
	}
	if err := c.transmit(m.Bytes()); err != nil {
		return err
	}
	c.enc = enc
	return nil
}

func (c *Conn) transmit(b []byte) error {
	datagrams, err := c.chanl.Transmit(b)
	if err != nil {
		return err
	}

	for _, d := range datagrams {
		if err := c.sock.Send(d); err != nil {
			return err
		}
	}
	return nil
}
