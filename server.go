package mohnet

import (
	"errors"
	"fmt"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/huffman"
	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/HimbeerserverDE/mohnet/netchan"
	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// A ServerConn is the server end of one client connection. It encodes
// the messages a Conn parses and decodes the packets a Conn sends, which
// is what test servers and the network simulator need.
type ServerConn struct {
	fam      game.Family
	chanl    *netchan.Chan
	enc, dec *huffman.Tree

	commands          ReliableCommands
	lastClientCommand int32
	baselines         snapshot.Baselines

	log zerolog.Logger
}

// A ClientPacket is one decoded client message
type ClientPacket struct {
	Sequence uint32
	Qport    uint16

	ServerID            int32
	MessageAcknowledge  int32
	ReliableAcknowledge int32

	// Commands are the client commands not seen before, in order
	Commands []string

	NoDelta bool
	Cmds    []game.UserCmd
}

func NewServerConn(fam game.Family, log zerolog.Logger) *ServerConn {
	s := &ServerConn{
		fam:   fam,
		chanl: netchan.New(netchan.ServerSide, 0, log),
		enc:   huffman.New(),
		dec:   huffman.New(),
		log:   log.With().Str("ctx", "server").Logger(),
	}
	s.baselines.Reset()
	return s
}

// Sequence returns the number the next message will carry
func (s *ServerConn) Sequence() int32 { return int32(s.chanl.OutgoingSequence()) }

// AddCommand queues a server command, it is repeated in every message
// until the client acknowledges it
func (s *ServerConn) AddCommand(cmd string) error { return s.commands.Add(cmd) }

// Message encodes one sequenced message. body writes the operations
// between the pending commands and the end marker.
func (s *ServerConn) Message(body func(m *msg.Message) error) (datagrams [][]byte, err error) {
	defer func() { err = multierror.Prefix(err, "ServerConn.Message:") }()

	enc := s.enc.Clone()
	m := msg.NewWriter(netchan.MaxMsgLen, msg.Bits{Tree: enc})
	m.WriteLong(s.lastClientCommand)

	s.commands.Pending(func(seq int32, cmd string) {
		m.WriteByte(SvcServerCommand)
		m.WriteLong(seq)
		m.WriteString(cmd)
	})

	if body != nil {
		if err := body(m); err != nil {
			return nil, err
		}
	}

	m.WriteByte(SvcEOF)
	if err := m.Err(); err != nil {
		return nil, err
	}
	if datagrams, err = s.chanl.Transmit(m.Bytes()); err != nil {
		return nil, err
	}
	s.enc = enc
	return datagrams, nil
}

// Gamestate sends gs, later snapshots delta from its baselines
func (s *ServerConn) Gamestate(gs *Gamestate) ([][]byte, error) {
	s.baselines = gs.Baselines
	gs.ServerCommandSequence = s.commands.Sequence()
	return s.Message(func(m *msg.Message) error { return gs.Write(m, s.fam) })
}

// Snapshot sends snap relative to base, nil for a full frame. The
// message number of snap is set to the sequence it is sent with.
func (s *ServerConn) Snapshot(base, snap *snapshot.Snapshot) ([][]byte, error) {
	snap.MessageNum = s.Sequence()
	return s.Message(func(m *msg.Message) error {
		m.WriteByte(SvcSnapshot)
		return snapshot.WriteSnapshot(m, s.fam, &s.baselines, base, snap)
	})
}

// WriteCenterprint encodes a centered text message
func WriteCenterprint(m *msg.Message, text string) error {
	m.WriteByte(SvcCenterprint)
	m.WriteString(EncodeText(text))
	return m.Err()
}

// WriteLocprint encodes a text message shown at x, y
func WriteLocprint(m *msg.Message, x, y int, text string) error {
	m.WriteByte(SvcLocprint)
	m.WriteShort(int16(x))
	m.WriteShort(int16(y))
	m.WriteString(EncodeText(text))
	return m.Err()
}

// ReadPacket decodes a client datagram. It returns nil while a
// fragmented message is incomplete.
func (s *ServerConn) ReadPacket(b []byte) (cp *ClientPacket, err error) {
	p, err := s.chanl.Process(b)
	if errors.Is(err, netchan.ErrFragmentOrder) {
		return nil, fmt.Errorf("%w: %w", ErrDesync, err)
	}
	if err != nil || p == nil {
		return nil, err
	}
	if n := s.chanl.Dropped(); n > 0 {
		return nil, fmt.Errorf("%w: %d client messages lost before %d", ErrDesync, n, p.Sequence)
	}
	defer func() { err = multierror.Prefix(err, "ServerConn.ReadPacket:") }()

	m := msg.NewReader(p.Payload, msg.Bits{Tree: s.dec})
	cp = &ClientPacket{Sequence: p.Sequence, Qport: p.Qport}
	for _, v := range []*int32{&cp.ServerID, &cp.MessageAcknowledge, &cp.ReliableAcknowledge} {
		if *v, err = m.ReadLong(); err != nil {
			return nil, err
		}
	}
	s.commands.Acknowledge(cp.ReliableAcknowledge)

	for {
		op, err := m.ReadByte()
		if err != nil {
			return nil, err
		}

		switch op {
		case ClcEOF:
			return cp, nil
		case ClcNop:
		case ClcClientCommand:
			if err := s.readClientCommand(m, cp); err != nil {
				return nil, err
			}
		case ClcMove, ClcMoveNoDelta:
			cp.NoDelta = op == ClcMoveNoDelta
			if err := readUsercmds(m, cp); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: client op %d", ErrBadCommand, op)
		}
	}
}

func (s *ServerConn) readClientCommand(m *msg.Message, cp *ClientPacket) error {
	seq, err := m.ReadLong()
	if err != nil {
		return err
	}
	cmd, err := m.ReadString()
	if err != nil {
		return err
	}

	switch {
	case seq <= s.lastClientCommand:
		return nil
	case seq > s.lastClientCommand+1:
		return fmt.Errorf("%w: lost client commands %d to %d", ErrBadCommand, s.lastClientCommand+1, seq-1)
	}

	s.lastClientCommand = seq
	cp.Commands = append(cp.Commands, cmd)
	return nil
}

func readUsercmds(m *msg.Message, cp *ClientPacket) error {
	n, err := m.ReadByte()
	if err != nil {
		return err
	}
	if n < 1 || n > MaxPacketUsercmds {
		return fmt.Errorf("%w: %d usercmds", ErrBadCommand, n)
	}

	var from game.UserCmd
	for i := 0; i < int(n); i++ {
		var cmd game.UserCmd
		if err := game.ReadDeltaUsercmd(m, &from, &cmd); err != nil {
			return err
		}
		cp.Cmds = append(cp.Cmds, cmd)
		from = cmd
	}
	return nil
}

// ChallengeResponse answers a getchallenge request
func ChallengeResponse(challenge int32) []byte {
	return OOBText(netchan.ServerToClient, "%s %d", OOBChallengeResponse, challenge)
}

// ConnectResponse accepts a connect request
func ConnectResponse() []byte {
	return OOBText(netchan.ServerToClient, "%s", OOBConnectResponse)
}

// InfoResponse answers a getinfo request with an info string
func InfoResponse(info string) []byte {
	return OOBText(netchan.ServerToClient, "%s\n%s", OOBInfoResponse, info)
}

// GetKeyRequest asks the client to authorize its CD key
func GetKeyRequest(challenge string) []byte {
	return OOBText(netchan.ServerToClient, "%s %s", OOBGetKey, challenge)
}

// PrintPacket sends console text outside the channel
func PrintPacket(text string) []byte {
	return OOBText(netchan.ServerToClient, "%s\n%s", OOBPrint, EncodeText(text))
}

// DropPacket refuses or ends a connection with reason
func DropPacket(reason string) []byte {
	return OOBText(netchan.ServerToClient, "%s\n%s", OOBDropError, EncodeText(reason))
}
