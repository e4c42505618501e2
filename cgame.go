package mohnet

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/hashicorp/go-multierror"
)

// CGameMessageType is the closed set of effect messages carried by
// svc_cgameMessage
type CGameMessageType uint8

const (
	CGBulletTracer   CGameMessageType = 1
	CGBulletNoTracer CGameMessageType = 2
	CGImpact         CGameMessageType = 6
	CGMeleeImpact    CGameMessageType = 8
	CGExplosion      CGameMessageType = 12
	CGHudPrint       CGameMessageType = 23
	CGVoiceChat      CGameMessageType = 29
)

const (
	cgTypeBits   = 6
	cgCoordBits  = 16
	cgEffectBits = 10
	cgSurfBits   = 4
	cgNormalBits = 16
)

func (t CGameMessageType) String() string {
	switch t {
	case CGBulletTracer:
		return "bullet tracer"
	case CGBulletNoTracer:
		return "bullet"
	case CGImpact:
		return "impact"
	case CGMeleeImpact:
		return "melee impact"
	case CGExplosion:
		return "explosion"
	case CGHudPrint:
		return "hud print"
	case CGVoiceChat:
		return "voice chat"
	}
	return fmt.Sprintf("cgame message %d", uint8(t))
}

// A CGameMessage is one effect record. Only the fields of its type
// are used.
type CGameMessage struct {
	Type CGameMessageType

	Start game.Vec3
	End   game.Vec3
	Large bool

	Origin  game.Vec3
	Normal  game.Vec3
	Surface uint8
	Effect  int32

	Text string
}

func writeVec(m *msg.Message, v game.Vec3) {
	for _, c := range v {
		m.WriteBits(game.PackCoord(c), cgCoordBits)
	}
}

func readVec(m *msg.Message) (game.Vec3, error) {
	var v game.Vec3
	for i := range v {
		p, err := m.ReadBits(cgCoordBits)
		if err != nil {
			return v, err
		}
		v[i] = game.UnpackCoord(p)
	}
	return v, nil
}

func writeNormal(m *msg.Message, v game.Vec3) {
	for _, c := range v {
		m.WriteBits(uint32(uint16(int16(c*32767))), cgNormalBits)
	}
}

func readNormal(m *msg.Message) (game.Vec3, error) {
	var v game.Vec3
	for i := range v {
		p, err := m.ReadSignedBits(cgNormalBits)
		if err != nil {
			return v, err
		}
		v[i] = float32(p) / 32767
	}
	return v, nil
}

// ReadCGameMessages reads the records of one svc_cgameMessage
func ReadCGameMessages(m *msg.Message) (cms []CGameMessage, err error) {
	defer func() { err = multierror.Prefix(err, "ReadCGameMessages:") }()

	for {
		t, err := m.ReadBits(cgTypeBits)
		if err != nil {
			return nil, err
		}

		cm := CGameMessage{Type: CGameMessageType(t)}
		switch cm.Type {
		case CGBulletTracer, CGBulletNoTracer:
			if cm.Start, err = readVec(m); err != nil {
				return nil, err
			}
			if cm.End, err = readVec(m); err != nil {
				return nil, err
			}
			if cm.Large, err = m.ReadBool(); err != nil {
				return nil, err
			}
		case CGImpact, CGMeleeImpact:
			if cm.Origin, err = readVec(m); err != nil {
				return nil, err
			}
			if cm.Normal, err = readNormal(m); err != nil {
				return nil, err
			}
			s, err := m.ReadBits(cgSurfBits)
			if err != nil {
				return nil, err
			}
			cm.Surface = uint8(s)
		case CGExplosion:
			if cm.Origin, err = readVec(m); err != nil {
				return nil, err
			}
			e, err := m.ReadBits(cgEffectBits)
			if err != nil {
				return nil, err
			}
			cm.Effect = int32(e)
		case CGHudPrint:
			s, err := m.ReadString()
			if err != nil {
				return nil, err
			}
			cm.Text = DecodeText(s)
		case CGVoiceChat:
			if cm.Origin, err = readVec(m); err != nil {
				return nil, err
			}
			if cm.Large, err = m.ReadBool(); err != nil {
				return nil, err
			}
			s, err := m.ReadString()
			if err != nil {
				return nil, err
			}
			cm.Text = s
		default:
			return nil, fmt.Errorf("%w: %v", ErrBadCommand, cm.Type)
		}
		cms = append(cms, cm)

		more, err := m.ReadBool()
		if err != nil {
			return nil, err
		}
		if !more {
			return cms, nil
		}
	}
}

// WriteCGameMessages writes one svc_cgameMessage including its op code
func WriteCGameMessages(m *msg.Message, cms []CGameMessage) error {
	if len(cms) == 0 {
		return nil
	}

	m.WriteByte(SvcCGameMessage)
	for i, cm := range cms {
		m.WriteBits(uint32(cm.Type), cgTypeBits)
		switch cm.Type {
		case CGBulletTracer, CGBulletNoTracer:
			writeVec(m, cm.Start)
			writeVec(m, cm.End)
			m.WriteBool(cm.Large)
		case CGImpact, CGMeleeImpact:
			writeVec(m, cm.Origin)
			writeNormal(m, cm.Normal)
			m.WriteBits(uint32(cm.Surface), cgSurfBits)
		case CGExplosion:
			writeVec(m, cm.Origin)
			m.WriteBits(uint32(cm.Effect), cgEffectBits)
		case CGHudPrint:
			m.WriteString(EncodeText(cm.Text))
		case CGVoiceChat:
			writeVec(m, cm.Origin)
			m.WriteBool(cm.Large)
			m.WriteString(cm.Text)
		default:
			return fmt.Errorf("%w: %v", ErrBadCommand, cm.Type)
		}
		m.WriteBool(i < len(cms)-1)
	}
	return m.Err()
}
