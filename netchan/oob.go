package netchan

import (
	"bytes"

	"github.com/HimbeerserverDE/mohnet/msg"
)

// connectionless direction markers
const (
	ServerToClient byte = 1
	ClientToServer byte = 2
)

// WriteConnectionless frames an out of band command. The payload is
// sent as is, text payloads carry their own NUL terminator.
func WriteConnectionless(dir byte, payload []byte) []byte {
	m := msg.NewWriter(headerLen+1+len(payload), msg.OOB{})
	m.WriteBits(ConnectionlessSeq, 32)
	m.WriteByte(dir)
	m.WriteData(payload)
	return m.Bytes()
}

// ReadConnectionless splits an out of band packet into its direction
// byte and payload, the payload is cut at the first NUL
func ReadConnectionless(b []byte) (dir byte, payload []byte, err error) {
	m := msg.NewReader(b, msg.OOB{})
	seq, err := m.ReadBits(32)
	if err != nil || seq != ConnectionlessSeq {
		return 0, nil, ErrShort
	}
	if dir, err = m.ReadByte(); err != nil {
		return 0, nil, ErrShort
	}

	payload = b[m.ReadCount():]
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	return dir, payload, nil
}
