package mohnet

import (
	"errors"
	"fmt"

	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/dustin/go-humanize"
)

// MaxDownloadBlock bounds the data of one download message
const MaxDownloadBlock = 2048

var ErrDownload = errors.New("download failed")

// A DownloadBlock is one received part of a file. The last block of a
// file is empty and has Done set.
type DownloadBlock struct {
	Name  string
	Block int
	// Size is the total size announced in the first block
	Size  int32
	Data  []byte
	Count int
	Done  bool
}

type download struct {
	name  string
	block int
	size  int32
	count int
}

// Download requests a file from the server, the blocks are delivered
// to the download handlers
func (c *Conn) Download(name string) error {
	if c.state != StateGamestate && c.state != StateInGame {
		return ErrNotConnected
	}
	if err := c.AddReliableCommand("download " + name); err != nil {
		return err
	}

	c.download = &download{name: name}
	return nil
}

func (c *Conn) parseDownload(m *msg.Message) error {
	block, err := m.ReadShort()
	if err != nil {
		return err
	}

	var size int32
	if block == 0 {
		if size, err = m.ReadLong(); err != nil {
			return err
		}
		if size < 0 {
			reason, _ := m.ReadString()
			c.download = nil
			return fmt.Errorf("%w: %s", ErrDownload, DecodeText(reason))
		}
	}

	n, err := m.ReadShort()
	if err != nil {
		return err
	}
	if n < 0 || n > MaxDownloadBlock {
		return fmt.Errorf("%w: block size %d", ErrBadCommand, n)
	}
	data, err := m.ReadData(int(n))
	if err != nil {
		return err
	}

	d := c.download
	if d == nil {
		c.log.Debug().Str("event", "unrequested download").Int16("block", block).Msg("")
		return nil
	}
	if int(block) != d.block {
		c.log.Debug().Str("event", "download block").Int16("got", block).Int("want", d.block).Msg("")
		return nil
	}
	if block == 0 {
		d.size = size
	}

	d.count += len(data)
	b := &DownloadBlock{Name: d.name, Block: d.block, Size: d.size, Data: data, Count: d.count, Done: n == 0}
	for _, fn := range c.handlers.download {
		fn(c, b)
	}

	if err := c.AddReliableCommand(fmt.Sprintf("nextdl %d", d.block)); err != nil {
		return err
	}
	d.block++

	if b.Done {
		c.log.Info().Str("event", "download complete").Str("name", d.name).
			Str("size", humanize.Bytes(uint64(d.count))).Msg("")
		c.download = nil
	}
	return nil
}

// WriteDownload encodes a download block including its op code. A
// negative size with block 0 reports reason as a failure.
func WriteDownload(m *msg.Message, block int, size int32, data []byte, reason string) error {
	if len(data) > MaxDownloadBlock {
		return fmt.Errorf("%w: block size %d", ErrBadCommand, len(data))
	}

	m.WriteByte(SvcDownload)
	m.WriteShort(int16(block))
	if block == 0 {
		m.WriteLong(size)
		if size < 0 {
			m.WriteString(reason)
			return m.Err()
		}
	}
	m.WriteShort(int16(len(data)))
	m.WriteData(data)
	return m.Err()
}
