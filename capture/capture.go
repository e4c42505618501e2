/*
Package capture records the datagrams of a connection as a pcap file
and reads them back from pcap or pcapng files. Files ending in .zst are
zstd compressed.
*/
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
)

const snapLen = 65536

// Direction tells who sent a datagram
type Direction uint8

const (
	ToServer Direction = iota
	ToClient
)

func (d Direction) String() string {
	if d == ToServer {
		return "to server"
	}
	return "to client"
}

var ErrNoEndpoints = errors.New("capture: no udp datagrams to tell the endpoints from")

// A Datagram is one captured UDP payload
type Datagram struct {
	Time    time.Time
	Dir     Direction
	Payload []byte
}

var (
	clientMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	serverMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

// A Recorder writes datagrams as Ethernet/IPv4/UDP frames. It is safe
// for concurrent use.
type Recorder struct {
	mu sync.Mutex

	w      *pcapgo.Writer
	closer []io.Closer

	client, server *net.UDPAddr
	ipID           uint16
}

// NewRecorder writes a pcap header to w. client and server are the
// endpoints written into the frames.
func NewRecorder(w io.Writer, client, server *net.UDPAddr) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &Recorder{w: pw, client: client, server: server}, nil
}

// Create records into the file at path, compressing it if the name
// ends in .zst
func Create(path string, client, server *net.UDPAddr) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	var w io.Writer = f
	closers := []io.Closer{f}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		w = enc
		closers = []io.Closer{enc, f}
	}

	r, err := NewRecorder(w, client, server)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	r.closer = closers
	return r, nil
}

// Record writes one datagram sent at t
func (r *Recorder) Record(t time.Time, dir Direction, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, dst := r.client, r.server
	srcMAC, dstMAC := clientMAC, serverMAC
	if dir == ToClient {
		src, dst = dst, src
		srcMAC, dstMAC = dstMAC, srcMAC
	}

	r.ipID++
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		Id:       r.ipID,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.IP.To4(),
		DstIP:    dst.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	data := buf.Bytes()
	return r.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     t,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// Close flushes and closes the file opened by Create
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result error
	for _, c := range r.closer {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	r.closer = nil
	return result
}

// ReadFile reads the datagrams of a capture file
func ReadFile(path string) ([]Datagram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	return ReadDatagrams(r)
}

// ReadDatagrams reads a pcap or pcapng stream. The destination of the
// first UDP datagram is taken as the server.
func ReadDatagrams(r io.Reader) ([]Datagram, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var source *gopacket.PacketSource
	if ng, err := pcapgo.NewNgReader(bytes.NewReader(data), pcapgo.NgReaderOptions{}); err == nil {
		source = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		pr, err := pcapgo.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		source = gopacket.NewPacketSource(pr, pr.LinkType())
	}

	type endpoint struct {
		ip   string
		port layers.UDPPort
	}

	var server endpoint
	var known bool
	var out []Datagram
	for {
		pkt, err := source.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		network := pkt.NetworkLayer()
		udp, ok := pkt.TransportLayer().(*layers.UDP)
		if network == nil || !ok {
			continue
		}

		dst := endpoint{network.NetworkFlow().Dst().String(), udp.DstPort}
		if !known {
			server, known = dst, true
		}

		dir := ToClient
		if dst == server {
			dir = ToServer
		}
		out = append(out, Datagram{
			Time:    pkt.Metadata().Timestamp,
			Dir:     dir,
			Payload: append([]byte(nil), udp.Payload...),
		})
	}

	if !known {
		return nil, ErrNoEndpoints
	}
	return out, nil
}
