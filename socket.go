package mohnet

import (
	"errors"
	"net"
	"syscall"

	"github.com/rs/zerolog"
)

// MaxPacketLen bounds a single received datagram
const MaxPacketLen = 16384

// socketQueue is how many datagrams may wait between two ticks
const socketQueue = 512

// A Socket moves whole datagrams to and from one server
type Socket interface {
	Send(b []byte) error
	// Receive returns the next queued datagram without blocking,
	// ok is false if none is queued
	Receive() (b []byte, ok bool, err error)
	Close() error
}

// UDPSocket is a Socket backed by a connected UDP socket. Datagrams are
// read in the background and queued for Receive.
type UDPSocket struct {
	conn *net.UDPConn
	in   chan []byte
	errs chan error

	log zerolog.Logger
}

// DialUDP connects to addr and starts reading
func DialUDP(addr string, log zerolog.Logger) (*UDPSocket, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	s := &UDPSocket{
		conn: conn,
		in:   make(chan []byte, socketQueue),
		errs: make(chan error, 1),
		log:  log.With().Str("ctx", "socket").Str("remote", raddr.String()).Logger(),
	}
	go s.readLoop()

	s.log.Debug().Str("event", "dial").Str("local", conn.LocalAddr().String()).Msg("")
	return s, nil
}

func (s *UDPSocket) readLoop() {
	buf := make([]byte, MaxPacketLen)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// an earlier send hit a closed port, the server may come up
			if errors.Is(err, syscall.ECONNREFUSED) {
				s.log.Debug().Str("event", "refused").Msg("")
				continue
			}

			s.errs <- err
			return
		}

		select {
		case s.in <- append([]byte(nil), buf[:n]...):
		default:
			s.log.Warn().Str("event", "queue full").Int("len", n).Msg("dropping datagram")
		}
	}
}

func (s *UDPSocket) Send(b []byte) error {
	_, err := s.conn.Write(b)
	if errors.Is(err, syscall.ECONNREFUSED) {
		return nil
	}
	return err
}

func (s *UDPSocket) Receive() ([]byte, bool, error) {
	select {
	case b := <-s.in:
		return b, true, nil
	default:
	}

	select {
	case err := <-s.errs:
		return nil, false, err
	default:
		return nil, false, nil
	}
}

func (s *UDPSocket) Close() error { return s.conn.Close() }

// LocalAddr returns the local address of the socket
func (s *UDPSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RemoteAddr returns the server address
func (s *UDPSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
