package capture

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// Socket is the datagram socket a connection runs over
type Socket interface {
	Send(b []byte) error
	Receive() ([]byte, bool, error)
	Close() error
}

// RecordingSocket records every datagram passing through a Socket
type RecordingSocket struct {
	Socket
	rec *Recorder

	// Now timestamps the frames, time.Now if nil
	Now func() time.Time
}

// Wrap records the traffic of s into rec. Closing the socket closes rec.
func Wrap(s Socket, rec *Recorder) *RecordingSocket {
	return &RecordingSocket{Socket: s, rec: rec}
}

func (s *RecordingSocket) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RecordingSocket) Send(b []byte) error {
	if err := s.rec.Record(s.now(), ToServer, b); err != nil {
		return err
	}
	return s.Socket.Send(b)
}

func (s *RecordingSocket) Receive() ([]byte, bool, error) {
	b, ok, err := s.Socket.Receive()
	if err != nil || !ok {
		return b, ok, err
	}
	return b, ok, s.rec.Record(s.now(), ToClient, b)
}

func (s *RecordingSocket) Close() error {
	var result error
	if err := s.Socket.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.rec.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// Replay is a Socket that hands out captured datagrams sent to the
// client and collects what is sent to it
type Replay struct {
	in   []Datagram
	Sent [][]byte

	// Clock holds back datagrams captured after the time it returns,
	// nil delivers everything at once
	Clock func() time.Time
}

// NewReplay replays the datagrams of ds sent to the client, in order
func NewReplay(ds []Datagram) *Replay {
	r := &Replay{}
	for _, d := range ds {
		if d.Dir == ToClient {
			r.in = append(r.in, d)
		}
	}
	return r
}

// Pending returns how many datagrams were not received yet
func (r *Replay) Pending() int { return len(r.in) }

func (r *Replay) Send(b []byte) error {
	r.Sent = append(r.Sent, append([]byte(nil), b...))
	return nil
}

func (r *Replay) Receive() ([]byte, bool, error) {
	if len(r.in) == 0 {
		return nil, false, nil
	}
	d := r.in[0]
	if r.Clock != nil && d.Time.After(r.Clock()) {
		return nil, false, nil
	}
	r.in = r.in[1:]
	return d.Payload, true, nil
}

func (r *Replay) Close() error { return nil }
