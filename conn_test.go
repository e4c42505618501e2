package mohnet

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"net"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/HimbeerserverDE/mohnet/capture"
	"github.com/HimbeerserverDE/mohnet/configstring"
	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/HimbeerserverDE/mohnet/netchan"
	"github.com/HimbeerserverDE/mohnet/predict"
	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/rs/zerolog"
)

var (
	t0         = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clientAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	serverAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12203}
)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Address = serverAddr.String()
	cfg.Protocol = 8
	cfg.Qport = 4242
	cfg.PmoveFixed = true
	cfg.PmoveMsec = 25
	cfg.UserInfo["name"] = "Tester"
	return cfg
}

func testGamestate(t *testing.T) *Gamestate {
	t.Helper()
	gs := NewGamestate()
	if err := gs.ConfigStrings.Set(configstring.ServerInfo, `\mapname\obj/obj_team1\sv_fps\20`); err != nil {
		t.Fatal(err)
	}
	if err := gs.ConfigStrings.Set(configstring.SystemInfo, `\sv_serverid\1234`); err != nil {
		t.Fatal(err)
	}
	gs.Baselines[5] = game.EntityState{Number: 5, ModelIndex: 7, Scale: 1, Alpha: 1}
	return gs
}

func testSnap(gs *Gamestate, serverTime int32, xs ...float32) *snapshot.Snapshot {
	s := &snapshot.Snapshot{}
	s.ServerTime = serverTime
	s.PS = game.PlayerState{CommandTime: 1000, Speed: 320}
	for _, x := range xs {
		e := gs.Baselines[5]
		e.NetOrigin = game.Vec3{x, 0, 0}
		s.Entities = append(s.Entities, e)
	}
	return s
}

// buildSession captures a scripted server session as seen from the
// client
func buildSession(t *testing.T, srv *ServerConn) []capture.Datagram {
	t.Helper()

	var buf bytes.Buffer
	rec, err := capture.NewRecorder(&buf, clientAddr, serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	record := func(ms int, dir capture.Direction, ds ...[]byte) {
		t.Helper()
		for _, d := range ds {
			if err := rec.Record(at(ms), dir, d); err != nil {
				t.Fatal(err)
			}
		}
	}
	message := func(ds [][]byte, err error) [][]byte {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return ds
	}

	record(0, capture.ToServer, OOBText(netchan.ClientToServer, "%s", OOBGetChallenge))
	record(5, capture.ToClient, ChallengeResponse(555))
	record(15, capture.ToClient, ConnectResponse())

	gs := testGamestate(t)
	record(25, capture.ToClient, message(srv.Gamestate(gs))...)

	s1 := testSnap(gs, 1000, 0)
	s2 := testSnap(gs, 1050, 10)
	s3 := testSnap(gs, 1100, 20)
	s4 := testSnap(gs, 1150)

	srv.AddCommand(`print "welcome"`)
	record(35, capture.ToClient, message(srv.Snapshot(nil, s1))...)
	record(95, capture.ToClient, message(srv.Snapshot(s1, s2))...)
	srv.AddCommand(`cs 20 "hello"`)
	record(155, capture.ToClient, message(srv.Snapshot(s2, s3))...)
	record(215, capture.ToClient, message(srv.Snapshot(s3, s4))...)

	ds, err := capture.ReadDatagrams(&buf)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestSession(t *testing.T) {
	srv := NewServerConn(game.AA, zerolog.Nop())
	replay := capture.NewReplay(buildSession(t, srv))
	now := t0
	replay.Clock = func() time.Time { return now }

	c := NewConn(testConfig(), replay, zerolog.Nop())
	c.SetInput(predict.InputFunc(func(prev game.UserCmd) game.UserCmd {
		return game.UserCmd{ForwardMove: 127}
	}))

	var states []State
	c.RegisterOnStateChange(func(c *Conn, from, to State) { states = append(states, to) })
	var printed []string
	c.RegisterOnPrint(func(c *Conn, s string) { printed = append(printed, s) })
	var cs string
	c.RegisterOnConfigString(func(c *Conn, index int, s string) {
		if index == 20 {
			cs = s
		}
	})

	var events []string
	var xs []float32
	c.Snapshots().RegisterOnEntityAdded(func(es *game.EntityState) { events = append(events, "added") })
	c.Snapshots().RegisterOnEntityModified(func(prev, cur *game.EntityState) {
		events = append(events, "modified")
		xs = append(xs, cur.NetOrigin[0])
	})
	c.Snapshots().RegisterOnEntityRemoved(func(es *game.EntityState) { events = append(events, "removed") })

	if err := c.Connect(t0); err != nil {
		t.Fatal(err)
	}

	var times []int32
	for _, ms := range []int{0, 10, 20, 30, 40, 100, 160, 220} {
		now = at(ms)
		if err := c.Tick(now); err != nil {
			t.Fatalf("tick %d: %v", ms, err)
		}
		if ms >= 40 {
			times = append(times, c.ServerTime())
		}
	}

	wantStates := []State{StateChallenge, StateConnect, StateGamestate, StateInGame}
	if len(states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", states, wantStates)
	}
	for i := range states {
		if states[i] != wantStates[i] {
			t.Fatalf("states = %v, want %v", states, wantStates)
		}
	}

	wantTimes := []int32{1000, 1060, 1118, 1176}
	for i := range wantTimes {
		if times[i] != wantTimes[i] {
			t.Fatalf("server times = %v, want %v", times, wantTimes)
		}
	}

	wantEvents := []string{"added", "modified", "modified", "removed"}
	if len(events) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", events, wantEvents)
	}
	for i := range events {
		if events[i] != wantEvents[i] {
			t.Fatalf("events = %v, want %v", events, wantEvents)
		}
	}
	if xs[0] != 10 || xs[1] != 20 {
		t.Fatalf("modified origins = %v", xs)
	}

	if len(printed) != 1 || printed[0] != "welcome" {
		t.Fatalf("printed = %q", printed)
	}
	if cs != "hello" || c.Gamestate().ConfigStrings.Get(20) != "hello" {
		t.Fatalf("configstring 20 = %q", cs)
	}
	if c.ServerID() != 1234 || c.Gamestate().MapName() != "obj/obj_team1" {
		t.Fatalf("server id %d map %q", c.ServerID(), c.Gamestate().MapName())
	}
	if replay.Pending() != 0 {
		t.Fatalf("%d datagrams not received", replay.Pending())
	}

	ps := c.PlayerState()
	if ps.CommandTime != 1200 {
		t.Fatalf("predicted command time = %d, want 1200", ps.CommandTime)
	}
	if math.Abs(float64(ps.Origin[0])-44.0623) > 1e-2 || math.Abs(float64(ps.Velocity[0])-308.308) > 1e-2 {
		t.Fatalf("predicted origin %v velocity %v", ps.Origin, ps.Velocity)
	}

	checkClientPackets(t, srv, replay.Sent)
}

func checkClientPackets(t *testing.T, srv *ServerConn, sent [][]byte) {
	t.Helper()
	if len(sent) != 7 {
		t.Fatalf("client sent %d datagrams, want 7", len(sent))
	}

	r, err := ParseReply(sent[0])
	if err != nil || r.Command != OOBGetChallenge {
		t.Fatalf("first datagram %q: %v", sent[0], err)
	}

	info, err := ParseConnect(sent[1])
	if err != nil {
		t.Fatal(err)
	}
	for k, want := range map[string]string{"challenge": "555", "qport": "4242", "protocol": "8", "name": "Tester"} {
		if v := InfoValueForKey(info, k); v != want {
			t.Fatalf("userinfo %s = %q, want %q", k, v, want)
		}
	}
	if InfoValueForKey(info, "cl_guid") == "" {
		t.Fatal("userinfo without cl_guid")
	}

	var packets []*ClientPacket
	for _, b := range sent[2:] {
		p, err := srv.ReadPacket(b)
		if err != nil {
			t.Fatal(err)
		}
		packets = append(packets, p)
	}

	if len(packets[0].Cmds) != 0 || packets[0].ServerID != 0 || packets[0].Qport != 4242 {
		t.Fatalf("first packet = %+v", packets[0])
	}
	for i, want := range []int32{1000, 1060, 1118, 1176} {
		p := packets[i+1]
		if len(p.Cmds) != 1 || p.Cmds[0].ServerTime != want || p.Cmds[0].ForwardMove != 127 {
			t.Fatalf("packet %d cmds = %+v", i+1, p.Cmds)
		}
		if p.ServerID != 1234 || p.NoDelta || p.MessageAcknowledge != int32(i+2) {
			t.Fatalf("packet %d = %+v", i+1, p)
		}
	}
}

// scriptSocket hands out what a test pushes and keeps what is sent
type scriptSocket struct {
	in   [][]byte
	sent [][]byte

	// sendErr fails every Send if set
	sendErr error
}

func (s *scriptSocket) push(ds ...[]byte) { s.in = append(s.in, ds...) }

func (s *scriptSocket) Send(b []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), b...))
	return nil
}

func (s *scriptSocket) Receive() ([]byte, bool, error) {
	if len(s.in) == 0 {
		return nil, false, nil
	}
	b := s.in[0]
	s.in = s.in[1:]
	return b, true, nil
}

func (s *scriptSocket) Close() error { return nil }

func (s *scriptSocket) last() []byte { return s.sent[len(s.sent)-1] }

type harness struct {
	t    *testing.T
	c    *Conn
	sock *scriptSocket
	srv  *ServerConn
}

func newHarness(t *testing.T, cfg *Config) *harness {
	sock := &scriptSocket{}
	return &harness{
		t:    t,
		c:    NewConn(cfg, sock, zerolog.Nop()),
		sock: sock,
		srv:  NewServerConn(game.AA, zerolog.Nop()),
	}
}

func (h *harness) tick(ms int) error { return h.c.Tick(at(ms)) }

func (h *harness) mustTick(ms int) {
	h.t.Helper()
	if err := h.tick(ms); err != nil {
		h.t.Fatalf("tick %d: %v", ms, err)
	}
}

func (h *harness) message(ds [][]byte, err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatal(err)
	}
	h.sock.push(ds...)
}

// connect runs the handshake up to the gamestate
func (h *harness) connect() {
	h.t.Helper()
	if err := h.c.Connect(t0); err != nil {
		h.t.Fatal(err)
	}
	h.mustTick(0)
	h.sock.push(ChallengeResponse(1))
	h.mustTick(10)
	h.sock.push(ConnectResponse())
	h.mustTick(20)
	if h.c.State() != StateGamestate {
		h.t.Fatalf("state = %s", h.c.State())
	}
}

func (h *harness) enterGame(ms int) *Gamestate {
	h.t.Helper()
	gs := testGamestate(h.t)
	h.message(h.srv.Gamestate(gs))
	h.mustTick(ms)
	if h.c.State() != StateInGame {
		h.t.Fatalf("state = %s", h.c.State())
	}
	return gs
}

func TestVersionQuery(t *testing.T) {
	store, err := OpenStorage(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	cfg := testConfig()
	cfg.Protocol = 0

	h := newHarness(t, cfg)
	h.c.SetStorage(store)
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}
	if h.c.State() != StateVerBeforeChallenge {
		t.Fatalf("state = %s", h.c.State())
	}
	h.mustTick(0)
	if r, err := ParseReply(h.sock.last()); err != nil || r.Command != OOBGetInfo {
		t.Fatalf("sent %q", h.sock.last())
	}

	h.sock.push(InfoResponse(`\protocol\17\hostname\test`))
	h.mustTick(10)
	if h.c.State() != StateChallenge || h.c.Family() != game.TA || h.c.Protocol() != 17 {
		t.Fatalf("state %s family %s protocol %d", h.c.State(), h.c.Family(), h.c.Protocol())
	}
	if r, err := ParseReply(h.sock.last()); err != nil || r.Command != OOBGetChallenge {
		t.Fatalf("sent %q", h.sock.last())
	}

	p, ok, err := store.ServerProtocol(cfg.Address)
	if err != nil || !ok || p != 17 {
		t.Fatalf("stored protocol %d %v %v", p, ok, err)
	}

	// the next connection skips the query
	h = newHarness(t, cfg)
	h.c.SetStorage(store)
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}
	if h.c.State() != StateChallenge || h.c.Protocol() != 17 {
		t.Fatalf("state %s protocol %d", h.c.State(), h.c.Protocol())
	}

	guid, err := store.GUID()
	if err != nil || h.c.GUID() != guid {
		t.Fatalf("guid %q, stored %q %v", h.c.GUID(), guid, err)
	}
}

func TestUnsupportedProtocol(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol = 0

	h := newHarness(t, cfg)
	var got error
	h.c.RegisterOnError(func(c *Conn, err error) { got = err })
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}
	h.mustTick(0)
	h.sock.push(InfoResponse(`\protocol\3`))
	if err := h.tick(10); !errors.Is(err, ErrProtocolVersion) {
		t.Fatalf("got %v, want ErrProtocolVersion", err)
	}
	if !errors.Is(got, ErrProtocolVersion) || h.c.State() != StateDisconnected {
		t.Fatalf("handler got %v, state %s", got, h.c.State())
	}
}

func TestAuthorize(t *testing.T) {
	cfg := testConfig()
	cfg.CDKey = "ABCD1234"

	h := newHarness(t, cfg)
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}
	h.mustTick(0)
	h.sock.push(GetKeyRequest("xyz"))
	h.mustTick(10)
	if h.c.State() != StateAuthorize {
		t.Fatalf("state = %s", h.c.State())
	}

	r, err := ParseReply(h.sock.last())
	if err != nil || r.Command != OOBAuthorize || r.Arg(1) != AuthorizeResponse("ABCD1234", "xyz") {
		t.Fatalf("sent %q: %v", h.sock.last(), err)
	}
	if len(r.Arg(1)) != 64 {
		t.Fatalf("response %q", r.Arg(1))
	}

	h.sock.push(ChallengeResponse(9))
	h.mustTick(20)
	if h.c.State() != StateConnect {
		t.Fatalf("state = %s", h.c.State())
	}
}

func TestAuthorizeWithoutKey(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}
	h.mustTick(0)
	h.sock.push(GetKeyRequest("xyz"))
	if err := h.tick(10); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig", err)
	}
}

func TestRetriesExhausted(t *testing.T) {
	h := newHarness(t, testConfig())
	var got error
	h.c.RegisterOnError(func(c *Conn, err error) { got = err })
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < getChallengePolicy.count; i++ {
		h.mustTick(i * 3000)
		// nothing in between
		h.mustTick(i*3000 + 1500)
	}
	if len(h.sock.sent) != getChallengePolicy.count {
		t.Fatalf("sent %d requests", len(h.sock.sent))
	}

	if err := h.tick(getChallengePolicy.count * 3000); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("got %v, want ErrNoResponse", err)
	}
	if !errors.Is(got, ErrNoResponse) {
		t.Fatalf("handler got %v", got)
	}
	if err := h.tick(40000); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestPrintDefersRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	var printed string
	h.c.RegisterOnPrint(func(c *Conn, s string) { printed = s })
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}

	h.mustTick(0)
	h.sock.push(PrintPacket("Server is full.\n"))
	h.mustTick(100)
	if printed != "Server is full." {
		t.Fatalf("printed %q", printed)
	}

	h.mustTick(3000)
	if len(h.sock.sent) != 1 {
		t.Fatalf("resent during the print delay")
	}
	h.mustTick(5100)
	if len(h.sock.sent) != 2 {
		t.Fatalf("sent %d requests after the delay", len(h.sock.sent))
	}
}

func TestDropError(t *testing.T) {
	h := newHarness(t, testConfig())
	var reason string
	h.c.RegisterOnDisconnect(func(c *Conn, r string) { reason = r })
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}
	h.mustTick(0)

	h.sock.push(DropPacket("You are banned"))
	err := h.tick(10)
	var de *DisconnectError
	if !errors.As(err, &de) || de.Reason != "You are banned" {
		t.Fatalf("got %v", err)
	}
	if reason != "You are banned" || h.c.State() != StateDisconnected {
		t.Fatalf("reason %q state %s", reason, h.c.State())
	}
	if !errors.As(h.c.Err(), &de) {
		t.Fatalf("Err() = %v", h.c.Err())
	}
}

func TestTimeout(t *testing.T) {
	h := newHarness(t, testConfig())
	var silence time.Duration
	h.c.RegisterOnTimeout(func(c *Conn, d time.Duration) { silence = d })
	h.connect()

	h.mustTick(int(DefaultTimeout / time.Millisecond))
	sent := len(h.sock.sent)

	err := h.tick(int(DefaultTimeout/time.Millisecond) + 100)
	var te *TimeoutError
	if !errors.As(err, &te) || silence < DefaultTimeout {
		t.Fatalf("got %v, silence %v", err, silence)
	}

	// the client says goodbye on the channel
	if len(h.sock.sent) != sent+3 {
		t.Fatalf("sent %d packets when dropping", len(h.sock.sent)-sent)
	}
	var cmds []string
	for _, b := range h.sock.sent[2:] {
		p, err := h.srv.ReadPacket(b)
		if err != nil {
			t.Fatal(err)
		}
		cmds = append(cmds, p.Commands...)
	}
	if len(cmds) != 1 || cmds[0] != "disconnect" {
		t.Fatalf("client commands = %q", cmds)
	}
}

func TestServerDisconnectCommand(t *testing.T) {
	h := newHarness(t, testConfig())
	var reason string
	h.c.RegisterOnDisconnect(func(c *Conn, r string) { reason = r })
	h.connect()
	gs := h.enterGame(30)

	h.srv.AddCommand(`disconnect "kicked by admin"`)
	h.message(h.srv.Snapshot(nil, testSnap(gs, 1000, 0)))

	var de *DisconnectError
	if err := h.tick(40); !errors.As(err, &de) {
		t.Fatalf("got %v, want DisconnectError", err)
	}
	if reason != "kicked by admin" {
		t.Fatalf("reason %q", reason)
	}
}

func TestServerMessages(t *testing.T) {
	h := newHarness(t, testConfig())
	var center, loc string
	var locX, locY int
	var cmds [][]string
	h.c.RegisterOnCenterprint(func(c *Conn, s string) { center = s })
	h.c.RegisterOnLocprint(func(c *Conn, x, y int, s string) { locX, locY, loc = x, y, s })
	h.c.RegisterOnServerCommand(func(c *Conn, args []string) { cmds = append(cmds, args) })
	h.connect()
	gs := h.enterGame(30)

	h.srv.AddCommand(`scores 1 2 3`)
	h.message(h.srv.Message(func(m *msg.Message) error {
		if err := WriteCenterprint(m, "Round starts"); err != nil {
			return err
		}
		return WriteLocprint(m, 320, 100, "Objective taken")
	}))
	h.message(h.srv.Snapshot(nil, testSnap(gs, 1000, 0)))
	h.mustTick(40)

	if center != "Round starts" || loc != "Objective taken" || locX != 320 || locY != 100 {
		t.Fatalf("center %q loc %q at %d,%d", center, loc, locX, locY)
	}
	if len(cmds) != 1 || len(cmds[0]) != 4 || cmds[0][0] != "scores" {
		t.Fatalf("server commands = %q", cmds)
	}
}

func TestDownload(t *testing.T) {
	h := newHarness(t, testConfig())
	var blocks []*DownloadBlock
	h.c.RegisterOnDownload(func(c *Conn, b *DownloadBlock) { blocks = append(blocks, b) })
	h.connect()
	h.enterGame(30)

	if err := h.c.Download("maps/obj/obj_team1.bsp"); err != nil {
		t.Fatal(err)
	}
	h.message(h.srv.Message(func(m *msg.Message) error {
		if err := WriteDownload(m, 0, 5, []byte("abc"), ""); err != nil {
			return err
		}
		if err := WriteDownload(m, 1, 0, []byte("de"), ""); err != nil {
			return err
		}
		return WriteDownload(m, 2, 0, nil, "")
	}))
	h.mustTick(40)

	if len(blocks) != 3 {
		t.Fatalf("got %d blocks", len(blocks))
	}
	last := blocks[2]
	if !last.Done || last.Count != 5 || last.Size != 5 || string(blocks[1].Data) != "de" {
		t.Fatalf("blocks = %+v %+v %+v", blocks[0], blocks[1], last)
	}

	var cmds []string
	h.c.reliable.Pending(func(seq int32, cmd string) { cmds = append(cmds, cmd) })
	want := []string{"download maps/obj/obj_team1.bsp", "nextdl 0", "nextdl 1", "nextdl 2"}
	if len(cmds) != len(want) {
		t.Fatalf("reliable commands = %q", cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Fatalf("reliable commands = %q, want %q", cmds, want)
		}
	}
}

func TestDownloadRefused(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connect()
	h.enterGame(30)

	if err := h.c.Download("secret.pk3"); err != nil {
		t.Fatal(err)
	}
	h.message(h.srv.Message(func(m *msg.Message) error {
		return WriteDownload(m, 0, -1, nil, "not allowed")
	}))
	if err := h.tick(40); !errors.Is(err, ErrDownload) {
		t.Fatalf("got %v, want ErrDownload", err)
	}
}

func TestConnectTwice(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.c.Connect(t0); err != nil {
		t.Fatal(err)
	}
	if err := h.c.Connect(t0); !errors.Is(err, ErrConnected) {
		t.Fatalf("got %v, want ErrConnected", err)
	}
	if err := h.c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if h.c.State() != StateDisconnected {
		t.Fatalf("state = %s", h.c.State())
	}
	if err := h.c.AddReliableCommand("say hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestIsRecoverable(t *testing.T) {
	for _, err := range []error{netchan.ErrStale, snapshot.ErrBadDelta, snapshot.ErrTimeBackwards} {
		if !IsRecoverable(err) {
			t.Fatalf("%v is fatal", err)
		}
	}
	for _, err := range []error{ErrBadCommand, &DisconnectError{}, ErrCommandCycled, ErrDesync, netchan.ErrFragmentOrder} {
		if IsRecoverable(err) {
			t.Fatalf("%v is recoverable", err)
		}
	}
}

func TestLostMessageEndsConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	var center []string
	h.c.RegisterOnCenterprint(func(c *Conn, s string) { center = append(center, s) })
	h.connect()

	// encoded, so the server tree moved on, but never delivered
	if _, err := h.srv.Message(func(m *msg.Message) error { return WriteCenterprint(m, "lost") }); err != nil {
		t.Fatal(err)
	}
	h.message(h.srv.Message(func(m *msg.Message) error { return WriteCenterprint(m, "after") }))

	if err := h.tick(30); !errors.Is(err, ErrDesync) {
		t.Fatalf("got %v, want ErrDesync", err)
	}
	if len(center) != 0 || h.c.State() != StateDisconnected {
		t.Fatalf("centerprints %q state %s", center, h.c.State())
	}

	// the other direction is still in step, the goodbye decodes
	var cmds []string
	for _, b := range h.sock.sent[2:] {
		p, err := h.srv.ReadPacket(b)
		if err != nil {
			t.Fatal(err)
		}
		cmds = append(cmds, p.Commands...)
	}
	if len(cmds) != 1 || cmds[0] != "disconnect" {
		t.Fatalf("client commands = %q", cmds)
	}
}

func TestDiscardedFragmentEndsConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connect()

	rng := rand.New(rand.NewSource(1))
	ds, err := h.srv.Message(func(m *msg.Message) error {
		for i := 0; i < 5; i++ {
			var b strings.Builder
			for j := 0; j < 1000; j++ {
				b.WriteByte(byte('a' + rng.Intn(26)))
			}
			if err := WriteCenterprint(m, b.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) < 3 {
		t.Fatalf("%d fragments, want at least 3", len(ds))
	}

	h.sock.push(ds[0], ds[2])
	if err := h.tick(30); !errors.Is(err, ErrDesync) || !errors.Is(err, netchan.ErrFragmentOrder) {
		t.Fatalf("got %v, want ErrDesync", err)
	}
	if h.c.State() != StateDisconnected {
		t.Fatalf("state = %s", h.c.State())
	}
}

func TestOverflowKeepsEncoder(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connect()

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < MaxReliableCommands; i++ {
		cmd := make([]byte, msg.MaxStringChars-1)
		for j := range cmd {
			cmd[j] = byte(1 + rng.Intn(255))
		}
		if err := h.c.reliable.Add(string(cmd)); err != nil {
			t.Fatal(err)
		}
	}

	before := h.c.enc.Clone()
	sent := len(h.sock.sent)
	if err := h.c.writePacket(); !errors.Is(err, msg.ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", err)
	}
	if !reflect.DeepEqual(before, h.c.enc.Clone()) || len(h.sock.sent) != sent {
		t.Fatal("failed packet advanced the encoder")
	}

	h.c.reliable.Acknowledge(h.c.reliable.Sequence())
	if err := h.c.writePacket(); err != nil {
		t.Fatal(err)
	}
	for _, b := range h.sock.sent[2:] {
		if _, err := h.srv.ReadPacket(b); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGoodbyeSendFailureLogged(t *testing.T) {
	var logged bytes.Buffer
	h := newHarness(t, testConfig())
	h.c = NewConn(testConfig(), h.sock, zerolog.New(&logged))
	h.connect()

	h.sock.sendErr = errors.New("network is down")
	err := h.tick(int(DefaultTimeout/time.Millisecond) + 100)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TimeoutError", err)
	}
	if !strings.Contains(logged.String(), "goodbye failed") || !strings.Contains(logged.String(), "network is down") {
		t.Fatalf("log = %s", logged.String())
	}
}
