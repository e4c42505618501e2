package mohnet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/huffman"
	"github.com/HimbeerserverDE/mohnet/netchan"
	"github.com/HimbeerserverDE/mohnet/predict"
	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/hako/durafmt"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// State is the stage of a connection
type State uint8

const (
	StateDisconnected State = iota
	StateVerBeforeChallenge
	StateChallenge
	StateAuthorize
	StateConnect
	StateGamestate
	StateInGame
)

var stateNames = [...]string{
	StateDisconnected:       "disconnected",
	StateVerBeforeChallenge: "querying version",
	StateChallenge:          "challenging",
	StateAuthorize:          "authorizing",
	StateConnect:            "connecting",
	StateGamestate:          "awaiting gamestate",
	StateInGame:             "in game",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state %d", s)
}

var ErrConnected = errors.New("already connected")

// outPacket remembers what a sent packet carried, acknowledged
// snapshots are matched against it for the ping
type outPacket struct {
	realtime   int32
	serverTime int32
	cmdNumber  int32
}

// A Conn is a client connection to one server. It is driven by Tick
// and not safe for concurrent use.
type Conn struct {
	cfg   *Config
	sock  Socket
	store *Storage

	state    State
	protocol int
	family   game.Family
	qport    uint16
	guid     string
	err      error

	base     time.Time
	now      time.Time
	realtime int32

	lastFrame int32

	req           *request
	challenge     int32
	authChallenge string

	chanl    *netchan.Chan
	enc, dec *huffman.Tree

	serverMessageSequence int32
	lastPacketTime        int32
	lastPacketSent        int32
	limiter               *rate.Limiter
	outPackets            [PacketBackup]outPacket

	reliable   ReliableCommands
	serverCmds ServerCommands
	gs         *Gamestate
	serverID   int32

	ring         *snapshot.Ring
	proc         *snapshot.Processor
	newSnapshots bool
	clock        serverClock

	cmds  predict.CmdRing
	input predict.InputSource
	pmove predict.Pmove
	pred  *predict.Predictor

	download *download

	// deferred holds a fatal error raised while commands are being
	// executed from inside the snapshot processor
	deferred error

	inGameSince time.Time

	handlers handlers
	log      zerolog.Logger
}

// NewConn prepares a connection to cfg.Address over sock. Nothing is
// sent before Connect.
func NewConn(cfg *Config, sock Socket, log zerolog.Logger) *Conn {
	c := &Conn{
		cfg:   cfg,
		sock:  sock,
		gs:    NewGamestate(),
		pmove: predict.Noclip,
		log:   log.With().Str("ctx", "conn").Str("server", cfg.Address).Logger(),
	}

	c.ring = snapshot.NewRing(log)
	c.proc = snapshot.NewProcessor(cgameSource{c}, log)
	c.pred = predict.New(c.proc, &c.cmds, func(ps game.PlayerState, cmd game.UserCmd) game.PlayerState {
		return c.pmove(ps, cmd)
	}, c.settings(), log)

	return c
}

func (c *Conn) settings() predict.Settings {
	return predict.Settings{
		Fixed:      c.cfg.PmoveFixed,
		Msec:       int32(c.cfg.PmoveMsec),
		Disabled:   c.cfg.NoPredict,
		ErrorDecay: int32(c.cfg.ErrorDecay / time.Millisecond),
	}
}

// SetStorage makes the connection remember its GUID and the protocol
// versions of servers in s
func (c *Conn) SetStorage(s *Storage) { c.store = s }

// SetInput sets where usercmds are sampled from. Without an input the
// client stands still.
func (c *Conn) SetInput(in predict.InputSource) { c.input = in }

// SetPmove replaces the movement code used for prediction
func (c *Conn) SetPmove(fn predict.Pmove) { c.pmove = fn }

func (c *Conn) Config() *Config                { return c.cfg }
func (c *Conn) State() State                   { return c.state }
func (c *Conn) Family() game.Family            { return c.family }
func (c *Conn) Qport() uint16                  { return c.qport }
func (c *Conn) GUID() string                   { return c.guid }
func (c *Conn) Gamestate() *Gamestate          { return c.gs }
func (c *Conn) ServerID() int32                { return c.serverID }
func (c *Conn) Err() error                     { return c.err }
func (c *Conn) Realtime() int32                { return c.realtime }
func (c *Conn) Snapshots() *snapshot.Processor { return c.proc }
func (c *Conn) Predictor() *predict.Predictor  { return c.pred }

// Protocol returns the protocol version in use, 0 while it is unknown
func (c *Conn) Protocol() int { return c.protocol }

// ServerTime returns the current estimate of the server clock
func (c *Conn) ServerTime() int32 { return c.clock.time }

// PlayerState returns the predicted state of the local player
func (c *Conn) PlayerState() game.PlayerState { return c.pred.PlayerState() }

// Ping returns the round trip time measured with the latest snapshot
func (c *Conn) Ping() time.Duration {
	f, ok := c.ring.Latest()
	if !ok {
		return 0
	}
	return time.Duration(f.Ping) * time.Millisecond
}

// Uptime reports how long the client has been in game
func (c *Conn) Uptime() time.Duration {
	if c.inGameSince.IsZero() {
		return 0
	}
	return c.now.Sub(c.inGameSince)
}

func (c *Conn) setState(s State) {
	if c.state == s {
		return
	}

	from := c.state
	c.state = s
	c.log.Info().Str("event", "state").Stringer("from", from).Stringer("to", s).Msg("")

	for _, fn := range c.handlers.stateChange {
		fn(c, from, s)
	}
}

func (c *Conn) setProtocol(p int) error {
	fam, err := FamilyOf(p)
	if err != nil {
		return err
	}

	c.protocol, c.family = p, fam
	return nil
}

// Connect starts the handshake. now is the time base of all later
// Ticks.
func (c *Conn) Connect(now time.Time) error {
	if c.state != StateDisconnected {
		return fmt.Errorf("%w: %s", ErrConnected, c.state)
	}

	c.teardown()
	c.err = nil
	c.base, c.now = now, now
	c.realtime, c.lastFrame = 0, 0

	c.qport = c.cfg.Qport
	if c.qport == 0 {
		c.qport = uint16(rand.Intn(0xffff) + 1)
	}

	guid, err := c.resolveGUID()
	if err != nil {
		return err
	}
	c.guid = guid

	c.limiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(c.cfg.MaxPackets)), 1)
	c.pred.Settings = c.settings()

	protocol := c.cfg.Protocol
	if protocol == 0 && c.store != nil {
		p, ok, err := c.store.ServerProtocol(c.cfg.Address)
		if err != nil {
			return err
		}
		if ok {
			protocol = p
			c.log.Debug().Str("event", "cached protocol").Int("protocol", p).Msg("")
		}
	}

	if protocol == 0 {
		c.protocol = 0
		c.setState(StateVerBeforeChallenge)
		c.beginRequest(getInfoPolicy, c.getInfoPacket)
		return nil
	}

	if err := c.setProtocol(protocol); err != nil {
		return err
	}
	c.setState(StateChallenge)
	c.beginRequest(getChallengePolicy, c.getChallengePacket)
	return nil
}

func (c *Conn) resolveGUID() (string, error) {
	if g := c.cfg.UserInfo["cl_guid"]; g != "" {
		return g, nil
	}
	if c.store != nil {
		return c.store.GUID()
	}
	return NewGUID(), nil
}

// Tick runs one client frame at time now: it reads queued packets,
// resends handshake requests, advances the snapshots and prediction and
// sends a packet when one is due. It returns the error that ended the
// connection, if any.
func (c *Conn) Tick(now time.Time) error {
	if c.state == StateDisconnected {
		return ErrNotConnected
	}

	c.now = now
	c.realtime = int32(now.Sub(c.base) / time.Millisecond)
	msec := c.realtime - c.lastFrame
	c.lastFrame = c.realtime

	steps := []func() error{
		c.readPackets,
		c.checkForResend,
		c.checkTimeout,
		func() error { return c.frame(msec) },
		c.sendPacket,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			if derr := c.drop(err); derr != nil {
				c.log.Warn().Str("event", "goodbye failed").Err(derr).Msg("")
			}
		}
		if c.state == StateDisconnected {
			return c.err
		}
	}
	return nil
}

// Run ticks every interval until ctx is done or the connection ends
func (c *Conn) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.Disconnect()
		case now := <-t.C:
			if err := c.Tick(now); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) readPackets() error {
	for i := 0; i < c.cfg.MaxPacketsPerTick; i++ {
		b, ok, err := c.sock.Receive()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := c.packetEvent(b); err != nil {
			if !IsRecoverable(err) {
				return err
			}
			c.report(err)
		}
		if c.state == StateDisconnected {
			return nil
		}
	}
	return nil
}

func (c *Conn) checkTimeout() error {
	if c.state < StateGamestate {
		return nil
	}

	silence := time.Duration(c.realtime-c.lastPacketTime) * time.Millisecond
	if silence > c.cfg.Timeout {
		return &TimeoutError{Duration: silence}
	}
	return nil
}

// IsRecoverable reports whether err only cost the offending packet or
// frame and leaves the connection usable
func IsRecoverable(err error) bool {
	if errors.Is(err, ErrDesync) {
		return false
	}
	for _, target := range []error{
		netchan.ErrStale,
		netchan.ErrShort,
		snapshot.ErrBadDelta,
		snapshot.ErrTimeBackwards,
		snapshot.ErrSnapshotOrder,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (c *Conn) report(err error) {
	c.log.Debug().Str("event", "recovered").Err(err).Msg("")
	for _, fn := range c.handlers.err {
		fn(c, err)
	}
}

// AddReliableCommand queues a client command for reliable delivery
func (c *Conn) AddReliableCommand(cmd string) error {
	if c.state < StateGamestate {
		return ErrNotConnected
	}
	return c.reliable.Add(EncodeText(cmd))
}

// drop ends the connection because of err, nil meaning a local
// disconnect
func (c *Conn) drop(err error) error {
	if c.state == StateDisconnected {
		return nil
	}

	var result error
	if c.chanl != nil {
		// the server may never see it, it times the client out then
		if err := c.reliable.Add("disconnect"); err == nil {
			for i := 0; i < 3; i++ {
				if err := c.writePacket(); err != nil {
					result = multierror.Append(result, err)
					break
				}
			}
		}
	}

	up := c.Uptime()
	c.teardown()
	c.err = err

	ev := c.log.Info().Str("event", "disconnect")
	if up > 0 {
		ev = ev.Str("uptime", durafmt.Parse(up).LimitFirstN(2).String())
	}
	ev.AnErr("reason", err).Msg("")

	c.setState(StateDisconnected)

	var de *DisconnectError
	var te *TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &de):
		for _, fn := range c.handlers.disconnect {
			fn(c, de.Reason)
		}
	case errors.As(err, &te):
		for _, fn := range c.handlers.timeout {
			fn(c, te.Duration)
		}
	default:
		for _, fn := range c.handlers.err {
			fn(c, err)
		}
	}
	return result
}

// teardown resets all per connection state, the config survives
func (c *Conn) teardown() {
	c.req = nil
	c.challenge, c.authChallenge = 0, ""

	c.chanl = nil
	c.enc, c.dec = nil, nil
	c.serverMessageSequence = 0
	c.lastPacketTime, c.lastPacketSent = 0, 0
	c.outPackets = [PacketBackup]outPacket{}

	c.reliable.Reset()
	c.serverCmds.Reset(0)
	c.gs.Reset()
	c.serverID = 0

	c.ring.Reset()
	c.proc.Reset()
	c.newSnapshots = false
	c.clock = serverClock{}

	c.cmds.Reset()
	c.pred.Reset()

	c.download = nil
	c.deferred = nil
	c.inGameSince = time.Time{}
}

// Disconnect ends the connection, telling the server if the channel
// is up
func (c *Conn) Disconnect() error {
	return c.drop(nil)
}

// Close disconnects and closes the socket
func (c *Conn) Close() error {
	var result error
	if err := c.Disconnect(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.sock.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// initChannel sets up the sequenced channel after connectResponse.
// Both directions start with fresh compression state.
func (c *Conn) initChannel() {
	c.chanl = netchan.New(netchan.ClientSide, c.qport, c.log)
	c.enc, c.dec = huffman.New(), huffman.New()

	c.lastPacketTime = c.realtime
	c.lastPacketSent = c.realtime - preGamePacketMsec
}

// cgameSource feeds the processor from the ring and executes the
// server commands a snapshot depends on before handing it out
type cgameSource struct {
	c *Conn
}

func (s cgameSource) Latest() (*snapshot.Frame, bool) { return s.c.ring.Latest() }

func (s cgameSource) Get(n int32) (*snapshot.Snapshot, bool) {
	snap, ok := s.c.ring.Get(n)
	if !ok {
		return nil, false
	}
	s.c.executeServerCommands(snap.ServerCommandNum)
	return snap, true
}

func (c *Conn) frame(msec int32) error {
	if c.state != StateInGame {
		return nil
	}

	latest, ok := c.ring.Latest()
	if !ok {
		return nil
	}

	if !c.clock.active {
		if !c.newSnapshots {
			return nil
		}
		c.newSnapshots = false
		c.clock.first(latest.ServerTime, c.realtime)
		c.inGameSince = c.now
		c.log.Info().Str("event", "first snapshot").Int32("serverTime", latest.ServerTime).
			Int32("messageNum", latest.MessageNum).Msg("")
	}

	if err := c.clock.set(c.realtime, int32(c.cfg.TimeNudge), latest.ServerTime); err != nil {
		c.report(err)
	}
	if c.newSnapshots {
		c.newSnapshots = false
		c.clock.adjust(latest.ServerTime, c.realtime, c.log)
	}

	c.createCmd(msec)

	if err := c.proc.Process(c.clock.time); err != nil {
		if !IsRecoverable(err) {
			return err
		}
		c.report(err)
	}
	if err := c.deferred; err != nil {
		c.deferred = nil
		return err
	}

	c.pred.Predict(c.clock.time)
	return nil
}

func (c *Conn) createCmd(msec int32) {
	prev := c.cmds.Latest()

	cmd := game.UserCmd{Angles: prev.Angles}
	if c.input != nil {
		cmd = c.input.Sample(prev)
	}

	if msec < 1 {
		msec = 1
	} else if msec > 200 {
		msec = 200
	}
	cmd.ServerTime = c.clock.time
	cmd.Msec = uint8(msec)
	c.cmds.Add(cmd)
}
