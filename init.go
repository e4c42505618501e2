package mohnet

import (
	"fmt"
	"strconv"

	"github.com/HimbeerserverDE/mohnet/netchan"
)

// preGamePacketMsec is the packet interval before the first snapshot
const preGamePacketMsec = 1000

// printDeferMsec postpones the next handshake retry after the server
// printed a message
const printDeferMsec = 5000

// retryPolicy bounds how often a handshake request is sent
type retryPolicy struct {
	name     string
	count    int
	interval int32
}

var (
	getInfoPolicy      = retryPolicy{name: OOBGetInfo, count: 5, interval: 3000}
	getChallengePolicy = retryPolicy{name: OOBGetChallenge, count: 10, interval: 3000}
	authorizePolicy    = retryPolicy{name: OOBAuthorize, count: 5, interval: 3000}
	connectPolicy      = retryPolicy{name: OOBConnect, count: 10, interval: 3000}
)

// request is the handshake packet currently being retried
type request struct {
	policy retryPolicy
	packet func() ([]byte, error)
	sent   int
	next   int32
}

func (c *Conn) beginRequest(p retryPolicy, packet func() ([]byte, error)) {
	c.req = &request{policy: p, packet: packet, next: c.realtime}
}

func (c *Conn) checkForResend() error {
	r := c.req
	if r == nil || c.realtime < r.next {
		return nil
	}
	if r.sent >= r.policy.count {
		return fmt.Errorf("%w: %s sent %d times", ErrNoResponse, r.policy.name, r.sent)
	}

	b, err := r.packet()
	if err != nil {
		return err
	}

	r.sent++
	r.next = c.realtime + r.policy.interval
	c.log.Debug().Str("event", "request").Str("request", r.policy.name).Int("try", r.sent).Msg("")
	return c.sock.Send(b)
}

func (c *Conn) getInfoPacket() ([]byte, error) {
	return OOBText(netchan.ClientToServer, "%s xxx", OOBGetInfo), nil
}

func (c *Conn) getChallengePacket() ([]byte, error) {
	return OOBText(netchan.ClientToServer, "%s", OOBGetChallenge), nil
}

func (c *Conn) authorizePacket() ([]byte, error) {
	return OOBText(netchan.ClientToServer, "%s %s", OOBAuthorize, AuthorizeResponse(c.cfg.CDKey, c.authChallenge)), nil
}

func (c *Conn) connectPacket() ([]byte, error) {
	info, err := c.userinfo()
	if err != nil {
		return nil, err
	}
	return ConnectPacket(info), nil
}

// userinfo builds the connect userinfo from the configured keys and
// the connection parameters
func (c *Conn) userinfo() (string, error) {
	info, err := InfoFromMap(c.cfg.UserInfo)
	if err != nil {
		return "", err
	}

	for _, kv := range [][2]string{
		{"cl_guid", c.guid},
		{"protocol", strconv.Itoa(c.protocol)},
		{"qport", strconv.Itoa(int(c.qport))},
		{"challenge", strconv.Itoa(int(c.challenge))},
	} {
		if info, err = InfoSetValueForKey(info, kv[0], kv[1]); err != nil {
			return "", err
		}
	}
	return info, nil
}

// connectionlessPacket drives the handshake. Replies that do not fit
// the current state are ignored.
func (c *Conn) connectionlessPacket(b []byte) {
	r, err := ParseReply(b)
	if err != nil {
		c.log.Debug().Str("event", "bad connectionless").Err(err).Msg("")
		return
	}
	c.log.Debug().Str("event", "connectionless").Str("command", r.Command).Stringer("state", c.state).Msg("")

	switch r.Command {
	case OOBInfoResponse:
		if c.state != StateVerBeforeChallenge {
			return
		}
		p, err := strconv.Atoi(InfoValueForKey(r.Rest, "protocol"))
		if err != nil {
			c.log.Warn().Str("event", "info without protocol").Msg("")
			return
		}
		if err := c.setProtocol(p); err != nil {
			c.drop(err)
			return
		}
		if c.store != nil {
			if err := c.store.SetServerProtocol(c.cfg.Address, p, c.now); err != nil {
				c.log.Warn().Err(err).Msg("failed to remember protocol")
			}
		}

		c.log.Info().Str("event", "protocol").Int("protocol", p).Stringer("family", c.family).Msg("")
		c.setState(StateChallenge)
		c.beginRequest(getChallengePolicy, c.getChallengePacket)

	case OOBGetKey:
		if c.state != StateChallenge {
			return
		}
		if c.cfg.CDKey == "" {
			c.drop(fmt.Errorf("%w: server requires a cd key", ErrConfig))
			return
		}
		c.authChallenge = r.Arg(1)
		c.setState(StateAuthorize)
		c.beginRequest(authorizePolicy, c.authorizePacket)

	case OOBChallengeResponse:
		if c.state != StateChallenge && c.state != StateAuthorize {
			return
		}
		n, err := strconv.Atoi(r.Arg(1))
		if err != nil {
			c.log.Warn().Str("event", "bad challenge").Str("challenge", r.Arg(1)).Msg("")
			return
		}
		c.challenge = int32(n)
		c.setState(StateConnect)
		c.beginRequest(connectPolicy, c.connectPacket)

	case OOBConnectResponse:
		if c.state != StateConnect {
			return
		}
		c.req = nil
		c.initChannel()
		c.setState(StateGamestate)

	case OOBDisconnect, OOBDropError:
		c.drop(&DisconnectError{Reason: r.Message()})

	case OOBPrint:
		text := r.Message()
		c.log.Info().Str("event", "print").Msg(text)
		for _, fn := range c.handlers.print {
			fn(c, text)
		}
		if c.req != nil {
			c.req.next = c.realtime + printDeferMsec
		}

	default:
		c.log.Debug().Str("event", "unknown connectionless").Str("command", r.Command).Msg("")
	}
}
