package mohnet

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/HimbeerserverDE/mohnet/huffman"
	"github.com/HimbeerserverDE/mohnet/netchan"
)

// connectionless commands
const (
	OOBGetInfo      = "getinfo"
	OOBGetStatus    = "getstatus"
	OOBGetChallenge = "getchallenge"
	OOBAuthorize    = "authorizeThis"
	OOBConnect      = "connect"

	OOBInfoResponse      = "infoResponse"
	OOBStatusResponse    = "statusResponse"
	OOBChallengeResponse = "challengeResponse"
	OOBConnectResponse   = "connectResponse"
	OOBGetKey            = "getKey"
	OOBPrint             = "print"
	OOBDisconnect        = "disconnect"
	OOBDropError         = "droperror"
)

// connectPrefix is not compressed, the rest of a connect packet is
const connectPrefix = OOBConnect + " "

// OOBText builds a NUL terminated connectionless text datagram
func OOBText(dir byte, format string, args ...interface{}) []byte {
	return netchan.WriteConnectionless(dir, append([]byte(fmt.Sprintf(format, args...)), 0))
}

// ConnectPacket builds the connect request carrying userinfo. The
// quoted userinfo is compressed with a fresh tree.
func ConnectPacket(userinfo string) []byte {
	payload := append([]byte(connectPrefix), huffman.Compress([]byte(`"`+userinfo+`"`))...)
	return netchan.WriteConnectionless(netchan.ClientToServer, payload)
}

// ParseConnect returns the userinfo of a connect request
func ParseConnect(b []byte) (string, error) {
	if !netchan.IsConnectionless(b) || len(b) < 5 {
		return "", netchan.ErrShort
	}

	payload := b[5:]
	if !bytes.HasPrefix(payload, []byte(connectPrefix)) {
		return "", fmt.Errorf("%w: not a connect request", ErrBadCommand)
	}

	data, err := huffman.Decompress(payload[len(connectPrefix):], MaxInfoString+2)
	if err != nil {
		return "", err
	}

	args := Tokenize(string(data))
	if len(args) == 0 {
		return "", nil
	}
	return args[0], nil
}

// A Reply is a parsed connectionless text packet
type Reply struct {
	Dir     byte
	Command string
	// Args are the tokens of the first line, Args[0] is the command
	Args []string
	// Rest is everything after the first line
	Rest string
}

// Arg returns argument n or the empty string
func (r *Reply) Arg(n int) string { return arg(r.Args, n) }

// Message returns the human readable part of print and drop replies
func (r *Reply) Message() string {
	if r.Rest != "" {
		return DecodeText(strings.TrimRight(r.Rest, "\n"))
	}
	return DecodeText(ArgsFrom(r.Args, 1))
}

// ParseReply tokenizes a connectionless packet. Connect requests carry
// binary data, use ParseConnect for them.
func ParseReply(b []byte) (*Reply, error) {
	dir, payload, err := netchan.ReadConnectionless(b)
	if err != nil {
		return nil, err
	}

	line, rest, _ := strings.Cut(string(payload), "\n")
	args := Tokenize(line)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty connectionless packet", ErrBadCommand)
	}

	return &Reply{Dir: dir, Command: args[0], Args: args, Rest: rest}, nil
}

// AuthorizeResponse answers a getKey challenge with the hashed CD key
func AuthorizeResponse(cdkey, challenge string) string {
	key := md5.Sum([]byte(cdkey))
	resp := md5.Sum([]byte(cdkey + challenge))
	return hex.EncodeToString(key[:]) + hex.EncodeToString(resp[:])
}
