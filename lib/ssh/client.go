// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// packageVersion is the default software-version field of our
// identification banner, per RFC 4253 section 4.2's "no space, no
// hyphen" constraint.
const packageVersion = "sshtransport_1.0"

// Client drives one SSHv2 connection through the state machine in
// a small state machine: banner exchange, initial key exchange,
// service request, and user authentication. It does not implement
// channel multiplexing; Connected means the caller may layer its own
// connection-service protocol directly on top of rw.
type Client struct {
	rw            io.ReadWriter
	transport     *handshakeTransport
	sessionID     []byte
	clientVersion []byte
	serverVersion []byte
}

// PasswordProvider returns the password to offer during the password
// fallback step of authentication.
type PasswordProvider func() (string, error)

// PublicKeyCandidate pairs a signer with the public-key algorithm
// name to offer it under (e.g. a single Ed25519 key only ever offers
// "ssh-ed25519", but an RSA key might offer "rsa-sha2-256" or
// "ssh-rsa").
type PublicKeyCandidate struct {
	Algorithm string
	Signer    Signer
}

// KeyedHook and ConnectedHook are the two optional instrumentation
// callbacks this package allows: one fires once the
// initial key exchange completes (session ID established, transport
// encrypted), the other once authentication succeeds. Neither may
// send packets of its own; they observe, they do not participate.
type KeyedHook func(sessionID []byte)
type ConnectedHook func()

// ClientConfig configures a Client. It must not be modified after
// being passed to Dial or NewClientConn.
type ClientConfig struct {
	Config

	// User is the username to authenticate as.
	User string

	// PublicKeys are tried in order during the public-key
	// authentication loop.
	PublicKeys []PublicKeyCandidate

	// Password, if non-nil, is tried once after the public-key loop
	// is exhausted without success.
	Password PasswordProvider

	// HostKeyVerifier validates the server's host key once per key
	// exchange. A nil HostKeyVerifier accepts any host key.
	HostKeyVerifier HostKeyVerifier

	// KeyExchange supplies the DH-family math for whichever
	// algorithm name Config.KeyExchanges negotiates; this package
	// treats it as an external collaborator (see KeyExchange).
	KeyExchange KeyExchange

	// ClientVersion overrides the software-version field of our
	// identification banner. If empty, packageVersion is used.
	ClientVersion string

	// DialAddress is the host identity passed to HostKeyVerifier; set
	// automatically by Dial, or by the caller when using
	// NewClientConn directly on an existing net.Conn.
	DialAddress string

	// Timeout bounds how long dialing the TCP connection may take. A
	// Timeout of zero means no timeout.
	Timeout time.Duration

	// OnKeyed and OnConnected are invoked, if non-nil, at the two
	// points named above.
	OnKeyed     KeyedHook
	OnConnected ConnectedHook
}

// Dial connects to addr over network, then runs the SSH handshake and
// authentication described by config.
func Dial(network, addr string, config *ClientConfig) (*Client, error) {
	conn, err := net.DialTimeout(network, addr, config.Timeout)
	if err != nil {
		return nil, err
	}
	if config.Timeout != 0 {
		conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	if config.DialAddress == "" {
		config.DialAddress = addr
	}
	c, err := NewClientConn(conn, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClientConn runs the handshake and authentication state machine
// described above over an already-established
// byte channel.
func NewClientConn(rw io.ReadWriter, config *ClientConfig) (*Client, error) {
	fullConfig := *config
	fullConfig.SetDefaults()
	applyVerbosity(fullConfig.Verbosity)

	c := &Client{rw: rw}

	// Start -> BannerSent -> Identified.
	if fullConfig.ClientVersion != "" {
		c.clientVersion = []byte("SSH-2.0-" + fullConfig.ClientVersion)
	} else {
		c.clientVersion = []byte("SSH-2.0-" + packageVersion)
	}
	ourIdent := &Identification{ProtoVersion: protoVersion, SoftwareVersion: string(c.clientVersion[len("SSH-2.0-"):])}

	bufr := bufio.NewReader(rw)
	ourRaw, theirRaw, err := exchangeVersions(rw, bufr, ourIdent)
	if err != nil {
		return nil, fmt.Errorf("ssh: version exchange: %w", err)
	}
	c.clientVersion = ourRaw
	c.serverVersion = theirRaw
	log.WithField("server", string(c.serverVersion)).Debug("ssh: identified peer")

	reader := newTransportReader(bufr)
	writer := newTransportWriter(rw, fullConfig.Rand)

	if fullConfig.KeyExchange == nil {
		return nil, fmt.Errorf("ssh: no KeyExchange implementation configured")
	}

	// Identified -> Keyed.
	c.transport = newClientHandshakeTransport(reader, writer, &fullConfig, c.clientVersion, c.serverVersion, fullConfig.KeyExchange)
	if err := c.transport.requestInitialKeyChange(); err != nil {
		return nil, fmt.Errorf("ssh: key exchange: %w", err)
	}
	c.sessionID = c.transport.getSessionID()
	if fullConfig.OnKeyed != nil {
		fullConfig.OnKeyed(c.sessionID)
	}

	// Keyed -> AwaitingServiceAccept -> AuthLoop -> Connected.
	if err := c.clientAuthenticate(&fullConfig); err != nil {
		return nil, err
	}
	if fullConfig.OnConnected != nil {
		fullConfig.OnConnected()
	}
	return c, nil
}

// clientAuthenticate drives AwaitingServiceAccept through Connected:
// it requests the ssh-userauth service, then tries each configured
// public key in order before falling back to a single password
// attempt.
func (c *Client) clientAuthenticate(config *ClientConfig) error {
	if err := c.transport.writePacket(serviceRequestPacket(serviceUserAuth)); err != nil {
		return err
	}
	packet, err := c.transport.readPacket()
	if err != nil {
		return err
	}
	if len(packet) == 0 || packet[0] != msgServiceAccept {
		return disconnectf(DisconnectProtocolError, "expected SERVICE_ACCEPT, got message %d", firstByte(packet))
	}

	for _, cand := range config.PublicKeys {
		ok, err := c.tryPublicKey(config.User, cand)
		if err != nil {
			return err
		}
		if ok {
			log.WithField("algorithm", cand.Algorithm).Info("ssh: authenticated with public key")
			return nil
		}
		recordAuthFailure("publickey")
	}

	if config.Password != nil {
		ok, err := c.tryPassword(config.User, config.Password)
		if err != nil {
			return err
		}
		if ok {
			log.Info("ssh: authenticated with password")
			return nil
		}
		recordAuthFailure("password")
	}

	return fmt.Errorf("ssh: could not log in")
}

func firstByte(packet []byte) int {
	if len(packet) == 0 {
		return -1
	}
	return int(packet[0])
}

func serviceRequestPacket(name string) []byte {
	buf := appendU8(nil, msgServiceRequest)
	buf = appendString(buf, name)
	return buf
}

// tryPublicKey offers one public-key candidate per RFC 4252 section
// 7: it builds the signing input from the session ID and proposed
// request fields, obtains a signature from the external Signer, and
// sends one SSH_MSG_USERAUTH_REQUEST. It returns (true, nil) on
// SSH_MSG_USERAUTH_SUCCESS, (false, nil) on a non-fatal
// SSH_MSG_USERAUTH_FAILURE, and a fatal error otherwise.
func (c *Client) tryPublicKey(user string, cand PublicKeyCandidate) (bool, error) {
	pubKey := cand.Signer.PublicKey()
	signInput := buildDataSignedForAuth(c.sessionID, user, cand.Algorithm, pubKey)
	sig, err := cand.Signer.Sign(signInput)
	if err != nil {
		return false, err
	}

	buf := appendU8(nil, msgUserAuthRequest)
	buf = appendString(buf, user)
	buf = appendString(buf, serviceSSH)
	buf = appendString(buf, "publickey")
	buf = appendBool(buf, true)
	buf = appendString(buf, cand.Algorithm)
	buf = appendString(buf, string(pubKey))
	buf = appendString(buf, string(sig))

	if err := c.transport.writePacket(buf); err != nil {
		return false, err
	}
	return c.awaitAuthResult()
}

func (c *Client) tryPassword(user string, provider PasswordProvider) (bool, error) {
	password, err := provider()
	if err != nil {
		return false, err
	}

	buf := appendU8(nil, msgUserAuthRequest)
	buf = appendString(buf, user)
	buf = appendString(buf, serviceSSH)
	buf = appendString(buf, "password")
	buf = appendBool(buf, false)
	buf = appendString(buf, password)

	if err := c.transport.writePacket(buf); err != nil {
		return false, err
	}
	return c.awaitAuthResult()
}

// awaitAuthResult reads one authentication response: success,
// fatal-vs-advance failure, or the advisory user-auth banner (which
// is logged and skipped, per RFC 4252 section 5.4).
func (c *Client) awaitAuthResult() (bool, error) {
	for {
		packet, err := c.transport.readPacket()
		if err != nil {
			return false, err
		}
		if len(packet) == 0 {
			return false, disconnectf(DisconnectProtocolError, "empty packet during authentication")
		}
		switch packet[0] {
		case msgUserAuthSuccess:
			return true, nil
		case msgUserAuthBanner:
			message, _, err := parseString(packet[1:])
			if err == nil {
				log.WithField("banner", string(message)).Info("ssh: server banner")
			}
			continue
		case msgUserAuthFailure:
			methods, rest, err := parseNameList(packet[1:])
			if err != nil {
				return false, err
			}
			partial, _, err := parseBool(rest)
			if err != nil {
				return false, err
			}
			if len(methods) == 0 && !partial {
				return false, fmt.Errorf("ssh: could not log in")
			}
			return false, nil
		default:
			return false, disconnectf(DisconnectProtocolError, "unexpected message %d during authentication", packet[0])
		}
	}
}
