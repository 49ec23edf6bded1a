// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/rand"
	"fmt"
	"io"
)

// These are the SSH message codes this package understands. See
// RFC 4253 and RFC 4252.
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6
	msgKexInit        = 20
	msgNewKeys        = 21

	msgUserAuthRequest = 50
	msgUserAuthFailure = 51
	msgUserAuthSuccess = 52
	msgUserAuthBanner  = 53
)

// These are string constants in the SSH protocol.
const (
	compressionNone = "none"
	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"
)

// maxPacketLength is the RFC 4253 floor requirement: a packet whose
// declared length exceeds this is rejected before any body is read.
const maxPacketLength = 35000

// defaultCiphers specifies the default ciphers in preference order.
var defaultCiphers = []string{
	"aes128-gcm@openssh.com",
	"aes128-ctr",
	"aes128-cbc",
}

// allSupportedCiphers specifies all ciphers which are supported,
// including the degenerate "none" cipher used before the first key
// exchange completes.
var allSupportedCiphers = []string{
	"aes128-gcm@openssh.com",
	"aes128-ctr",
	"aes128-cbc",
	"none",
}

// defaultKexAlgos specifies the default key-exchange algorithms in
// preference order. The math behind them is an external collaborator
// of this package (see KeyExchange); curve25519-sha256 is the only
// name this package ships a reference implementation for, in
// kex/curve25519.
var defaultKexAlgos = []string{
	"curve25519-sha256",
}

// supportedMACs specifies a default set of MAC algorithms in
// preference order. A common MAC is negotiated in every case, but it
// is not applied when the negotiated cipher is an AEAD
// (aes128-gcm@openssh.com), since the cipher tag replaces a separate
// MAC.
var supportedMACs = []string{
	"hmac-sha2-256", "hmac-sha1", "hmac-sha1-96",
}

var supportedCompressions = []string{compressionNone}

// unexpectedMessageError results when the SSH message that we received
// didn't match what we wanted.
func unexpectedMessageError(expected, got uint8) error {
	return fmt.Errorf("ssh: unexpected message type %d (expected %d)", got, expected)
}

// parseError results from a malformed SSH message.
func parseError(tag uint8) error {
	return fmt.Errorf("ssh: parse error in message type %d", tag)
}

func findCommon(what string, client []string, server []string) (common string, err error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("ssh: no common algorithm for %s; client offered: %v, server offered: %v", what, client, server)
}

// DirectionAlgorithms names the cipher, MAC, and compression
// algorithms negotiated for one direction of the connection.
type DirectionAlgorithms struct {
	Cipher      string
	MAC         string
	Compression string
}

// Algorithms is the complete result of negotiating a KEXINIT exchange:
// one key-exchange algorithm, one host-key algorithm, and a
// DirectionAlgorithms for each of the two directions.
type Algorithms struct {
	Kex     string
	HostKey string
	W       DirectionAlgorithms // client-to-server
	R       DirectionAlgorithms // server-to-client
}

// findAgreedAlgorithms negotiates each of the eight KEXINIT name-list
// slots: the chosen name is the first the client proposed
// that also appears in the server's list. An empty intersection in
// kex, host-key, either cipher slot, or either MAC slot is a fatal
// negotiation failure; compression and languages may legitimately
// negotiate to "none"/empty.
func findAgreedAlgorithms(clientKexInit, serverKexInit *KexInitMsg) (algs *Algorithms, err error) {
	result := &Algorithms{}

	result.Kex, err = findCommon("key exchange", clientKexInit.KexAlgos, serverKexInit.KexAlgos)
	if err != nil {
		return nil, err
	}

	result.HostKey, err = findCommon("host key", clientKexInit.ServerHostKeyAlgos, serverKexInit.ServerHostKeyAlgos)
	if err != nil {
		return nil, err
	}

	result.W.Cipher, err = findCommon("client to server cipher", clientKexInit.CiphersClientServer, serverKexInit.CiphersClientServer)
	if err != nil {
		return nil, err
	}

	result.R.Cipher, err = findCommon("server to client cipher", clientKexInit.CiphersServerClient, serverKexInit.CiphersServerClient)
	if err != nil {
		return nil, err
	}

	result.W.MAC, err = findCommon("client to server MAC", clientKexInit.MACsClientServer, serverKexInit.MACsClientServer)
	if err != nil {
		return nil, err
	}

	result.R.MAC, err = findCommon("server to client MAC", clientKexInit.MACsServerClient, serverKexInit.MACsServerClient)
	if err != nil {
		return nil, err
	}

	// Compression is not a mandatory slot: an empty intersection leaves
	// it "" instead of failing the negotiation.
	result.W.Compression, _ = findCommon("client to server compression", clientKexInit.CompressionClientServer, serverKexInit.CompressionClientServer)
	result.R.Compression, _ = findCommon("server to client compression", clientKexInit.CompressionServerClient, serverKexInit.CompressionServerClient)

	return result, nil
}

// minRekeyThreshold mirrors RFC 4253 section 9: if the threshold is
// too small, the connection can't make progress between rekeys.
const minRekeyThreshold uint64 = 256

// Config contains configuration data shared by the client transport
// and any server built on top of the same packet engine.
type Config struct {
	// Rand provides the source of entropy for cookies and padding. If
	// nil, crypto/rand.Reader is used.
	Rand io.Reader

	// RekeyThreshold is the number of bytes sent or received after
	// which a new key exchange is initiated. Must be at least 256. If
	// unspecified, 1 gigabyte is used.
	RekeyThreshold uint64

	// KeyExchanges lists the allowed key-exchange algorithm names in
	// preference order. If unspecified, a default set is used.
	KeyExchanges []string

	// Ciphers lists the allowed cipher names in preference order. If
	// unspecified, a sensible default is used.
	Ciphers []string

	// MACs lists the allowed MAC names in preference order. If
	// unspecified, a sensible default is used.
	MACs []string

	// Verbosity controls debug logging of handshake state
	// transitions: 0 disables it, higher values log more.
	Verbosity int
}

// SetDefaults fills in unset fields of c with sensible defaults. It is
// exported for testing; ordinary callers get it invoked automatically
// on a private copy of their Config.
func (c *Config) SetDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Ciphers == nil {
		c.Ciphers = defaultCiphers
	}
	var ciphers []string
	for _, name := range c.Ciphers {
		if _, ok := cipherModes[name]; ok {
			// reject the cipher if we have no cipherModes definition
			ciphers = append(ciphers, name)
		}
	}
	c.Ciphers = ciphers

	if c.KeyExchanges == nil {
		c.KeyExchanges = defaultKexAlgos
	}

	if c.MACs == nil {
		c.MACs = supportedMACs
	}

	if c.RekeyThreshold == 0 {
		// RFC 4253, section 9 suggests rekeying after 1G.
		c.RekeyThreshold = 1 << 30
	}
	if c.RekeyThreshold < minRekeyThreshold {
		c.RekeyThreshold = minRekeyThreshold
	}
}

// buildDataSignedForAuth returns the data that is signed in order to
// prove possession of a private key. See RFC 4252, section 7.
func buildDataSignedForAuth(sessionID []byte, user, algo string, pubKey []byte) []byte {
	buf := appendString(nil, string(sessionID))
	buf = appendU8(buf, msgUserAuthRequest)
	buf = appendString(buf, user)
	buf = appendString(buf, serviceSSH)
	buf = appendString(buf, "publickey")
	buf = appendBool(buf, true)
	buf = appendString(buf, algo)
	buf = appendString(buf, string(pubKey))
	return buf
}

func appendU8(buf []byte, n uint8) []byte {
	return append(buf, n)
}

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	buf = append(buf, s...)
	return buf
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendNameList(buf []byte, names []string) []byte {
	length := 0
	for i, n := range names {
		if i != 0 {
			length++
		}
		length += len(n)
	}
	buf = appendU32(buf, uint32(length))
	for i, n := range names {
		if i != 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, n...)
	}
	return buf
}
