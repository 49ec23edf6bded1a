// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// keyChangeCategory describes whether a key exchange is the first on
// a connection, or a subsequent rekey.
type keyChangeCategory bool

const (
	firstKeyExchange      keyChangeCategory = true
	subsequentKeyExchange keyChangeCategory = false
)

// handshakeMagics bundles the four exchange-hash inputs fixed at the
// start of a key exchange: both identification strings and both raw
// KEXINIT payloads (RFC 4253 section 8).
type handshakeMagics struct {
	clientVersion []byte
	serverVersion []byte
	clientKexInit []byte
	serverKexInit []byte
}

// handshakeTransport sits on top of a transportReader/transportWriter
// pair and owns rekeying: it intercepts SSH_MSG_KEXINIT from the read
// side, negotiates algorithms, runs the key exchange, and installs
// the resulting ciphers before data plane traffic resumes. Only the
// client role is implemented; this package never acts as a server.
type handshakeTransport struct {
	reader *transportReader
	writer *transportWriter
	config *Config

	clientVersion []byte
	serverVersion []byte

	kex             KeyExchange
	hostKeyVerifier HostKeyVerifier
	dialAddress     string

	readSinceKex uint64

	mu              sync.Mutex
	cond            *sync.Cond
	sentInitMsg     *KexInitMsg
	sentInitPacket  []byte
	writtenSinceKex uint64
	writeError      error

	// sessionID is nil until the first key exchange completes; RFC
	// 4253 section 7.2 fixes it to the first exchange hash for the
	// lifetime of the connection.
	sessionID []byte

	incoming  chan []byte
	readError error
}

func newClientHandshakeTransport(reader *transportReader, writer *transportWriter, config *ClientConfig, clientVersion, serverVersion []byte, kex KeyExchange) *handshakeTransport {
	t := &handshakeTransport{
		reader:          reader,
		writer:          writer,
		config:          &config.Config,
		clientVersion:   clientVersion,
		serverVersion:   serverVersion,
		kex:             kex,
		hostKeyVerifier: config.HostKeyVerifier,
		dialAddress:     config.DialAddress,
		incoming:        make(chan []byte, 16),
	}
	t.cond = sync.NewCond(&t.mu)
	go t.readLoop()
	return t
}

func (t *handshakeTransport) getSessionID() []byte { return t.sessionID }

func (t *handshakeTransport) readPacket() ([]byte, error) {
	p, ok := <-t.incoming
	if !ok {
		return nil, t.readError
	}
	return p, nil
}

func (t *handshakeTransport) readLoop() {
	for {
		p, err := t.readOnePacket()
		if err != nil {
			t.readError = err
			close(t.incoming)
			break
		}
		if p[0] == msgIgnore || p[0] == msgDebug {
			continue
		}
		t.incoming <- p
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeError == nil {
		t.writeError = t.readError
	}
	t.cond.Broadcast()
}

func (t *handshakeTransport) readOnePacket() ([]byte, error) {
	if t.readSinceKex > t.config.RekeyThreshold {
		if err := t.requestKeyChange(); err != nil {
			return nil, err
		}
	}

	p, err := t.reader.readPacket()
	if err != nil {
		return nil, err
	}

	t.readSinceKex += uint64(len(p))
	if p[0] != msgKexInit {
		return p, nil
	}

	t.mu.Lock()
	firstKex := t.sessionID == nil
	err = t.enterKeyExchangeLocked(p)
	if err != nil {
		t.writeError = err
		log.WithError(err).Warn("ssh: key exchange failed")
	}
	t.sentInitMsg = nil
	t.sentInitPacket = nil
	t.cond.Broadcast()
	t.writtenSinceKex = 0
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	t.readSinceKex = 0

	successPacket := []byte{msgIgnore}
	if firstKex {
		successPacket = []byte{msgNewKeys}
	}
	return successPacket, nil
}

// sendKexInit sends a KEXINIT and, for the first exchange, blocks
// until the corresponding SSH_MSG_NEWKEYS has been processed so the
// caller is guaranteed an encrypted transport before authenticating.
func (t *handshakeTransport) sendKexInit(isFirst keyChangeCategory) error {
	var err error

	t.mu.Lock()
	if !isFirst || t.sessionID == nil {
		_, _, err = t.sendKexInitLocked(isFirst)
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if isFirst {
		packet, err := t.readPacket()
		if err != nil {
			return err
		}
		if packet[0] != msgNewKeys {
			return unexpectedMessageError(msgNewKeys, packet[0])
		}
	}
	return nil
}

func (t *handshakeTransport) requestInitialKeyChange() error { return t.sendKexInit(firstKeyExchange) }
func (t *handshakeTransport) requestKeyChange() error         { return t.sendKexInit(subsequentKeyExchange) }

func (t *handshakeTransport) sendKexInitLocked(isFirst keyChangeCategory) (*KexInitMsg, []byte, error) {
	if t.sentInitMsg != nil {
		return t.sentInitMsg, t.sentInitPacket, nil
	}

	msg := &KexInitMsg{
		KexAlgos:                t.config.KeyExchanges,
		ServerHostKeyAlgos:      []string{"ssh-ed25519", "rsa-sha2-256", "ssh-rsa"},
		CiphersClientServer:     t.config.Ciphers,
		CiphersServerClient:     t.config.Ciphers,
		MACsClientServer:        t.config.MACs,
		MACsServerClient:        t.config.MACs,
		CompressionClientServer: supportedCompressions,
		CompressionServerClient: supportedCompressions,
	}
	if _, err := io.ReadFull(t.config.Rand, msg.Cookie[:]); err != nil {
		return nil, nil, err
	}
	packet := msg.Marshal()

	if err := t.writer.writePacket(packet); err != nil {
		return nil, nil, err
	}

	t.sentInitMsg = msg
	t.sentInitPacket = packet
	return msg, packet, nil
}

func (t *handshakeTransport) writePacket(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writtenSinceKex > t.config.RekeyThreshold {
		if _, _, err := t.sendKexInitLocked(subsequentKeyExchange); err != nil {
			return err
		}
	}
	for t.sentInitMsg != nil && t.writeError == nil {
		t.cond.Wait()
	}
	if t.writeError != nil {
		return t.writeError
	}
	t.writtenSinceKex += uint64(len(p))

	switch p[0] {
	case msgKexInit, msgNewKeys:
		return errors.New("ssh: only handshakeTransport may send kexInit/newKeys")
	default:
		return t.writer.writePacket(p)
	}
}

// enterKeyExchangeLocked runs one key exchange to completion: it
// negotiates algorithms from the two KEXINIT payloads, delegates the
// DH-family math to t.kex, verifies the host key, and installs the
// resulting ciphers. t.mu must be held on entry.
func (t *handshakeTransport) enterKeyExchangeLocked(otherInitPacket []byte) error {
	myInit, myInitPacket, err := t.sendKexInitLocked(subsequentKeyExchange)
	if err != nil {
		return err
	}

	otherInit, err := decodeKexInit(otherInitPacket)
	if err != nil {
		return err
	}

	magics := handshakeMagics{
		clientVersion: t.clientVersion,
		serverVersion: t.serverVersion,
		clientKexInit: myInitPacket,
		serverKexInit: otherInitPacket,
	}

	algs, err := findAgreedAlgorithms(myInit, otherInit)
	if err != nil {
		return err
	}

	// RFC 4253 section 7: a guessed first packet that turns out wrong
	// (kex or host-key algorithm preference mismatch) must be
	// discarded and ignored.
	if otherInit.FirstKexFollows && (myInit.KexAlgos[0] != otherInit.KexAlgos[0] || myInit.ServerHostKeyAlgos[0] != otherInit.ServerHostKeyAlgos[0]) {
		if _, err := t.reader.readPacket(); err != nil {
			return err
		}
	}

	if algs.Kex != t.kex.Name() {
		return fmt.Errorf("ssh: negotiated kex %q has no matching implementation", algs.Kex)
	}

	result, err := t.runClientKex(&magics)
	recordKexAttempt(algs.Kex, err)
	if err != nil {
		return err
	}

	if t.hostKeyVerifier != nil {
		if err := t.hostKeyVerifier.VerifyHostKey(t.dialAddress, result.HostKey); err != nil {
			return err
		}
	}

	if t.sessionID == nil {
		t.sessionID = result.H
	}
	result.SessionID = t.sessionID

	// Build both new ciphers now (pure construction, no wire effect),
	// but do not install either until its direction's NEWKEYS has
	// crossed the wire under the OLD cipher: RFC 4253 section 7.3
	// fixes NEWKEYS as the boundary, not a packet already covered by
	// the new keys.
	writeCipher, err := t.buildWriteCipher(algs, result)
	if err != nil {
		return err
	}
	readCipher, err := t.buildReadCipher(algs, result)
	if err != nil {
		return err
	}

	if err := t.writer.writePacket([]byte{msgNewKeys}); err != nil {
		return err
	}
	t.writer.setCipher(writeCipher)

	packet, err := t.reader.readPacket()
	if err != nil {
		return err
	}
	if packet[0] != msgNewKeys {
		return unexpectedMessageError(msgNewKeys, packet[0])
	}
	t.reader.setCipher(readCipher)
	return nil
}

// runClientKex hands off to the negotiated KeyExchange implementation
// over the raw packet transport; the kex algorithm speaks its own
// sub-protocol (e.g. SSH_MSG_KEX_ECDH_INIT/REPLY) directly on the
// reader/writer pair, each message framed as one packet, without
// passing through this type's incoming channel.
func (t *handshakeTransport) runClientKex(magics *handshakeMagics) (*KexResult, error) {
	rw := &kexReadWriter{reader: t.reader, writer: t.writer}
	return t.kex.Client(rw, t.config.Rand, magics.clientVersion, magics.serverVersion, magics.clientKexInit, magics.serverKexInit)
}

// buildWriteCipher and buildReadCipher derive one direction's keying
// material into a ready packetCipher per RFC 4253 section 7.2, without
// installing it: the caller decides when each becomes active relative
// to that direction's NEWKEYS packet.
func (t *handshakeTransport) buildWriteCipher(algs *Algorithms, result *KexResult) (packetCipher, error) {
	writeMAC, err := newMACIfNeeded(algs.W.MAC, result.MACKeyClientToServer)
	if err != nil {
		return nil, err
	}
	return newPacketCipher(algs.W.Cipher, result.KeyClientToServer, result.IVClientToServer, writeMAC)
}

func (t *handshakeTransport) buildReadCipher(algs *Algorithms, result *KexResult) (packetCipher, error) {
	readMAC, err := newMACIfNeeded(algs.R.MAC, result.MACKeyServerToClient)
	if err != nil {
		return nil, err
	}
	return newPacketCipher(algs.R.Cipher, result.KeyServerToClient, result.IVServerToClient, readMAC)
}

func newMACIfNeeded(algorithm string, key []byte) (*macFunction, error) {
	if algorithm == "" {
		return nil, nil
	}
	// The kex layer over-derives MAC key material (enough for the
	// largest supported digest) since it runs before negotiation
	// result is known to it; truncate to the exact length RFC 4253
	// section 6.4 specifies for the negotiated algorithm so the MAC
	// matches what a real OpenSSH peer computes.
	if size := macKeySize(algorithm); size > 0 && size < len(key) {
		key = key[:size]
	}
	return newMAC(algorithm, key)
}

// kexReadWriter adapts the transport's reader/writer halves to the
// io.ReadWriter a KeyExchange implementation expects, so kex
// sub-protocol messages flow through the same framing as everything
// else without the kex package needing to know about transportReader.
type kexReadWriter struct {
	reader *transportReader
	writer *transportWriter
}

func (rw *kexReadWriter) Read(p []byte) (int, error) {
	packet, err := rw.reader.readPacket()
	if err != nil {
		return 0, err
	}
	n := copy(p, packet)
	return n, nil
}

func (rw *kexReadWriter) Write(p []byte) (int, error) {
	if err := rw.writer.writePacket(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
