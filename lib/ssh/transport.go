// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// transportReader is the receive half of the binary packet protocol
// (RFC 4253 section 6): it owns the inbound sequence number and the
// currently negotiated packetCipher, and turns a byte stream into
// decrypted SSH_MSG_* payloads.
type transportReader struct {
	reader *bufio.Reader
	seq    uint32
	cipher packetCipher
}

func newTransportReader(r io.Reader) *transportReader {
	return &transportReader{
		reader: bufio.NewReader(r),
		cipher: &noneCipher{},
	}
}

// readPacket reads, decrypts, and returns one SSH payload (the bytes
// following padding_length, with padding stripped). It advances the
// sequence number exactly once for every packet read in full,
// including one that then fails decryption or the header checks, so a
// caller that logs and disconnects on error sees a sequence number
// consistent with what the peer saw. An error before the packet is
// read in full (an I/O error, or a length rejected by peekLength)
// leaves the sequence number unchanged.
func (t *transportReader) readPacket() ([]byte, error) {
	blockSize := t.cipher.blockSize()
	if blockSize < 4 {
		blockSize = 4
	}
	first := make([]byte, blockSize)
	if _, err := io.ReadFull(t.reader, first); err != nil {
		return nil, err
	}

	remaining, err := t.cipher.peekLength(first)
	if err != nil {
		return nil, err
	}
	if remaining < 0 {
		return nil, disconnectf(DisconnectProtocolError, "negative remaining packet length")
	}

	rest := make([]byte, remaining)
	if _, err := io.ReadFull(t.reader, rest); err != nil {
		return nil, err
	}

	raw := append(first, rest...)
	frame, err := t.cipher.decrypt(t.seq, raw)
	t.seq++
	if err != nil {
		return nil, err
	}

	if len(frame) < 5 {
		return nil, disconnectf(DisconnectProtocolError, "frame shorter than header")
	}
	packetLength, rest2, err := parseUint32(frame)
	if err != nil {
		return nil, err
	}
	if int(packetLength) > len(frame)-4 {
		return nil, disconnectf(DisconnectProtocolError, "packet length disagrees with frame size")
	}
	padLen := int(rest2[0])
	if padLen < 4 {
		return nil, disconnectf(DisconnectProtocolError, "padding length %d below minimum of 4", padLen)
	}
	payload := rest2[1:]
	if padLen > len(payload) {
		return nil, disconnectf(DisconnectProtocolError, "padding length exceeds frame")
	}
	payload = payload[:len(payload)-padLen]

	if log.IsLevelEnabled(log.TraceLevel) {
		log.WithFields(log.Fields{"seq": t.seq - 1, "len": len(payload)}).Trace("ssh: read packet")
	}
	return payload, nil
}

// setCipher installs the packetCipher to use for subsequent reads,
// called once per direction after SSH_MSG_NEWKEYS. The sequence
// number is never reset: it counts packets for the lifetime of the
// connection, across rekeys, per RFC 4253 section 7.3.
func (t *transportReader) setCipher(c packetCipher) {
	t.cipher = c
}

// transportWriter is the send half of the binary packet protocol. A
// mutex serializes writers, since rekeying and ordinary message
// sends can be triggered from different goroutines.
type transportWriter struct {
	mu     sync.Mutex
	writer io.Writer
	seq    uint32
	cipher packetCipher
	rand   io.Reader
}

func newTransportWriter(w io.Writer, rand io.Reader) *transportWriter {
	return &transportWriter{
		writer: w,
		cipher: &noneCipher{},
		rand:   rand,
	}
}

// writePacket frames, encrypts, and writes one SSH payload. Framing
// follows RFC 4253 section 6: a u32 packet_length, a u8
// padding_length, the payload, and padLen bytes of random padding,
// chosen so the total aligns to max(blockSize, 8) and padLen >= 4
// (for aes128-gcm@openssh.com, the total without its cleartext 4-byte
// length prefix).
func (t *transportWriter) writePacket(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	padLen := t.cipher.paddingSize(len(payload))
	packetLength := 1 + len(payload) + padLen

	frame := make([]byte, 0, 4+packetLength)
	frame = appendU32(frame, uint32(packetLength))
	frame = appendU8(frame, uint8(padLen))
	frame = append(frame, payload...)

	padStart := len(frame)
	frame = append(frame, make([]byte, padLen)...)
	if _, err := io.ReadFull(t.rand, frame[padStart:]); err != nil {
		return err
	}

	out, err := t.cipher.encrypt(t.seq, frame)
	t.seq++
	if err != nil {
		return err
	}

	if log.IsLevelEnabled(log.TraceLevel) {
		log.WithFields(log.Fields{"seq": t.seq - 1, "len": len(payload)}).Trace("ssh: wrote packet")
	}

	_, err = t.writer.Write(out)
	return err
}

func (t *transportWriter) setCipher(c packetCipher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cipher = c
}
