// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"encoding/binary"
	"errors"
)

// errShortPacket is returned by the parse* helpers below when a
// message is too short to contain the field being decoded.
var errShortPacket = errors.New("ssh: message too short")

func parseUint32(in []byte) (uint32, []byte, error) {
	if len(in) < 4 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint32(in), in[4:], nil
}

// parseString reads a u32-be length-prefixed byte string (RFC 4251
// section 5, "string").
func parseString(in []byte) (out, rest []byte, err error) {
	n, in, err := parseUint32(in)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(in)) < n {
		return nil, nil, errShortPacket
	}
	return in[:n], in[n:], nil
}

// parseNameList reads a comma-separated name-list (RFC 4251 section
// 5, "name-list"). An empty list decodes from the four zero bytes
// "00 00 00 00".
func parseNameList(in []byte) (out []string, rest []byte, err error) {
	contents, rest, err := parseString(in)
	if err != nil {
		return nil, nil, err
	}
	if len(contents) == 0 {
		return nil, rest, nil
	}
	parts := []string{}
	start := 0
	for i, b := range contents {
		if b == ',' {
			parts = append(parts, string(contents[start:i]))
			start = i + 1
		}
	}
	parts = append(parts, string(contents[start:]))
	return parts, rest, nil
}

func parseBool(in []byte) (bool, []byte, error) {
	if len(in) < 1 {
		return false, nil, errShortPacket
	}
	return in[0] != 0, in[1:], nil
}

// cookieLen is the fixed size of a KEXINIT cookie, per RFC 4253
// section 7.1.
const cookieLen = 16

func parseCookie(in []byte) ([cookieLen]byte, []byte, error) {
	var cookie [cookieLen]byte
	if len(in) < cookieLen {
		return cookie, nil, errShortPacket
	}
	copy(cookie[:], in[:cookieLen])
	return cookie, in[cookieLen:], nil
}

// KexInitMsg is SSH_MSG_KEXINIT (message code 20): a peer's algorithm
// preferences for key exchange, host-key type, and per-direction
// cipher/MAC/compression. See RFC 4253 section 7.1.
type KexInitMsg struct {
	Cookie                  [cookieLen]byte
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
}

// Marshal encodes k as the payload of an SSH_MSG_KEXINIT packet,
// including the leading message-code byte.
func (k *KexInitMsg) Marshal() []byte {
	buf := make([]byte, 0, 256)
	buf = appendU8(buf, msgKexInit)
	buf = append(buf, k.Cookie[:]...)
	buf = appendNameList(buf, k.KexAlgos)
	buf = appendNameList(buf, k.ServerHostKeyAlgos)
	buf = appendNameList(buf, k.CiphersClientServer)
	buf = appendNameList(buf, k.CiphersServerClient)
	buf = appendNameList(buf, k.MACsClientServer)
	buf = appendNameList(buf, k.MACsServerClient)
	buf = appendNameList(buf, k.CompressionClientServer)
	buf = appendNameList(buf, k.CompressionServerClient)
	buf = appendNameList(buf, k.LanguagesClientServer)
	buf = appendNameList(buf, k.LanguagesServerClient)
	buf = appendBool(buf, k.FirstKexFollows)
	buf = appendU32(buf, 0) // reserved
	return buf
}

// decodeKexInit parses the payload of an SSH_MSG_KEXINIT packet,
// including the leading message-code byte.
func decodeKexInit(packet []byte) (*KexInitMsg, error) {
	if len(packet) == 0 || packet[0] != msgKexInit {
		return nil, parseError(msgKexInit)
	}
	rest := packet[1:]

	k := &KexInitMsg{}
	var err error
	if k.Cookie, rest, err = parseCookie(rest); err != nil {
		return nil, err
	}

	lists := []*[]string{
		&k.KexAlgos,
		&k.ServerHostKeyAlgos,
		&k.CiphersClientServer,
		&k.CiphersServerClient,
		&k.MACsClientServer,
		&k.MACsServerClient,
		&k.CompressionClientServer,
		&k.CompressionServerClient,
		&k.LanguagesClientServer,
		&k.LanguagesServerClient,
	}
	for _, dst := range lists {
		if *dst, rest, err = parseNameList(rest); err != nil {
			return nil, err
		}
	}

	if k.FirstKexFollows, rest, err = parseBool(rest); err != nil {
		return nil, err
	}
	if _, _, err = parseUint32(rest); err != nil {
		return nil, err
	}
	return k, nil
}

// marshalDisconnect encodes SSH_MSG_DISCONNECT (message code 1). See
// RFC 4253 section 11.1.
func marshalDisconnect(reason uint32, message string) []byte {
	buf := appendU8(nil, msgDisconnect)
	buf = appendU32(buf, reason)
	buf = appendString(buf, message)
	buf = appendString(buf, "") // language tag
	return buf
}
