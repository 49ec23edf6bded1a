// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

// macFunction computes the MAC over seq || frame for a non-AEAD
// cipher, per RFC 4253 section 6.4: mac = MAC(key, sequence_number ||
// unencrypted_packet).
type macFunction struct {
	size    int
	newHash func() hash.Hash
	key     []byte
}

func (m *macFunction) Size() int { return m.size }

func (m *macFunction) compute(seq uint32, frame []byte) []byte {
	mac := hmac.New(m.newHash, m.key)
	var seqBuf [4]byte
	seqBuf[0] = byte(seq >> 24)
	seqBuf[1] = byte(seq >> 16)
	seqBuf[2] = byte(seq >> 8)
	seqBuf[3] = byte(seq)
	mac.Write(seqBuf[:])
	mac.Write(frame)
	sum := mac.Sum(nil)
	return sum[:m.size]
}

// newMAC builds the MAC primitive named by algorithm, keyed with key.
// Supported names are the three in supportedMACs.
func newMAC(algorithm string, key []byte) (*macFunction, error) {
	switch algorithm {
	case "hmac-sha2-256":
		return &macFunction{size: sha256.Size, newHash: sha256.New, key: key}, nil
	case "hmac-sha1":
		return &macFunction{size: sha1.Size, newHash: sha1.New, key: key}, nil
	case "hmac-sha1-96":
		return &macFunction{size: 12, newHash: sha1.New, key: key}, nil
	default:
		return nil, fmt.Errorf("ssh: unsupported MAC algorithm %q", algorithm)
	}
}

// macKeySize returns the key length a given MAC algorithm expects,
// which by RFC 4253 section 6.4 equals its (untruncated) digest size.
func macKeySize(algorithm string) int {
	switch algorithm {
	case "hmac-sha2-256":
		return sha256.Size
	case "hmac-sha1", "hmac-sha1-96":
		return sha1.Size
	default:
		return 0
	}
}
