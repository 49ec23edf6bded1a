// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "io"

// KexResult is everything a completed key exchange produces: the
// exchange hash H (which becomes the session ID on the first kex and
// is reused as an input on every subsequent rekey), and the six
// direction-and-purpose-specific keys derived from it per RFC 4253
// section 7.2 (IV client→server, IV server→client, encryption key
// client→server, encryption key server→client, MAC key client→server,
// MAC key server→client).
type KexResult struct {
	H         []byte
	SessionID []byte
	K         []byte

	IVClientToServer     []byte
	IVServerToClient     []byte
	KeyClientToServer    []byte
	KeyServerToClient    []byte
	MACKeyClientToServer []byte
	MACKeyServerToClient []byte
	HostKey              []byte
	HostKeySignature     []byte
}

// KeyExchange is the external-collaborator interface this package
// consumes but does not implement: the Diffie-Hellman-family math
// (classic DH, ECDH, curve25519, ...) that produces a shared secret
// and exchange hash for one named kex algorithm. A concrete
// implementation lives outside this package, e.g. kex/curve25519.
type KeyExchange interface {
	// Name is the algorithm name as negotiated in KEXINIT, e.g.
	// "curve25519-sha256".
	Name() string

	// Client runs the client side of the exchange over rw, given the
	// two raw KEXINIT payloads and both parties' identification
	// strings (all exchange-hash inputs per RFC 4253 section 8), and
	// returns the derived KexResult or a fatal error.
	Client(rw io.ReadWriter, rand io.Reader, clientIdent, serverIdent, clientKexInit, serverKexInit []byte) (*KexResult, error)
}

// Signer is the external-collaborator interface for proving
// possession of a private key during user authentication (RFC 4252
// section 7). This package only calls it; key material and signing
// algorithms live outside it.
type Signer interface {
	// PublicKey returns the wire-encoded public key blob.
	PublicKey() []byte

	// Algorithm returns the public key algorithm name, e.g.
	// "ssh-ed25519" or "rsa-sha2-256".
	Algorithm() string

	// Sign returns a signature over data, wire-encoded as a
	// (algorithm, blob) signature per RFC 4253 section 6.6.
	Sign(data []byte) ([]byte, error)
}

// HostKeyVerifier is the external-collaborator interface for
// authenticating the server's host key, consulted once per key
// exchange (initial and every rekey) with the raw host key blob RFC
// 4253 section 7.1 negotiated.
type HostKeyVerifier interface {
	VerifyHostKey(hostname string, hostKey []byte) error
}
