// Package curve25519 is a reference implementation of ssh.KeyExchange
// for the "curve25519-sha256" algorithm, the only key-exchange method
// this transport negotiates by default. It exists so the transport
// and handshake packages can be exercised end to end in tests without
// pulling in a production host-key/signature stack: production
// callers supply their own KeyExchange (and Signer/HostKeyVerifier)
// implementations the same way.
package curve25519

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/zmap/sshtransport/lib/ssh"
)

const kexAlgorithm = "curve25519-sha256"

// Client-side SSH_MSG_KEX_ECDH_INIT/REPLY message codes (RFC 8731
// section 4), local to this package since the core transport treats
// key-exchange sub-protocols as opaque.
const (
	msgKexECDHInit  = 30
	msgKexECDHReply = 31
)

// KeyExchange implements ssh.KeyExchange for curve25519-sha256.
type KeyExchange struct {
	// HostKey is a wire-encoded host public key blob and HostKeySign a
	// signer over the exchange hash, held for whatever is standing in
	// for the server side in a test. Client reads neither: it takes the
	// host key and signature from the server's KEX_ECDH_REPLY and does
	// not sign anything.
	HostKey     []byte
	HostKeySign func(hash []byte) ([]byte, error)
}

func (k *KeyExchange) Name() string { return kexAlgorithm }

// Client runs SSH_MSG_KEX_ECDH_INIT/REPLY (RFC 8731 section 4) over
// rw: it generates an ephemeral keypair, sends its public value,
// reads the server's reply (host key, public value, signature),
// computes the shared secret, derives the exchange hash H, and
// stretches H and the shared secret into the six keying materials
// with deriveKeys.
func (k *KeyExchange) Client(rw io.ReadWriter, rand io.Reader, clientIdent, serverIdent, clientKexInit, serverKexInit []byte) (*ssh.KexResult, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand, priv[:]); err != nil {
		return nil, err
	}
	pub, err := x25519Base(priv[:])
	if err != nil {
		return nil, err
	}

	if err := writeECDHInit(rw, pub); err != nil {
		return nil, err
	}

	serverHostKey, serverPub, signature, err := readECDHReply(rw)
	if err != nil {
		return nil, err
	}

	secret, err := curve25519.X25519(priv[:], serverPub)
	if err != nil {
		return nil, err
	}

	H := exchangeHash(clientIdent, serverIdent, clientKexInit, serverKexInit, serverHostKey, pub, serverPub, secret)

	result := &ssh.KexResult{
		H:                H,
		K:                secret,
		HostKey:          serverHostKey,
		HostKeySignature: signature,
	}
	deriveKeys(result, H, secret)
	return result, nil
}

func writeECDHInit(w io.Writer, pub []byte) error {
	buf := []byte{msgKexECDHInit}
	buf = appendString(buf, pub)
	_, err := w.Write(buf)
	return err
}

func readECDHReply(r io.Reader) (hostKey, serverPub, signature []byte, err error) {
	buf := make([]byte, 8192)
	n, err := r.Read(buf)
	if err != nil {
		return nil, nil, nil, err
	}
	packet := buf[:n]
	if len(packet) == 0 || packet[0] != msgKexECDHReply {
		return nil, nil, nil, errors.New("curve25519: expected KEX_ECDH_REPLY")
	}
	rest := packet[1:]
	hostKey, rest, err = readString(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	serverPub, rest, err = readString(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	signature, _, err = readString(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	return hostKey, serverPub, signature, nil
}

// x25519Base computes the public value for a curve25519 scalar
// against the standard base point; factored out so tests can derive
// a matching keypair without duplicating the curve25519 import.
func x25519Base(priv []byte) ([]byte, error) {
	return curve25519.X25519(priv, curve25519.Basepoint)
}

func appendString(buf, s []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	buf = append(buf, n[:]...)
	return append(buf, s...)
}

func readString(in []byte) (out, rest []byte, err error) {
	if len(in) < 4 {
		return nil, nil, errors.New("curve25519: short string field")
	}
	n := binary.BigEndian.Uint32(in)
	in = in[4:]
	if uint32(len(in)) < n {
		return nil, nil, errors.New("curve25519: truncated string field")
	}
	return in[:n], in[n:], nil
}

// exchangeHash computes H per RFC 8731 section 4: a SHA-256 digest of
// the ordered exchange-hash inputs (RFC 4253 section 8, specialized
// to curve25519's two public values in place of the classic DH e/f).
func exchangeHash(clientIdent, serverIdent, clientKexInit, serverKexInit, hostKey, clientPub, serverPub, secret []byte) []byte {
	h := sha256.New()
	writeField := func(b []byte) { h.Write(appendString(nil, b)) }
	writeField(clientIdent)
	writeField(serverIdent)
	writeField(clientKexInit)
	writeField(serverKexInit)
	writeField(hostKey)
	writeField(clientPub)
	writeField(serverPub)
	writeField(secret)
	return h.Sum(nil)
}

// deriveKeys stretches H and the shared secret K into the six keying
// materials, using the RFC 4253 section 7.2 letters 'A'..'F' but
// HKDF-SHA256 in place of its hash chain: each key is HKDF output with
// secret K, salt H and info letter || session_id. The keys therefore
// differ from the HASH(K || H || letter || session_id) values an
// RFC 4253 peer derives.
func deriveKeys(result *ssh.KexResult, H, K []byte) {
	sessionID := H // session_id on first kex is H itself

	derive := func(letter byte, size int) []byte {
		info := append([]byte{letter}, sessionID...)
		r := hkdf.New(sha256.New, K, H, info)
		out := make([]byte, size)
		if _, err := io.ReadFull(r, out); err != nil {
			panic(err) // hkdf.Reader only fails if size exceeds its output limit
		}
		return out
	}

	const keySize = 16 // aes128-*
	const ivSize = 16  // CBC/CTR IV size; GCM truncates to 12 bytes itself

	result.IVClientToServer = derive('A', ivSize)
	result.IVServerToClient = derive('B', ivSize)
	result.KeyClientToServer = derive('C', keySize)
	result.KeyServerToClient = derive('D', keySize)
	result.MACKeyClientToServer = derive('E', sha256.Size)
	result.MACKeyServerToClient = derive('F', sha256.Size)
}
