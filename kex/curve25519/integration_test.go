package curve25519_test

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	x25519 "golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	ourkex "github.com/zmap/sshtransport/kex/curve25519"
	"github.com/zmap/sshtransport/lib/ssh"
)

// Message codes the fake server below needs to speak; duplicated here
// since lib/ssh keeps them unexported (the production code never
// needs a second implementation of the wire format).
const (
	msgKexInit         = 20
	msgNewKeys         = 21
	msgServiceRequest  = 5
	msgServiceAccept   = 6
	msgUserAuthRequest = 50
	msgUserAuthSuccess = 52
	msgKexECDHInit     = 30
	msgKexECDHReply    = 31
)

const serverIdentRaw = "SSH-2.0-FakeServer"

// testSigner is a Signer stand-in: its signature is never checked by
// this fake server, since signature verification belongs to the
// out-of-scope PubKey/LoadKeys collaborator.
type testSigner struct{ pub []byte }

func (s *testSigner) PublicKey() []byte            { return s.pub }
func (s *testSigner) Algorithm() string             { return "ssh-ed25519" }
func (s *testSigner) Sign(data []byte) ([]byte, error) {
	return []byte("fake-signature"), nil
}

// TestFullClientHandshake drives ssh.NewClientConn end to end --
// banner exchange, curve25519-sha256 key exchange, NEWKEYS on both
// directions, service request, and a successful public-key
// authentication -- against a hand-rolled fake server that speaks
// the wire format directly, independent of the package under test.
// It exists precisely so the transport, cipher, and handshake
// packages are exercised together rather than only in isolation.
func TestFullClientHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var keyedCalled, connectedCalled bool
	hostKey := []byte("fake-host-key-blob")

	clientConfig := &ssh.ClientConfig{
		Config: ssh.Config{
			KeyExchanges: []string{"curve25519-sha256"},
			Ciphers:      []string{"aes128-gcm@openssh.com"},
			MACs:         []string{"hmac-sha2-256"},
		},
		User: "alice",
		PublicKeys: []ssh.PublicKeyCandidate{
			{Algorithm: "ssh-ed25519", Signer: &testSigner{pub: []byte("alice-pubkey-blob")}},
		},
		KeyExchange: &ourkex.KeyExchange{HostKey: hostKey},
		DialAddress: "fake-server:22",
		OnKeyed:     func(sessionID []byte) { keyedCalled = true },
		OnConnected: func() { connectedCalled = true },
	}

	type clientResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan clientResult, 1)
	go func() {
		c, err := ssh.NewClientConn(clientConn, clientConfig)
		done <- clientResult{c, err}
	}()

	serverErrs := make(chan error, 1)
	go func() { serverErrs <- runFakeServer(serverConn, hostKey) }()

	serverErr := <-serverErrs
	res := <-done
	if serverErr != nil {
		t.Fatalf("fake server: %v", serverErr)
	}
	if res.err != nil {
		t.Fatalf("NewClientConn: %v", res.err)
	}
	if !keyedCalled {
		t.Fatal("OnKeyed hook never fired")
	}
	if !connectedCalled {
		t.Fatal("OnConnected hook never fired")
	}
}

// runFakeServer plays the server side of one handshake by hand: it
// never imports the production transport code, only the raw RFC 4253
// wire format, so the test is a genuine black-box exercise of the
// client.
func runFakeServer(conn net.Conn, hostKey []byte) error {
	br := bufio.NewReader(conn)

	clientBannerLine, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	clientIdentRaw := strings.TrimRight(clientBannerLine, "\r\n")
	if _, err := conn.Write([]byte(serverIdentRaw + "\r\n")); err != nil {
		return err
	}

	clientKexInit, err := readNone(br)
	if err != nil {
		return err
	}

	serverKexInit := &ssh.KexInitMsg{
		KexAlgos:                []string{"curve25519-sha256"},
		ServerHostKeyAlgos:      []string{"ssh-ed25519"},
		CiphersClientServer:     []string{"aes128-gcm@openssh.com"},
		CiphersServerClient:     []string{"aes128-gcm@openssh.com"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
	}
	serverKexInitPayload := serverKexInit.Marshal()
	if err := writeNone(conn, serverKexInitPayload); err != nil {
		return err
	}

	ecdhInit, err := readNone(br)
	if err != nil {
		return err
	}
	clientPub, _, err := parseString(ecdhInit[1:])
	if err != nil {
		return err
	}

	var serverPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, serverPriv[:]); err != nil {
		return err
	}
	serverPub, err := x25519.X25519(serverPriv[:], x25519.Basepoint)
	if err != nil {
		return err
	}
	secret, err := x25519.X25519(serverPriv[:], clientPub)
	if err != nil {
		return err
	}

	reply := appendU8(nil, msgKexECDHReply)
	reply = appendString(reply, hostKey)
	reply = appendString(reply, serverPub)
	reply = appendString(reply, []byte("fake-signature"))
	if err := writeNone(conn, reply); err != nil {
		return err
	}

	H := computeExchangeHash([]byte(clientIdentRaw), []byte(serverIdentRaw), clientKexInit, serverKexInitPayload, hostKey, clientPub, serverPub, secret)
	ivC2S, ivS2C, keyC2S, keyS2C, _, _ := deriveSixKeys(H, secret)

	clientNewKeys, err := readNone(br)
	if err != nil {
		return err
	}
	if len(clientNewKeys) == 0 || clientNewKeys[0] != msgNewKeys {
		return fmt.Errorf("expected NEWKEYS from client, got message %d", firstByte(clientNewKeys))
	}
	readState, err := newGCMState(keyC2S, ivC2S[:12])
	if err != nil {
		return err
	}

	if err := writeNone(conn, []byte{msgNewKeys}); err != nil {
		return err
	}
	writeState, err := newGCMState(keyS2C, ivS2C[:12])
	if err != nil {
		return err
	}

	serviceRequest, err := readGCM(br, readState)
	if err != nil {
		return err
	}
	if len(serviceRequest) == 0 || serviceRequest[0] != msgServiceRequest {
		return fmt.Errorf("expected SERVICE_REQUEST, got message %d", firstByte(serviceRequest))
	}
	if err := writeGCM(conn, writeState, []byte{msgServiceAccept}); err != nil {
		return err
	}

	userAuthRequest, err := readGCM(br, readState)
	if err != nil {
		return err
	}
	if len(userAuthRequest) == 0 || userAuthRequest[0] != msgUserAuthRequest {
		return fmt.Errorf("expected USERAUTH_REQUEST, got message %d", firstByte(userAuthRequest))
	}
	return writeGCM(conn, writeState, []byte{msgUserAuthSuccess})
}

func firstByte(b []byte) int {
	if len(b) == 0 {
		return -1
	}
	return int(b[0])
}

// --- minimal wire helpers, independent of lib/ssh's unexported ones ---

func paddingSizeNone(bodyLen int) int {
	const align = 8
	rem := (4 + 1 + bodyLen) % align
	if rem == 0 {
		return align
	}
	needed := align - rem
	if needed < 4 {
		return needed + align
	}
	return needed
}

func paddingSizeGCM(bodyLen int) int {
	const align = 16
	rem := (1 + bodyLen) % align
	if rem == 0 {
		return align
	}
	needed := align - rem
	if needed < 4 {
		return needed + align
	}
	return needed
}

func writeNone(w io.Writer, payload []byte) error {
	padLen := paddingSizeNone(len(payload))
	packetLength := 1 + len(payload) + padLen
	frame := make([]byte, 0, 4+packetLength)
	frame = appendU32(frame, uint32(packetLength))
	frame = appendU8(frame, uint8(padLen))
	frame = append(frame, payload...)
	frame = append(frame, make([]byte, padLen)...)
	_, err := w.Write(frame)
	return err
}

func readNone(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	packetLength := binary.BigEndian.Uint32(lenBuf[:])
	rest := make([]byte, packetLength)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	padLen := int(rest[0])
	payload := rest[1 : 1+(int(packetLength)-1-padLen)]
	return payload, nil
}

type gcmState struct {
	aead    cipher.AEAD
	fixed   [4]byte
	invoked uint64
}

func newGCMState(key, iv []byte) (*gcmState, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	g := &gcmState{aead: aead}
	copy(g.fixed[:], iv[:4])
	g.invoked = binary.BigEndian.Uint64(iv[4:12])
	return g, nil
}

func (g *gcmState) nonce() []byte {
	iv := make([]byte, 12)
	copy(iv[:4], g.fixed[:])
	binary.BigEndian.PutUint64(iv[4:], g.invoked)
	return iv
}

func (g *gcmState) seal(frame []byte) []byte {
	aad := frame[:4]
	body := frame[4:]
	sealed := g.aead.Seal(nil, g.nonce(), body, aad)
	g.invoked++
	out := make([]byte, 0, 4+len(sealed))
	out = append(out, aad...)
	out = append(out, sealed...)
	return out
}

func (g *gcmState) open(packet []byte) ([]byte, error) {
	aad := packet[:4]
	body := packet[4:]
	plain, err := g.aead.Open(nil, g.nonce(), body, aad)
	if err != nil {
		return nil, err
	}
	g.invoked++
	frame := make([]byte, 0, 4+len(plain))
	frame = append(frame, aad...)
	frame = append(frame, plain...)
	return frame, nil
}

func writeGCM(w io.Writer, g *gcmState, payload []byte) error {
	padLen := paddingSizeGCM(len(payload))
	packetLength := 1 + len(payload) + padLen
	frame := make([]byte, 0, 4+packetLength)
	frame = appendU32(frame, uint32(packetLength))
	frame = appendU8(frame, uint8(padLen))
	frame = append(frame, payload...)
	frame = append(frame, make([]byte, padLen)...)
	wire := g.seal(frame)
	_, err := w.Write(wire)
	return err
}

func readGCM(r io.Reader, g *gcmState) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	packetLength := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, packetLength+16)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	raw := append(append([]byte{}, lenBuf[:]...), body...)
	frame, err := g.open(raw)
	if err != nil {
		return nil, err
	}
	padLen := int(frame[4])
	payloadLen := int(packetLength) - 1 - padLen
	return frame[5 : 5+payloadLen], nil
}

func computeExchangeHash(clientIdent, serverIdent, clientKexInit, serverKexInit, hostKey, clientPub, serverPub, secret []byte) []byte {
	h := sha256.New()
	write := func(b []byte) { h.Write(appendString(nil, b)) }
	write(clientIdent)
	write(serverIdent)
	write(clientKexInit)
	write(serverKexInit)
	write(hostKey)
	write(clientPub)
	write(serverPub)
	write(secret)
	return h.Sum(nil)
}

func deriveSixKeys(H, K []byte) (ivC2S, ivS2C, keyC2S, keyS2C, macC2S, macS2C []byte) {
	derive := func(letter byte, size int) []byte {
		info := append([]byte{letter}, H...)
		r := hkdf.New(sha256.New, K, H, info)
		out := make([]byte, size)
		io.ReadFull(r, out)
		return out
	}
	ivC2S = derive('A', 16)
	ivS2C = derive('B', 16)
	keyC2S = derive('C', 16)
	keyS2C = derive('D', 16)
	macC2S = derive('E', sha256.Size)
	macS2C = derive('F', sha256.Size)
	return
}

func appendU8(buf []byte, n uint8) []byte { return append(buf, n) }

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendString(buf, s []byte) []byte {
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func parseString(in []byte) (out, rest []byte, err error) {
	if len(in) < 4 {
		return nil, nil, fmt.Errorf("short string field")
	}
	n := binary.BigEndian.Uint32(in)
	in = in[4:]
	if uint32(len(in)) < n {
		return nil, nil, fmt.Errorf("truncated string field")
	}
	return in[:n], in[n:], nil
}
