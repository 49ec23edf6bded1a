package curve25519

import (
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"testing"

	"github.com/zmap/sshtransport/lib/ssh"
)

// serveECDHReply runs the server half of KEX_ECDH_INIT/REPLY directly
// against net.Pipe's raw byte stream rather than through the full
// packet transport, since this test only exercises the curve25519
// math and key derivation, not framing.
func serveECDHReply(t *testing.T, conn net.Conn, hostKey, signature []byte) {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Errorf("server read: %v", err)
		return
	}
	packet := buf[:n]
	if packet[0] != msgKexECDHInit {
		t.Errorf("server: got message %d, want KEX_ECDH_INIT", packet[0])
		return
	}
	clientPub, _, err := readString(packet[1:])
	if err != nil {
		t.Errorf("server: %v", err)
		return
	}

	var serverPriv [32]byte
	io.ReadFull(rand.Reader, serverPriv[:])

	reply := []byte{msgKexECDHReply}
	reply = appendString(reply, hostKey)
	serverPub := mustX25519(t, serverPriv[:])
	reply = appendString(reply, serverPub)
	reply = appendString(reply, signature)

	if _, err := conn.Write(reply); err != nil {
		t.Errorf("server write: %v", err)
	}
	_ = clientPub
}

func mustX25519(t *testing.T, priv []byte) []byte {
	t.Helper()
	pub, err := x25519Base(priv)
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

func TestClientDerivesSixKeys(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	kex := &KeyExchange{HostKey: []byte("fake-host-key")}
	if kex.Name() != "curve25519-sha256" {
		t.Fatalf("Name() = %q", kex.Name())
	}

	done := make(chan *ssh.KexResult, 1)
	errs := make(chan error, 1)
	go func() {
		result, err := kex.Client(clientConn, rand.Reader,
			[]byte("SSH-2.0-client"), []byte("SSH-2.0-server"),
			[]byte("client-kexinit"), []byte("server-kexinit"))
		if err != nil {
			errs <- err
			return
		}
		done <- result
	}()

	serveECDHReply(t, serverConn, kex.HostKey, []byte("fake-signature"))

	select {
	case err := <-errs:
		t.Fatal(err)
	case result := <-done:
		if len(result.H) != 32 {
			t.Fatalf("H length = %d, want 32 (sha256)", len(result.H))
		}
		if !bytes.Equal(result.HostKey, kex.HostKey) {
			t.Fatalf("HostKey = %q, want %q", result.HostKey, kex.HostKey)
		}
		keys := [][]byte{
			result.IVClientToServer, result.IVServerToClient,
			result.KeyClientToServer, result.KeyServerToClient,
			result.MACKeyClientToServer, result.MACKeyServerToClient,
		}
		for i, k := range keys {
			if len(k) == 0 {
				t.Fatalf("keying material %d is empty", i)
			}
		}
		if bytes.Equal(result.KeyClientToServer, result.KeyServerToClient) {
			t.Fatal("client-to-server and server-to-client keys must differ")
		}
	}
}
