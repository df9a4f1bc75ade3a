package transport_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/jpillora/sshtransport/transport"
	"github.com/jpillora/sshtransport/transport/algorithms"
	"github.com/jpillora/sshtransport/transport/packet"
	"github.com/jpillora/sshtransport/transport/sshtest"
)

// TestHandshakeAgainstRealServer drives a Session through Init, DoKex
// and ReqService against an independent SSH implementation
// (golang.org/x/crypto/ssh), confirming the wire format this module
// produces is actually interoperable rather than only self-consistent.
func TestHandshakeAgainstRealServer(t *testing.T) {
	server, err := sshtest.NewServer(sshtest.WithNoClientAuth())
	if err != nil {
		t.Fatalf("sshtest.NewServer: %v", err)
	}
	defer server.Close()
	go server.Serve()

	conn, err := net.DialTimeout("tcp", server.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	session := transport.New(transport.Config{
		Version:    "sshtransport_test",
		Algorithms: algorithms.Default(),
		Timeout:    5,
	})

	expectedHostKey := packet.New().PutString("ssh-ed25519").PutBytes(server.HostKey()).Bytes()
	var verifierCalled bool
	session.AddHostKeyVerifier(func(hostname string, port int, key transport.PublicKey) bool {
		verifierCalled = true
		return bytes.Equal(key.Marshal(), expectedHostKey)
	})

	if err := session.Init(server.Host(), server.Port(), conn, conn); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer session.Disconnect(transport.DisconnectByApplication, "test done")

	if err := session.DoKex(); err != nil {
		t.Fatalf("DoKex: %v", err)
	}
	if !verifierCalled {
		t.Error("host key verifier was never invoked")
	}
	if !session.IsKexDone() {
		t.Error("IsKexDone() = false after successful DoKex")
	}
	if len(session.GetSessionID()) == 0 {
		t.Error("GetSessionID() is empty after kex")
	}

	if err := session.ReqService(fakeService{}); err != nil {
		t.Fatalf("ReqService: %v", err)
	}
}

// fakeService is a do-nothing Service, sufficient to drive ReqService
// through SERVICE_ACCEPT without implementing real ssh-userauth.
type fakeService struct{}

func (fakeService) Name() string                                   { return "ssh-userauth" }
func (fakeService) Handle(transport.Message, *packet.Buffer) error { return nil }
func (fakeService) NotifyDisconnect()                              {}
func (fakeService) NotifyError(error)                              {}
func (fakeService) NotifyUnimplemented(uint32)                     {}
