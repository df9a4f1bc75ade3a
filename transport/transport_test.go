package transport

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpillora/sshtransport/transport/packet"
)

// newTestSession builds a Session ready for unit tests that call Write
// without driving a real kex. The outbound sequence number starts at 1
// rather than 0 so Write's write-time rekey trigger (a real kex has no
// peer to complete it in these tests) doesn't fire; tests that
// specifically exercise that trigger reset it back to 0 themselves.
func newTestSession() *Session {
	s := New(Config{Version: "test_1.0"})
	s.connInfo = connInfo{host: "example.com", port: 22, in: &bytes.Buffer{}, out: &bytes.Buffer{}}
	s.encoder.seq = 1
	return s
}

func TestReadIdentificationSkipsMOTD(t *testing.T) {
	in := strings.NewReader("Welcome to the server\r\nAnother banner line\r\nSSH-2.0-OpenSSH_9.0\r\n")
	id, err := readIdentification(in)
	if err != nil {
		t.Fatalf("readIdentification: %v", err)
	}
	if id != "SSH-2.0-OpenSSH_9.0" {
		t.Fatalf("id = %q", id)
	}
}

func TestReadIdentificationAccepts199(t *testing.T) {
	in := strings.NewReader("SSH-1.99-OldServer\r\n")
	id, err := readIdentification(in)
	if err != nil {
		t.Fatalf("readIdentification: %v", err)
	}
	if id != "SSH-1.99-OldServer" {
		t.Fatalf("id = %q", id)
	}
}

func TestReadIdentificationRejectsUnsupportedVersion(t *testing.T) {
	in := strings.NewReader("SSH-1.5-LegacyServer\r\n")
	if _, err := readIdentification(in); err == nil {
		t.Fatal("expected an error for an SSHv1-only banner")
	}
}

func TestReadIdentificationRejectsOverlongLine(t *testing.T) {
	in := strings.NewReader(strings.Repeat("x", 300) + "\r\n")
	if _, err := readIdentification(in); err == nil {
		t.Fatal("expected an error for an overlong identification line")
	}
}

func TestReadIdentificationRejectsBadLineEnding(t *testing.T) {
	in := strings.NewReader("SSH-2.0-Foo\n")
	if _, err := readIdentification(in); err == nil {
		t.Fatal("expected an error for a bare LF without CR")
	}
}

func TestWritePassesKexRangeMessagesWhileKexOngoing(t *testing.T) {
	s := newTestSession()
	s.kexer.phase = kexInitSent

	payload := packet.New().PutByte(byte(MsgKexECDHInit)).PutBytes([]byte("x")).Bytes()
	if _, err := s.Write(payload); err != nil {
		t.Fatalf("Write of a kex-range message during kex should not block: %v", err)
	}
}

func TestWriteBlocksNonKexMessagesUntilKexDone(t *testing.T) {
	s := newTestSession()
	s.kexer.phase = kexInitSent

	done := make(chan error, 1)
	go func() {
		payload := packet.New().PutByte(byte(MsgServiceRequest)).PutString("ssh-userauth").Bytes()
		_, err := s.Write(payload)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Write returned before the in-flight kex finished")
	case <-time.After(100 * time.Millisecond):
	}

	s.kexer.succeed()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write after kex completion: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write never unblocked after kex completed")
	}
}

func TestWriteRejectsEmptyPayload(t *testing.T) {
	s := newTestSession()
	if _, err := s.Write(nil); err == nil {
		t.Fatal("expected an error writing an empty payload")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newTestSession()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect(DisconnectByApplication, "bye")
		}()
	}
	wg.Wait()

	if !s.closeEvent.IsSet() {
		t.Fatal("closeEvent was never set")
	}
	if err := s.Join(); err != nil {
		t.Fatalf("Join after a clean Disconnect should return nil, got %v", err)
	}
}

func TestDieIsIdempotentAndPropagatesCause(t *testing.T) {
	s := newTestSession()
	cause := newError(DisconnectProtocolError, "boom")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.die(cause)
		}()
	}
	wg.Wait()

	err := s.Join()
	if err == nil {
		t.Fatal("Join after die should return the cause")
	}
	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("Join error is not a *Error: %v", err)
	}
	if transportErr.Reason != DisconnectProtocolError {
		t.Fatalf("Reason = %v, want DisconnectProtocolError", transportErr.Reason)
	}
}

func TestDieThenDisconnectDoesNotOverwriteCause(t *testing.T) {
	s := newTestSession()
	s.die(newError(DisconnectProtocolError, "boom"))
	s.Disconnect(DisconnectByApplication, "bye")

	err := s.Join()
	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("Join error is not a *Error: %v", err)
	}
	if transportErr.Reason != DisconnectProtocolError {
		t.Fatalf("die's cause was overwritten by a later Disconnect: %v", err)
	}
}

func TestGotUnimplementedRejectedDuringKex(t *testing.T) {
	s := newTestSession()
	s.kexer.phase = kexInitSent

	buf := packet.New().PutUint32(3).Bytes()
	if err := s.gotUnimplemented(packet.FromBytes(buf)); err == nil {
		t.Fatal("expected an error receiving UNIMPLEMENTED mid-kex")
	}
}

func TestGotUnimplementedNotifiesService(t *testing.T) {
	s := newTestSession()
	svc := &recordingService{}
	s.SetService(svc)

	buf := packet.New().PutUint32(7).Bytes()
	if err := s.gotUnimplemented(packet.FromBytes(buf)); err != nil {
		t.Fatalf("gotUnimplemented: %v", err)
	}
	if svc.unimplementedSeq != 7 {
		t.Fatalf("service was notified with seq %d, want 7", svc.unimplementedSeq)
	}
}

func TestGotServiceAcceptWithoutAwaiterIsAnError(t *testing.T) {
	s := newTestSession()
	if err := s.gotServiceAccept(); err == nil {
		t.Fatal("expected an error for an unsolicited SERVICE_ACCEPT")
	}
}

func TestGotDisconnectReturnsReason(t *testing.T) {
	s := newTestSession()
	buf := packet.New().PutUint32(uint32(DisconnectByApplication)).PutString("goodbye").Bytes()
	err := s.gotDisconnect(packet.FromBytes(buf))
	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("gotDisconnect error is not a *Error: %v", err)
	}
	if transportErr.Reason != DisconnectByApplication {
		t.Fatalf("Reason = %v, want DisconnectByApplication", transportErr.Reason)
	}
}

type recordingService struct {
	unimplementedSeq uint32
}

func (recordingService) Name() string                         { return "test" }
func (recordingService) Handle(Message, *packet.Buffer) error { return nil }
func (recordingService) NotifyDisconnect()                    {}
func (recordingService) NotifyError(error)                    {}
func (s *recordingService) NotifyUnimplemented(seq uint32)    { s.unimplementedSeq = seq }
