// Package transport implements the client-side SSH transport layer:
// version exchange, key-exchange driving, binary packet framing and
// encryption, and dispatch of decrypted packets to a pluggable
// Service, with clean teardown on error or disconnect.
package transport

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jpillora/sshtransport/transport/packet"
)

// connInfo is the immutable record of the remote endpoint and byte
// streams, created once in Init and never mutated thereafter.
type connInfo struct {
	host string
	port int
	in   io.Reader
	out  io.Writer
}

type flusher interface {
	Flush() error
}

// Session is a process-wide-unique SSH transport session: it
// exclusively owns its Reader, Encoder, Decoder, KeyExchanger and the
// live byte streams, from Init until the close event fires.
type Session struct {
	config Config

	clientID string

	remoteHost string
	remotePort int
	connInfo   connInfo
	serverID   string

	encoder *encoder
	decoder *decoder
	kexer   *keyExchanger
	rd      *reader
	hb      *heartbeater

	writeLock sync.Mutex

	serviceMu sync.Mutex
	service   Service

	authenticated bool

	lastRecvMsg Message

	serviceAccept *event
	closeEvent    *event
}

// New constructs a Session from config. Call Init to actually perform
// the version exchange and start reading.
func New(config Config) *Session {
	s := &Session{
		config:        config,
		clientID:      "SSH-2.0-" + config.Version,
		service:       nullService{},
		serviceAccept: newEvent(),
		closeEvent:    newEvent(),
	}
	s.encoder = newEncoder(config.random())
	s.decoder = newDecoder()
	s.kexer = newKeyExchanger(s)
	s.rd = newReader(s)
	s.hb = newHeartbeater(s, config.HeartbeatInterval)
	return s
}

func (s *Session) logger() *slog.Logger { return s.config.logger() }

func (s *Session) debugf(msg string, args ...any) { s.logger().Debug(msg, args...) }
func (s *Session) infof(msg string, args ...any)  { s.logger().Info(msg, args...) }
func (s *Session) errorf(msg string, args ...any) { s.logger().Error(msg, args...) }

// Init sends the client identification string, reads and validates the
// server's, and starts the Reader. remoteHost/remotePort are recorded
// for host-key verification and are otherwise advisory.
func (s *Session) Init(remoteHost string, remotePort int, in io.Reader, out io.Writer) error {
	s.remoteHost = remoteHost
	s.remotePort = remotePort
	s.connInfo = connInfo{host: remoteHost, port: remotePort, in: in, out: out}

	s.infof("client identity string", "id", s.clientID)
	if _, err := out.Write([]byte(s.clientID + "\r\n")); err != nil {
		return wrapError(err)
	}

	serverID, err := readIdentification(in)
	if err != nil {
		return err
	}
	s.serverID = serverID
	s.infof("server identity string", "id", s.serverID)

	s.rd.start()
	s.hb.start()
	return nil
}

// readIdentification reads one byte at a time until it finds a line
// beginning with "SSH-", ignoring any preceding MOTD lines, and
// validates the protocol version prefix. Mirrors sshj's
// TransportImpl.readIdentification.
func readIdentification(in io.Reader) (string, error) {
	var headerTotal int
	oneByte := make([]byte, 1)

	for {
		var line []byte
		sawCR := false
		for {
			if _, err := io.ReadFull(in, oneByte); err != nil {
				return "", wrapError(err)
			}
			b := oneByte[0]
			headerTotal++
			if headerTotal > 16*1024 {
				return "", newError(DisconnectProtocolError, "too many header lines before identification")
			}
			if b == '\r' {
				sawCR = true
				continue
			}
			if b == '\n' {
				if !sawCR {
					return "", newError(DisconnectProtocolError, "bad line ending in identification")
				}
				break
			}
			if sawCR {
				return "", newError(DisconnectProtocolError, "bad line ending in identification")
			}
			line = append(line, b)
			if len(line) > 256 {
				return "", newError(DisconnectProtocolError, "identification line too long")
			}
		}

		if len(line) >= 4 && string(line[:4]) == "SSH-" {
			ident := string(line)
			if !hasPrefix(ident, "SSH-2.0-") && !hasPrefix(ident, "SSH-1.99-") {
				return "", &Error{Reason: DisconnectProtocolVersionNotSupported,
					Message: "server does not support SSHv2, identified as: " + ident}
			}
			return ident, nil
		}
		// else: MOTD line, ignore and keep reading
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ClientVersion returns the client identification string without the
// leading "SSH-" prefix.
func (s *Session) ClientVersion() string { return s.clientID[4:] }

// ServerVersion returns the server identification string without the
// leading "SSH-" prefix.
func (s *Session) ServerVersion() string {
	if s.serverID == "" {
		return ""
	}
	return s.serverID[4:]
}

func (s *Session) RemoteHost() string { return s.remoteHost }
func (s *Session) RemotePort() int    { return s.remotePort }

// AddHostKeyVerifier registers a verifier invoked with the server's
// presented host key; kex fails unless at least one accepts.
func (s *Session) AddHostKeyVerifier(v HostKeyVerifier) {
	s.kexer.addHostKeyVerifier(v)
}

// DoKex runs an initial (or repeat) key exchange and blocks until it
// completes or fails.
func (s *Session) DoKex() error {
	return s.kexer.startKex(true)
}

func (s *Session) IsKexDone() bool { return s.kexer.isKexDone() }

// GetSessionID returns the exchange hash of the first completed kex.
// It never changes across rekeys.
func (s *Session) GetSessionID() []byte { return s.kexer.getSessionID() }

// SetService installs svc as the active service directly. A nil svc
// installs the null-service sentinel.
func (s *Session) SetService(svc Service) {
	if svc == nil {
		svc = nullService{}
	}
	s.serviceMu.Lock()
	s.service = svc
	s.serviceMu.Unlock()
	s.infof("setting active service", "name", svc.Name())
}

func (s *Session) getService() Service {
	s.serviceMu.Lock()
	defer s.serviceMu.Unlock()
	return s.service
}

// ReqService requests svc's name from the server and, on
// SERVICE_ACCEPT (bounded by config.Timeout seconds), installs svc as
// the active service.
func (s *Session) ReqService(svc Service) error {
	s.serviceAccept.Lock()
	defer s.serviceAccept.Unlock()

	s.serviceAccept.Clear()
	payload := packet.New().PutByte(byte(MsgServiceRequest)).PutString(svc.Name()).Bytes()
	if _, err := s.Write(payload); err != nil {
		return err
	}
	if err := s.serviceAccept.Await(time.Duration(s.config.timeout()) * time.Second); err != nil {
		return err
	}
	s.SetService(svc)
	return nil
}

// SetAuthenticated marks the session authenticated, propagating the
// flag to the Encoder and Decoder (which may then activate any
// "delayed" compression algorithm negotiated).
func (s *Session) SetAuthenticated() {
	s.authenticated = true
	s.encoder.setAuthenticated()
	s.decoder.setAuthenticated()
}

func (s *Session) IsAuthenticated() bool { return s.authenticated }

// Write serializes payload onto the wire, blocking as needed for any
// in-progress key exchange, and returns the outbound sequence number
// that was assigned to it.
func (s *Session) Write(payload []byte) (uint32, error) {
	if len(payload) == 0 {
		return 0, newError(DisconnectProtocolError, "cannot write an empty payload")
	}

	s.writeLock.Lock()

	if s.kexer.isKexOngoing() {
		msg := Message(payload[0])
		if !(msg.In(1, 49) && msg != MsgServiceRequest) {
			s.writeLock.Unlock()
			if err := s.kexer.waitForDone(); err != nil {
				return 0, err
			}
			// Re-enter to re-acquire the lock and re-check kex state.
			return s.Write(payload)
		}
	} else if s.encoder.sequenceNumber() == 0 {
		// We get here on the very first packet, and again every
		// 2**32th packet thereafter: RFC 4253 §9 recommends rekeying
		// before a sequence number wraps.
		s.writeLock.Unlock()
		if err := s.kexer.startKex(true); err != nil {
			return 0, err
		}
		return s.Write(payload)
	}
	defer s.writeLock.Unlock()

	wire, seq, err := s.encoder.encode(payload)
	if err != nil {
		return 0, err
	}
	if _, err := s.connInfo.out.Write(wire); err != nil {
		return 0, wrapError(err)
	}
	if f, ok := s.connInfo.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			return 0, wrapError(err)
		}
	}
	s.hb.noteWrite()
	return seq, nil
}

// SendUnimplemented emits SSH_MSG_UNIMPLEMENTED referencing the last
// packet consumed by the Decoder.
func (s *Session) SendUnimplemented() (uint32, error) {
	seq := s.decoder.sequenceNumber() - 1
	s.infof("sending unimplemented", "seq", seq)
	payload := packet.New().PutByte(byte(MsgUnimplemented)).PutUint32(seq).Bytes()
	return s.Write(payload)
}

func (s *Session) sendDisconnect(reason DisconnectReason, message string) {
	s.debugf("sending disconnect", "reason", reason, "message", message)
	payload := packet.New().
		PutByte(byte(MsgDisconnect)).
		PutUint32(uint32(reason)).
		PutString(message).
		PutString("").
		Bytes()
	if _, err := s.Write(payload); err != nil {
		s.errorf("error writing disconnect packet", "err", err)
	}
}

// handle is called synchronously on the Reader goroutine for every
// decoded packet.
func (s *Session) handle(msg Message, buf *packet.Buffer) error {
	s.lastRecvMsg = msg
	s.debugf("received packet", "msg", msg)

	switch {
	case msg.Geq(50):
		return s.getService().Handle(msg, buf)
	case isKexMessage(msg):
		return s.kexer.handle(msg, buf)
	case msg == MsgDisconnect:
		return s.gotDisconnect(buf)
	case msg == MsgIgnore:
		s.infof("received ignore")
		return nil
	case msg == MsgUnimplemented:
		return s.gotUnimplemented(buf)
	case msg == MsgDebug:
		return s.gotDebug(buf)
	case msg == MsgServiceAccept:
		return s.gotServiceAccept()
	default:
		_, err := s.SendUnimplemented()
		return err
	}
}

func (s *Session) gotDebug(buf *packet.Buffer) error {
	display, _ := buf.ReadBoolean()
	message, _ := buf.ReadString()
	s.infof("received debug", "display", display, "message", message)
	return nil
}

func (s *Session) gotDisconnect(buf *packet.Buffer) error {
	code, _ := buf.ReadUint32()
	message, _ := buf.ReadString()
	reason := DisconnectReason(code)
	s.infof("received disconnect", "reason", reason, "message", message)
	return &Error{Reason: reason, Message: "disconnected; server said: " + message}
}

func (s *Session) gotServiceAccept() error {
	if !s.serviceAccept.HasWaiters() {
		return newError(DisconnectProtocolError, "got a service accept notification when none was awaited")
	}
	s.serviceAccept.Set()
	return nil
}

func (s *Session) gotUnimplemented(buf *packet.Buffer) error {
	seq, _ := buf.ReadUint32()
	s.infof("received unimplemented", "seq", seq)
	if s.kexer.isKexOngoing() {
		return newError(DisconnectProtocolError, "received SSH_MSG_UNIMPLEMENTED while exchanging keys")
	}
	s.getService().NotifyUnimplemented(seq)
	return nil
}

// finishOff stops the Reader and Heartbeater and closes the byte
// streams, tolerating and accumulating secondary failures rather than
// letting one masked Close error hide another.
func (s *Session) finishOff() error {
	s.rd.stop()
	s.hb.interrupt()

	var result *multierror.Error
	closed := make(map[io.Closer]bool, 2)
	closeOnce := func(v any) {
		if c, ok := v.(io.Closer); ok && !closed[c] {
			closed[c] = true
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	closeOnce(s.connInfo.in)
	closeOnce(s.connInfo.out)
	return result.ErrorOrNil()
}

// Disconnect initiates a clean, application-requested shutdown: it
// notifies the active service, sends SSH_MSG_DISCONNECT, tears down
// the streams and sets the close event. Concurrent calls are
// coalesced to exactly one DISCONNECT and one close.
func (s *Session) Disconnect(reason DisconnectReason, message string) {
	s.closeEvent.Lock()
	defer s.closeEvent.Unlock()

	svc := s.getService()
	svc.NotifyDisconnect()

	if s.closeEvent.IsSet() {
		return
	}
	s.sendDisconnect(reason, message)
	if err := s.finishOff(); err != nil {
		s.errorf("error during teardown", "err", err)
	}
	s.closeEvent.Set()
}

// die is the fatal-error teardown path, entered from any component
// that hits an unrecoverable error (Reader, Decoder via Reader,
// KeyExchanger). It is idempotent: if the session is already closed
// it is a no-op.
func (s *Session) die(cause error) {
	s.closeEvent.Lock()
	defer s.closeEvent.Unlock()

	if s.closeEvent.IsSet() {
		return
	}

	causeErr := wrapError(cause)
	s.errorf("dying", "cause", causeErr)

	s.closeEvent.SetError(causeErr)
	s.serviceAccept.SetError(causeErr)

	s.kexer.notifyError(causeErr)
	svc := s.getService()
	svc.NotifyError(causeErr)
	s.SetService(nil)

	didNotReceiveDisconnect := s.lastRecvMsg != MsgDisconnect
	gotReason := causeErr.Reason != DisconnectUnknown
	if didNotReceiveDisconnect && gotReason {
		s.sendDisconnect(causeErr.Reason, causeErr.Message)
	}

	if err := s.finishOff(); err != nil {
		s.errorf("error during teardown", "err", err)
	}
}

// Join blocks until the session's close event fires, returning the
// error it closed with (nil for a clean Disconnect).
func (s *Session) Join() error {
	return s.closeEvent.Await(0)
}

// IsRunning reports whether the Reader is alive and the session has
// not been closed.
func (s *Session) IsRunning() bool {
	return s.rd.isAlive() && !s.closeEvent.IsSet()
}
