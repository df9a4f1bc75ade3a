package transport

import (
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/jpillora/sshtransport/transport/packet"
)

// kexPhase tracks progress through the RFC 4253 §7 key-exchange
// handshake: IDLE -> KEXINIT_SENT -> ALGOS_NEGOTIATED ->
// KEX_REPLY_RECEIVED -> VERIFIED -> NEWKEYS_SENT/NEWKEYS_RECEIVED ->
// DONE. NEWKEYS can arrive in either order relative to our own send,
// so sent/received are tracked as independent flags rather than a
// single linear step.
type kexPhase int

const (
	kexIdle kexPhase = iota
	kexInitSent
	kexAlgosNegotiated
	kexReplyReceived
	kexVerified
)

// keyExchanger drives the SSH key-exchange sub-protocol. It runs
// partly on the caller goroutine (StartKex/WaitForDone) and partly on
// the Reader goroutine (Handle, invoked synchronously as packets
// arrive), coordinated by its own mutex plus the one-shot done event.
type keyExchanger struct {
	s *Session

	mu          sync.Mutex
	phase       kexPhase
	everDone    bool
	sentNewKeys bool
	recvNewKeys bool
	verifiers   []HostKeyVerifier
	done        *event

	// state for the exchange currently in flight
	ourKexInit   []byte
	peerKexInit  []byte
	kexMethod    KexMethod
	hostKeyAlgo  HostKeyAlgorithm
	cipherC2S    CipherFactory
	cipherS2C    CipherFactory
	macC2S       MACFactory
	macS2C       MACFactory
	compC2S      Compressor
	compS2C      Compressor
	clientPublic []byte
	exchangeHash []byte
	sharedSecret *big.Int

	pendingInboundCipher Cipher
	pendingInboundMAC    MAC
	pendingInboundComp   Compressor

	sessionID []byte
}

func newKeyExchanger(s *Session) *keyExchanger {
	return &keyExchanger{s: s, done: newEvent()}
}

func (k *keyExchanger) addHostKeyVerifier(v HostKeyVerifier) {
	k.mu.Lock()
	k.verifiers = append(k.verifiers, v)
	k.mu.Unlock()
}

func (k *keyExchanger) isKexOngoing() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.phase != kexIdle
}

func (k *keyExchanger) isKexDone() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.everDone && k.phase == kexIdle
}

func (k *keyExchanger) getSessionID() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sessionID
}

// startKex initiates a new kex by sending KEXINIT, optionally blocking
// the caller until it completes or fails. If a kex is already ongoing
// it just (optionally) waits on it rather than starting a second one.
func (k *keyExchanger) startKex(waitForDone bool) error {
	k.mu.Lock()
	if k.phase != kexIdle {
		done := k.done
		k.mu.Unlock()
		if waitForDone {
			return done.Await(0)
		}
		return nil
	}
	k.phase = kexInitSent
	k.sentNewKeys = false
	k.recvNewKeys = false
	k.pendingInboundCipher = nil
	k.pendingInboundMAC = nil
	k.pendingInboundComp = nil
	k.done = newEvent()
	done := k.done
	k.mu.Unlock()

	if err := k.sendKexInit(); err != nil {
		k.fail(err)
		return err
	}

	if waitForDone {
		return done.Await(0)
	}
	return nil
}

func (k *keyExchanger) waitForDone() error {
	k.mu.Lock()
	ongoing := k.phase != kexIdle
	done := k.done
	k.mu.Unlock()
	if !ongoing {
		return nil
	}
	return done.Await(0)
}

func (k *keyExchanger) fail(err error) {
	k.mu.Lock()
	k.phase = kexIdle
	d := k.done
	k.mu.Unlock()
	d.SetError(err)
}

func (k *keyExchanger) succeed() {
	k.mu.Lock()
	k.phase = kexIdle
	k.everDone = true
	d := k.done
	k.mu.Unlock()
	d.Set()
}

func (k *keyExchanger) notifyError(err error) {
	k.mu.Lock()
	ongoing := k.phase != kexIdle
	d := k.done
	k.mu.Unlock()
	if ongoing {
		d.SetError(err)
	}
}

func (k *keyExchanger) sendKexInit() error {
	algos := k.s.config.Algorithms
	cookie := make([]byte, 16)
	_, _ = rand.Read(cookie)

	buf := packet.New()
	buf.PutByte(byte(MsgKexInit))
	buf.PutRaw(cookie)
	buf.PutNameList(algos.kexNames())
	buf.PutNameList(algos.hostKeyNames())
	buf.PutNameList(algos.cipherNames())
	buf.PutNameList(algos.cipherNames())
	buf.PutNameList(algos.macNames())
	buf.PutNameList(algos.macNames())
	buf.PutNameList(algos.compressorNames())
	buf.PutNameList(algos.compressorNames())
	buf.PutNameList(nil)
	buf.PutNameList(nil)
	buf.PutBoolean(false)
	buf.PutUint32(0)
	payload := buf.Bytes()

	k.mu.Lock()
	k.ourKexInit = payload
	k.mu.Unlock()

	_, err := k.s.Write(payload)
	return err
}

// handle is called by Session.handle for every kex-range packet (ids
// 20, 21, 30-49), synchronously on the Reader goroutine.
func (k *keyExchanger) handle(msg Message, buf *packet.Buffer) error {
	switch msg {
	case MsgKexInit:
		return k.handleKexInit(buf)
	case MsgNewKeys:
		return k.handleNewKeys()
	case MsgKexECDHReply:
		return k.handleKexECDHReply(buf)
	default:
		return newError(DisconnectProtocolError, "unexpected kex message %s", msg)
	}
}

func (k *keyExchanger) handleKexInit(buf *packet.Buffer) error {
	raw := append([]byte{byte(MsgKexInit)}, buf.Bytes()...)

	k.mu.Lock()
	weInitiated := k.phase != kexIdle
	k.mu.Unlock()

	if !weInitiated {
		// peer-initiated rekey: RFC 4253 §9 requires the local side
		// to send its own KEXINIT before proceeding.
		k.mu.Lock()
		k.phase = kexInitSent
		k.sentNewKeys = false
		k.recvNewKeys = false
		k.pendingInboundCipher = nil
		k.pendingInboundMAC = nil
		k.pendingInboundComp = nil
		k.done = newEvent()
		k.mu.Unlock()
		if err := k.sendKexInit(); err != nil {
			k.fail(err)
			return err
		}
	}

	k.mu.Lock()
	k.peerKexInit = raw
	k.phase = kexAlgosNegotiated
	k.mu.Unlock()

	if err := k.negotiateAndSendECDHInit(raw); err != nil {
		k.fail(err)
		return err
	}
	return nil
}

func (k *keyExchanger) negotiateAndSendECDHInit(peerPayload []byte) error {
	parsed, err := parseKexInit(peerPayload)
	if err != nil {
		return newError(DisconnectProtocolError, "malformed KEXINIT: %v", err)
	}

	algos := k.s.config.Algorithms

	kexName := negotiate(algos.kexNames(), parsed.kexAlgorithms)
	if kexName == "" {
		return newError(DisconnectKeyExchangeFailed, "no common kex algorithm")
	}
	hostKeyName := negotiate(algos.hostKeyNames(), parsed.serverHostKeyAlgorithms)
	if hostKeyName == "" {
		return newError(DisconnectKeyAlgorithmNotSupported, "no common host key algorithm")
	}
	cipherC2SName := negotiate(algos.cipherNames(), parsed.encC2S)
	cipherS2CName := negotiate(algos.cipherNames(), parsed.encS2C)
	if cipherC2SName == "" || cipherS2CName == "" {
		return newError(DisconnectKeyExchangeFailed, "no common cipher")
	}
	macC2SName := negotiate(algos.macNames(), parsed.macC2S)
	macS2CName := negotiate(algos.macNames(), parsed.macS2C)
	compC2SName := negotiate(algos.compressorNames(), parsed.compC2S)
	compS2CName := negotiate(algos.compressorNames(), parsed.compS2C)

	k.kexMethod = algos.findKex(kexName)()
	k.hostKeyAlgo = algos.findHostKey(hostKeyName)
	k.cipherC2S = algos.findCipher(cipherC2SName)
	k.cipherS2C = algos.findCipher(cipherS2CName)
	k.macC2S = algos.findMAC(macC2SName)
	k.macS2C = algos.findMAC(macS2CName)
	k.compC2S = algos.findCompressor(compC2SName)
	k.compS2C = algos.findCompressor(compS2CName)

	clientPublic, err := k.kexMethod.Init(k.s.config.random())
	if err != nil {
		return newError(DisconnectKeyExchangeFailed, "kex init: %v", err)
	}
	k.clientPublic = clientPublic

	ecdhInit := packet.New().PutByte(byte(MsgKexECDHInit)).PutBytes(clientPublic).Bytes()
	_, err = k.s.Write(ecdhInit)
	return err
}

func (k *keyExchanger) handleKexECDHReply(buf *packet.Buffer) error {
	hostKeyBlob, err := buf.ReadBytes()
	if err != nil {
		return newError(DisconnectProtocolError, "malformed KEX_ECDH_REPLY: %v", err)
	}
	serverPublic, err := buf.ReadBytes()
	if err != nil {
		return newError(DisconnectProtocolError, "malformed KEX_ECDH_REPLY: %v", err)
	}
	signature, err := buf.ReadBytes()
	if err != nil {
		return newError(DisconnectProtocolError, "malformed KEX_ECDH_REPLY: %v", err)
	}

	hostKey, err := k.hostKeyAlgo.ParsePublicKey(hostKeyBlob)
	if err != nil {
		return newError(DisconnectKeyExchangeFailed, "unparseable host key: %v", err)
	}

	k.mu.Lock()
	verifiers := append([]HostKeyVerifier{}, k.verifiers...)
	k.mu.Unlock()

	accepted := false
	for _, v := range verifiers {
		if v(k.s.remoteHost, k.s.remotePort, hostKey) {
			accepted = true
			break
		}
	}
	if !accepted {
		return newError(DisconnectHostKeyNotVerifiable, "no verifier accepted the host key")
	}

	sharedSecret, err := k.kexMethod.Finish(serverPublic)
	if err != nil {
		return newError(DisconnectKeyExchangeFailed, "kex finish: %v", err)
	}

	h := k.kexMethod.Hash()
	exchange := packet.New()
	exchange.PutString(k.s.clientID)
	exchange.PutString(k.s.serverID)
	exchange.PutBytes(k.ourKexInit)
	exchange.PutBytes(k.peerKexInit)
	exchange.PutBytes(hostKeyBlob)
	exchange.PutBytes(k.clientPublic)
	exchange.PutBytes(serverPublic)
	exchange.PutMPInt(sharedSecret)
	h.Write(exchange.Bytes())
	exchangeHash := h.Sum(nil)

	if err := hostKey.Verify(exchangeHash, signature); err != nil {
		return newError(DisconnectKeyExchangeFailed, "bad host key signature: %v", err)
	}

	k.mu.Lock()
	if k.sessionID == nil {
		k.sessionID = exchangeHash
	}
	sessionID := k.sessionID
	k.phase = kexVerified
	k.mu.Unlock()

	outKey, outIV, outMAC, inKey, inIV, inMAC := deriveAllKeys(k.kexMethod, sharedSecret, exchangeHash, sessionID,
		k.cipherC2S.KeySize(), k.cipherC2S.IVSize(), k.macC2S.KeySize(),
		k.cipherS2C.KeySize(), k.cipherS2C.IVSize(), k.macS2C.KeySize())

	newCipherOut := k.cipherC2S.New(outKey, outIV)
	newMACOut := k.macC2S.New(outMAC)
	newCipherIn := k.cipherS2C.New(inKey, inIV)
	newMACIn := k.macS2C.New(inMAC)

	newKeys := packet.New().PutByte(byte(MsgNewKeys)).Bytes()
	if _, err := k.s.Write(newKeys); err != nil {
		return err
	}
	// RFC 4253 §7.3: swap outbound algorithm state immediately after
	// emitting NEWKEYS, not after the peer acknowledges anything.
	k.s.encoder.newKeys(newCipherOut, newMACOut, k.compC2S)

	k.pendingInboundCipher, k.pendingInboundMAC, k.pendingInboundComp = newCipherIn, newMACIn, k.compS2C

	k.mu.Lock()
	k.sentNewKeys = true
	bothDone := k.sentNewKeys && k.recvNewKeys
	k.mu.Unlock()

	if bothDone {
		k.succeed()
	}
	return nil
}

func (k *keyExchanger) handleNewKeys() error {
	k.mu.Lock()
	cipherIn, macIn, compIn := k.pendingInboundCipher, k.pendingInboundMAC, k.pendingInboundComp
	k.mu.Unlock()

	if cipherIn == nil {
		return newError(DisconnectProtocolError, "NEWKEYS received before KEX_ECDH_REPLY processed")
	}

	// RFC 4253 §7.3: swap inbound algorithm state immediately after
	// consuming the peer's NEWKEYS.
	k.s.decoder.newKeys(cipherIn, macIn, compIn)

	k.mu.Lock()
	k.recvNewKeys = true
	bothDone := k.sentNewKeys && k.recvNewKeys
	k.mu.Unlock()

	if bothDone {
		k.succeed()
	}
	return nil
}
