package transport

import (
	"io"

	"github.com/jpillora/sshtransport/transport/packet"
)

// encoder frames, pads, compresses, MACs and encrypts outbound
// payloads, maintaining the outbound sequence number and the current
// cipher/MAC/compression algorithm triple. It is mutated only by
// whoever holds the write lock: the writer under Session.Write, or the
// KeyExchanger installing new algorithms at the NEWKEYS boundary.
type encoder struct {
	rand          io.Reader
	cipher        Cipher
	mac           MAC
	compressor    Compressor
	blockSize     int
	seq           uint32
	authenticated bool
}

func newEncoder(rand io.Reader) *encoder {
	return &encoder{
		rand:       rand,
		cipher:     noneCipher{},
		mac:        noneMAC{},
		compressor: noneCompressor{},
		blockSize:  8,
	}
}

func (e *encoder) sequenceNumber() uint32 { return e.seq }

func (e *encoder) setAuthenticated() { e.authenticated = true }

// newKeys atomically replaces the algorithm triple. Called by the
// KeyExchanger exactly once, immediately after it has sent NEWKEYS.
func (e *encoder) newKeys(cipher Cipher, mac MAC, compressor Compressor) {
	e.cipher = cipher
	e.mac = mac
	e.compressor = compressor
	e.blockSize = cipher.BlockSize()
	if e.blockSize < 8 {
		e.blockSize = 8
	}
}

// encode renders payload (the message id byte followed by its body)
// into a full wire packet, returning the bytes to write and the
// sequence number this packet was assigned (the pre-increment value).
func (e *encoder) encode(payload []byte) ([]byte, uint32, error) {
	seq := e.seq
	e.seq++ // wraps mod 2^32 on overflow, as uint32 arithmetic does

	if e.compressor != nil && (!e.compressor.Delayed() || e.authenticated) {
		compressed, err := e.compressor.Compress(payload)
		if err != nil {
			return nil, 0, newError(DisconnectCompressionError, "compress: %v", err)
		}
		payload = compressed
	}

	blockSize := e.blockSize
	padLen := blockSize - ((5 + len(payload)) % blockSize)
	if padLen < 4 {
		padLen += blockSize
	}
	padding := make([]byte, padLen)
	if _, err := io.ReadFull(e.rand, padding); err != nil {
		return nil, 0, wrapError(err)
	}

	packetLength := uint32(1 + len(payload) + padLen)

	plain := packet.New()
	plain.PutUint32(packetLength)
	plain.PutByte(byte(padLen))
	plain.PutRaw(payload)
	plain.PutRaw(padding)
	plainBytes := plain.Bytes()

	if aead := e.cipher.AEAD(); aead != nil {
		encLen := aead.EncryptLength(seq, packetLength)
		wire := make([]byte, 0, 4+len(plainBytes)-4+aead.TagSize())
		wire = append(wire, encLen[:]...)
		wire = aead.Seal(seq, wire, encLen, plainBytes[4:])
		return wire, seq, nil
	}

	var tag []byte
	if e.mac != nil && e.mac.Size() > 0 {
		tag = e.mac.Compute(seq, plainBytes)
	}
	encrypted := make([]byte, len(plainBytes))
	e.cipher.XORKeyStream(seq, encrypted, plainBytes)
	wire := append(encrypted, tag...)
	return wire, seq, nil
}
