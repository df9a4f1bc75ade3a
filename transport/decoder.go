package transport

import (
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"io"

	"github.com/jpillora/sshtransport/transport/packet"
)

// maxPacketLength is the largest packet_length this decoder accepts.
// RFC 4253 §6.1 only requires implementations to handle up to 35000
// bytes of unencrypted payload, but real servers routinely send larger
// SFTP and forwarding packets; 256 KiB is a concrete, generous bound.
const maxPacketLength = 256 * 1024

// decoder mirrors encoder: decrypts, verifies, decompresses and
// unframes inbound packets, maintaining the inbound sequence number.
// It is touched only by the Reader goroutine, so it needs no locking
// of its own.
type decoder struct {
	cipher        Cipher
	mac           MAC
	compressor    Compressor
	blockSize     int
	seq           uint32
	authenticated bool
}

func newDecoder() *decoder {
	return &decoder{
		cipher:     noneCipher{},
		mac:        noneMAC{},
		compressor: noneCompressor{},
		blockSize:  8,
	}
}

// sequenceNumber returns the next inbound sequence number: the one
// that will be assigned to the next packet read. Session.SendUnimplemented
// subtracts one from it to reference the packet just consumed, the one
// that triggered it (RFC 4253 §11.4).
func (d *decoder) sequenceNumber() uint32 { return d.seq }

func (d *decoder) setAuthenticated() { d.authenticated = true }

func (d *decoder) newKeys(cipher Cipher, mac MAC, compressor Compressor) {
	d.cipher = cipher
	d.mac = mac
	d.compressor = compressor
	d.blockSize = cipher.BlockSize()
	if d.blockSize < 8 {
		d.blockSize = 8
	}
}

// readPacket reads and decodes exactly one packet from r (AWAIT_LENGTH
// followed by AWAIT_REST, expressed as two sequential blocking reads
// rather than an explicit state machine — see DESIGN.md), returning
// the message id and a Buffer positioned right after it.
func (d *decoder) readPacket(r io.Reader) (Message, *packet.Buffer, error) {
	seq := d.seq
	d.seq++

	var payload []byte

	if aead := d.cipher.AEAD(); aead != nil {
		var encLen [4]byte
		if _, err := io.ReadFull(r, encLen[:]); err != nil {
			return 0, nil, wrapIOErr(err)
		}
		packetLength := aead.DecryptLength(seq, encLen)
		if packetLength < 1 || uint64(packetLength) > maxPacketLength {
			return 0, nil, newError(DisconnectProtocolError, "invalid packet length %d", packetLength)
		}
		sealed := make([]byte, int(packetLength)+aead.TagSize())
		if _, err := io.ReadFull(r, sealed); err != nil {
			return 0, nil, wrapIOErr(err)
		}
		plainRest, err := aead.Open(seq, nil, encLen, sealed)
		if err != nil {
			return 0, nil, newError(DisconnectMACError, "mac verification failed: %v", err)
		}
		p, err := unframe(plainRest, int(packetLength)-1)
		if err != nil {
			return 0, nil, err
		}
		payload = p
	} else {
		blockSize := d.blockSize
		firstBlock := make([]byte, blockSize)
		if _, err := io.ReadFull(r, firstBlock); err != nil {
			return 0, nil, wrapIOErr(err)
		}
		decryptedFirst := make([]byte, blockSize)
		d.cipher.XORKeyStream(seq, decryptedFirst, firstBlock)

		packetLength := binary.BigEndian.Uint32(decryptedFirst[0:4])
		if packetLength < 1 || uint64(packetLength) > maxPacketLength {
			return 0, nil, newError(DisconnectProtocolError, "invalid packet length %d", packetLength)
		}

		macSize := 0
		if d.mac != nil {
			macSize = d.mac.Size()
		}
		totalEncrypted := int(packetLength) + 4
		restLen := totalEncrypted - blockSize
		if restLen < 0 {
			return 0, nil, newError(DisconnectProtocolError, "packet shorter than cipher block")
		}
		rest := make([]byte, restLen+macSize)
		if _, err := io.ReadFull(r, rest); err != nil {
			return 0, nil, wrapIOErr(err)
		}
		decryptedRest := make([]byte, restLen)
		d.cipher.XORKeyStream(seq, decryptedRest, rest[:restLen])
		macBytes := rest[restLen:]

		full := make([]byte, 0, blockSize+restLen)
		full = append(full, decryptedFirst...)
		full = append(full, decryptedRest...)

		if d.mac != nil && d.mac.Size() > 0 {
			expected := d.mac.Compute(seq, full)
			if !hmac.Equal(expected, macBytes) {
				return 0, nil, newError(DisconnectMACError, "mac mismatch")
			}
		}

		p, err := unframe(full[4:], int(packetLength)-1)
		if err != nil {
			return 0, nil, err
		}
		payload = p
	}

	if d.compressor != nil && (!d.compressor.Delayed() || d.authenticated) {
		dec, err := d.compressor.Decompress(payload)
		if err != nil {
			return 0, nil, newError(DisconnectCompressionError, "decompress: %v", err)
		}
		payload = dec
	}
	if len(payload) == 0 {
		return 0, nil, newError(DisconnectProtocolError, "empty payload")
	}
	msg := Message(payload[0])
	return msg, packet.FromBytes(payload[1:]), nil
}

// unframe strips padding_length and random_padding from the region
// following packet_length, given payloadAndPadding = padding_length
// byte followed by n1+n2 bytes (payload+padding, n1+n2 = afterLength).
func unframe(payloadAndPadding []byte, afterLength int) ([]byte, error) {
	if len(payloadAndPadding) < 1 {
		return nil, newError(DisconnectProtocolError, "truncated packet")
	}
	paddingLength := int(payloadAndPadding[0])
	payloadLen := afterLength - paddingLength
	if payloadLen < 0 || 1+payloadLen+paddingLength != len(payloadAndPadding) {
		return nil, newError(DisconnectProtocolError, "invalid padding length %d", paddingLength)
	}
	return payloadAndPadding[1 : 1+payloadLen], nil
}

// wrapIOErr preserves io.EOF identity (so the Reader can distinguish a
// clean close from a genuine failure) while wrapping anything else as
// a transport CONNECTION_LOST error.
func wrapIOErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return newError(DisconnectConnectionLost, "read failed: %v", err)
}
