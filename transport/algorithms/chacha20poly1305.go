package algorithms

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"

	"github.com/jpillora/sshtransport/transport"
)

// chacha20poly1305 factory implements chacha20-poly1305@openssh.com:
// two independently-keyed chacha20 streams (one for the 4-byte packet
// length, one for the payload, whose first block also yields the
// poly1305 one-time key) combined into a single AEAD. KeySize is 64
// (two 32-byte keys); there is no separate IV, the per-packet nonce is
// the sequence number.
type chacha20poly1305Factory struct{}

func (chacha20poly1305Factory) Name() string { return "chacha20-poly1305@openssh.com" }
func (chacha20poly1305Factory) KeySize() int { return 64 }
func (chacha20poly1305Factory) IVSize() int  { return 0 }

func (chacha20poly1305Factory) New(key, iv []byte) transport.Cipher {
	c := &chachaCipher{}
	copy(c.lengthKey[:], key[32:64])
	copy(c.mainKey[:], key[0:32])
	return c
}

// Chacha20Poly1305 is the chacha20-poly1305@openssh.com cipher
// factory.
var Chacha20Poly1305 transport.CipherFactory = chacha20poly1305Factory{}

type chachaCipher struct {
	mainKey   [32]byte
	lengthKey [32]byte
}

func (c *chachaCipher) BlockSize() int { return 8 }
func (c *chachaCipher) XORKeyStream(seq uint32, dst, src []byte) {
	panic("AEAD cipher used in traditional path")
}
func (c *chachaCipher) AEAD() transport.AEADCipher { return c }

func nonceFor(seq uint32) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint64(nonce[4:], uint64(seq))
	return nonce
}

func (c *chachaCipher) TagSize() int { return poly1305.TagSize }

func (c *chachaCipher) EncryptLength(seq uint32, length uint32) [4]byte {
	var plain [4]byte
	binary.BigEndian.PutUint32(plain[:], length)
	nonce := nonceFor(seq)
	s, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		panic(err)
	}
	var enc [4]byte
	s.XORKeyStream(enc[:], plain[:])
	return enc
}

func (c *chachaCipher) DecryptLength(seq uint32, enc [4]byte) uint32 {
	nonce := nonceFor(seq)
	s, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		panic(err)
	}
	var plain [4]byte
	s.XORKeyStream(plain[:], enc[:])
	return binary.BigEndian.Uint32(plain[:])
}

// polyKeyAndStream returns the one-time poly1305 key (the first block
// of the main stream, counter 0) and the main stream itself
// positioned at counter 1 so the caller can proceed to encrypt the
// payload starting where the key left off.
func (c *chachaCipher) polyKeyAndStream(seq uint32) (polyKey [32]byte, mainStream *chacha20.Cipher) {
	nonce := nonceFor(seq)
	mainStream, err := chacha20.NewUnauthenticatedCipher(c.mainKey[:], nonce[:])
	if err != nil {
		panic(err)
	}
	var zero [64]byte
	var block [64]byte
	mainStream.XORKeyStream(block[:], zero[:])
	copy(polyKey[:], block[:32])
	return polyKey, mainStream
}

// Seal encrypts rest (padding_length||payload||padding) for packet
// seq and appends ciphertext||tag to dst. encLen, the already-encrypted
// length field written ahead of this call, is folded into the
// authentication tag but is not re-encrypted.
func (c *chachaCipher) Seal(seq uint32, dst []byte, encLen [4]byte, rest []byte) []byte {
	polyKey, mainStream := c.polyKeyAndStream(seq)
	encRest := make([]byte, len(rest))
	mainStream.XORKeyStream(encRest, rest)

	var tagInput []byte
	tagInput = append(tagInput, encLen[:]...)
	tagInput = append(tagInput, encRest...)
	var tag [poly1305.TagSize]byte
	poly1305.Sum(&tag, tagInput, &polyKey)

	dst = append(dst, encRest...)
	dst = append(dst, tag[:]...)
	return dst
}

// Open authenticates sealed (ciphertext||tag) against encLen and
// decrypts it, appending the plaintext payload region to dst.
func (c *chachaCipher) Open(seq uint32, dst []byte, encLen [4]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < poly1305.TagSize {
		return nil, errors.New("chacha20poly1305: packet too short")
	}
	ciphertext := sealed[:len(sealed)-poly1305.TagSize]
	tag := sealed[len(sealed)-poly1305.TagSize:]

	polyKey, mainStream := c.polyKeyAndStream(seq)

	var tagInput []byte
	tagInput = append(tagInput, encLen[:]...)
	tagInput = append(tagInput, ciphertext...)
	var expected [poly1305.TagSize]byte
	poly1305.Sum(&expected, tagInput, &polyKey)
	if subtle.ConstantTimeCompare(expected[:], tag) != 1 {
		return nil, errors.New("chacha20poly1305: mac mismatch")
	}

	plain := make([]byte, len(ciphertext))
	mainStream.XORKeyStream(plain, ciphertext)
	return append(dst, plain...), nil
}
