package transport

// noneCipher is the identity cipher, used before the first kex
// completes. A negotiated "none" cipher is supplied by the algorithms
// package instead, not by this type.
type noneCipher struct{}

func (noneCipher) BlockSize() int { return 8 }
func (noneCipher) XORKeyStream(seq uint32, dst, src []byte) {
	copy(dst, src)
}
func (noneCipher) AEAD() AEADCipher { return nil }

// noneMAC computes no authentication tag.
type noneMAC struct{}

func (noneMAC) Size() int                                { return 0 }
func (noneMAC) Compute(seq uint32, packet []byte) []byte { return nil }

// noneCompressor passes payloads through unchanged.
type noneCompressor struct{}

func (noneCompressor) Name() string                         { return "none" }
func (noneCompressor) Delayed() bool                        { return false }
func (noneCompressor) Compress(in []byte) ([]byte, error)   { return in, nil }
func (noneCompressor) Decompress(in []byte) ([]byte, error) { return in, nil }
