// Package algorithms provides concrete implementations of the
// transport package's negotiable capability interfaces (Cipher, MAC,
// Compressor, KexMethod, HostKeyAlgorithm) and a Default registry that
// wires them together in a sensible preference order.
package algorithms

import "github.com/jpillora/sshtransport/transport"

// noneCipher, noneMAC and noneCompressor are provided for test
// harnesses that want a legible wire format; of the three, Default
// includes only noneCompressor.

type noneCipherFactory struct{}

func (noneCipherFactory) Name() string                        { return "none" }
func (noneCipherFactory) KeySize() int                        { return 0 }
func (noneCipherFactory) IVSize() int                         { return 0 }
func (noneCipherFactory) New(key, iv []byte) transport.Cipher { return noneCipher{} }

type noneCipher struct{}

func (noneCipher) BlockSize() int                           { return 8 }
func (noneCipher) XORKeyStream(seq uint32, dst, src []byte) { copy(dst, src) }
func (noneCipher) AEAD() transport.AEADCipher               { return nil }

// NoneCipher is the identity cipher factory, useful only for local
// testing (the sshtest harness does not offer it).
var NoneCipher transport.CipherFactory = noneCipherFactory{}

type noneMACFactory struct{}

func (noneMACFactory) Name() string                 { return "none" }
func (noneMACFactory) KeySize() int                 { return 0 }
func (noneMACFactory) New(key []byte) transport.MAC { return noneMAC{} }

type noneMAC struct{}

func (noneMAC) Size() int                                { return 0 }
func (noneMAC) Compute(seq uint32, packet []byte) []byte { return nil }

// NoneMAC is the no-op MAC factory.
var NoneMAC transport.MACFactory = noneMACFactory{}

type noneCompressor struct{}

func (noneCompressor) Name() string                         { return "none" }
func (noneCompressor) Delayed() bool                        { return false }
func (noneCompressor) Compress(in []byte) ([]byte, error)   { return in, nil }
func (noneCompressor) Decompress(in []byte) ([]byte, error) { return in, nil }

// NoneCompressor is the identity compressor.
var NoneCompressor transport.Compressor = noneCompressor{}
