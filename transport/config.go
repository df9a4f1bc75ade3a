package transport

import (
	"hash"
	"io"
	"log/slog"
	"math/big"
)

// Cipher is a stateful, per-direction symmetric cipher instance. Two
// are created for every kex completion: one for outbound traffic, one
// for inbound. Traditional block/stream ciphers implement XORKeyStream
// and pair with a separate MAC; AEAD ciphers (e.g.
// chacha20-poly1305@openssh.com) implement AEAD() instead and supply
// their own integrity, making the paired MAC algorithm "none".
type Cipher interface {
	// BlockSize is the cipher's block size, used to compute padding;
	// Encoder/Decoder treat anything less than 8 as 8 per RFC 4253 §6.
	BlockSize() int
	// XORKeyStream encrypts (or decrypts; the operation is symmetric
	// for stream ciphers) src into dst for packet sequence number seq.
	// Ignored for AEAD ciphers.
	XORKeyStream(seq uint32, dst, src []byte)
	// AEAD returns the AEAD view of this cipher, or nil if this is a
	// traditional cipher that must be paired with a separate MAC.
	AEAD() AEADCipher
}

// AEADCipher is implemented by ciphers that provide combined
// encryption and integrity, such as chacha20-poly1305@openssh.com. The
// 4-byte packet length field is encrypted/decrypted separately from
// the sealed payload, mirroring how that algorithm uses two
// independently-keyed chacha20 streams.
type AEADCipher interface {
	TagSize() int
	EncryptLength(seq uint32, length uint32) [4]byte
	DecryptLength(seq uint32, enc [4]byte) uint32
	// Seal encrypts and authenticates rest (padding_length||payload||
	// padding) for packet seq, whose already-encrypted length field is
	// encLen, appending dst with ciphertext||tag. encLen is folded into
	// the authentication tag but is not itself re-encrypted here.
	Seal(seq uint32, dst []byte, encLen [4]byte, rest []byte) []byte
	// Open authenticates and decrypts sealed (ciphertext||tag, excluding
	// the length field already handled by DecryptLength) against encLen,
	// appending the plaintext to dst.
	Open(seq uint32, dst []byte, encLen [4]byte, sealed []byte) ([]byte, error)
}

// CipherFactory describes a negotiable cipher algorithm and manufactures
// per-direction Cipher instances once the key exchanger has derived key
// material.
type CipherFactory interface {
	Name() string
	KeySize() int
	IVSize() int
	New(key, iv []byte) Cipher
}

// MAC is a stateful, per-direction message authentication code.
type MAC interface {
	Size() int
	// Compute returns the MAC over seq (big-endian uint32) followed by
	// packet, the unencrypted packet_length||padding_length||payload||
	// padding region.
	Compute(seq uint32, packet []byte) []byte
}

// MACFactory describes a negotiable MAC algorithm.
type MACFactory interface {
	Name() string
	KeySize() int
	New(key []byte) MAC
}

// Compressor (de)compresses packet payloads. "Delayed" compressors
// (zlib@openssh.com) must not be used until the session is
// authenticated; Encoder/Decoder gate that via SetAuthenticated.
type Compressor interface {
	Name() string
	Delayed() bool
	Compress(in []byte) ([]byte, error)
	Decompress(in []byte) ([]byte, error)
}

// KexMethod drives the math of one key-exchange algorithm
// (curve25519-sha256 and friends). The KeyExchanger owns the message
// flow; KexMethod only does the Diffie-Hellman-family computation and
// provides the hash used for the exchange hash and key derivation.
type KexMethod interface {
	Name() string
	// Init generates an ephemeral key pair and returns the public value
	// to send to the peer.
	Init(rand io.Reader) (clientPublic []byte, err error)
	// Finish computes the shared secret given the peer's public value.
	Finish(peerPublic []byte) (sharedSecret *big.Int, err error)
	// Hash returns a fresh hash instance for exchange-hash/KDF use.
	Hash() hash.Hash
}

// PublicKey is a parsed host key, able to verify a signature over
// arbitrary data.
type PublicKey interface {
	Verify(data, sig []byte) error
	Marshal() []byte
}

// HostKeyAlgorithm parses the host key blob format it names (e.g.
// "ssh-ed25519") into a verifiable PublicKey.
type HostKeyAlgorithm interface {
	Name() string
	ParsePublicKey(blob []byte) (PublicKey, error)
}

// HostKeyVerifier is invoked with the server's presented host key; kex
// fails unless at least one registered verifier returns true.
type HostKeyVerifier func(hostname string, port int, key PublicKey) bool

// AlgorithmRegistry is the set of algorithms a Session is willing to
// negotiate, keyed by wire name, in preference order.
type AlgorithmRegistry struct {
	KexMethods  []func() KexMethod
	HostKeys    []HostKeyAlgorithm
	Ciphers     []CipherFactory
	MACs        []MACFactory
	Compressors []Compressor
}

func (r *AlgorithmRegistry) kexNames() []string {
	names := make([]string, len(r.KexMethods))
	for i, f := range r.KexMethods {
		names[i] = f().Name()
	}
	return names
}

func (r *AlgorithmRegistry) hostKeyNames() []string {
	names := make([]string, len(r.HostKeys))
	for i, h := range r.HostKeys {
		names[i] = h.Name()
	}
	return names
}

func (r *AlgorithmRegistry) cipherNames() []string {
	names := make([]string, len(r.Ciphers))
	for i, c := range r.Ciphers {
		names[i] = c.Name()
	}
	return names
}

func (r *AlgorithmRegistry) macNames() []string {
	names := make([]string, len(r.MACs))
	for i, m := range r.MACs {
		names[i] = m.Name()
	}
	return names
}

func (r *AlgorithmRegistry) compressorNames() []string {
	names := make([]string, len(r.Compressors))
	for i, c := range r.Compressors {
		names[i] = c.Name()
	}
	return names
}

func (r *AlgorithmRegistry) findKex(name string) func() KexMethod {
	for _, f := range r.KexMethods {
		if f().Name() == name {
			return f
		}
	}
	return nil
}

func (r *AlgorithmRegistry) findHostKey(name string) HostKeyAlgorithm {
	for _, h := range r.HostKeys {
		if h.Name() == name {
			return h
		}
	}
	return nil
}

func (r *AlgorithmRegistry) findCipher(name string) CipherFactory {
	for _, c := range r.Ciphers {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (r *AlgorithmRegistry) findMAC(name string) MACFactory {
	for _, m := range r.MACs {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

func (r *AlgorithmRegistry) findCompressor(name string) Compressor {
	for _, c := range r.Compressors {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Config collects the pieces a Session needs that are outside this
// package's concern: the client software version string, the random
// source, the negotiable algorithm set, logging, and tunables.
type Config struct {
	// Version is the "softwareversion" portion of the client ID string,
	// e.g. "sshtransport_1.0". The resulting identification string is
	// "SSH-2.0-<Version>".
	Version string

	// Random is the source of padding bytes and ephemeral kex secrets.
	// Defaults to crypto/rand.Reader.
	Random io.Reader

	// Algorithms is the negotiable algorithm set, in preference order.
	Algorithms AlgorithmRegistry

	// Timeout bounds latch waits (reqService, and future rekey waits),
	// in seconds. Defaults to 30.
	Timeout int

	// HeartbeatInterval is the keepalive period in seconds; 0 disables
	// the heartbeater.
	HeartbeatInterval int

	// Logger receives structured transport logs. Defaults to a
	// discarding logger.
	Logger *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(discardHandler{})
}

func (c *Config) random() io.Reader {
	if c.Random != nil {
		return c.Random
	}
	return cryptoRandReader
}

func (c *Config) timeout() int {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30
}
