package algorithms

import (
	"crypto/sha256"
	"errors"
	"hash"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"

	"github.com/jpillora/sshtransport/transport"
)

// curve25519SHA256 implements curve25519-sha256 (RFC 8731): an
// elliptic-curve Diffie-Hellman exchange over Curve25519, hashed with
// SHA-256 for the exchange hash and key derivation.
type curve25519SHA256 struct {
	private [32]byte
}

// NewCurve25519SHA256 returns a fresh curve25519-sha256 KexMethod.
// Call once per kex attempt; it is stateful between Init and Finish.
func NewCurve25519SHA256() transport.KexMethod { return &curve25519SHA256{} }

func (k *curve25519SHA256) Name() string { return "curve25519-sha256" }

func (k *curve25519SHA256) Init(rand io.Reader) ([]byte, error) {
	if _, err := io.ReadFull(rand, k.private[:]); err != nil {
		return nil, err
	}
	public, err := curve25519.X25519(k.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return public, nil
}

func (k *curve25519SHA256) Finish(peerPublic []byte) (*big.Int, error) {
	if len(peerPublic) != 32 {
		return nil, errors.New("curve25519: bad peer public value length")
	}
	shared, err := curve25519.X25519(k.private[:], peerPublic)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(shared), nil
}

func (k *curve25519SHA256) Hash() hash.Hash { return sha256.New() }
