package algorithms

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"

	"github.com/jpillora/sshtransport/transport"
)

// hmacSHA256Factory implements hmac-sha2-256 (RFC 6668).
type hmacSHA256Factory struct{}

func (hmacSHA256Factory) Name() string { return "hmac-sha2-256" }
func (hmacSHA256Factory) KeySize() int { return sha256.Size }
func (hmacSHA256Factory) New(key []byte) transport.MAC {
	k := make([]byte, len(key))
	copy(k, key)
	return &hmacMAC{key: k, newHash: sha256.New}
}

// HMACSHA256 is the hmac-sha2-256 MAC factory.
var HMACSHA256 transport.MACFactory = hmacSHA256Factory{}

type hmacMAC struct {
	key     []byte
	newHash func() hash.Hash
}

func (m *hmacMAC) Size() int { return m.newHash().Size() }

// Compute returns HMAC(key, seq || packet) with seq as a big-endian
// uint32, per RFC 4253 §6.4.
func (m *hmacMAC) Compute(seq uint32, packet []byte) []byte {
	mac := hmac.New(m.newHash, m.key)
	var seqBytes [4]byte
	seqBytes[0] = byte(seq >> 24)
	seqBytes[1] = byte(seq >> 16)
	seqBytes[2] = byte(seq >> 8)
	seqBytes[3] = byte(seq)
	mac.Write(seqBytes[:])
	mac.Write(packet)
	return mac.Sum(nil)
}
