package transport

import (
	"math/big"

	"github.com/jpillora/sshtransport/transport/packet"
)

// kexInitFields is the parsed form of a KEXINIT payload (RFC 4253 §7.1),
// excluding the message id and 16-byte cookie which the caller already
// consumed/re-attached for hashing purposes.
type kexInitFields struct {
	kexAlgorithms           []string
	serverHostKeyAlgorithms []string
	encC2S, encS2C          []string
	macC2S, macS2C          []string
	compC2S, compS2C        []string
}

// parseKexInit parses a raw KEXINIT payload, including its leading
// message-id byte and 16-byte cookie.
func parseKexInit(raw []byte) (*kexInitFields, error) {
	if len(raw) < 1+16 {
		return nil, newError(DisconnectProtocolError, "KEXINIT too short")
	}
	buf := packet.FromBytes(raw[1+16:])

	f := &kexInitFields{}
	var err error
	if f.kexAlgorithms, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	if f.serverHostKeyAlgorithms, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	if f.encC2S, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	if f.encS2C, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	if f.macC2S, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	if f.macS2C, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	if f.compC2S, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	if f.compS2C, err = buf.ReadNameList(); err != nil {
		return nil, err
	}
	// languages, first_kex_packet_follows, reserved: unused, ignored.
	return f, nil
}

// negotiate picks the first name in local (our preference order) that
// also appears in remote, returning "" if there is no overlap.
func negotiate(local, remote []string) string {
	for _, l := range local {
		for _, r := range remote {
			if l == r {
				return l
			}
		}
	}
	return ""
}

// deriveAllKeys runs the RFC 4253 §7.2 key derivation function for all
// six key material slots a completed kex needs, assigning letters per
// the client role (A/C/E are client-to-server IV/key/MAC, B/D/F are
// server-to-client).
func deriveAllKeys(
	kexMethod KexMethod, sharedSecret *big.Int, exchangeHash, sessionID []byte,
	outKeySize, outIVSize, outMACSize int,
	inKeySize, inIVSize, inMACSize int,
) (outKey, outIV, outMAC, inKey, inIV, inMAC []byte) {
	outIV = deriveKey(kexMethod, sharedSecret, exchangeHash, 'A', sessionID, outIVSize)
	inIV = deriveKey(kexMethod, sharedSecret, exchangeHash, 'B', sessionID, inIVSize)
	outKey = deriveKey(kexMethod, sharedSecret, exchangeHash, 'C', sessionID, outKeySize)
	inKey = deriveKey(kexMethod, sharedSecret, exchangeHash, 'D', sessionID, inKeySize)
	outMAC = deriveKey(kexMethod, sharedSecret, exchangeHash, 'E', sessionID, outMACSize)
	inMAC = deriveKey(kexMethod, sharedSecret, exchangeHash, 'F', sessionID, inMACSize)
	return
}

// deriveKey implements RFC 4253 §7.2: K1 = HASH(K || H || X || session_id),
// extended with HASH(K || H || K1 || ... || K(i-1)) until length bytes
// are available.
func deriveKey(kexMethod KexMethod, sharedSecret *big.Int, exchangeHash []byte, letter byte, sessionID []byte, length int) []byte {
	if length <= 0 {
		return nil
	}
	kBytes := packet.New().PutMPInt(sharedSecret).Bytes()

	h := kexMethod.Hash()
	h.Write(kBytes)
	h.Write(exchangeHash)
	h.Write([]byte{letter})
	h.Write(sessionID)
	out := h.Sum(nil)

	for len(out) < length {
		h := kexMethod.Hash()
		h.Write(kBytes)
		h.Write(exchangeHash)
		h.Write(out)
		out = append(out, h.Sum(nil)...)
	}
	return out[:length]
}
