package algorithms

import (
	"crypto/ed25519"
	"errors"

	"github.com/jpillora/sshtransport/transport"
	"github.com/jpillora/sshtransport/transport/packet"
)

// ed25519HostKey implements the ssh-ed25519 host key algorithm:
// parsing the RFC 4253 §6.6 / RFC 8709 public key blob and verifying
// signatures over the kex exchange hash.
type ed25519HostKey struct{}

// Ed25519 is the ssh-ed25519 host key algorithm.
var Ed25519 transport.HostKeyAlgorithm = ed25519HostKey{}

func (ed25519HostKey) Name() string { return "ssh-ed25519" }

func (ed25519HostKey) ParsePublicKey(blob []byte) (transport.PublicKey, error) {
	buf := packet.FromBytes(blob)
	name, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	if name != "ssh-ed25519" {
		return nil, errors.New("ssh-ed25519: unexpected key type " + name)
	}
	raw, err := buf.ReadBytes()
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("ssh-ed25519: bad public key length")
	}
	return &ed25519PublicKey{key: ed25519.PublicKey(raw)}, nil
}

type ed25519PublicKey struct {
	key ed25519.PublicKey
}

// Verify checks sig against data, where sig is the RFC 4253 §6.6
// signature blob: a name-prefixed "ssh-ed25519" string followed by the
// raw 64-byte signature.
func (k *ed25519PublicKey) Verify(data, sig []byte) error {
	buf := packet.FromBytes(sig)
	name, err := buf.ReadString()
	if err != nil {
		return err
	}
	if name != "ssh-ed25519" {
		return errors.New("ssh-ed25519: unexpected signature type " + name)
	}
	raw, err := buf.ReadBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(k.key, data, raw) {
		return errors.New("ssh-ed25519: signature verification failed")
	}
	return nil
}

func (k *ed25519PublicKey) Marshal() []byte {
	return packet.New().PutString("ssh-ed25519").PutBytes(k.key).Bytes()
}
