package transport

import (
	"bytes"
	"crypto/sha256"
	"hash"
	"io"
	"math/big"
	"testing"

	"github.com/jpillora/sshtransport/transport/packet"
)

func TestNegotiatePicksFirstLocalPreferenceMatch(t *testing.T) {
	cases := []struct {
		local, remote []string
		want          string
	}{
		{[]string{"a", "b", "c"}, []string{"c", "b"}, "b"},
		{[]string{"a", "b"}, []string{"z"}, ""},
		{[]string{"only"}, []string{"only"}, "only"},
		{nil, []string{"x"}, ""},
	}
	for _, c := range cases {
		got := negotiate(c.local, c.remote)
		if got != c.want {
			t.Errorf("negotiate(%v, %v) = %q, want %q", c.local, c.remote, got, c.want)
		}
	}
}

func buildKexInitPayload(f kexInitFields) []byte {
	buf := packet.New()
	buf.PutByte(byte(MsgKexInit))
	buf.PutRaw(make([]byte, 16))
	buf.PutNameList(f.kexAlgorithms)
	buf.PutNameList(f.serverHostKeyAlgorithms)
	buf.PutNameList(f.encC2S)
	buf.PutNameList(f.encS2C)
	buf.PutNameList(f.macC2S)
	buf.PutNameList(f.macS2C)
	buf.PutNameList(f.compC2S)
	buf.PutNameList(f.compS2C)
	buf.PutNameList(nil)
	buf.PutNameList(nil)
	buf.PutBoolean(false)
	buf.PutUint32(0)
	return buf.Bytes()
}

func TestParseKexInitRoundTrip(t *testing.T) {
	want := kexInitFields{
		kexAlgorithms:           []string{"curve25519-sha256"},
		serverHostKeyAlgorithms: []string{"ssh-ed25519"},
		encC2S:                  []string{"chacha20-poly1305@openssh.com"},
		encS2C:                  []string{"chacha20-poly1305@openssh.com"},
		macC2S:                  []string{"hmac-sha2-256"},
		macS2C:                  []string{"hmac-sha2-256"},
		compC2S:                 []string{"none"},
		compS2C:                 []string{"none"},
	}
	raw := buildKexInitPayload(want)

	got, err := parseKexInit(raw)
	if err != nil {
		t.Fatalf("parseKexInit: %v", err)
	}
	if !slicesEqual(got.kexAlgorithms, want.kexAlgorithms) ||
		!slicesEqual(got.serverHostKeyAlgorithms, want.serverHostKeyAlgorithms) ||
		!slicesEqual(got.encC2S, want.encC2S) ||
		!slicesEqual(got.macC2S, want.macC2S) ||
		!slicesEqual(got.compC2S, want.compC2S) {
		t.Errorf("parseKexInit round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestParseKexInitTooShort(t *testing.T) {
	if _, err := parseKexInit([]byte{byte(MsgKexInit), 1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated KEXINIT")
	}
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sha256KexMethod is a minimal KexMethod stand-in so deriveKey/
// deriveAllKeys can be tested without pulling in a real DH
// implementation; only Hash is exercised by these tests.
type sha256KexMethod struct{}

func (sha256KexMethod) Name() string                    { return "sha256-test" }
func (sha256KexMethod) Init(io.Reader) ([]byte, error)  { return nil, nil }
func (sha256KexMethod) Finish([]byte) (*big.Int, error) { return nil, nil }
func (sha256KexMethod) Hash() hash.Hash                 { return sha256.New() }

func TestDeriveKeyIsDeterministicAndLengthBound(t *testing.T) {
	secret := big.NewInt(123456789)
	exchangeHash := []byte("exchange-hash")
	sessionID := []byte("session-id")
	var m sha256KexMethod

	k1 := deriveKey(m, secret, exchangeHash, 'A', sessionID, 16)
	k2 := deriveKey(m, secret, exchangeHash, 'A', sessionID, 16)
	if !bytes.Equal(k1, k2) {
		t.Fatal("deriveKey is not deterministic for identical inputs")
	}
	if len(k1) != 16 {
		t.Fatalf("len(k1) = %d, want 16", len(k1))
	}

	kOther := deriveKey(m, secret, exchangeHash, 'B', sessionID, 16)
	if bytes.Equal(k1, kOther) {
		t.Fatal("deriveKey produced identical output for different letters")
	}

	long := deriveKey(m, secret, exchangeHash, 'A', sessionID, 100)
	if len(long) != 100 {
		t.Fatalf("len(long) = %d, want 100 (extension blocks)", len(long))
	}
	if !bytes.Equal(long[:16], k1) {
		t.Fatal("extended derivation does not share the first block's prefix")
	}
}

func TestDeriveKeyZeroLength(t *testing.T) {
	var m sha256KexMethod
	if got := deriveKey(m, big.NewInt(1), nil, 'A', nil, 0); got != nil {
		t.Fatalf("deriveKey with length 0 = %v, want nil", got)
	}
}

func TestDeriveAllKeysAssignsDistinctSlots(t *testing.T) {
	var m sha256KexMethod
	secret := big.NewInt(42)
	exchangeHash := []byte("hash")
	sessionID := []byte("sid")

	outKey, outIV, outMAC, inKey, inIV, inMAC := deriveAllKeys(m, secret, exchangeHash, sessionID,
		16, 8, 20, 16, 8, 20)

	all := [][]byte{outIV, inIV, outKey, inKey, outMAC, inMAC}
	for i := range all {
		for j := range all {
			if i == j {
				continue
			}
			if bytes.Equal(all[i], all[j]) {
				t.Fatalf("slots %d and %d collided", i, j)
			}
		}
	}
}
