package packet

import (
	"math/big"
	"testing"
)

func TestBufferPrimitivesRoundTrip(t *testing.T) {
	b := New()
	b.PutByte(0x42).
		PutBoolean(true).
		PutBoolean(false).
		PutUint32(0xdeadbeef).
		PutUint64(0x0102030405060708).
		PutString("hello").
		PutBytes([]byte{1, 2, 3}).
		PutNameList([]string{"curve25519-sha256", "ssh-ed25519"})

	r := FromBytes(b.Bytes())

	if v, err := r.ReadByte(); err != nil || v != 0x42 {
		t.Fatalf("ReadByte = %v, %v", v, err)
	}
	if v, err := r.ReadBoolean(); err != nil || v != true {
		t.Fatalf("ReadBoolean #1 = %v, %v", v, err)
	}
	if v, err := r.ReadBoolean(); err != nil || v != false {
		t.Fatalf("ReadBoolean #2 = %v, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xdeadbeef {
		t.Fatalf("ReadUint32 = %x, %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadUint64 = %x, %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello" {
		t.Fatalf("ReadString = %q, %v", v, err)
	}
	if v, err := r.ReadBytes(); err != nil || string(v) != "\x01\x02\x03" {
		t.Fatalf("ReadBytes = %x, %v", v, err)
	}
	names, err := r.ReadNameList()
	if err != nil || len(names) != 2 || names[0] != "curve25519-sha256" || names[1] != "ssh-ed25519" {
		t.Fatalf("ReadNameList = %v, %v", names, err)
	}
	if r.Available() != 0 {
		t.Fatalf("expected buffer exhausted, %d bytes left", r.Available())
	}
}

func TestBufferMPIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, 127, 128, 255, 256, -1, -128, -129, 1234567890123}
	for _, c := range cases {
		b := New()
		b.PutMPInt(big.NewInt(c))
		r := FromBytes(b.Bytes())
		got, err := r.ReadMPInt()
		if err != nil {
			t.Fatalf("ReadMPInt(%d): %v", c, err)
		}
		if got.Int64() != c {
			t.Fatalf("ReadMPInt(%d) = %d", c, got.Int64())
		}
	}
}

func TestBufferSavedReadPosition(t *testing.T) {
	b := New()
	b.PutString("partial")
	r := FromBytes(b.Bytes()[:5]) // truncate mid-string

	saved := r.RPos()
	if _, err := r.ReadString(); err == nil {
		t.Fatalf("expected underflow on truncated buffer")
	}
	r.SetRPos(saved)
	if r.RPos() != saved {
		t.Fatalf("SetRPos did not restore position")
	}
}

func TestBufferUnderflow(t *testing.T) {
	r := FromBytes(nil)
	if _, err := r.ReadByte(); err != ErrBufferUnderflow {
		t.Fatalf("expected ErrBufferUnderflow, got %v", err)
	}
}
