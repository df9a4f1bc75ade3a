package algorithms

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/jpillora/sshtransport/transport"
)

// zlibDelayed implements zlib@openssh.com: identical wire format to
// zlib, but per RFC 4253/OpenSSH convention must not actually compress
// anything until the session is authenticated (Encoder/Decoder gate
// this via Delayed()). A single Compressor instance is shared for the
// life of the cipher direction, since zlib streams carry state across
// packets.
type zlibDelayed struct {
	mu sync.Mutex
	w  *zlib.Writer
	wb bytes.Buffer
	r  io.ReadCloser
	rb *bytes.Buffer
}

func newZlibDelayed() *zlibDelayed {
	z := &zlibDelayed{rb: &bytes.Buffer{}}
	z.w = zlib.NewWriter(&z.wb)
	return z
}

func (z *zlibDelayed) Name() string  { return "zlib@openssh.com" }
func (z *zlibDelayed) Delayed() bool { return true }

func (z *zlibDelayed) Compress(in []byte) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.wb.Reset()
	if _, err := z.w.Write(in); err != nil {
		return nil, err
	}
	if err := z.w.Flush(); err != nil {
		return nil, err
	}
	out := make([]byte, z.wb.Len())
	copy(out, z.wb.Bytes())
	return out, nil
}

// Decompress assumes each call's input ends on a flush boundary
// produced by the peer's Compress (true for SSH_MSG_IGNORE-style
// heartbeats and any payload the peer compressor flushed per-packet);
// a peer that batches writes across packet boundaries without
// flushing would need a blocking reader instead of this bytes.Buffer.
func (z *zlibDelayed) Decompress(in []byte) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.rb.Write(in)
	if z.r == nil {
		r, err := zlib.NewReader(z.rb)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		z.r = r
	}
	var out bytes.Buffer
	if _, err := io.Copy(&out, z.r); err != nil && err != io.EOF {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	return out.Bytes(), nil
}

// NewZlibDelayed returns a fresh zlib@openssh.com Compressor instance.
// Call once per direction per kex completion; do not share across
// directions.
func NewZlibDelayed() transport.Compressor { return newZlibDelayed() }
