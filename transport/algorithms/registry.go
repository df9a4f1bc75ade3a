package algorithms

import "github.com/jpillora/sshtransport/transport"

// Default returns the algorithm registry a real client should use: one
// kex method, one host key algorithm, chacha20-poly1305@openssh.com
// (which needs no separate MAC; hmac-sha2-256 is still offered and
// negotiated, but unused while that cipher is in effect), and none for
// compression. zlib@openssh.com is not included.
func Default() transport.AlgorithmRegistry {
	return transport.AlgorithmRegistry{
		KexMethods: []func() transport.KexMethod{
			func() transport.KexMethod { return NewCurve25519SHA256() },
		},
		HostKeys: []transport.HostKeyAlgorithm{
			Ed25519,
		},
		Ciphers: []transport.CipherFactory{
			Chacha20Poly1305,
		},
		MACs: []transport.MACFactory{
			HMACSHA256,
		},
		Compressors: []transport.Compressor{
			NoneCompressor,
		},
	}
}
