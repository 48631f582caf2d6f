package webchan

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Compressor is a value-level descriptor for a gRPC-Web compression
// algorithm: a name matching the grpc-encoding / grpc-accept-encoding
// registry token, plus the functions that compress and decompress a whole
// envelope payload. There is no compressor interface or base type; a new
// algorithm is just another Compressor value.
type Compressor struct {
	Name       string
	Compress   func([]byte) ([]byte, error)
	Decompress func([]byte, int) ([]byte, error)
}

// IdentityCompressor is always supported and never appears in
// Grpc-Accept-Encoding, since it is the implicit default.
var IdentityCompressor = Compressor{
	Name:       "identity",
	Compress:   func(b []byte) ([]byte, error) { return b, nil },
	Decompress: func(b []byte, _ int) ([]byte, error) { return b, nil },
}

// GzipCompressor compresses with gzip at the default level.
var GzipCompressor = Compressor{
	Name: "gzip",
	Compress: func(b []byte) ([]byte, error) {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
	Decompress: func(b []byte, maxBytes int) ([]byte, error) {
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, status.Errorf(codes.Internal, "gzip: %v", err)
		}
		defer r.Close()
		return readBounded(r, maxBytes)
	},
}

// BrotliCompressor compresses with brotli at the default quality.
var BrotliCompressor = Compressor{
	Name: "br",
	Compress: func(b []byte) ([]byte, error) {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
	Decompress: func(b []byte, maxBytes int) ([]byte, error) {
		r := brotli.NewReader(bytes.NewReader(b))
		return readBounded(r, maxBytes)
	},
}

// readBounded reads r to completion, failing with ResourceExhausted if the
// decompressed size would exceed maxBytes. maxBytes <= 0 means no limit.
// Reading one byte past the limit (rather than trusting any length the
// compressed stream claims) is what guards against a decompression bomb.
func readBounded(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	lr := io.LimitReader(r, int64(maxBytes)+1)
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "decompress: %v", err)
	}
	if len(b) > maxBytes {
		return nil, status.Errorf(codes.ResourceExhausted, "decompressed envelope exceeds max of %d bytes", maxBytes)
	}
	return b, nil
}

// compressors is the built-in registry, keyed by grpc-encoding token.
var compressors = map[string]Compressor{
	IdentityCompressor.Name: IdentityCompressor,
	GzipCompressor.Name:     GzipCompressor,
	BrotliCompressor.Name:   BrotliCompressor,
}

// LookupCompressor returns the built-in Compressor for name, if any.
func LookupCompressor(name string) (Compressor, bool) {
	c, ok := compressors[name]
	return c, ok
}

// compressEnvelope applies sendCompression to env in place, honoring
// compressMinBytes: payloads smaller than the threshold are left
// uncompressed and the compressed flag is cleared, even if a compressor is
// configured.
func compressEnvelope(env Envelope, sendCompression *Compressor, compressMinBytes int) (Envelope, error) {
	env.Flags &^= FlagCompressed
	if sendCompression == nil || len(env.Payload) < compressMinBytes {
		return env, nil
	}
	compressed, err := sendCompression.Compress(env.Payload)
	if err != nil {
		return Envelope{}, status.Errorf(codes.Internal, "compress: %v", err)
	}
	env.Payload = compressed
	env.Flags |= FlagCompressed
	return env, nil
}

// decompressEnvelope reverses compressEnvelope using the descriptor
// negotiated from the response's Grpc-Encoding header. It is a no-op for
// trailer envelopes and for envelopes without the compressed bit set.
func decompressEnvelope(env Envelope, responseCompression *Compressor, readMaxBytes int) (Envelope, error) {
	if env.IsSet(FlagTrailer) || !env.IsSet(FlagCompressed) {
		return env, nil
	}
	if responseCompression == nil {
		return Envelope{}, status.Error(codes.Internal, "received compressed envelope but no grpc-encoding was negotiated")
	}
	payload, err := responseCompression.Decompress(env.Payload, readMaxBytes)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = payload
	env.Flags &^= FlagCompressed
	return env, nil
}
