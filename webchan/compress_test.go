package webchan

import (
	"bytes"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGzipCompressorRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("gRPC-Web envelope payload "), 50)

	compressed, err := GzipCompressor.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := GzipCompressor.Decompress(compressed, 0)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestBrotliCompressorRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("gRPC-Web envelope payload "), 50)

	compressed, err := BrotliCompressor.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := BrotliCompressor.Decompress(compressed, 0)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestDecompressBombGuard(t *testing.T) {
	payload := bytes.Repeat([]byte{0}, 1<<20)
	compressed, err := GzipCompressor.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	_, err = GzipCompressor.Decompress(compressed, 1024)
	if s, ok := status.FromError(err); !ok || s.Code() != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestCompressEnvelopeHonorsMinBytes(t *testing.T) {
	gz := GzipCompressor

	env, err := compressEnvelope(Envelope{Payload: []byte("short")}, &gz, 1024)
	if err != nil {
		t.Fatalf("compressEnvelope: %v", err)
	}
	if env.IsSet(FlagCompressed) {
		t.Fatalf("payload below compressMinBytes should not be compressed")
	}

	big := bytes.Repeat([]byte("x"), 2048)
	env, err = compressEnvelope(Envelope{Payload: big}, &gz, 1024)
	if err != nil {
		t.Fatalf("compressEnvelope: %v", err)
	}
	if !env.IsSet(FlagCompressed) {
		t.Fatalf("payload at/above compressMinBytes should be compressed")
	}
}

func TestCompressDecompressEnvelopeRoundTrip(t *testing.T) {
	gz := GzipCompressor
	payload := bytes.Repeat([]byte("round trip "), 200)

	env, err := compressEnvelope(Envelope{Payload: payload}, &gz, 0)
	if err != nil {
		t.Fatalf("compressEnvelope: %v", err)
	}
	if !env.IsSet(FlagCompressed) {
		t.Fatalf("expected compressed flag set")
	}

	got, err := decompressEnvelope(env, &gz, 0)
	if err != nil {
		t.Fatalf("decompressEnvelope: %v", err)
	}
	if got.IsSet(FlagCompressed) {
		t.Fatalf("expected compressed flag cleared after decompress")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressEnvelopeRequiresDescriptor(t *testing.T) {
	env := Envelope{Flags: FlagCompressed, Payload: []byte("whatever")}
	_, err := decompressEnvelope(env, nil, 0)
	if s, ok := status.FromError(err); !ok || s.Code() != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}
