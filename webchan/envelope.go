package webchan

import (
	"encoding/binary"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FlagCompressed marks an envelope whose payload has been compressed with
// the compressor named by the call's Grpc-Encoding header.
const FlagCompressed byte = 1 << 0

// FlagTrailer marks an envelope as the special trailer envelope. Per the
// gRPC-Web protocol, its payload is an HTTP/1-style header block rather than
// a serialized message. It is always the last envelope on the wire.
const FlagTrailer byte = 1 << 7

// knownFlags are the flag bits this package understands. Any other bit set
// on a received envelope is a protocol error.
const knownFlags = FlagCompressed | FlagTrailer

// envelopeHeaderLen is the size, in bytes, of an envelope's flags+length
// prefix: one flags byte followed by a 4-byte big-endian payload length.
const envelopeHeaderLen = 5

// Envelope is a single length-prefixed frame of the gRPC-Web wire format:
// one flags byte, a 4-byte big-endian payload length, then the payload.
type Envelope struct {
	Flags   byte
	Payload []byte
}

// IsSet reports whether the given flag bit is set.
func (e Envelope) IsSet(flag byte) bool {
	return e.Flags&flag != 0
}

// EnvelopeWriter serializes Envelopes onto an underlying io.Writer, failing
// any envelope whose payload exceeds maxBytes. maxBytes <= 0 means no limit.
type EnvelopeWriter struct {
	w        io.Writer
	maxBytes int
}

// NewEnvelopeWriter returns an EnvelopeWriter that writes framed envelopes to w.
func NewEnvelopeWriter(w io.Writer, maxBytes int) *EnvelopeWriter {
	return &EnvelopeWriter{w: w, maxBytes: maxBytes}
}

// Write serializes and writes a single envelope. If the underlying writer
// implements http.Flusher, it is flushed afterward so streamed envelopes
// reach the peer promptly.
func (ew *EnvelopeWriter) Write(env Envelope) error {
	if ew.maxBytes > 0 && len(env.Payload) > ew.maxBytes {
		return status.Errorf(codes.ResourceExhausted, "envelope payload too large: %d bytes (max %d)", len(env.Payload), ew.maxBytes)
	}
	var hdr [envelopeHeaderLen]byte
	hdr[0] = env.Flags
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(env.Payload)))
	if _, err := ew.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(env.Payload) > 0 {
		if _, err := ew.w.Write(env.Payload); err != nil {
			return err
		}
	}
	if f, ok := ew.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

type flusher interface {
	Flush()
}

// EnvelopeReader splits a byte stream into Envelopes, buffering only as much
// as is needed to assemble the next frame. Payloads larger than maxBytes
// fail with ResourceExhausted; an incomplete final frame fails as a
// protocol error ("premature end of stream"). maxBytes <= 0 means no limit.
type EnvelopeReader struct {
	r        io.Reader
	maxBytes int
}

// NewEnvelopeReader returns an EnvelopeReader that reads framed envelopes from r.
func NewEnvelopeReader(r io.Reader, maxBytes int) *EnvelopeReader {
	return &EnvelopeReader{r: r, maxBytes: maxBytes}
}

// Next reads and returns the next envelope. It returns io.EOF if the
// underlying stream ended cleanly between envelopes (i.e. with no partial
// frame buffered).
func (er *EnvelopeReader) Next() (Envelope, error) {
	var hdr [envelopeHeaderLen]byte
	if _, err := io.ReadFull(er.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Envelope{}, status.Errorf(codes.InvalidArgument, "protocol error: premature end of stream")
		}
		return Envelope{}, err
	}
	flags := hdr[0]
	if flags&^knownFlags != 0 {
		return Envelope{}, status.Errorf(codes.InvalidArgument, "protocol error: unknown envelope flags %#x", flags)
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if er.maxBytes > 0 && int64(size) > int64(er.maxBytes) {
		return Envelope{}, status.Errorf(codes.ResourceExhausted, "envelope payload too large: %d bytes (max %d)", size, er.maxBytes)
	}
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(er.r, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return Envelope{}, status.Errorf(codes.InvalidArgument, "protocol error: premature end of stream")
			}
			return Envelope{}, err
		}
	}
	return Envelope{Flags: flags, Payload: payload}, nil
}
