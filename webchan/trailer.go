package webchan

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"net/textproto"
	"strconv"
	"strings"

	spbpb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

const (
	grpcStatusKey        = "grpc-status"
	grpcMessageKey       = "grpc-message"
	grpcStatusDetailsKey = "grpc-status-details-bin"
)

// serializeTrailer writes md as an HTTP/1-style header block: one
// "name: value\r\n" line per value, names lowercased. Names are written in
// map iteration order, so the order of names is not defined; the values of
// one name keep their order. It is the payload of the single trailer
// envelope.
func serializeTrailer(md metadata.MD) []byte {
	var buf bytes.Buffer
	for k, vs := range md {
		k = strings.ToLower(k)
		for _, v := range vs {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	return buf.Bytes()
}

// parseTrailer is the inverse of serializeTrailer. It tolerates CRLF or LF
// line endings and duplicate names, collecting repeated names into a list.
// net/textproto requires a trailing blank line to terminate a MIME header
// block, which a bare trailer payload does not have, so one is appended
// before parsing.
func parseTrailer(payload []byte) (metadata.MD, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(append(payload, '\r', '\n'))))
	hdr, err := r.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "protocol error: malformed trailer block: %v", err)
	}
	md := metadata.MD{}
	for k, vs := range hdr {
		md[strings.ToLower(k)] = vs
	}
	return md, nil
}

// validateTrailer extracts the call outcome from a trailer block, whether
// it arrived in-body or as a trailers-only response's headers. grpc-status
// must be present and parse as a non-negative integer; values above the
// known range are reported as codes.Unknown. A non-zero status yields a
// non-nil error carrying the code and grpc-message; if
// grpc-status-details-bin decodes, the error is instead built from that
// google.rpc.Status (its code, message and details). A zero status is
// success regardless of grpc-message.
func validateTrailer(md metadata.MD) error {
	statusStrs := md.Get(grpcStatusKey)
	if len(statusStrs) == 0 {
		return status.Error(codes.InvalidArgument, "protocol error: missing grpc-status in trailer")
	}
	code, err := strconv.ParseInt(statusStrs[0], 10, 32)
	if err != nil || code < 0 {
		return status.Errorf(codes.InvalidArgument, "protocol error: invalid grpc-status %q", statusStrs[0])
	}
	if code == int64(codes.OK) {
		return nil
	}
	if code > int64(codes.Unauthenticated) {
		code = int64(codes.Unknown)
	}

	msg := ""
	if msgs := md.Get(grpcMessageKey); len(msgs) > 0 {
		msg = decodeGrpcMessage(msgs[0])
	}

	st := status.New(codes.Code(code), msg)
	if details := md.Get(grpcStatusDetailsKey); len(details) > 0 {
		if sp := decodeStatusDetails(details[0]); sp != nil {
			return status.FromProto(sp).Err()
		}
	}
	return st.Err()
}

// decodeGrpcMessage reverses the percent-encoding gRPC servers apply to
// grpc-message values so the text can safely travel as a single HTTP
// header line.
func decodeGrpcMessage(msg string) string {
	if !strings.Contains(msg, "%") {
		return msg
	}
	var buf bytes.Buffer
	for i := 0; i < len(msg); i++ {
		if c := msg[i]; c == '%' && i+2 < len(msg) {
			if parsed, err := strconv.ParseUint(msg[i+1:i+3], 16, 8); err == nil {
				buf.WriteByte(byte(parsed))
				i += 2
				continue
			}
		}
		buf.WriteByte(msg[i])
	}
	return buf.String()
}

// decodeStatusDetails base64-decodes and unmarshals a grpc-status-details-bin
// value into a google.rpc.Status, returning nil on any decode failure so the
// caller can fall back to the plain grpc-status/grpc-message pair.
func decodeStatusDetails(encoded string) *spbpb.Status {
	var raw []byte
	var err error
	if len(encoded)%4 == 0 {
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			raw, err = base64.URLEncoding.DecodeString(encoded)
		}
	} else {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			raw, err = base64.RawURLEncoding.DecodeString(encoded)
		}
	}
	if err != nil {
		return nil
	}
	sp := &spbpb.Status{}
	if err := proto.Unmarshal(raw, sp); err != nil {
		return nil
	}
	return sp
}
