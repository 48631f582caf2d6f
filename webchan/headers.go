package webchan

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	headerContentType      = "Content-Type"
	headerGrpcWeb          = "X-Grpc-Web"
	headerTE               = "Te"
	headerGrpcTimeout      = "Grpc-Timeout"
	headerGrpcEncoding     = "Grpc-Encoding"
	headerGrpcAcceptEncode = "Grpc-Accept-Encoding"
	contentTypePrefix      = "application/grpc-web"
)

// buildRequestHeaders assembles the HTTP request headers for a call:
// content type for the negotiated wire format, the gRPC-Web marker, a
// Grpc-Timeout derived from ctx's deadline (if any), compression
// negotiation headers, then the caller's own metadata merged in last so it
// wins on any conflict, except for the reservedRequestHeaders, which the
// transport always controls.
func buildRequestHeaders(ctx context.Context, o *Options) http.Header {
	h := http.Header{}
	h.Set(headerContentType, contentTypePrefix+"+"+messageFormat(o.useBinaryFormat))
	h.Set(headerGrpcWeb, "1")
	h.Set(headerTE, "trailers")

	if deadline, ok := ctx.Deadline(); ok {
		if v := grpcTimeoutValue(deadline); v != "" {
			h.Set(headerGrpcTimeout, v)
		}
	}
	if o.sendCompression != nil {
		h.Set(headerGrpcEncoding, o.sendCompression.Name)
	}
	if v := o.acceptCompressionHeader(); v != "" {
		h.Set(headerGrpcAcceptEncode, v)
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		toHTTPHeaders(md, h)
	}
	return h
}

// grpcTimeoutValue renders the time remaining until deadline as a
// Grpc-Timeout value, choosing the coarsest unit (H, M, S, m, u, n) that
// keeps the numeric value under 8 digits, per the gRPC wire format.
func grpcTimeoutValue(deadline time.Time) string {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"H", time.Hour},
		{"M", time.Minute},
		{"S", time.Second},
		{"m", time.Millisecond},
		{"u", time.Microsecond},
		{"n", time.Nanosecond},
	}
	for _, u := range units {
		n := remaining / u.unit
		if n > 0 && n < 1e8 {
			return strconv.FormatInt(int64(n), 10) + u.suffix
		}
	}
	return strconv.FormatInt(int64(remaining), 10) + "n"
}

var reservedRequestHeaders = map[string]struct{}{
	"accept-encoding":   {},
	"connection":        {},
	"content-type":      {},
	"content-length":    {},
	"keep-alive":        {},
	"te":                {},
	"trailer":           {},
	"transfer-encoding": {},
	"upgrade":           {},
}

// toHTTPHeaders copies outgoing gRPC metadata into h, replacing any value
// already set under the same name, base64-encoding "-bin" suffixed values
// and skipping reserved HTTP headers that the transport itself controls.
func toHTTPHeaders(md metadata.MD, h http.Header) {
	for k, vs := range md {
		lowerK := strings.ToLower(k)
		if _, ok := reservedRequestHeaders[lowerK]; ok {
			continue
		}
		h.Del(lowerK)
		for _, v := range vs {
			if strings.HasSuffix(lowerK, "-bin") {
				v = base64.StdEncoding.EncodeToString([]byte(v))
			}
			h.Add(lowerK, v)
		}
	}
}

// responseInfo is the outcome of validateResponse: how to interpret the
// rest of the response.
type responseInfo struct {
	// compression is the negotiated decoder for inbound message envelopes,
	// or nil for identity.
	compression *Compressor
	// foundStatus is true for a trailers-only response: grpc-status arrived
	// in the HTTP headers themselves and the body carries nothing.
	foundStatus bool
	// trailer holds the trailers-only grpc-status/grpc-message/etc, valid
	// only when foundStatus is true.
	trailer metadata.MD
}

// validateResponse classifies an HTTP response per the gRPC-Web contract:
// checks the HTTP status, the content-type's format suffix, negotiates
// compression from Grpc-Encoding, and detects a trailers-only response.
func validateResponse(resp *http.Response, o *Options) (responseInfo, error) {
	if resp.StatusCode != http.StatusOK {
		code := codeFromHTTPStatus(resp.StatusCode)
		return responseInfo{}, status.Error(code, http.StatusText(resp.StatusCode))
	}

	ct := resp.Header.Get(headerContentType)
	if ct != "" {
		format, err := formatFromContentType(ct)
		if err != nil {
			return responseInfo{}, err
		}
		if format != messageFormat(o.useBinaryFormat) {
			return responseInfo{}, status.Errorf(codes.Internal, "response content-type %q does not match request format", ct)
		}
	}

	var compression *Compressor
	if enc := resp.Header.Get(headerGrpcEncoding); enc != "" {
		c, ok := o.lookupAcceptedCompression(enc)
		if !ok {
			return responseInfo{}, status.Errorf(codes.Internal, "response grpc-encoding %q was not offered", enc)
		}
		compression = c
	}

	info := responseInfo{compression: compression}
	if statuses := resp.Header.Values("Grpc-Status"); len(statuses) > 0 {
		info.foundStatus = true
		info.trailer = metadata.MD{}
		for k, vs := range resp.Header {
			info.trailer[strings.ToLower(k)] = vs
		}
	}
	return info, nil
}

// headersToMetadata converts HTTP response headers into gRPC metadata,
// base64-decoding "-bin" suffixed values back to their raw form.
func headersToMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	for k, vs := range h {
		lowerK := strings.ToLower(k)
		for _, v := range vs {
			if strings.HasSuffix(lowerK, "-bin") {
				if raw, err := base64.StdEncoding.DecodeString(v); err == nil {
					v = string(raw)
				}
			}
			md[lowerK] = append(md[lowerK], v)
		}
	}
	return md
}

// formatFromContentType extracts the "proto" or "json" suffix from a
// gRPC-Web content-type, e.g. "application/grpc-web+proto". A bare
// "application/grpc-web" with no suffix is treated as the binary format.
func formatFromContentType(ct string) (string, error) {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	if !strings.HasPrefix(ct, contentTypePrefix) {
		return "", status.Errorf(codes.Unimplemented, "unsupported content-type %q", ct)
	}
	suffix := strings.TrimPrefix(ct, contentTypePrefix)
	if suffix == "" {
		return formatProto, nil
	}
	if !strings.HasPrefix(suffix, "+") {
		return "", status.Errorf(codes.Unimplemented, "unsupported content-type %q", ct)
	}
	format := strings.TrimPrefix(suffix, "+")
	if format != formatProto && format != formatJSON {
		return "", status.Errorf(codes.Unimplemented, "unsupported content-type %q", ct)
	}
	return format, nil
}
