// Package webchan implements the gRPC-Web wire protocol over an ordinary
// HTTP client. It is intended for environments where a native HTTP/2 GRPC
// connection is not possible or available, such as a browser (via a WASM
// build) or an HTTP/1.1-only proxy.
//
// Anatomy of gRPC-Web
//
// A unary or streaming RPC is a POST to the base URL's path plus
// "/<service>/<method>", where <service> is the fully-qualified protobuf
// service name and <method> is the unqualified method name. The request
// content type is "application/grpc-web+proto" for the binary format or
// "application/grpc-web+json" for the textual format. Request metadata are
// sent as ordinary HTTP headers with their values unchanged, except that
// values of "-bin" suffixed metadata keys are base64-encoded, per the GRPC
// metadata convention.
//
// The request and response bodies are both sequences of length-prefixed
// envelopes. Each envelope is one flags byte, a 4-byte big-endian payload
// length, then the payload itself. Bit 0 of the flags byte indicates the
// payload is compressed (with the algorithm named by the Grpc-Encoding
// header); bit 7 indicates the envelope is the special trailer envelope,
// whose payload is an HTTP/1-style header block (e.g. "name: value\r\n"
// lines) carrying the final grpc-status, grpc-message, and any trailing
// metadata. The trailer envelope is always last; a unary response carries
// exactly one message envelope and one trailer envelope, while a streaming
// response carries zero or more message envelopes followed by one trailer
// envelope.
//
// A response may instead be "trailers-only": HTTP status 200, an empty
// body, and the trailer fields (grpc-status, grpc-message, ...) carried
// directly as HTTP response headers. Servers use this to fail a call
// before it produces any messages.
//
// Only half-duplex streaming is possible over plain HTTP/1.1: a client
// must finish sending before it can read responses. webchan does not
// attempt to detect or reject full-duplex usage; if a caller tries to
// interleave sends and receives against an HTTP/1.1 transport, the
// underlying http.RoundTripper will simply block or fail.
package webchan
