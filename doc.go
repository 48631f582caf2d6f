// Package grpcweb provides a transport-agnostic Channel abstraction for
// GRPC clients, plus client-side interceptor chaining that works over any
// grpc.ClientConnInterface. The webchan sub-package supplies a Channel
// implementation that speaks the gRPC-Web wire protocol over an ordinary
// HTTP client, for use in environments where a native HTTP/2 GRPC
// connection is not available.
package grpcweb
