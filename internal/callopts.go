package internal

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// CallOptions provides access to the subset of grpc.CallOption values that
// let a Channel implementation report response headers and trailers back to
// the caller, the same way *grpc.ClientConn does for real GRPC calls.
type CallOptions struct {
	opts []grpc.CallOption
}

// GetCallOptions wraps the given call options so that response header and
// trailer metadata can be reported to any grpc.Header/grpc.Trailer options
// present in the set.
func GetCallOptions(opts []grpc.CallOption) CallOptions {
	return CallOptions{opts: opts}
}

// SetHeaders populates any grpc.HeaderCallOption in the set with the given
// metadata. It is a no-op if the caller did not supply a grpc.Header() option.
func (c CallOptions) SetHeaders(md metadata.MD) {
	for _, o := range c.opts {
		if h, ok := o.(grpc.HeaderCallOption); ok {
			*h.HeaderAddr = md
		}
	}
}

// SetTrailers populates any grpc.TrailerCallOption in the set with the given
// metadata. It is a no-op if the caller did not supply a grpc.Trailer() option.
func (c CallOptions) SetTrailers(md metadata.MD) {
	for _, o := range c.opts {
		if t, ok := o.(grpc.TrailerCallOption); ok {
			*t.TrailerAddr = md
		}
	}
}
