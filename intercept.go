package grpcweb

import (
	"context"

	"google.golang.org/grpc"
)

// WrappedClientConn is a channel that wraps another. It provides an Unwrap method
// for accessing the underlying wrapped implementation.
type WrappedClientConn interface {
	grpc.ClientConnInterface
	Unwrap() grpc.ClientConnInterface
}

// InterceptClientConn returns a new channel that intercepts RPCs with the given
// interceptors, which may be nil. If both given interceptors are nil, returns ch.
// Otherwise, the returned value will implement WrappedClientConn and its Unwrap()
// method will return ch.
func InterceptClientConn(ch grpc.ClientConnInterface, unaryInt grpc.UnaryClientInterceptor, streamInt grpc.StreamClientInterceptor) grpc.ClientConnInterface {
	if unaryInt != nil {
		ch = InterceptClientConnUnary(ch, unaryInt)
	}
	if streamInt != nil {
		ch = InterceptClientConnStream(ch, streamInt)
	}
	return ch
}

// InterceptClientConnUnary returns a new channel that intercepts unary RPCs
// with the given chain of interceptors. If the given set of interceptors is
// empty, this returns ch. Otherwise, the returned value will implement
// WrappedClientConn and its Unwrap() method will return ch.
//
// The first interceptor in the set will be the first one invoked when an RPC
// is called. When that interceptor delegates to the provided invoker, it will
// call the second interceptor, and so on.
func InterceptClientConnUnary(ch grpc.ClientConnInterface, unaryInt ...grpc.UnaryClientInterceptor) grpc.ClientConnInterface {
	if len(unaryInt) == 0 {
		return ch
	}
	var streamInt grpc.StreamClientInterceptor
	intCh, ok := ch.(*interceptedChannel)
	if ok {
		// Instead of building a chain of multiple interceptedChannels, build
		// a single interceptedChannel with the combined set of interceptors.
		ch = intCh.ch
		if intCh.unaryInt != nil {
			unaryInt = append(unaryInt, intCh.unaryInt)
		}
		streamInt = intCh.streamInt
	}
	return &interceptedChannel{ch: ch, unaryInt: chainUnaryClient(unaryInt), streamInt: streamInt}
}

// InterceptClientConnStream returns a new channel that intercepts streaming
// RPCs with the given chain of interceptors. If the given set of interceptors
// is empty, this returns ch. Otherwise, the returned value will implement
// WrappedClientConn and its Unwrap() method will return ch.
//
// The first interceptor in the set will be the first one invoked when an RPC
// is called. When that interceptor delegates to the provided invoker, it will
// call the second interceptor, and so on.
func InterceptClientConnStream(ch grpc.ClientConnInterface, streamInt ...grpc.StreamClientInterceptor) grpc.ClientConnInterface {
	if len(streamInt) == 0 {
		return ch
	}
	var unaryInt grpc.UnaryClientInterceptor
	intCh, ok := ch.(*interceptedChannel)
	if ok {
		// Instead of building a chain of multiple interceptedChannels, build
		// a single interceptedChannel with the combined set of interceptors.
		ch = intCh.ch
		unaryInt = intCh.unaryInt
		if intCh.streamInt != nil {
			streamInt = append(streamInt, intCh.streamInt)
		}
	}
	return &interceptedChannel{ch: ch, unaryInt: unaryInt, streamInt: chainStreamClient(streamInt)}
}

type interceptedChannel struct {
	ch        grpc.ClientConnInterface
	unaryInt  grpc.UnaryClientInterceptor
	streamInt grpc.StreamClientInterceptor
}

func (intch *interceptedChannel) Unwrap() grpc.ClientConnInterface {
	return intch.ch
}

func unwrap(ch grpc.ClientConnInterface) grpc.ClientConnInterface {
	// completely unwrap to find the root channel
	for {
		w, ok := ch.(WrappedClientConn)
		if !ok {
			return ch
		}
		unwrapped := w.Unwrap()
		if unwrapped == nil {
			return ch
		}
		ch = unwrapped
	}
}

func (intch *interceptedChannel) Invoke(ctx context.Context, methodName string, req, resp any, opts ...grpc.CallOption) error {
	if intch.unaryInt == nil {
		return intch.ch.Invoke(ctx, methodName, req, resp, opts...)
	}
	cc, _ := unwrap(intch.ch).(*grpc.ClientConn)
	return intch.unaryInt(ctx, methodName, req, resp, cc, intch.unaryInvoker, opts...)
}

func (intch *interceptedChannel) unaryInvoker(ctx context.Context, methodName string, req, resp any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
	return intch.ch.Invoke(ctx, methodName, req, resp, opts...)
}

func (intch *interceptedChannel) NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	if intch.streamInt == nil {
		return intch.ch.NewStream(ctx, desc, methodName, opts...)
	}
	cc, _ := intch.ch.(*grpc.ClientConn)
	return intch.streamInt(ctx, desc, cc, methodName, intch.streamer, opts...)
}

func (intch *interceptedChannel) streamer(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return intch.ch.NewStream(ctx, desc, methodName, opts...)
}

var _ grpc.ClientConnInterface = (*interceptedChannel)(nil)

func chainUnaryClient(unaryInt []grpc.UnaryClientInterceptor) grpc.UnaryClientInterceptor {
	if len(unaryInt) == 1 {
		return unaryInt[0]
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		for i := range unaryInt {
			if i == len(unaryInt)-1 {
				break // unaryInt[0] is invoked directly below
			}
			currInterceptor := unaryInt[len(unaryInt)-i-1] // going backwards through the chain
			currInvoker := invoker
			invoker = func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
				return currInterceptor(ctx, method, req, reply, cc, currInvoker, opts...)
			}
		}
		return unaryInt[0](ctx, method, req, reply, cc, invoker, opts...)
	}
}

func chainStreamClient(streamInt []grpc.StreamClientInterceptor) grpc.StreamClientInterceptor {
	if len(streamInt) == 1 {
		return streamInt[0]
	}
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		for i := range streamInt {
			if i == len(streamInt)-1 {
				break // streamInt[0] is invoked directly below
			}
			currInterceptor := streamInt[len(streamInt)-i-1] // going backwards through the chain
			currStreamer := streamer
			streamer = func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
				return currInterceptor(ctx, desc, cc, method, currStreamer, opts...)
			}
		}
		return streamInt[0](ctx, desc, cc, method, streamer, opts...)
	}
}
