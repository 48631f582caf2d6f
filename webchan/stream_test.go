package webchan

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func newTestStreamChannel(t *testing.T, handler http.HandlerFunc, opts ...Option) grpc.ClientConnInterface {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	allOpts := append([]Option{WithBaseURL(srv.URL)}, opts...)
	ch, err := NewChannel(allOpts...)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch
}

// Header() must resolve no later than the first successful RecvMsg, and
// Trailer() must be populated once RecvMsg has reported end-of-stream.
func TestStreamHeaderResolvesBeforeFirstRecv(t *testing.T) {
	ch := newTestStreamChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusOK)
		w.Write(rawEnvelope(0x00, mustMarshalResponse(&wrapperspb.StringValue{Value: "hello"})))
		w.Write(rawEnvelope(FlagTrailer, serializeTrailer(trailerOK())))
	})

	cs, err := ch.NewStream(context.Background(), &grpc.StreamDesc{ServerStreams: true}, "/test.Service/Stream")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	var resp wrapperspb.StringValue
	if err := cs.RecvMsg(&resp); err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}

	hdr, err := cs.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if got := hdr.Get("x-custom"); len(got) != 1 || got[0] != "value" {
		t.Fatalf("Header() = %v", hdr)
	}

	if err := cs.RecvMsg(&resp); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}

	if trailer := cs.Trailer(); trailer.Get(grpcStatusKey) == nil {
		t.Fatalf("expected trailer to be populated after end-of-stream, got %v", trailer)
	}
}

// A unary-response stream (ServerStreams: false) must reject a server that
// sends more than one message.
func TestStreamRejectsExtraUnaryResponse(t *testing.T) {
	ch := newTestStreamChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.WriteHeader(http.StatusOK)
		w.Write(rawEnvelope(0x00, mustMarshalResponse(&wrapperspb.StringValue{Value: "one"})))
		w.Write(rawEnvelope(0x00, mustMarshalResponse(&wrapperspb.StringValue{Value: "two"})))
		w.Write(rawEnvelope(FlagTrailer, serializeTrailer(trailerOK())))
	})

	cs, err := ch.NewStream(context.Background(), &grpc.StreamDesc{ServerStreams: false}, "/test.Service/ClientStream")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	var resp wrapperspb.StringValue
	err = cs.RecvMsg(&resp)
	s, ok := status.FromError(err)
	if !ok || s.Code() != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

// No envelope may follow the trailer envelope.
func TestStreamRejectsMessageAfterTrailer(t *testing.T) {
	ch := newTestStreamChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.WriteHeader(http.StatusOK)
		w.Write(rawEnvelope(FlagTrailer, serializeTrailer(trailerOK())))
		w.Write(rawEnvelope(0x00, mustMarshalResponse(&wrapperspb.StringValue{Value: "late"})))
	})

	cs, err := ch.NewStream(context.Background(), &grpc.StreamDesc{ServerStreams: true}, "/test.Service/Stream")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	var resp wrapperspb.StringValue
	err = cs.RecvMsg(&resp)
	s, ok := status.FromError(err)
	if !ok || s.Code() != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

// A body that ends without ever sending a trailer envelope is a protocol
// violation, not a clean end-of-stream.
func TestStreamMissingTrailerIsProtocolError(t *testing.T) {
	ch := newTestStreamChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.WriteHeader(http.StatusOK)
		w.Write(rawEnvelope(0x00, mustMarshalResponse(&wrapperspb.StringValue{Value: "only"})))
	})

	cs, err := ch.NewStream(context.Background(), &grpc.StreamDesc{ServerStreams: true}, "/test.Service/Stream")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	var resp wrapperspb.StringValue
	if err := cs.RecvMsg(&resp); err != nil {
		t.Fatalf("Recv #1: %v", err)
	}
	err = cs.RecvMsg(&resp)
	s, ok := status.FromError(err)
	if !ok || s.Code() != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for missing trailer, got %v", err)
	}
}

// SendMsg writes client-stream messages directly onto the request body
// pipe; CloseSend half-closes it so the server sees end-of-stream.
func TestStreamSendMsgWritesEnvelopes(t *testing.T) {
	received := make(chan []byte, 4)
	ch := newTestStreamChannel(t, func(w http.ResponseWriter, r *http.Request) {
		reader := NewEnvelopeReader(r.Body, 0)
		for {
			env, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return
			}
			received <- env.Payload
		}
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.WriteHeader(http.StatusOK)
		w.Write(rawEnvelope(0x00, mustMarshalResponse(&wrapperspb.StringValue{Value: "ack"})))
		w.Write(rawEnvelope(FlagTrailer, serializeTrailer(trailerOK())))
	})

	cs, err := ch.NewStream(context.Background(), &grpc.StreamDesc{ServerStreams: false, ClientStreams: true}, "/test.Service/ClientStream")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	if err := cs.SendMsg(&wrapperspb.StringValue{Value: "first"}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := cs.SendMsg(&wrapperspb.StringValue{Value: "second"}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := cs.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	var resp wrapperspb.StringValue
	if err := cs.RecvMsg(&resp); err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if resp.Value != "ack" {
		t.Fatalf("resp.Value = %q", resp.Value)
	}

	for i := 0; i < 2; i++ {
		select {
		case b := <-received:
			var got wrapperspb.StringValue
			if err := proto.Unmarshal(b, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got.Value != "first" && got.Value != "second" {
				t.Fatalf("unexpected message %q", got.Value)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sent message %d", i)
		}
	}
}

// An envelope whose declared length exceeds readMaxBytes must fail before
// the payload is fully buffered.
func TestStreamReadMaxBytesEnforced(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 4096)
	ch := newTestStreamChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.WriteHeader(http.StatusOK)
		w.Write(rawEnvelope(0x00, big))
		w.Write(rawEnvelope(FlagTrailer, serializeTrailer(trailerOK())))
	}, WithReadMaxBytes(1024))

	cs, err := ch.NewStream(context.Background(), &grpc.StreamDesc{ServerStreams: true}, "/test.Service/Stream")
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	var resp wrapperspb.StringValue
	err = cs.RecvMsg(&resp)
	s, ok := status.FromError(err)
	if !ok || s.Code() != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}
