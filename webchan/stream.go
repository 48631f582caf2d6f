package webchan

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/golang/protobuf/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fullstorydev/grpcweb/internal"
)

// NewStream opens a bidirectional streaming call. Server-stream and
// client-stream RPCs drive the same machine with a degenerate send or
// receive side: the grpc.StreamDesc's ServerStreams field tells the
// returned clientStream whether to enforce the single-response discipline.
// The number of messages sent is not checked.
func (ch *Channel) NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	o := ch.opts
	ctx, cancel := context.WithCancel(ctx)

	pr, pw := io.Pipe()
	headers := buildRequestHeaders(ctx, o)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.methodURL(methodName), pr)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header = headers

	cs := &clientStream{
		ctx:           ctx,
		cancel:        cancel,
		opts:          o,
		callOpts:      opts,
		w:             pw,
		msgCh:         make(chan []byte),
		serverStreams: desc.ServerStreams,
	}
	cs.headerReady.Add(1)

	go cs.runReceive(httpReq)

	return cs, nil
}

// clientStream implements grpc.ClientStream over the gRPC-Web wire
// protocol. Sending is synchronous, writing envelopes directly into the
// pipe that feeds the HTTP request body. Receiving is driven by a
// goroutine (runReceive) started in NewStream, which performs the HTTP
// round trip, validates the response, and delivers decoded envelopes over
// msgCh; it resolves responseHeader no later than the first read and
// responseTrailer after the last successful read or at first failure.
type clientStream struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     *Options
	callOpts []grpc.CallOption

	serverStreams bool

	headerReady sync.WaitGroup
	header      metadata.MD
	headerErr   error

	wMu  sync.Mutex
	w    io.WriteCloser
	wErr error

	msgCh chan []byte

	doneMu sync.Mutex
	done   bool
	// finalErr is the error any further Recv/Send should return once the
	// stream has reached a final state, or nil for a clean end-of-stream.
	finalErr error
	trailer  metadata.MD
}

func (cs *clientStream) Header() (metadata.MD, error) {
	cs.headerReady.Wait()
	return cs.header, cs.headerErr
}

func (cs *clientStream) Trailer() metadata.MD {
	cs.doneMu.Lock()
	defer cs.doneMu.Unlock()
	return cs.trailer
}

func (cs *clientStream) CloseSend() error {
	cs.wMu.Lock()
	defer cs.wMu.Unlock()
	if cs.wErr != nil {
		return nil
	}
	return cs.w.Close()
}

func (cs *clientStream) Context() context.Context {
	return cs.ctx
}

// SendMsg normalizes, serializes, compresses, and frames msg as a single
// envelope, writing it directly to the request body pipe. writeMaxBytes
// applies per envelope.
func (cs *clientStream) SendMsg(msg interface{}) error {
	if done, err := cs.doneError(); done {
		if err == nil {
			return io.EOF
		}
		return err
	}

	pm, err := normalizeMessage(msg)
	if err != nil {
		return err
	}
	b, err := serializeMessage(pm, cs.opts.useBinaryFormat)
	if err != nil {
		return err
	}
	env, err := compressEnvelope(Envelope{Payload: b}, cs.opts.sendCompression, cs.opts.compressMinBytes)
	if err != nil {
		return err
	}
	if cs.opts.writeMaxBytes > 0 && len(env.Payload) > cs.opts.writeMaxBytes {
		return status.Errorf(codes.ResourceExhausted, "outbound message of %d bytes exceeds writeMaxBytes %d", len(env.Payload), cs.opts.writeMaxBytes)
	}

	cs.wMu.Lock()
	defer cs.wMu.Unlock()
	if cs.wErr != nil {
		return io.EOF
	}
	cs.wErr = NewEnvelopeWriter(cs.w, 0).Write(env)
	return cs.wErr
}

// RecvMsg blocks until the next message envelope arrives, the stream ends
// cleanly, or the stream fails. It enforces that a client-stream response
// never yields more than one message.
func (cs *clientStream) RecvMsg(msg interface{}) error {
	if done, err := cs.doneError(); done {
		if err == nil {
			return io.EOF
		}
		return err
	}

	select {
	case <-cs.ctx.Done():
		return internal.TranslateContextError(cs.ctx.Err())
	case b, ok := <-cs.msgCh:
		if !ok {
			done, err := cs.doneError()
			if !done {
				panic("clientStream: msgCh closed but stream not marked done")
			}
			if err == nil {
				return io.EOF
			}
			return err
		}
		pm, ok := msg.(proto.Message)
		if !ok {
			return status.Errorf(codes.InvalidArgument, "response value of type %T is not a proto.Message", msg)
		}
		if err := parseMessage(b, pm, cs.opts.useBinaryFormat); err != nil {
			return err
		}
		if !cs.serverStreams {
			// Unary-response side: confirm the server doesn't send a second
			// message, and wait for end-of-stream so Trailer() is valid
			// immediately after this call returns.
			select {
			case <-cs.ctx.Done():
				return internal.TranslateContextError(cs.ctx.Err())
			case _, ok := <-cs.msgCh:
				if ok {
					return status.Error(codes.InvalidArgument, "method should return 1 response message but server sent >1")
				}
				if done, err := cs.doneError(); done && err != io.EOF {
					return err
				}
			}
		}
		return nil
	}
}

// doneError reports whether the stream has reached a final state and, if
// so, its final error: nil for a clean end-of-stream (which RecvMsg and
// SendMsg report as io.EOF), or the failing status.
func (cs *clientStream) doneError() (bool, error) {
	cs.doneMu.Lock()
	defer cs.doneMu.Unlock()
	if !cs.done {
		return false, nil
	}
	return true, cs.finalErr
}

// runReceive performs the HTTP round trip and feeds decoded envelopes to
// msgCh, resolving header/trailer state per the streaming state machine:
// header resolves no later than the first read; trailer resolves after
// the last successful read, or is rejected at the same instant a failing
// read rejects; no envelope may follow the trailer.
func (cs *clientStream) runReceive(req *http.Request) {
	var finalErr error
	defer func() {
		cs.doneMu.Lock()
		if finalErr != nil {
			cs.finalErr = finalErr
		}
		cs.done = true
		cs.doneMu.Unlock()
		close(cs.msgCh)
		cs.cancel()
	}()

	resolveHeader := func(md metadata.MD, err error) {
		cs.header = md
		cs.headerErr = err
		cs.headerReady.Done()
	}

	resp, err := cs.opts.transport.RoundTrip(req)
	if err != nil {
		if ctxErr := cs.ctx.Err(); ctxErr != nil {
			err = internal.TranslateContextError(ctxErr)
		} else {
			err = status.Errorf(codes.Unavailable, "%v", err)
		}
		resolveHeader(nil, err)
		finalErr = err
		return
	}
	defer resp.Body.Close()

	info, err := validateResponse(resp, cs.opts)
	if err != nil {
		resolveHeader(nil, err)
		finalErr = err
		return
	}
	resolveHeader(headersToMetadata(resp.Header), nil)

	if info.foundStatus {
		io.Copy(io.Discard, resp.Body)
		cs.setTrailer(info.trailer)
		if terr := validateTrailer(info.trailer); terr != nil {
			finalErr = terr
		}
		return
	}

	r := NewEnvelopeReader(resp.Body, cs.opts.readMaxBytes)
	sawTrailer := false
	for {
		env, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := cs.ctx.Err(); ctxErr != nil {
				err = internal.TranslateContextError(ctxErr)
			}
			finalErr = err
			return
		}
		if env.IsSet(FlagTrailer) {
			if sawTrailer {
				finalErr = status.Error(codes.InvalidArgument, "received extra trailer")
				return
			}
			sawTrailer = true
			md, perr := parseTrailer(env.Payload)
			if perr != nil {
				finalErr = perr
				return
			}
			cs.setTrailer(md)
			if terr := validateTrailer(md); terr != nil {
				finalErr = terr
				return
			}
			continue
		}
		if sawTrailer {
			finalErr = status.Error(codes.InvalidArgument, "received extra message after trailer")
			return
		}
		env, err = decompressEnvelope(env, info.compression, cs.opts.readMaxBytes)
		if err != nil {
			finalErr = err
			return
		}
		select {
		case <-cs.ctx.Done():
			finalErr = internal.TranslateContextError(cs.ctx.Err())
			return
		case cs.msgCh <- env.Payload:
		}
	}

	if !sawTrailer {
		finalErr = status.Error(codes.InvalidArgument, "missing trailer")
	}
}

func (cs *clientStream) setTrailer(md metadata.MD) {
	cs.doneMu.Lock()
	defer cs.doneMu.Unlock()
	cs.trailer = md
	internal.GetCallOptions(cs.callOpts).SetTrailers(md)
}
