package webchan

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"

	"github.com/golang/protobuf/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fullstorydev/grpcweb"
	"github.com/fullstorydev/grpcweb/internal"
)

// Channel is a grpcweb.Channel that speaks the gRPC-Web wire protocol over
// an ordinary HTTP client. Construct one with NewChannel; the returned
// value already has any configured interceptors applied.
type Channel struct {
	opts *Options
}

// NewChannel builds a Channel from the given options, validating them
// once up front the way the transport facade validates baseUrl,
// compression settings, and buffer limits at construction rather than on
// every call.
func NewChannel(opts ...Option) (grpcweb.Channel, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	ch := &Channel{opts: o}
	var gc grpc.ClientConnInterface = ch
	gc = grpcweb.InterceptClientConnUnary(gc, o.unaryInterceptors...)
	gc = grpcweb.InterceptClientConnStream(gc, o.streamInterceptors...)
	return gc, nil
}

func (ch *Channel) methodURL(methodName string) string {
	u := *ch.opts.baseURL
	u.Path = path.Join(u.Path, methodName)
	return u.String()
}

// Invoke drives the unary call runner's state machine: Init (build
// headers, encode the single outbound envelope) -> Sending (HTTP POST) ->
// ReceivingHeaders (validate response) -> ReceivingBody (collect exactly
// one message and one trailer envelope) -> Done (validate trailer, return
// message or error).
func (ch *Channel) Invoke(ctx context.Context, methodName string, req, resp interface{}, opts ...grpc.CallOption) error {
	o := ch.opts

	reqMsg, err := normalizeMessage(req)
	if err != nil {
		return err
	}
	reqBytes, err := serializeMessage(reqMsg, o.useBinaryFormat)
	if err != nil {
		return err
	}
	env, err := compressEnvelope(Envelope{Payload: reqBytes}, o.sendCompression, o.compressMinBytes)
	if err != nil {
		return err
	}
	if o.writeMaxBytes > 0 && len(env.Payload) > o.writeMaxBytes {
		return status.Errorf(codes.ResourceExhausted, "outbound message of %d bytes exceeds writeMaxBytes %d", len(env.Payload), o.writeMaxBytes)
	}

	var body bytes.Buffer
	if err := NewEnvelopeWriter(&body, 0).Write(env); err != nil {
		return err
	}

	headers := buildRequestHeaders(ctx, o)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.methodURL(methodName), &body)
	if err != nil {
		return err
	}
	httpReq.Header = headers

	httpResp, err := o.transport.RoundTrip(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return internal.TranslateContextError(ctxErr)
		}
		return status.Errorf(codes.Unavailable, "%v", err)
	}
	defer httpResp.Body.Close()

	info, err := validateResponse(httpResp, o)
	if err != nil {
		return err
	}
	internal.GetCallOptions(opts).SetHeaders(headersToMetadata(httpResp.Header))

	if info.foundStatus {
		io.Copy(io.Discard, httpResp.Body)
		if err := validateTrailer(info.trailer); err != nil {
			return err
		}
		return status.Error(codes.InvalidArgument, "missing output message for unary method")
	}

	var msgPayload []byte
	haveMessage := false
	var trailerMD metadata.MD
	haveTrailer := false
	var trailerErr error

	r := NewEnvelopeReader(httpResp.Body, o.readMaxBytes)
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return internal.TranslateContextError(ctxErr)
			}
			return err
		}
		if e.IsSet(FlagTrailer) {
			if haveTrailer {
				return status.Error(codes.InvalidArgument, "received extra trailer")
			}
			haveTrailer = true
			md, perr := parseTrailer(e.Payload)
			if perr != nil {
				return perr
			}
			trailerMD = md
			trailerErr = validateTrailer(md)
			continue
		}
		e, err = decompressEnvelope(e, info.compression, o.readMaxBytes)
		if err != nil {
			return err
		}
		if haveMessage {
			return status.Error(codes.InvalidArgument, "received extra output message for unary method")
		}
		haveMessage = true
		msgPayload = e.Payload
	}

	if !haveTrailer {
		return status.Error(codes.InvalidArgument, "missing trailer")
	}
	if !haveMessage {
		if trailerErr != nil {
			return trailerErr
		}
		return status.Error(codes.InvalidArgument, "missing output message for unary method")
	}
	if trailerErr != nil {
		return trailerErr
	}
	internal.GetCallOptions(opts).SetTrailers(trailerMD)

	if err := parseMessage(msgPayload, resp.(proto.Message), o.useBinaryFormat); err != nil {
		return err
	}
	return nil
}
