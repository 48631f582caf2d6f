package webchan

import (
	"github.com/golang/protobuf/proto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

// formatProto and formatJSON are the two gRPC-Web content-type suffixes.
const (
	formatProto = "proto"
	formatJSON  = "json"
)

var (
	jsonMarshaler = protojson.MarshalOptions{
		UseEnumNumbers:  true,
		EmitUnpopulated: true,
	}
	jsonUnmarshaler = protojson.UnmarshalOptions{
		DiscardUnknown: true,
	}
)

// messageFormat resolves to "proto" or "json" based on useBinaryFormat, the
// way a method's two-way codec lookup picks the binary or textual transform.
func messageFormat(useBinaryFormat bool) string {
	if useBinaryFormat {
		return formatProto
	}
	return formatJSON
}

// normalizeMessage accepts the caller-supplied request value and returns
// its canonical typed form. Go's static typing has no analog of the
// source's "structural partial value" input, so normalize degenerates to
// a type assertion: the value must already be a proto.Message.
func normalizeMessage(msg interface{}) (proto.Message, error) {
	pm, ok := msg.(proto.Message)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "request value of type %T is not a proto.Message", msg)
	}
	return pm, nil
}

// serializeMessage encodes msg using the binary or textual wire format.
func serializeMessage(msg proto.Message, useBinaryFormat bool) ([]byte, error) {
	if useBinaryFormat {
		b, err := proto.Marshal(msg)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "marshal: %v", err)
		}
		return b, nil
	}
	b, err := jsonMarshaler.Marshal(proto.MessageV2(msg))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal: %v", err)
	}
	return b, nil
}

// parseMessage decodes b into msg using the binary or textual wire format.
func parseMessage(b []byte, msg proto.Message, useBinaryFormat bool) error {
	if useBinaryFormat {
		if err := proto.Unmarshal(b, msg); err != nil {
			return status.Errorf(codes.Internal, "server sent invalid message: %v", err)
		}
		return nil
	}
	if err := jsonUnmarshaler.Unmarshal(b, proto.MessageV2(msg)); err != nil {
		return status.Errorf(codes.Internal, "server sent invalid message: %v", err)
	}
	return nil
}
