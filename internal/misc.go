package internal

import (
	"context"
	"fmt"
	"reflect"

	"github.com/golang/protobuf/proto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CopyMessage copies data from the given in value to the given out value. It returns an
// error if the two values do not have the same type or if the given out value is not
// settable.
func CopyMessage(in, out interface{}) error {
	if pmIn, ok := in.(proto.Message); ok {
		if pmOut, ok := out.(proto.Message); ok {
			if reflect.TypeOf(in) != reflect.TypeOf(out) {
				return fmt.Errorf("incompatible types: %v != %v", reflect.TypeOf(in), reflect.TypeOf(out))
			}
			// this does a proper deep copy
			pmOut.Reset()
			proto.Merge(pmOut, pmIn)
			return nil
		}
	}

	// best-effort shallow copy; under typical circumstances this
	// code path should never be exercised
	src := reflect.Indirect(reflect.ValueOf(in))
	dest := reflect.Indirect(reflect.ValueOf(out))
	if src.Type() != dest.Type() {
		return fmt.Errorf("incompatible types: %v != %v", src.Type(), dest.Type())
	}
	if !dest.CanSet() {
		return fmt.Errorf("unable to set destination: %v", reflect.ValueOf(out).Type())
	}
	dest.Set(src)
	return nil
}

// TranslateContextError converts the given error to a gRPC status error if it
// is a context error. If it is context.DeadlineExceeded, it is converted to an
// error with a status code of DeadlineExceeded. If it is context.Canceled, it
// is converted to an error with a status code of Canceled. If it is not a
// context error, it is returned without any conversion.
func TranslateContextError(err error) error {
	switch err {
	case context.DeadlineExceeded:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case context.Canceled:
		return status.Error(codes.Canceled, err.Error())
	}
	return err
}
