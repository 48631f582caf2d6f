package webchan

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// codeFromHTTPStatus maps a non-200 HTTP response status to a gRPC code,
// per the table a trailers-bearing server is expected to honor when it
// fails a call before the gRPC-Web envelope layer ever applies.
func codeFromHTTPStatus(stat int) codes.Code {
	switch stat {
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.Unimplemented
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}
