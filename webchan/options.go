package webchan

import (
	"fmt"
	"net/http"
	"net/url"

	"google.golang.org/grpc"
)

// Options holds the validated, immutable configuration of a Channel.
// Values are set once at construction via Option functions; nothing here
// is mutated afterward.
type Options struct {
	baseURL *url.URL

	useBinaryFormat bool

	unaryInterceptors  []grpc.UnaryClientInterceptor
	streamInterceptors []grpc.StreamClientInterceptor

	acceptCompression []Compressor
	sendCompression   *Compressor
	compressMinBytes  int

	readMaxBytes  int
	writeMaxBytes int

	keepSessionAlive bool

	transport http.RoundTripper
}

// Option configures a Channel at construction time.
type Option func(*Options)

// defaultOptions mirrors the values a call would see if no Option touched
// them: binary wire format, no compression, generous but bounded envelope
// sizes, and the default HTTP transport.
func defaultOptions() *Options {
	return &Options{
		useBinaryFormat: true,
		readMaxBytes:    16 * 1024 * 1024,
		writeMaxBytes:   16 * 1024 * 1024,
		transport:       http.DefaultTransport,
	}
}

// WithBaseURL sets the server's base URL. Required.
func WithBaseURL(raw string) Option {
	return func(o *Options) {
		u, err := url.Parse(raw)
		if err == nil {
			o.baseURL = u
		}
	}
}

// WithTextFormat selects the textual (application/grpc-web+json) wire
// format instead of the binary default.
func WithTextFormat() Option {
	return func(o *Options) { o.useBinaryFormat = false }
}

// WithUnaryInterceptors appends to the ordered unary interceptor list. The
// first interceptor given across all calls to WithUnaryInterceptors is
// outermost.
func WithUnaryInterceptors(interceptors ...grpc.UnaryClientInterceptor) Option {
	return func(o *Options) { o.unaryInterceptors = append(o.unaryInterceptors, interceptors...) }
}

// WithStreamInterceptors appends to the ordered streaming interceptor
// list. The first interceptor given across all calls to
// WithStreamInterceptors is outermost.
func WithStreamInterceptors(interceptors ...grpc.StreamClientInterceptor) Option {
	return func(o *Options) { o.streamInterceptors = append(o.streamInterceptors, interceptors...) }
}

// WithAcceptCompression adds a compressor this client is willing to
// receive, advertised via Grpc-Accept-Encoding.
func WithAcceptCompression(c Compressor) Option {
	return func(o *Options) { o.acceptCompression = append(o.acceptCompression, c) }
}

// WithSendCompression selects the compressor applied to outbound
// envelopes. It must also be present in the accept list; Channel validates
// this at construction.
func WithSendCompression(c Compressor) Option {
	return func(o *Options) { o.sendCompression = &c }
}

// WithCompressMinBytes sets the threshold below which outbound envelopes
// are sent uncompressed even when a send compressor is configured.
func WithCompressMinBytes(n int) Option {
	return func(o *Options) { o.compressMinBytes = n }
}

// WithReadMaxBytes caps the decoded size of any single inbound envelope.
func WithReadMaxBytes(n int) Option {
	return func(o *Options) { o.readMaxBytes = n }
}

// WithWriteMaxBytes caps the decoded size of any single outbound envelope.
func WithWriteMaxBytes(n int) Option {
	return func(o *Options) { o.writeMaxBytes = n }
}

// WithKeepSessionAlive is a hint passed through to the HTTP transport that
// connections should be kept warm between calls.
func WithKeepSessionAlive() Option {
	return func(o *Options) { o.keepSessionAlive = true }
}

// WithTransport overrides the http.RoundTripper used to issue requests.
func WithTransport(t http.RoundTripper) Option {
	return func(o *Options) { o.transport = t }
}

// resolveOptions applies opts over the defaults and validates the result,
// the way the source validates option values once at transport
// construction rather than on every call.
func resolveOptions(opts []Option) (*Options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.baseURL == nil || !o.baseURL.IsAbs() {
		return nil, fmt.Errorf("webchan: baseUrl must be an absolute URL")
	}
	if o.sendCompression != nil {
		found := false
		for _, c := range o.acceptCompression {
			if c.Name == o.sendCompression.Name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("webchan: sendCompression %q must also be in acceptCompression", o.sendCompression.Name)
		}
	}
	if o.compressMinBytes < 0 {
		return nil, fmt.Errorf("webchan: compressMinBytes must be >= 0")
	}
	if o.readMaxBytes <= 0 {
		return nil, fmt.Errorf("webchan: readMaxBytes must be > 0")
	}
	if o.writeMaxBytes <= 0 {
		return nil, fmt.Errorf("webchan: writeMaxBytes must be > 0")
	}

	if o.keepSessionAlive && o.transport == http.DefaultTransport {
		clone := http.DefaultTransport.(*http.Transport).Clone()
		clone.DisableKeepAlives = false
		o.transport = clone
	}

	unary := make([]grpc.UnaryClientInterceptor, len(o.unaryInterceptors))
	copy(unary, o.unaryInterceptors)
	o.unaryInterceptors = unary

	stream := make([]grpc.StreamClientInterceptor, len(o.streamInterceptors))
	copy(stream, o.streamInterceptors)
	o.streamInterceptors = stream

	return o, nil
}

// acceptCompressionHeader renders the accept list as a comma-separated
// Grpc-Accept-Encoding value, leaving out the implicit identity encoding,
// or "" if there is none to advertise.
func (o *Options) acceptCompressionHeader() string {
	names := make([]string, 0, len(o.acceptCompression))
	for _, c := range o.acceptCompression {
		if c.Name != IdentityCompressor.Name {
			names = append(names, c.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "," + n
	}
	return out
}

// lookupAcceptedCompression returns the Compressor matching name among
// acceptCompression, used to decompress a response envelope.
func (o *Options) lookupAcceptedCompression(name string) (*Compressor, bool) {
	if name == "" || name == IdentityCompressor.Name {
		return nil, true
	}
	for _, c := range o.acceptCompression {
		if c.Name == name {
			return &c, true
		}
	}
	return nil, false
}
