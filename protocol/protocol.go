// Package protocol defines the contract between connection streams and the
// wire-format state machines, plus the request/response types flowing through
// the proxy core.
package protocol

import (
	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
)

// Stream is the parser's view of one connection's accumulating read ring.
// Implementations keep a parse cursor separate from the ring's reader so a
// frame can stay pinned after it has been sliced off.
type Stream interface {
	// Slice returns the unparsed bytes.
	Slice() ring.Slice
	// Take marks the next n unparsed bytes as one frame and returns the view.
	Take(n int) ring.Slice
	// Context is connection-scoped protocol scratch (handshake phase,
	// sequence ids). It survives between frames.
	Context() *uint64
}

// Proc receives each complete request as it is sliced off the stream.
// Returning an error aborts parsing; the request is not considered taken.
type Proc func(cmd *HashedCommand) error

// Writer receives serialized response bytes, normally an egress ring.
type Writer interface {
	Write(p []byte) (int, error)
	// WriteSlice writes a ring view without flattening it first.
	WriteSlice(s ring.Slice) error
}

// Parser is one wire-format state machine. Implementations are stateless;
// per-connection state lives in the Stream context and per-request state in
// the command's Context word.
type Parser interface {
	Name() string

	// ParseRequest drives zero or more complete requests out of the stream.
	// Partial input returns nil without consuming; malformed input returns a
	// *RequestInvalidError carrying the wire-format reply.
	ParseRequest(s Stream, alg hash.Hasher, proc Proc) error

	// ParseResponse extracts the next complete response frame from a backend
	// stream, or nil when more bytes are needed.
	ParseResponse(s Stream) (*Command, error)

	// WriteRequest serializes a request onto a backend connection.
	WriteRequest(req *HashedCommand, w Writer) error

	// WriteResponse serializes the collected response back in the client's
	// dialect. Sub-requests of a fan-out are written in client key order,
	// delimited by the First/Last flags.
	WriteResponse(req *HashedCommand, resp *Command, w Writer) error
}

// ErrorWriter renders a request failure in the client's dialect, written
// before the connection closes.
type ErrorWriter interface {
	WriteError(req *HashedCommand, err error, w Writer) error
}

// ClientHandshaker is implemented by protocols that must speak first on a
// new client connection (MySQL sends the server greeting). The pipeline keeps
// calling it after each ingress until done.
type ClientHandshaker interface {
	GreetClient(s Stream, w Writer) (done bool, err error)
}

// Handshaker is implemented by protocols whose backend connections need a
// login exchange before the first request (MySQL).
type Handshaker interface {
	// Handshake advances the backend login state machine. done reports the
	// connection ready for requests.
	Handshake(s Stream, w Writer, auth Auth) (done bool, err error)
}

// Auth carries backend credentials for protocols that authenticate.
type Auth struct {
	Username string
	Password string
	Database string
}

var parsers = map[string]Parser{}

// Register installs a parser under a resource type name. Called from package
// init functions only; the map is read-only afterwards.
func Register(resource string, p Parser) {
	parsers[resource] = p
}

// Get returns the parser for a resource type.
func Get(resource string) (Parser, bool) {
	p, ok := parsers[resource]
	return p, ok
}
