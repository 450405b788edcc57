package snowhttp

import (
	"errors"
	"sync"

	"github.com/MrE-Fog/snowhttp/bpool"
	"github.com/MrE-Fog/snowhttp/ringbuffer"
	ltls "github.com/lesismal/llib/std/crypto/tls"
	"github.com/lesismal/nbio"
)

// Methods with special serialization. Any other string is sent as-is
// in the request line.
const (
	MethodGet  = "GET"
	MethodPost = "POST"

	// methodPrime marks an internal handshake-only connection whose
	// sole purpose is refreshing the TLS session ticket for its host.
	methodPrime = "__PRIME"
)

var (
	ErrNotStarted    = errors.New("snowhttp: global not started")
	ErrPoolExhausted = errors.New("snowhttp: no free connection")
	ErrMalformedURL  = errors.New("snowhttp: malformed url")
	ErrBadHeaders    = errors.New("snowhttp: extra headers must end with CRLF")
	ErrBadFraming    = errors.New("snowhttp: unexpected response framing")
	ErrPeerClosed    = errors.New("snowhttp: peer closed connection")
)

// Callback receives the response body. content points into the
// connection's read buffer and is only valid until the slot is
// reused; copy to retain. Invoked exactly once per dispatched
// request, with err set and content nil on failure.
type Callback func(content []byte, err error, extra interface{})

type connState int32

const (
	connUnready connState = iota
	connInProgress
	connAck
	connTLSHandshake
	connReady
	connWaiting
	connReceiving
	connDone
)

func (s connState) String() string {
	switch s {
	case connUnready:
		return "unready"
	case connInProgress:
		return "in_progress"
	case connAck:
		return "ack"
	case connTLSHandshake:
		return "tls_handshake"
	case connReady:
		return "ready"
	case connWaiting:
		return "waiting"
	case connReceiving:
		return "receiving"
	case connDone:
		return "done"
	}
	return "unknown"
}

// parsedURL holds substring views over the slot's owned URL storage.
type parsedURL struct {
	scheme  string
	host    string
	portStr string
	port    uint16
	path    string // request path without the leading '/', query included
	query   string // part after '?', empty if none
	secure  bool
}

// conn is one preallocated connection slot.
type conn struct {
	id int
	g  *Global

	state  int32 // connState
	closed int32 // teardown guard

	nc *nbio.Conn
	tc *ltls.Conn

	writeBuf *bpool.Buff
	readBuf  *bpool.Buff

	urlStorage string
	u          parsedURL

	method  string
	headers []byte
	cb      Callback
	extra   interface{}

	contentStart int
	expectedLen  int
	hasLength    bool
	contentLen   int
	chunked      bool

	sessionStored int32 // priming: new ticket observed in the cache
}

// pending owns copies of everything it carries; callers may reuse
// their buffers as soon as Enqueue returns.
type pending struct {
	method  string
	url     string
	cb      Callback
	extra   interface{}
	headers []byte
}

type pool struct {
	mu      sync.Mutex
	free    []int32 // LIFO stack of slot ids
	pending *ringbuffer.Ring[*pending]
}
