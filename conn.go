package snowhttp

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/MrE-Fog/snowhttp/bpool"
	"github.com/MrE-Fog/snowhttp/logs"
	ltls "github.com/lesismal/llib/std/crypto/tls"
	"github.com/lesismal/nbio"
	"github.com/lesismal/nbio/mempool"
)

func (s *conn) getState() connState {
	return connState(atomic.LoadInt32(&s.state))
}

func (s *conn) setState(next connState) {
	old := s.getState()
	if !legalTransition(old, next) {
		logs.DebugLog("conn %d: transition %v -> %v", s.id, old, next)
	}
	atomic.StoreInt32(&s.state, int32(next))
}

// Transitions are strictly monotonic except the DONE -> UNREADY reuse
// edge; teardown is reachable from anywhere.
func legalTransition(from, to connState) bool {
	if to == connDone {
		return true
	}
	switch from {
	case connUnready:
		return to == connInProgress
	case connInProgress:
		return to == connAck
	case connAck:
		return to == connTLSHandshake || to == connReady
	case connTLSHandshake:
		return to == connReady
	case connReady:
		return to == connWaiting
	case connWaiting:
		return to == connReceiving
	case connReceiving:
		return to == connReceiving
	case connDone:
		return to == connUnready
	}
	return false
}

// reset prepares a slot popped off the free list for a new request.
func (s *conn) reset() {
	s.nc = nil
	s.tc = nil
	s.writeBuf.Reset()
	s.readBuf.Reset()
	s.urlStorage = ""
	s.u = parsedURL{}
	s.method = ""
	s.headers = nil
	s.cb = nil
	s.extra = nil
	s.contentStart = 0
	s.expectedLen = 0
	s.hasLength = false
	s.contentLen = 0
	s.chunked = false
	atomic.StoreInt32(&s.sessionStored, 0)
	atomic.StoreInt32(&s.closed, 0)
	atomic.StoreInt32(&s.state, int32(connUnready))
}

// serializeRequest writes the request line, headers and, for POST
// with a query, the form body into the write buffer. The buffer is
// filled before the socket exists; it is flushed on READY.
func (s *conn) serializeRequest() error {
	u := &s.u
	if s.method == MethodPost && u.query != "" {
		body := u.query
		req := fmt.Sprintf("%s /%s HTTP/1.1\r\n"+
			"Host: %s\r\n"+
			"Content-Type: application/x-www-form-urlencoded\r\n"+
			"Content-Length: %d\r\n"+
			"%s\r\n"+
			"%s",
			s.method, u.pathStem(), u.host, len(body), s.headers, body)
		return s.writeBuf.Put([]byte(req))
	}
	req := fmt.Sprintf("%s /%s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"%s\r\n",
		s.method, u.path, u.host, s.headers)
	return s.writeBuf.Put([]byte(req))
}

// connect runs on its own goroutine: resolve, dial, hand the socket
// to the event loop. The slot stays IN_PROGRESS until the loop
// reports the connection open.
func (s *conn) connect() {
	addr, err := s.g.addrs.resolve(s.u.host, s.u.portStr)
	if err != nil {
		s.fail(err)
		return
	}
	c, err := s.g.dialer.Dial("tcp4", addr.String())
	if err != nil {
		s.fail(err)
		return
	}
	nc, err := nbio.NBConn(c)
	if err != nil {
		c.Close()
		s.fail(err)
		return
	}
	s.nc = nc
	nc.SetSession(s)
	if _, err = s.g.engine.AddConn(nc); err != nil {
		s.fail(err)
	}
}

// onOpen: connect acknowledged by the loop.
func (g *Global) onOpen(c *nbio.Conn) {
	s, ok := c.Session().(*conn)
	if !ok {
		return
	}
	s.setState(connAck)
	if s.u.secure {
		s.startHandshake(c)
		return
	}
	s.setState(connReady)
	s.flushRequest()
}

func (s *conn) startHandshake(c *nbio.Conn) {
	conf := s.g.tlsConf.Clone()
	conf.ServerName = s.u.host
	if s.method == methodPrime {
		conf.ClientSessionCache = &primingCache{inner: s.g.sessions, slot: s}
	}
	s.tc = ltls.NewConn(c, conf, true, true, mempool.DefaultMemPool)
	s.setState(connTLSHandshake)
	// kicks off the ClientHello; progress is driven by data events
	s.tc.Handshake()
}

func (g *Global) onData(c *nbio.Conn, data []byte) {
	s, ok := c.Session().(*conn)
	if !ok {
		return
	}
	st := s.getState()
	if st == connDone || st == connUnready {
		return
	}
	if s.tc != nil {
		s.onTLSData(data)
		return
	}
	s.onPayload(data)
}

// onTLSData feeds ciphertext to the TLS endpoint and drains whatever
// it yields: handshake progress first, then decrypted body bytes
// straight into the read buffer.
func (s *conn) onTLSData(data []byte) {
	in := data
	for {
		dst := s.readBuf.Space()
		if len(dst) == 0 {
			s.fail(bpool.ErrBufferFull)
			return
		}
		_, n, err := s.tc.AppendAndRead(in, dst)
		in = nil
		if err != nil {
			s.fail(err)
			return
		}
		if s.getState() == connTLSHandshake && s.tc.ConnectionState().HandshakeComplete {
			s.handshakeDone()
			if s.getState() == connDone || s.getState() == connUnready {
				return
			}
		}
		if n > 0 {
			if err := s.readBuf.Advance(n); err != nil {
				s.fail(err)
				return
			}
			s.advanceReceive()
			if s.getState() == connDone || s.getState() == connUnready {
				return
			}
			continue
		}
		return
	}
}

func (s *conn) handshakeDone() {
	if s.method == methodPrime {
		// the only legal early termination: ticket cached, no request
		if atomic.LoadInt32(&s.sessionStored) == 1 {
			s.teardown(nil)
		}
		// otherwise stay and wait for the ticket record
		return
	}
	s.setState(connReady)
	s.flushRequest()
}

// flushRequest drains the serialized request to the transport. Both
// transports buffer what the socket does not accept and flush it on
// writability, so the slot moves to WAITING immediately.
func (s *conn) flushRequest() {
	var w io.Writer = s.nc
	if s.tc != nil {
		w = s.tc
	}
	if _, err := s.writeBuf.Pull(w); err != nil {
		s.fail(err)
		return
	}
	s.setState(connWaiting)
}

// onPayload takes plaintext response bytes.
func (s *conn) onPayload(data []byte) {
	st := s.getState()
	if st != connWaiting && st != connReceiving {
		return
	}
	if err := s.readBuf.Put(data); err != nil {
		s.fail(err)
		return
	}
	s.advanceReceive()
}

func (g *Global) onClose(c *nbio.Conn, err error) {
	s, ok := c.Session().(*conn)
	if !ok {
		return
	}
	st := s.getState()
	if st == connDone || st == connUnready {
		return
	}
	if err == nil {
		err = ErrPeerClosed
	}
	s.fail(err)
}

func (s *conn) fail(err error) {
	logs.ErrorLog("conn %d %s %s: %s", s.id, s.method, s.urlStorage, err)
	s.teardown(err)
}

func (s *conn) finish() {
	s.teardown(nil)
}

// teardown closes the transport, delivers the callback, and returns
// the slot to the free list. The linger option set at socket creation
// makes the close an immediate RST; the caller never waits for an
// ordered shutdown.
func (s *conn) teardown(err error) {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.setState(connDone)
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.tc = nil

	cb, extra := s.cb, s.extra
	s.cb = nil
	if cb != nil {
		var content []byte
		if err == nil {
			content = s.readBuf.Bytes()[s.contentStart : s.contentStart+s.contentLen]
		}
		cb(content, err, extra)
	}
	if err != nil {
		requestsFailed.Inc()
	} else if s.method != methodPrime {
		requestsCompleted.Inc()
	}
	s.g.release(s)
}
