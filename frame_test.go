package snowhttp

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrE-Fog/snowhttp/bpool"
)

type capture struct {
	calls   int32
	content []byte
	err     error
}

func (c *capture) cb(content []byte, err error, extra interface{}) {
	atomic.AddInt32(&c.calls, 1)
	c.content = append([]byte(nil), content...)
	c.err = err
}

// newTestConn fakes a slot that already sent its request and is
// waiting for the response; bytes are fed through onPayload.
func newTestConn(t *testing.T, bufSize int, cb Callback) (*Global, *conn) {
	t.Helper()
	g := New(WithPoolSize(2), WithConnBufSize(bufSize))
	s := g.grab()
	if s == nil {
		t.Fatal("no slot")
	}
	u, err := parseURL("http://example.test/x")
	if err != nil {
		t.Fatal(err)
	}
	s.u = u
	s.method = MethodGet
	s.cb = cb
	atomic.StoreInt32(&s.state, int32(connWaiting))
	return g, s
}

func TestContentLengthResponse(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	s.onPayload([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	if got := atomic.LoadInt32(&c.calls); got != 1 {
		t.Fatalf("callback fired %d times", got)
	}
	if c.err != nil || string(c.content) != "hello" {
		t.Fatalf("content=%q err=%v", c.content, c.err)
	}
}

func TestContentLengthSplitReads(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	body := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	s.onPayload([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"))
	if n := atomic.LoadInt32(&c.calls); n != 0 {
		t.Fatalf("completed before body")
	}
	s.onPayload([]byte(body[:50]))
	if n := atomic.LoadInt32(&c.calls); n != 0 {
		t.Fatalf("completed at half body")
	}
	s.onPayload([]byte(body[50:]))
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if string(c.content) != body {
		t.Fatalf("content=%q", c.content)
	}
}

func TestHeadersSplitAcrossReads(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	s.onPayload([]byte("HTTP/1.1 200 OK\r\nContent-Le"))
	s.onPayload([]byte("ngth: 2\r\n\r\nok"))
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if string(c.content) != "ok" {
		t.Fatalf("content=%q", c.content)
	}
}

func TestContentLengthZero(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	s.onPayload([]byte("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"))
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if c.err != nil || len(c.content) != 0 {
		t.Fatalf("content=%q err=%v", c.content, c.err)
	}
}

func TestChunkedDecode(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	s.onPayload([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"))
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if c.err != nil || string(c.content) != "hello world" {
		t.Fatalf("content=%q err=%v", c.content, c.err)
	}
	// decoded body is NUL-terminated one byte past contentLen
	if s.readBuf.Bytes()[s.contentStart+len("hello world")] != 0 {
		t.Fatalf("missing NUL terminator")
	}
}

func TestChunkedSplitReads(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	resp := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"8\r\n01234567\r\n4\r\n89ab\r\n0\r\n\r\n"
	for _, part := range []string{resp[:20], resp[20:55], resp[55:]} {
		s.onPayload([]byte(part))
	}
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if string(c.content) != "0123456789ab" {
		t.Fatalf("content=%q", c.content)
	}
}

func TestChunkedExactBufferBoundary(t *testing.T) {
	resp := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nabc\r\n0\r\n\r\n"
	var c capture
	_, s := newTestConn(t, len(resp), c.cb)
	s.onPayload([]byte(resp))
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if c.err != nil || string(c.content) != "abc" {
		t.Fatalf("content=%q err=%v", c.content, c.err)
	}
}

func TestChunkedBadSize(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	s.onPayload([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"zz\r\nhello\r\n0\r\n\r\n"))
	if c.err != ErrBadFraming {
		t.Fatalf("expected ErrBadFraming, got %v", c.err)
	}
}

func TestNoFramingHeuristic(t *testing.T) {
	var c capture
	_, s := newTestConn(t, 1024, c.cb)
	s.onPayload([]byte("HTTP/1.1 200 OK\r\nServer: x\r\n\r\nok\n"))
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if string(c.content) != "ok\n" {
		t.Fatalf("content=%q", c.content)
	}
}

func TestOverflowIsFatal(t *testing.T) {
	var c capture
	g, s := newTestConn(t, 64, c.cb)
	big := "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n" + strings.Repeat("x", 100)
	s.onPayload([]byte(big[:60]))
	s.onPayload([]byte(big[60:]))
	if c.err != bpool.ErrBufferFull {
		t.Fatalf("expected ErrBufferFull, got %v", c.err)
	}
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
	if len(g.pool.free) != g.conf.PoolSize {
		t.Fatalf("slot not returned after failure")
	}
}

func TestSlotReturnedAndQuiet(t *testing.T) {
	var c capture
	g, s := newTestConn(t, 1024, c.cb)
	s.onPayload([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
	if len(g.pool.free) != g.conf.PoolSize {
		t.Fatalf("free=%d want %d", len(g.pool.free), g.conf.PoolSize)
	}
	// bytes after completion must not re-fire the callback
	s.onPayload([]byte("stray"))
	if n := atomic.LoadInt32(&c.calls); n != 1 {
		t.Fatalf("callback fired %d times", n)
	}
}

func TestSerializeGet(t *testing.T) {
	g := New(WithPoolSize(1), WithConnBufSize(2048))
	s := g.grab()
	u, _ := parseURL("http://example.test/hello")
	s.u = u
	s.method = MethodGet
	s.headers = []byte("X-A: 1\r\n")
	if err := s.serializeRequest(); err != nil {
		t.Fatal(err)
	}
	want := "GET /hello HTTP/1.1\r\nHost: example.test\r\nX-A: 1\r\n\r\n"
	if got := string(s.writeBuf.Window()); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSerializePostForm(t *testing.T) {
	g := New(WithPoolSize(1), WithConnBufSize(2048))
	s := g.grab()
	u, _ := parseURL("http://example.test/form?a=1&b=2")
	s.u = u
	s.method = MethodPost
	if err := s.serializeRequest(); err != nil {
		t.Fatal(err)
	}
	got := string(s.writeBuf.Window())
	want := "POST /form HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: 7\r\n" +
		"\r\n" +
		"a=1&b=2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if !bytes.Contains([]byte(got), []byte("Content-Length: 7")) {
		t.Fatalf("missing body length")
	}
}
