package snowhttp

import (
	"bytes"

	"github.com/MrE-Fog/snowhttp/logs"
)

func newPending(method, rawURL string, cb Callback, extra interface{}, extraHeaders []byte) (*pending, error) {
	if len(extraHeaders) > 0 && !bytes.HasSuffix(extraHeaders, crlf) {
		return nil, ErrBadHeaders
	}
	p := &pending{
		method: method,
		url:    rawURL,
		cb:     cb,
		extra:  extra,
	}
	if len(extraHeaders) > 0 {
		p.headers = append([]byte(nil), extraHeaders...)
	}
	return p, nil
}

// Do dispatches immediately. When the pool is exhausted the request
// is not queued: ErrPoolExhausted comes back and the callback is
// never invoked.
func (g *Global) Do(method, rawURL string, cb Callback, extra interface{}, extraHeaders []byte) error {
	if g.engine == nil {
		return ErrNotStarted
	}
	p, err := newPending(method, rawURL, cb, extra, extraHeaders)
	if err != nil {
		return err
	}
	s := g.grab()
	if s == nil {
		requestsDropped.Inc()
		logs.ErrorLog("no free connections")
		return ErrPoolExhausted
	}
	return g.startRequest(s, p)
}

// Enqueue dispatches if a slot is free, otherwise queues the request
// for the next tick.
func (g *Global) Enqueue(method, rawURL string, cb Callback, extra interface{}, extraHeaders []byte) error {
	if g.engine == nil {
		return ErrNotStarted
	}
	p, err := newPending(method, rawURL, cb, extra, extraHeaders)
	if err != nil {
		return err
	}
	g.pool.mu.Lock()
	n := len(g.pool.free)
	if n == 0 {
		g.pool.pending.Put(p)
		g.pool.mu.Unlock()
		requestsQueued.Inc()
		return nil
	}
	id := g.pool.free[n-1]
	g.pool.free = g.pool.free[:n-1]
	g.pool.mu.Unlock()

	s := g.conns[id]
	s.reset()
	return g.startRequest(s, p)
}

// grab pops a slot off the free stack, recently released first.
func (g *Global) grab() *conn {
	g.pool.mu.Lock()
	n := len(g.pool.free)
	if n == 0 {
		g.pool.mu.Unlock()
		return nil
	}
	id := g.pool.free[n-1]
	g.pool.free = g.pool.free[:n-1]
	g.pool.mu.Unlock()

	s := g.conns[id]
	s.reset()
	return s
}

func (g *Global) release(s *conn) {
	s.setState(connUnready)
	g.pool.mu.Lock()
	g.pool.free = append(g.pool.free, int32(s.id))
	g.pool.mu.Unlock()
	requestsInFlight.Dec()
}

// startRequest takes ownership of a popped slot. Errors surfaced
// here go back to the caller; the slot returns to the pool and the
// callback is not invoked.
func (g *Global) startRequest(s *conn, p *pending) error {
	u, err := parseURL(p.url)
	if err != nil {
		g.releaseUnused(s)
		return err
	}
	s.urlStorage = p.url
	s.u = u
	s.method = p.method
	s.headers = p.headers
	s.cb = p.cb
	s.extra = p.extra

	if s.method == methodPrime {
		if !u.secure {
			g.releaseUnused(s)
			return ErrMalformedURL
		}
	} else {
		if err = s.serializeRequest(); err != nil {
			g.releaseUnused(s)
			return err
		}
		requestsTotal.WithLabelValues(s.method).Inc()
	}

	requestsInFlight.Inc()
	s.setState(connInProgress)
	go s.connect()
	return nil
}

// releaseUnused returns a slot that never left the process.
func (g *Global) releaseUnused(s *conn) {
	g.pool.mu.Lock()
	g.pool.free = append(g.pool.free, int32(s.id))
	g.pool.mu.Unlock()
}

// drainPending runs on every queue tick: while there is work and a
// free slot, dispatch the oldest pending request.
func (g *Global) drainPending() {
	for {
		g.pool.mu.Lock()
		if g.pool.pending.Size() == 0 || len(g.pool.free) == 0 {
			g.pool.mu.Unlock()
			return
		}
		p, _ := g.pool.pending.Pop()
		n := len(g.pool.free)
		id := g.pool.free[n-1]
		g.pool.free = g.pool.free[:n-1]
		g.pool.mu.Unlock()

		s := g.conns[id]
		s.reset()
		if err := g.startRequest(s, p); err != nil {
			// a queued request has no caller left to signal
			if p.cb != nil {
				p.cb(nil, err, p.extra)
			}
			requestsFailed.Inc()
		}
	}
}
