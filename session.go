package snowhttp

import (
	"sync"
	"sync/atomic"

	"github.com/MrE-Fog/snowhttp/logs"
	ltls "github.com/lesismal/llib/std/crypto/tls"
)

// sessionCache keeps one resumable session per key. It implements
// the TLS library's ClientSessionCache; the library derives the key
// from the ServerName we set, and calls Put when a fresh ticket
// lands, replacing (and thereby dropping) the previous session.
type sessionCache struct {
	mu sync.Mutex
	m  map[string]*ltls.ClientSessionState
}

func newSessionCache() *sessionCache {
	return &sessionCache{m: make(map[string]*ltls.ClientSessionState)}
}

func (c *sessionCache) Get(key string) (*ltls.ClientSessionState, bool) {
	c.mu.Lock()
	cs, ok := c.m[key]
	c.mu.Unlock()
	if !ok {
		logs.WarnLog("no resumable session for %s", key)
		return nil, false
	}
	return cs, true
}

func (c *sessionCache) Put(key string, cs *ltls.ClientSessionState) {
	c.mu.Lock()
	if cs == nil {
		delete(c.m, key)
	} else {
		c.m[key] = cs
	}
	c.mu.Unlock()
}

func (c *sessionCache) has(key string) bool {
	c.mu.Lock()
	_, ok := c.m[key]
	c.mu.Unlock()
	return ok
}

// primingCache is the cache view a priming connection handshakes
// with: it never resumes (so every priming handshake is full and
// yields a fresh ticket) and it flags the owning slot once the new
// ticket is stored.
type primingCache struct {
	inner *sessionCache
	slot  *conn
}

func (p *primingCache) Get(string) (*ltls.ClientSessionState, bool) {
	return nil, false
}

func (p *primingCache) Put(key string, cs *ltls.ClientSessionState) {
	p.inner.Put(key, cs)
	if cs != nil {
		atomic.StoreInt32(&p.slot.sessionStored, 1)
	}
}

// AddWantedSession registers url for periodic session priming. Only
// https URLs carry sessions; anything else is ignored with a
// warning.
func (g *Global) AddWantedSession(url string) {
	u, err := parseURL(url)
	if err != nil || !u.secure {
		logs.WarnLog("wanted session ignored for %q: not an https url", url)
		return
	}
	g.mu.Lock()
	g.wanted = append(g.wanted, url)
	g.mu.Unlock()
}

// renewSessions enqueues one priming handshake per slot for every
// wanted host, so whichever slots the ticks hand them to refresh the
// ticket before the old one is relied on again.
func (g *Global) renewSessions() {
	g.mu.Lock()
	urls := append([]string(nil), g.wanted...)
	g.mu.Unlock()
	if len(urls) == 0 {
		return
	}
	for _, u := range urls {
		for i := 0; i < g.conf.PoolSize; i++ {
			if err := g.Enqueue(methodPrime, u, nil, nil, nil); err != nil {
				logs.ErrorLog("session renew enqueue: %s", err)
			}
		}
	}
	sessionRenewals.Add(float64(len(urls)))
	logs.InfoLog("renewing sessions for %d hosts", len(urls))
}
