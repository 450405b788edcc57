package snowhttp

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// addrCache memoizes resolution by host+port. Entries are never
// evicted; they outlive all slots.
type addrCache struct {
	mu sync.Mutex
	m  map[string]*net.TCPAddr
}

func newAddrCache() *addrCache {
	return &addrCache{m: make(map[string]*net.TCPAddr)}
}

func (c *addrCache) resolve(host, portStr string) (*net.TCPAddr, error) {
	key := host + portStr
	c.mu.Lock()
	if a, ok := c.m[key]; ok {
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()

	// resolve outside the lock; a duplicate insert is harmless
	a, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(host, portStr))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.m[key] = a
	c.mu.Unlock()
	return a, nil
}

// newDialer builds the tcp4 dialer applying the socket options at
// creation time: SO_PRIORITY, optional TCP_NODELAY, and
// SO_LINGER{1,0} so teardown closes with an immediate RST instead of
// an ordered shutdown.
func (g *Global) newDialer() *net.Dialer {
	prio := g.conf.SockPriority
	noNagle := g.conf.DisableNagle
	return &net.Dialer{
		Control: func(network, address string, rc syscall.RawConn) error {
			var serr error
			err := rc.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, prio)
				if serr != nil {
					return
				}
				if noNagle {
					serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
					if serr != nil {
						return
					}
				}
				serr = unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER,
					&unix.Linger{Onoff: 1, Linger: 0})
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
}
