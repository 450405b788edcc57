package snowhttp

import (
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/MrE-Fog/snowhttp/bpool"
	"github.com/MrE-Fog/snowhttp/logs"
	"github.com/MrE-Fog/snowhttp/ringbuffer"
	"github.com/MrE-Fog/snowhttp/timer"
	ltls "github.com/lesismal/llib/std/crypto/tls"
	"github.com/lesismal/nbio"
)

const (
	timerQueueTick int32 = iota + 1
	timerSessionRenew
)

// Global owns the pool, the caches, the TLS client configuration and
// the event loops. One Global serves any number of hosts.
type Global struct {
	conf Config

	engine *nbio.Gopher
	dialer *net.Dialer
	wheel  *timer.Wheel

	conns []*conn
	pool  pool

	addrs    *addrCache
	sessions *sessionCache
	tlsConf  *ltls.Config

	mu     sync.Mutex
	wanted []string
}

func New(opt ...Opt) *Global {
	conf := defaultConfig()
	for _, o := range opt {
		o(&conf)
	}
	if conf.LogWriter != nil {
		logs.Touch(conf.LogWriter)
	}

	g := &Global{
		conf:     conf,
		addrs:    newAddrCache(),
		sessions: newSessionCache(),
	}
	g.dialer = g.newDialer()

	g.conns = make([]*conn, conf.PoolSize)
	g.pool.free = make([]int32, 0, conf.PoolSize)
	for i := 0; i < conf.PoolSize; i++ {
		g.conns[i] = &conn{
			id:       i,
			g:        g,
			writeBuf: bpool.New(conf.ConnBufSize),
			readBuf:  bpool.New(conf.ConnBufSize),
		}
		g.pool.free = append(g.pool.free, int32(i))
	}
	g.pool.pending = ringbuffer.New[*pending](64, 256)
	return g
}

// Start loads the trust store, brings up the event loops and the
// tick timers. Must be called before Do or Enqueue.
func (g *Global) Start() error {
	tlsConf := &ltls.Config{
		ClientSessionCache: g.sessions,
		MaxVersion:         ltls.VersionTLS12,
	}
	if g.conf.InsecureSkipVerify {
		tlsConf.InsecureSkipVerify = true
	} else {
		pem, err := os.ReadFile(g.conf.CAFile)
		if err != nil {
			return fmt.Errorf("snowhttp: load CA bundle: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("snowhttp: no certificates in %s", g.conf.CAFile)
		}
		tlsConf.RootCAs = caPool
	}
	g.tlsConf = tlsConf

	engine := nbio.NewGopher(nbio.Config{
		Name:           "snowhttp",
		Network:        "tcp",
		NPoller:        g.conf.Loops,
		ReadBufferSize: g.conf.ConnBufSize,
	})
	engine.OnOpen(g.onOpen)
	engine.OnData(g.onData)
	engine.OnClose(g.onClose)
	if err := engine.Start(); err != nil {
		return err
	}
	g.engine = engine

	g.wheel = timer.New(g.conf.QueueTick)
	g.wheel.Add(timer.Key{Kind: timerQueueTick}, g.conf.QueueTick, 0, g.drainPending)
	g.wheel.Add(timer.Key{Kind: timerSessionRenew}, g.conf.SessionRenewInterval, 0, g.renewSessions)
	g.wheel.Start()
	return nil
}

// Stop halts the timers and the event loops. In-flight requests are
// failed through their callbacks as their connections close.
func (g *Global) Stop() {
	if g.wheel != nil {
		g.wheel.Stop()
	}
	if g.engine != nil {
		g.engine.Stop()
	}
}

// Wait blocks until the event loops exit.
func (g *Global) Wait() {
	if g.engine != nil {
		g.engine.Wait()
	}
}
