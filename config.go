package snowhttp

import (
	"io"
	"time"
)

type Config struct {
	ConnBufSize          int
	PoolSize             int
	Loops                int
	QueueTick            time.Duration
	SessionRenewInterval time.Duration
	SockPriority         int
	DisableNagle         bool
	CAFile               string
	InsecureSkipVerify   bool
	LogWriter            io.Writer
}

type Opt func(*Config)

func defaultConfig() Config {
	return Config{
		ConnBufSize:          64 * 1024,
		PoolSize:             64,
		Loops:                1,
		QueueTick:            time.Millisecond,
		SessionRenewInterval: time.Hour,
		SockPriority:         6,
		DisableNagle:         true,
		CAFile:               "/etc/ssl/certs/ca-certificates.crt",
	}
}

// WithConnBufSize sets the per-connection read and write buffer size.
// Buffers are presized for the workload; a response larger than this
// fails the request.
func WithConnBufSize(n int) Opt {
	return func(c *Config) {
		c.ConnBufSize = n
	}
}

func WithPoolSize(n int) Opt {
	return func(c *Config) {
		c.PoolSize = n
	}
}

// WithLoops sets the number of event loops. Connections are bound to
// one loop for their lifetime.
func WithLoops(n int) Opt {
	return func(c *Config) {
		c.Loops = n
	}
}

func WithQueueTick(d time.Duration) Opt {
	return func(c *Config) {
		c.QueueTick = d
	}
}

func WithSessionRenewInterval(d time.Duration) Opt {
	return func(c *Config) {
		c.SessionRenewInterval = d
	}
}

func WithSockPriority(prio int) Opt {
	return func(c *Config) {
		c.SockPriority = prio
	}
}

// WithNagle re-enables Nagle's algorithm; it is disabled by default.
func WithNagle() Opt {
	return func(c *Config) {
		c.DisableNagle = false
	}
}

func WithCAFile(path string) Opt {
	return func(c *Config) {
		c.CAFile = path
	}
}

func WithInsecureSkipVerify() Opt {
	return func(c *Config) {
		c.InsecureSkipVerify = true
	}
}

func WithLogWriter(w io.Writer) Opt {
	return func(c *Config) {
		c.LogWriter = w
	}
}
