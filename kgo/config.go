package kgo

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Opt is an option to configure a Client, following the functional
// options pattern: each Opt mutates the cfg a NewClient call builds up
// before validating it.
type Opt interface {
	apply(*cfg)
}

type opt struct{ fn func(*cfg) }

func (o opt) apply(c *cfg) { o.fn(c) }

type cfg struct {
	clientID *string
	dialFunc func(context.Context, string) (net.Conn, error)

	connectTimeout time.Duration
	produceTimeout time.Duration

	acks               RequiredAcks
	compression        Compression
	maxMessageSetBytes int

	logger Logger
	hooks  hooks

	metadataCacheSize int
}

func (c *cfg) validate() error {
	if c.maxMessageSetBytes < 1<<10 {
		return fmt.Errorf("%w: max message set bytes %d is less than the minimum acceptable %d", ErrBadConfig, c.maxMessageSetBytes, 1<<10)
	}
	if c.metadataCacheSize < 1 {
		return fmt.Errorf("%w: metadata cache size %d must be positive", ErrBadConfig, c.metadataCacheSize)
	}
	if c.connectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrBadConfig)
	}
	if c.produceTimeout <= 0 {
		return fmt.Errorf("%w: produce timeout must be positive", ErrBadConfig)
	}
	return nil
}

// domainRe validates domains: a label, and at least one dot-label.
var domainRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*(?:\.[a-z0-9]+(?:-[a-z0-9]+)*)+$`)

// stddialer is the default dialer for dialing broker connections.
var stddialer = net.Dialer{}

func stddial(ctx context.Context, addr string) (net.Conn, error) {
	return stddialer.DialContext(ctx, "tcp", addr)
}

// RequiredAcks represents the number of acknowledgments a broker leader
// must have received before a produce request is considered complete.
// This corresponds to "acks" in Kafka's producer configuration.
type RequiredAcks struct{ val int16 }

// RequireNoAck considers records sent as soon as they are written to
// the wire: the leader does not reply to produced records at all.
func RequireNoAck() RequiredAcks { return RequiredAcks{0} }

// RequireLeaderAck causes a broker to reply once only the partition
// leader has written a record; the leader does not wait on in-sync
// replicas.
func RequireLeaderAck() RequiredAcks { return RequiredAcks{1} }

// RequireAllISRAcks ensures that every in-sync replica has acknowledged
// a record before the leader replies success. This is the default.
func RequireAllISRAcks() RequiredAcks { return RequiredAcks{-1} }

// WithClientID uses id for all requests sent to brokers, overriding the
// default "kgo". This accepts a pointer to a string because Kafka
// distinguishes a null client ID from an empty one.
func WithClientID(id *string) Opt {
	return opt{func(c *cfg) { c.clientID = id }}
}

// WithDialFunc uses fn to dial broker addresses, overriding the default
// dialer. Tests use this to redirect connections to an in-process fake
// broker.
func WithDialFunc(fn func(context.Context, string) (net.Conn, error)) Opt {
	return opt{func(c *cfg) { c.dialFunc = fn }}
}

// WithConnectTimeout upper bounds how long dialing and handshaking a
// broker connection may take, overriding the default 10s.
func WithConnectTimeout(d time.Duration) Opt {
	return opt{func(c *cfg) { c.connectTimeout = d }}
}

// WithProduceTimeout upper bounds how long a single Produce call may
// wait for a broker's response, overriding the default 30s. This is
// the client-side wait; per design, a request whose wait times out is
// left on the broker's in-flight queue rather than canceled.
func WithProduceTimeout(d time.Duration) Opt {
	return opt{func(c *cfg) { c.produceTimeout = d }}
}

// WithProduceRequiredAcks sets the required acks for produced records,
// overriding the default RequireAllISRAcks.
func WithProduceRequiredAcks(acks RequiredAcks) Opt {
	return opt{func(c *cfg) { c.acks = acks }}
}

// WithProduceCompression records a compression codec in the client's
// configuration, overriding the default CompressionNone. Produce does not
// apply it: each MessageSet is encoded with the codec given to
// NewMessageSet.
func WithProduceCompression(compression Compression) Opt {
	return opt{func(c *cfg) { c.compression = compression }}
}

// WithMaxMessageSetBytes records a maximum message set size in the
// client's configuration, overriding the default 1,000,000 bytes (Kafka's
// own max.message.bytes default). NewClient rejects values below 1 KiB.
// It does not bound any MessageSet: each set takes its bound from
// NewMessageSet.
func WithMaxMessageSetBytes(n int) Opt {
	return opt{func(c *cfg) { c.maxMessageSetBytes = n }}
}

// WithLogger installs a leveled logger, overriding the default no-op
// logger.
func WithLogger(l Logger) Opt {
	return opt{func(c *cfg) { c.logger = l }}
}

// WithHooks registers observability hooks. Hooks are additive: calling
// WithHooks more than once appends rather than replaces.
func WithHooks(hs ...Hook) Opt {
	return opt{func(c *cfg) { c.hooks = append(c.hooks, hs...) }}
}

// WithMetadataCacheSize overrides the default 8192-entry bound on the
// (topic, partition) -> leader LRU cache.
func WithMetadataCacheSize(n int) Opt {
	return opt{func(c *cfg) { c.metadataCacheSize = n }}
}

// NewClient returns a Client seeded with the given broker addresses
// (host or host:port; port defaults to 9092). No network I/O happens
// until the first call that needs a broker connection.
func NewClient(seedBrokers []string, opts ...Opt) (*Client, error) {
	defaultID := "kgo"
	c := cfg{
		clientID: &defaultID,
		dialFunc: stddial,

		connectTimeout: 10 * time.Second,
		produceTimeout: 30 * time.Second,

		acks:               RequireAllISRAcks(),
		compression:        CompressionNone,
		maxMessageSetBytes: defaultMaxMessageSetBytes,

		logger: new(nopLogger),

		metadataCacheSize: 8192,
	}

	for _, o := range opts {
		o.apply(&c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	seedAddrs, err := normalizeSeedBrokers(seedBrokers)
	if err != nil {
		return nil, err
	}
	if len(seedAddrs) == 0 {
		return nil, fmt.Errorf("%w: no seed brokers given", ErrBadConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cl := &Client{
		cfg:    c,
		ctx:    ctx,
		cancel: cancel,
		log:    &wrappedLogger{inner: c.logger},

		brokersByID:   make(map[int32]*broker),
		brokersByAddr: make(map[string]*broker),
	}
	cl.metadata = newMetadataCache(cl, c.metadataCacheSize)

	for _, addr := range seedAddrs {
		// nodeId 0 for every seed broker, per the bootstrap convention:
		// real node IDs only come from metadata responses. Several seeds
		// sharing that key in brokersByID is fine — brokersByAddr is the
		// map other code relies on to enumerate distinct brokers.
		cl.seedBrokers = append(cl.seedBrokers, cl.brokerFor(0, addr))
	}

	return cl, nil
}

func normalizeSeedBrokers(seedBrokers []string) ([]string, error) {
	isAddr := func(addr string) bool { return net.ParseIP(addr) != nil }
	isDomain := func(domain string) bool {
		if len(domain) < 3 || len(domain) > 255 {
			return false
		}
		for _, label := range strings.Split(domain, ".") {
			if len(label) > 63 {
				return false
			}
		}
		return domainRe.MatchString(strings.ToLower(domain))
	}

	seedAddrs := make([]string, 0, len(seedBrokers))
	for _, seedBroker := range seedBrokers {
		addr := seedBroker
		port := 9092
		var err error
		if colon := strings.IndexByte(addr, ':'); colon > 0 {
			port, err = strconv.Atoi(addr[colon+1:])
			if err != nil {
				return nil, fmt.Errorf("%w: unable to parse addr:port in %q", ErrBadConfig, seedBroker)
			}
			addr = addr[:colon]
		}

		if addr == "localhost" {
			addr = "127.0.0.1"
		}

		if !isAddr(addr) && !isDomain(addr) {
			return nil, fmt.Errorf("%w: %q is neither an IP address nor a domain", ErrBadConfig, addr)
		}

		seedAddrs = append(seedAddrs, net.JoinHostPort(addr, strconv.Itoa(port)))
	}
	return seedAddrs, nil
}
