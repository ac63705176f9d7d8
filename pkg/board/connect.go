package board

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/snap_bringup/pkg/katcp"
)

// Transport kinds understood by the connector.
const (
	TransportKATCP = "katcp"
	TransportSim   = "sim"
)

// DefaultDialTimeout bounds resolve, dial and handshake together.
const DefaultDialTimeout = 5 * time.Second

// Target identifies a board to connect to.
type Target struct {
	Name      string // Label used in logs and reports
	Address   string // host, host:port, katcp://host[:port] or sim://name
	Transport string // Forces the transport kind; empty means "from Address"
}

// Endpoint splits the address into transport kind and host:port. KATCP
// addresses without a port get katcp.DefaultPort.
func (t Target) Endpoint() (kind, hostport string, err error) {
	addr := strings.TrimSpace(t.Address)
	if addr == "" {
		return "", "", fmt.Errorf("board: empty address")
	}

	kind = t.Transport
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return "", "", fmt.Errorf("board: bad address %q: %w", addr, err)
		}
		if kind != "" && kind != u.Scheme {
			return "", "", fmt.Errorf("board: address %q conflicts with transport %q", addr, kind)
		}
		kind = u.Scheme
		addr = u.Host
	}
	if kind == "" {
		kind = TransportKATCP
	}

	switch kind {
	case TransportSim:
		return kind, addr, nil
	case TransportKATCP:
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, strconv.Itoa(katcp.DefaultPort))
		}
		return kind, addr, nil
	default:
		return kind, addr, nil
	}
}

// Opener opens a transport of one kind to hostport.
type Opener func(ctx context.Context, target Target, hostport string, log *zap.Logger) (Transport, error)

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Connector turns Targets into Handles.
type Connector struct {
	openers  map[string]Opener
	resolver Resolver
	timeout  time.Duration
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the parent logger; each handle gets a "board.<name>" child.
func WithLogger(log *zap.Logger) Option {
	return func(c *Connector) { c.log = log }
}

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Connector) { c.timeout = d }
}

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(c *Connector) { c.resolver = r }
}

// WithOpener registers or replaces the opener for a transport kind.
func WithOpener(kind string, open Opener) Option {
	return func(c *Connector) { c.openers[kind] = open }
}

// WithSleep replaces the sleep used by handles, e.g. for clock estimation.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Connector) { c.sleep = sleep }
}

// NewConnector creates a connector with the katcp and sim transports.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		openers: map[string]Opener{
			TransportKATCP: openKATCP,
			TransportSim:   openSim,
		},
		resolver: net.DefaultResolver,
		timeout:  DefaultDialTimeout,
		log:      zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect is shorthand for NewConnector(opts...).Connect(ctx, target).
func Connect(ctx context.Context, target Target, opts ...Option) (*Handle, error) {
	return NewConnector(opts...).Connect(ctx, target)
}

// Kinds lists the registered transport kinds.
func (c *Connector) Kinds() []string {
	kinds := make([]string, 0, len(c.openers))
	for k := range c.openers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Connect resolves the target, opens its transport and pings the control
// server. Every failure is a *ConnectionError; on failure nothing is left
// open.
func (c *Connector) Connect(ctx context.Context, target Target) (*Handle, error) {
	if target.Name == "" {
		target.Name = target.Address
	}
	fail := func(op string, err error) (*Handle, error) {
		return nil, &ConnectionError{Target: target, Op: op, Err: err}
	}

	kind, hostport, err := target.Endpoint()
	if err != nil {
		return fail("resolve", err)
	}
	target.Transport = kind

	open, ok := c.openers[kind]
	if !ok {
		return fail("resolve", fmt.Errorf("unknown transport %q (supported: %s)", kind, strings.Join(c.Kinds(), ", ")))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := c.log.Named("board." + target.Name)

	if kind != TransportSim {
		host, port, err := net.SplitHostPort(hostport)
		if err != nil {
			return fail("resolve", err)
		}
		if net.ParseIP(host) == nil {
			addrs, err := c.resolver.LookupHost(ctx, host)
			if err != nil {
				return fail("resolve", err)
			}
			if len(addrs) == 0 {
				return fail("resolve", fmt.Errorf("no addresses for %s", host))
			}
			log.Debug("resolved board address", zap.String("host", host), zap.Strings("addrs", addrs))
			hostport = net.JoinHostPort(addrs[0], port)
		}
	}

	transport, err := open(ctx, target, hostport, log)
	if err != nil {
		return fail("dial", err)
	}

	if err := transport.Ping(ctx); err != nil {
		_ = transport.Close()
		return fail("handshake", err)
	}

	log.Info("board connected", zap.String("address", hostport), zap.String("transport", kind))
	h := NewHandle(target, transport, log)
	h.sleep = c.sleep
	return h, nil
}
