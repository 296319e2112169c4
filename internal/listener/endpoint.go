package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"fsipd/internal/config"
	"fsipd/internal/logging"
	"fsipd/internal/record"
)

// ErrNoEndpoints is returned when nothing could be bound.
var ErrNoEndpoints = errors.New("no capture endpoints available")

// Options selects and tunes the capture endpoints.
type Options struct {
	Port int
	TCP4 bool
	TCP6 bool
	UDP4 bool
	UDP6 bool
	// Host4 and Host6 default to the wildcard addresses.
	Host4 string
	Host6 string
	// MaxPayload bounds one captured line; zero means record.DefaultMaxPayload.
	MaxPayload int
	// ReadTimeout bounds the wait for a TCP peer's line; zero waits forever.
	ReadTimeout time.Duration
}

// OptionsFromConfig derives listener options from the [listen] and
// [capture] sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Port:        cfg.Listen.Port,
		TCP4:        cfg.Listen.TCP4,
		TCP6:        cfg.Listen.TCP6,
		UDP4:        cfg.Listen.UDP4,
		UDP6:        cfg.Listen.UDP6,
		MaxPayload:  cfg.Capture.MaxLineBytes,
		ReadTimeout: time.Duration(cfg.Listen.ReadTimeoutSeconds) * time.Second,
	}
}

// Target is o narrowed to a single endpoint.
type Target struct {
	Network string
	Options Options
}

// Targets splits o into one Target per enabled endpoint.
func (o Options) Targets() []Target {
	var out []Target
	for _, c := range o.wanted() {
		narrowed := o
		narrowed.TCP4 = c == combo{record.ProtocolTCP, record.IPv4}
		narrowed.TCP6 = c == combo{record.ProtocolTCP, record.IPv6}
		narrowed.UDP4 = c == combo{record.ProtocolUDP, record.IPv4}
		narrowed.UDP6 = c == combo{record.ProtocolUDP, record.IPv6}
		out = append(out, Target{Network: c.protocol.Network(c.family), Options: narrowed})
	}
	return out
}

type combo struct {
	protocol record.Protocol
	family   record.Family
}

func (o Options) wanted() []combo {
	var out []combo
	if o.TCP4 {
		out = append(out, combo{record.ProtocolTCP, record.IPv4})
	}
	if o.TCP6 {
		out = append(out, combo{record.ProtocolTCP, record.IPv6})
	}
	if o.UDP4 {
		out = append(out, combo{record.ProtocolUDP, record.IPv4})
	}
	if o.UDP6 {
		out = append(out, combo{record.ProtocolUDP, record.IPv6})
	}
	return out
}

func (o Options) host(f record.Family) string {
	if f == record.IPv6 {
		if o.Host6 != "" {
			return o.Host6
		}
		return "::"
	}
	if o.Host4 != "" {
		return o.Host4
	}
	return "0.0.0.0"
}

func (o Options) maxPayload() int {
	if o.MaxPayload <= 0 {
		return record.DefaultMaxPayload
	}
	return o.MaxPayload
}

// Endpoint is one bound socket.
type Endpoint struct {
	Protocol record.Protocol
	Family   record.Family
	Addr     net.Addr

	tcp *net.TCPListener
	udp *net.UDPConn
}

// Network returns the Go network name, such as "udp6".
func (e *Endpoint) Network() string {
	return e.Protocol.Network(e.Family)
}

func (e *Endpoint) String() string {
	return e.Network() + " " + e.Addr.String()
}

// Port returns the bound local port.
func (e *Endpoint) Port() int {
	switch addr := e.Addr.(type) {
	case *net.TCPAddr:
		return addr.Port
	case *net.UDPAddr:
		return addr.Port
	}
	return 0
}

// File returns a duplicate of the socket descriptor for handing to another
// process. The caller owns the returned file.
func (e *Endpoint) File() (*os.File, error) {
	if e.tcp != nil {
		return e.tcp.File()
	}
	if e.udp != nil {
		return e.udp.File()
	}
	return nil, net.ErrClosed
}

// Close closes the socket, which ends the endpoint's receive loop.
func (e *Endpoint) Close() error {
	var err error
	if e.tcp != nil {
		err = e.tcp.Close()
	}
	if e.udp != nil {
		err = e.udp.Close()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// CloseAll closes every endpoint and returns the first failure.
func CloseAll(endpoints []*Endpoint) error {
	var firstErr error
	for _, ep := range endpoints {
		if err := ep.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// familySupported reports whether the host can create sockets of family f.
var familySupported = func(f record.Family) bool {
	domain := unix.AF_INET
	if f == record.IPv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return !errors.Is(err, unix.EAFNOSUPPORT) && !errors.Is(err, unix.EPROTONOSUPPORT)
	}
	_ = unix.Close(fd)
	return true
}

// Bind opens every enabled endpoint the host supports. Unsupported families
// are skipped. If any supported endpoint fails to bind, the ones already
// bound are closed and the error is returned.
func Bind(ctx context.Context, opts Options, logger *slog.Logger) ([]*Endpoint, error) {
	logger = logging.NewComponentLogger(logger, "listener")

	var endpoints []*Endpoint
	for _, c := range opts.wanted() {
		network := c.protocol.Network(c.family)
		if !familySupported(c.family) {
			logger.Info("address family unsupported; endpoint skipped",
				logging.String(logging.FieldEndpoint, network),
			)
			continue
		}
		ep, err := bind(ctx, c, opts)
		if err != nil {
			_ = CloseAll(endpoints)
			return nil, fmt.Errorf("bind %s port %d: %w", network, opts.Port, err)
		}
		logger.Info("endpoint bound", logging.String(logging.FieldEndpoint, ep.String()))
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return endpoints, nil
}

func bind(ctx context.Context, c combo, opts Options) (*Endpoint, error) {
	lc := net.ListenConfig{Control: socketControl(c.family)}
	network := c.protocol.Network(c.family)
	address := net.JoinHostPort(opts.host(c.family), strconv.Itoa(opts.Port))

	ep := &Endpoint{Protocol: c.protocol, Family: c.family}
	switch c.protocol {
	case record.ProtocolTCP:
		ln, err := lc.Listen(ctx, network, address)
		if err != nil {
			return nil, err
		}
		ep.tcp = ln.(*net.TCPListener)
		ep.Addr = ln.Addr()
	case record.ProtocolUDP:
		pc, err := lc.ListenPacket(ctx, network, address)
		if err != nil {
			return nil, err
		}
		ep.udp = pc.(*net.UDPConn)
		ep.Addr = pc.LocalAddr()
	default:
		return nil, fmt.Errorf("unsupported protocol %s", c.protocol)
	}
	return ep, nil
}

func socketControl(f record.Family) func(network, address string, conn syscall.RawConn) error {
	if f != record.IPv6 {
		return nil
	}
	return func(_, _ string, conn syscall.RawConn) error {
		var sockErr error
		if err := conn.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
		}); err != nil {
			return err
		}
		return sockErr
	}
}

// FromFile rebuilds an endpoint from an inherited socket descriptor. f is
// closed; the endpoint holds its own copy.
func FromFile(f *os.File, protocol record.Protocol, family record.Family) (*Endpoint, error) {
	defer f.Close()
	ep := &Endpoint{Protocol: protocol, Family: family}
	switch protocol {
	case record.ProtocolTCP:
		ln, err := net.FileListener(f)
		if err != nil {
			return nil, fmt.Errorf("inherit %s listener: %w", protocol.Network(family), err)
		}
		tcp, ok := ln.(*net.TCPListener)
		if !ok {
			_ = ln.Close()
			return nil, fmt.Errorf("inherit %s listener: descriptor is %T", protocol.Network(family), ln)
		}
		ep.tcp = tcp
		ep.Addr = tcp.Addr()
	case record.ProtocolUDP:
		pc, err := net.FilePacketConn(f)
		if err != nil {
			return nil, fmt.Errorf("inherit %s socket: %w", protocol.Network(family), err)
		}
		udp, ok := pc.(*net.UDPConn)
		if !ok {
			_ = pc.Close()
			return nil, fmt.Errorf("inherit %s socket: descriptor is %T", protocol.Network(family), pc)
		}
		ep.udp = udp
		ep.Addr = udp.LocalAddr()
	default:
		return nil, fmt.Errorf("unsupported protocol %s", protocol)
	}
	return ep, nil
}
