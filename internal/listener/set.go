package listener

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"fsipd/internal/logging"
	"fsipd/internal/record"
)

const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = time.Second
)

// Sink receives captured records. It is called from every loop concurrently.
type Sink interface {
	Capture(record.Record) error
}

// Set runs one receive loop per endpoint.
type Set struct {
	endpoints   []*Endpoint
	sink        Sink
	logger      *slog.Logger
	maxPayload  int
	readTimeout time.Duration
	now         func() time.Time

	wg        sync.WaitGroup
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewSet prepares loops over endpoints. Only MaxPayload and ReadTimeout are
// read from opts.
func NewSet(endpoints []*Endpoint, sink Sink, opts Options, logger *slog.Logger) *Set {
	return &Set{
		endpoints:   endpoints,
		sink:        sink,
		logger:      logging.NewComponentLogger(logger, "listener"),
		maxPayload:  opts.maxPayload(),
		readTimeout: opts.ReadTimeout,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// Start launches the loops and returns. Cancelling ctx closes the endpoints.
// A loop only ends when its endpoint is closed or fails permanently.
func (s *Set) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for _, ep := range s.endpoints {
			s.wg.Add(1)
			go s.serve(ep)
		}
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
		context.AfterFunc(ctx, func() { _ = s.Close() })
	})
}

// Done is closed once every loop has exited.
func (s *Set) Done() <-chan struct{} {
	return s.done
}

// Close closes every endpoint without waiting for the loops.
func (s *Set) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = CloseAll(s.endpoints)
	})
	return err
}

func (s *Set) serve(ep *Endpoint) {
	defer s.wg.Done()
	logger := s.logger.With(logging.String(logging.FieldEndpoint, ep.Network()))
	logger.Debug("receive loop started", logging.String("address", ep.Addr.String()))

	var err error
	switch {
	case ep.tcp != nil:
		err = s.serveTCP(ep, logger)
	case ep.udp != nil:
		err = s.serveUDP(ep, logger)
	}
	if err != nil {
		logging.ErrorWithContext(logger, "receive loop stopped", "listener_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check socket limits and restart fsipd"),
		)
		return
	}
	logger.Debug("receive loop stopped")
}

func (s *Set) serveTCP(ep *Endpoint, logger *slog.Logger) error {
	var delay time.Duration
	for {
		conn, err := ep.tcp.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if !isTransient(err) {
				return err
			}
			delay = nextBackoff(delay)
			logging.WarnWithContext(logger, "accept failed; retrying", "accept_failed",
				logging.Error(err),
				logging.Duration("retry_in", delay),
				logging.String(logging.FieldErrorHint, "check open file limits"),
				logging.String(logging.FieldImpact, "connections wait until accept recovers"),
			)
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.handleConn(ep, conn, logger)
	}
}

func (s *Set) handleConn(ep *Endpoint, conn *net.TCPConn, logger *slog.Logger) {
	defer conn.Close()
	peer := peerAddrPort(conn.RemoteAddr())

	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(s.now().Add(s.readTimeout))
	}
	raw, err := readLine(conn, s.maxPayload)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("peer read ended early",
			logging.String(logging.FieldPeer, peer.String()),
			logging.Error(err),
		)
	}
	s.capture(ep, peer, raw, logger)
}

func (s *Set) serveUDP(ep *Endpoint, logger *slog.Logger) error {
	buf := make([]byte, s.maxPayload+1)
	var delay time.Duration
	for {
		n, peer, err := ep.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// A datagram error never ends the loop; back off so a broken
			// socket cannot spin.
			delay = nextBackoff(delay)
			logger.Debug("receive failed; datagram skipped",
				logging.Error(err),
				logging.Bool("transient", isTransient(err)),
				logging.Duration("retry_in", delay),
			)
			time.Sleep(delay)
			continue
		}
		delay = 0
		if n == 0 {
			logger.Debug("empty datagram skipped", logging.String(logging.FieldPeer, peer.String()))
			continue
		}
		s.capture(ep, peer, buf[:n], logger)
	}
}

func (s *Set) capture(ep *Endpoint, peer netip.AddrPort, raw []byte, logger *slog.Logger) {
	payload, truncated := record.Normalize(raw, s.maxPayload)
	addr := peer.Addr()
	if ep.Family == record.IPv4 {
		addr = addr.Unmap()
	}
	rec := record.Record{
		Time:      s.now(),
		Protocol:  ep.Protocol,
		Family:    ep.Family,
		Addr:      addr,
		Port:      peer.Port(),
		Payload:   payload,
		Truncated: truncated,
	}
	if truncated {
		logger.Debug("payload truncated",
			logging.String(logging.FieldPeer, peer.String()),
			logging.Int("max_bytes", s.maxPayload),
		)
	}
	if err := s.sink.Capture(rec); err != nil {
		logging.WarnWithContext(logger, "record not captured", "capture_failed",
			logging.String(logging.FieldPeer, peer.String()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "send SIGHUP after rotating the capture log"),
			logging.String(logging.FieldImpact, "record dropped"),
		)
	}
}

// readLine reads until a newline, max+1 bytes, or the end of the stream,
// whichever comes first. The extra byte lets the caller tell a line that
// exactly fits from one that overflowed.
func readLine(r io.Reader, max int) ([]byte, error) {
	buf := make([]byte, max+1)
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if n > 0 && bytes.IndexByte(buf[total:total+n], '\n') >= 0 {
			return buf[:total+n], nil
		}
		total += n
		if err != nil {
			return buf[:total], err
		}
	}
	return buf[:total], nil
}

func peerAddrPort(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort()
	case *net.UDPAddr:
		return a.AddrPort()
	}
	return netip.AddrPort{}
}

// isTransient reports whether err is a per-peer or resource-pressure failure
// after which the socket is still usable.
func isTransient(err error) bool {
	for _, errno := range []unix.Errno{
		unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM,
		unix.ECONNABORTED, unix.ECONNRESET, unix.EINTR, unix.EAGAIN, unix.EPROTO,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func nextBackoff(delay time.Duration) time.Duration {
	if delay == 0 {
		return minBackoff
	}
	delay *= 2
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
