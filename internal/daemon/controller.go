package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fsipd/internal/capturelog"
	"fsipd/internal/config"
	"fsipd/internal/daemonctl"
	"fsipd/internal/listener"
	"fsipd/internal/logging"
	"fsipd/internal/pidfile"
	"fsipd/internal/record"
)

// ErrListenersStopped is returned by Run when every receive loop has exited
// without a shutdown request.
var ErrListenersStopped = errors.New("all capture endpoints stopped")

const (
	defaultLockWait  = 5 * time.Second
	requestQueueSize = 8
)

// Controller owns the pid file lock, the capture log, and the endpoints for
// one daemon run.
type Controller struct {
	cfg      *config.Config
	logger   *slog.Logger
	handoff  *daemonctl.Handoff
	lockWait time.Duration
	override func(*listener.Options)

	state      atomic.Int32
	requests   chan Request
	terminated chan struct{}
	termOnce   sync.Once

	guard     *pidfile.Handle
	writer    *capturelog.Writer
	endpoints []*listener.Endpoint
	set       *listener.Set
}

// Option configures a Controller.
type Option func(*Controller)

// WithHandoff makes Prepare adopt the lock and sockets a parent process
// passed down instead of acquiring and binding its own.
func WithHandoff(h *daemonctl.Handoff) Option {
	return func(c *Controller) { c.handoff = h }
}

// WithLockWait bounds how long opening or reopening the capture log waits
// for another writer's lock.
func WithLockWait(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.lockWait = d
		}
	}
}

// WithListenOverride adjusts the listener options derived from config.
func WithListenOverride(fn func(*listener.Options)) Option {
	return func(c *Controller) { c.override = fn }
}

// New builds a controller in the INIT state.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		lockWait:   defaultLockWait,
		requests:   make(chan Request, requestQueueSize),
		terminated: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Endpoints returns the bound endpoints once Prepare has succeeded.
func (c *Controller) Endpoints() []*listener.Endpoint {
	return c.endpoints
}

// Request enqueues r for the controller goroutine. It returns immediately
// once the controller has terminated.
func (c *Controller) Request(r Request) {
	select {
	case c.requests <- r:
	case <-c.terminated:
	}
}

func (c *Controller) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	c.logger.Debug("lifecycle transition",
		logging.String("from", prev.String()),
		logging.String(logging.FieldState, next.String()),
	)
	if next == StateTerminated {
		c.termOnce.Do(func() { close(c.terminated) })
	}
}

func (c *Controller) listenOptions() listener.Options {
	opts := listener.OptionsFromConfig(c.cfg)
	if c.override != nil {
		c.override(&opts)
	}
	return opts
}

// Prepare takes the pid file lock, opens the capture log, and binds the
// endpoints. On failure everything already acquired is given back, the lock
// first, and the controller is TERMINATED.
func (c *Controller) Prepare(ctx context.Context) error {
	if state := c.State(); state != StateInit {
		return fmt.Errorf("prepare: controller is %s", state)
	}

	guard, err := c.acquireGuard()
	if err != nil {
		c.setState(StateTerminated)
		return err
	}
	c.guard = guard
	c.setState(StateLocked)

	lockCtx, cancel := context.WithTimeout(ctx, c.lockWait)
	writer, err := capturelog.Open(lockCtx, c.cfg.Capture.Path, c.cfg.CaptureMode())
	cancel()
	if err != nil {
		c.unwind()
		return fmt.Errorf("open capture log: %w", err)
	}
	c.writer = writer

	if c.handoff != nil {
		c.endpoints = c.handoff.Endpoints
	} else {
		endpoints, err := listener.Bind(ctx, c.listenOptions(), c.logger)
		if err != nil {
			c.unwind()
			return err
		}
		c.endpoints = endpoints
	}
	c.setState(StateSocketsBound)
	return nil
}

func (c *Controller) acquireGuard() (*pidfile.Handle, error) {
	if c.handoff != nil {
		guard, err := pidfile.Inherit(c.handoff.PIDFile, c.handoff.PIDFilePath)
		if err != nil {
			return nil, fmt.Errorf("adopt inherited pid file: %w", err)
		}
		return guard, nil
	}
	return pidfile.Acquire(c.cfg.PIDFile.Path, c.cfg.PIDFileMode())
}

// unwind gives back everything acquired so far, the lock first.
func (c *Controller) unwind() {
	c.releaseGuard()
	if c.writer != nil {
		_ = c.writer.Close()
	}
	_ = listener.CloseAll(c.endpoints)
	c.setState(StateTerminated)
}

func (c *Controller) releaseGuard() error {
	if c.guard == nil {
		return nil
	}
	err := c.guard.Release()
	if err != nil && !errors.Is(err, pidfile.ErrClosed) {
		logging.ErrorWithContext(c.logger, "pid file not released", "pidfile_release_failed",
			logging.String(logging.FieldPath, c.guard.Path()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the stale pid file after checking no other fsipd runs"),
		)
		return err
	}
	return nil
}

// Detach hands the lock and the endpoints to a detached child and gives up
// this process's copies. The capture log is closed first so the child can
// take the writer lock. The controller is TERMINATED afterwards either way.
func (c *Controller) Detach(opts daemonctl.Options) (int, error) {
	if state := c.State(); state != StateSocketsBound {
		return 0, fmt.Errorf("detach: controller is %s", state)
	}
	if err := c.writer.Close(); err != nil {
		c.unwind()
		return 0, fmt.Errorf("close capture log before detach: %w", err)
	}
	pid, err := daemonctl.Detach(opts, c.guard, c.endpoints)
	if err != nil {
		c.unwind()
		return 0, err
	}
	if err := c.guard.Close(); err != nil {
		logging.WarnWithContext(c.logger, "parent pid file copy not closed", "pidfile_close_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "parent exits holding a stale descriptor"),
		)
	}
	_ = listener.CloseAll(c.endpoints)
	c.setState(StateTerminated)
	return pid, nil
}

// Run records the pid, starts the receive loops, and serves requests until
// shutdown. It returns nil after an orderly shutdown. A failed rotation or
// the loss of every endpoint is returned as an error after the lock has been
// released. Cancelling ctx behaves like a shutdown request.
func (c *Controller) Run(ctx context.Context) error {
	if state := c.State(); state != StateSocketsBound {
		return fmt.Errorf("run: controller is %s", state)
	}
	if err := c.guard.Write(); err != nil {
		c.unwind()
		return fmt.Errorf("record pid: %w", err)
	}

	c.set = listener.NewSet(c.endpoints, record.NewRecorder(c.writer), c.listenOptions(), c.logger)
	c.set.Start(ctx)

	if c.cfg.Capture.WatchRotation {
		watch, err := watchRotation(c.writer.Path(), c.Request, c.logger)
		if err != nil {
			logging.WarnWithContext(c.logger, "rotation watch unavailable", "rotation_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "send SIGHUP after rotating the capture log"),
				logging.String(logging.FieldImpact, "renamed capture logs are not reopened automatically"),
			)
		} else {
			defer watch.Close()
		}
	}

	c.setState(StateRunning)
	c.logger.Info("capturing",
		logging.String(logging.FieldPath, c.writer.Path()),
		logging.Int("endpoints", len(c.endpoints)),
	)

	for {
		select {
		case <-ctx.Done():
			return c.shutdown("context cancelled")
		case req := <-c.requests:
			switch req {
			case RequestRotate:
				if err := c.rotate(ctx); err != nil {
					return err
				}
			case RequestShutdown:
				return c.shutdown("shutdown requested")
			}
		case <-c.set.Done():
			if ctx.Err() != nil {
				return c.shutdown("context cancelled")
			}
			logging.ErrorWithContext(c.logger, "every receive loop exited", "listeners_stopped",
				logging.String(logging.FieldErrorHint, "check the diagnostic log for the listener failure"),
			)
			c.unwind()
			return ErrListenersStopped
		}
	}
}

func (c *Controller) rotate(ctx context.Context) error {
	c.setState(StateRotating)
	lockCtx, cancel := context.WithTimeout(ctx, c.lockWait)
	defer cancel()

	if err := c.writer.Reopen(lockCtx); err != nil {
		logging.ErrorWithContext(c.logger, "capture log reopen failed", "rotation_failed",
			logging.String(logging.FieldPath, c.writer.Path()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the capture log directory and restart fsipd"),
		)
		c.setState(StateShuttingDown)
		c.releaseGuard()
		_ = c.set.Close()
		c.setState(StateTerminated)
		return fmt.Errorf("rotate capture log: %w", err)
	}
	c.setState(StateRunning)
	c.logger.Info("capture log reopened",
		logging.String(logging.FieldPath, c.writer.Path()),
		logging.String("identity", c.writer.Identity().String()),
	)
	return nil
}

// shutdown releases the lock, closes the capture log, and closes the
// endpoints without waiting for their loops.
func (c *Controller) shutdown(reason string) error {
	c.setState(StateShuttingDown)
	c.logger.Info("shutting down", logging.String("reason", reason))

	releaseErr := c.releaseGuard()
	closeErr := c.writer.Close()
	_ = c.set.Close()
	c.setState(StateTerminated)

	if releaseErr != nil {
		return fmt.Errorf("release pid file: %w", releaseErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close capture log: %w", closeErr)
	}
	return nil
}
