package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fsipd/internal/logging"
)

var (
	// ignoredSignals end or dump the process by default. SIGPROF stays with
	// the runtime profiler.
	ignoredSignals = []os.Signal{
		syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGALRM, syscall.SIGPIPE,
		syscall.SIGQUIT, syscall.SIGXCPU, syscall.SIGXFSZ, syscall.SIGVTALRM,
	}
	jobControlSignals = []os.Signal{syscall.SIGTSTP, syscall.SIGTTOU, syscall.SIGTTIN}
)

// HandleSignals routes SIGHUP to a rotation request and SIGINT or SIGTERM to
// a shutdown request. Other catchable signals that would end the process are
// ignored, and so is terminal job control when detached. The returned stop
// function restores default delivery for the routed signals.
func HandleSignals(ctx context.Context, c *Controller, detached bool) (stop func()) {
	signal.Ignore(ignoredSignals...)
	if detached {
		signal.Ignore(jobControlSignals...)
	}

	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpSignals(ctx, ch, c.Request, c.logger)
	}()
	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}

func pumpSignals(ctx context.Context, signals <-chan os.Signal, request func(Request), logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			req, ok := requestFor(sig)
			if !ok {
				continue
			}
			logger.Info("signal received",
				logging.String("signal", sig.String()),
				logging.String("request", req.String()),
			)
			request(req)
		}
	}
}

func requestFor(sig os.Signal) (Request, bool) {
	switch sig {
	case syscall.SIGHUP:
		return RequestRotate, true
	case syscall.SIGINT, syscall.SIGTERM:
		return RequestShutdown, true
	}
	return 0, false
}
