package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"fsipd/internal/config"
	"fsipd/internal/daemon"
	"fsipd/internal/daemonctl"
	"fsipd/internal/logging"
)

const logPointerName = "fsipd-daemon.log"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Executable and Args are used to re-execute fsipd when detaching.
	Executable string
	Args       []string
	// Detached is called in the parent with the child's pid after a
	// successful detach.
	Detached func(pid int, logPath string)
}

// Run starts fsipd. Outside foreground mode the parent prepares everything,
// hands it to a detached child and returns nil; the child and foreground
// runs serve until shutdown.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	handoff, inherited, err := daemonctl.Inherited()
	if err != nil {
		return fmt.Errorf("inherit descriptors: %w", err)
	}
	runID := uuid.NewString()
	if inherited && handoff.RunID != "" {
		runID = handoff.RunID
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logPath := runLogPath(cfg.Logging.Dir, runID)
	logger, err := newRunLogger(cfg, opts, logPath, inherited)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldRunID, runID))

	var ctrlOpts []daemon.Option
	if inherited {
		ctrlOpts = append(ctrlOpts, daemon.WithHandoff(handoff))
	}
	ctrl := daemon.New(cfg, logger, ctrlOpts...)
	if err := ctrl.Prepare(ctx); err != nil {
		// A refused start leaves the running instance's diagnostics alone.
		if !inherited && logPath != "" {
			_ = os.Remove(logPath)
		}
		return err
	}

	if !inherited {
		if err := ensureCurrentLogPointer(cfg.Logging.Dir, logPath); err != nil {
			logging.WarnWithContext(logger, "log pointer not updated", "log_pointer",
				logging.String("pointer", logPointerName),
				logging.Error(err),
			)
		}
		logging.CleanupOldLogs(logger, logging.Retention{
			Dir:  cfg.Logging.Dir,
			Days: cfg.Logging.RetentionDays,
			Keep: []string{logPath, filepath.Join(cfg.Logging.Dir, logPointerName)},
		})
	}

	if !inherited && !cfg.Daemon.Foreground {
		pid, err := ctrl.Detach(daemonctl.Options{
			Executable: opts.Executable,
			Args:       opts.Args,
			RunID:      runID,
		})
		if err != nil {
			return err
		}
		logger.Info("detached",
			logging.Int("child_pid", pid),
			logging.String("log_path", logPath),
		)
		if opts.Detached != nil {
			opts.Detached(pid, logPath)
		}
		return nil
	}

	stop := daemon.HandleSignals(ctx, ctrl, inherited)
	defer stop()

	err = ctrl.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.ErrorWithContext(logger, "fsipd stopped", "daemon_failed",
			logging.Error(err),
		)
		return err
	}
	logger.Info("fsipd stopped")
	return nil
}

func runLogPath(dir, runID string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, fmt.Sprintf("fsipd-%s.log", runID))
}

// newRunLogger writes to the per-run file, plus the terminal unless stdio
// has already been detached.
func newRunLogger(cfg *config.Config, opts Options, logPath string, detached bool) (*slog.Logger, error) {
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	outputs := []string{"stderr"}
	if detached {
		outputs = nil
	}
	if logPath != "" {
		outputs = append(outputs, logPath)
	}
	if len(outputs) == 0 {
		return logging.NewNop(), nil
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     outputs,
		Development: opts.Development,
	})
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logPointerName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
