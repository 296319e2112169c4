package daemonrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fsipd/internal/daemonctl"
	"fsipd/internal/pidfile"
	"fsipd/internal/testsupport"
)

func TestRunForegroundUntilCancelled(t *testing.T) {
	t.Setenv(daemonctl.DetachedEnv, "")
	cfg := testsupport.NewConfig(t, testsupport.WithPort(testsupport.FreeUDPPort(t)))
	cfg.Logging.Format = "json"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg, Options{LogLevel: "debug"}) }()

	testsupport.WaitFor(t, 5*time.Second, "pid file", func() bool {
		pid, err := pidfile.ReadPID(cfg.PIDFile.Path)
		return err == nil && pid == os.Getpid()
	})

	pointer := filepath.Join(cfg.Logging.Dir, logPointerName)
	target, err := os.Readlink(pointer)
	if err != nil {
		t.Fatalf("read log pointer: %v", err)
	}
	if filepath.Dir(target) != cfg.Logging.Dir {
		t.Fatalf("pointer target %q outside log dir", target)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(cfg.PIDFile.Path); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat run log: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected diagnostics in the run log")
	}
}

func TestRunRefusesWhileAnotherInstanceHoldsLock(t *testing.T) {
	t.Setenv(daemonctl.DetachedEnv, "")
	cfg := testsupport.NewConfig(t, testsupport.WithPort(testsupport.FreeUDPPort(t)))

	guard, err := pidfile.Acquire(cfg.PIDFile.Path, 0o600)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer guard.Release()
	if err := guard.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := os.MkdirAll(cfg.Logging.Dir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	live := filepath.Join(cfg.Logging.Dir, "fsipd-live.log")
	if err := os.WriteFile(live, []byte("running\n"), 0o644); err != nil {
		t.Fatalf("write live log: %v", err)
	}
	if err := ensureCurrentLogPointer(cfg.Logging.Dir, live); err != nil {
		t.Fatalf("point at live log: %v", err)
	}

	err = Run(context.Background(), cfg, Options{})
	var running *pidfile.AlreadyRunningError
	if !errors.As(err, &running) || running.PID != os.Getpid() {
		t.Fatalf("expected AlreadyRunningError for pid %d, got %v", os.Getpid(), err)
	}

	target, err := os.Readlink(filepath.Join(cfg.Logging.Dir, logPointerName))
	if err != nil {
		t.Fatalf("read log pointer: %v", err)
	}
	if target != live {
		t.Fatalf("refused start repointed %s to %q", logPointerName, target)
	}
	runLogs, err := filepath.Glob(filepath.Join(cfg.Logging.Dir, "fsipd-*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	for _, path := range runLogs {
		if path != live && filepath.Base(path) != logPointerName {
			t.Fatalf("refused start left run log %s", path)
		}
	}
}

func TestEnsureCurrentLogPointerReplacesOldLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "fsipd-a.log")
	second := filepath.Join(dir, "fsipd-b.log")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	target, err := os.Readlink(filepath.Join(dir, logPointerName))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != second {
		t.Fatalf("pointer = %q, want %q", target, second)
	}
	if err := ensureCurrentLogPointer("", second); err != nil {
		t.Fatalf("empty dir should be a no-op: %v", err)
	}
}

func TestRunLogPath(t *testing.T) {
	if got := runLogPath("", "abc"); got != "" {
		t.Fatalf("runLogPath with no dir = %q", got)
	}
	if got := runLogPath("/var/log/fsipd", "abc"); got != "/var/log/fsipd/fsipd-abc.log" {
		t.Fatalf("runLogPath = %q", got)
	}
}
