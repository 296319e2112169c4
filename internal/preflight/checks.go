package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"fsipd/internal/listener"
	"fsipd/internal/logging"
	"fsipd/internal/pidfile"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckInstance fails when another process holds the pid file lock.
func CheckInstance(path string) Result {
	const name = "Instance lock"

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Detail: "no pid file"}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		pid, readErr := pidfile.ReadPID(path)
		if readErr != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s is locked (pid unknown)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("fsipd already running, pid %d", pid)}
	}
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: lock probe: %v)", path, err)}
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s is stale and will be reused", path)}
}

// CheckPorts binds each enabled endpoint on its own and closes it again.
// Families the host does not support are reported as skipped.
func CheckPorts(ctx context.Context, opts listener.Options) []Result {
	targets := opts.Targets()
	if len(targets) == 0 {
		return []Result{{Name: "Endpoints", Detail: listener.ErrNoEndpoints.Error()}}
	}
	results := make([]Result, 0, len(targets))
	for _, target := range targets {
		name := fmt.Sprintf("%s port %d", target.Network, opts.Port)
		endpoints, err := listener.Bind(ctx, target.Options, logging.NewNop())
		switch {
		case errors.Is(err, listener.ErrNoEndpoints):
			results = append(results, Result{Name: name, Passed: true, Detail: "address family unsupported; skipped"})
		case err != nil:
			results = append(results, Result{Name: name, Detail: err.Error()})
		default:
			_ = listener.CloseAll(endpoints)
			results = append(results, Result{Name: name, Passed: true, Detail: "available"})
		}
	}
	return results
}
