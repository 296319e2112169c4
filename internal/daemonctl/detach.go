package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"fsipd/internal/listener"
	"fsipd/internal/pidfile"
	"fsipd/internal/record"
)

const (
	// DetachedEnv marks a process started by Detach.
	DetachedEnv = "FSIPD_DETACHED"
	// ListenFDsEnv lists the networks of the inherited sockets in descriptor
	// order, such as "tcp4,udp4".
	ListenFDsEnv = "FSIPD_LISTEN_FDS"
	// PIDFileEnv carries the pid file path the inherited lock belongs to.
	PIDFileEnv = "FSIPD_PIDFILE"
	// RunIDEnv carries the run id so both halves of a detach log under it.
	RunIDEnv = "FSIPD_RUN_ID"

	// Descriptor 3 is the pid file; sockets follow.
	pidFileFD = 3
)

// ErrAlreadyDaemon is returned when the process is already parented by init
// and was not started by Detach.
var ErrAlreadyDaemon = errors.New("already running under init; use --foreground")

var getppid = os.Getppid

// Options describes the detached child process.
type Options struct {
	Executable string
	Args       []string
	RunID      string
	// Env is appended to the current environment.
	Env []string
}

// Handoff is what a detached child inherited from its parent.
type Handoff struct {
	PIDFile     *os.File
	PIDFilePath string
	Endpoints   []*listener.Endpoint
	RunID       string
}

// Detach starts the detached child and hands it guard's descriptor and every
// endpoint socket. It returns the child's pid. The caller still owns guard
// and endpoints and should close its copies (guard via Close, not Release).
func Detach(opts Options, guard *pidfile.Handle, endpoints []*listener.Endpoint) (int, error) {
	if os.Getenv(DetachedEnv) == "" && getppid() == 1 {
		return 0, ErrAlreadyDaemon
	}
	if opts.Executable == "" {
		return 0, errors.New("resolve executable: executable path is empty")
	}
	guardFile := guard.File()
	if guardFile == nil {
		return 0, pidfile.ErrClosed
	}

	files := []*os.File{guardFile}
	networks := make([]string, 0, len(endpoints))
	var dups []*os.File
	defer func() {
		for _, f := range dups {
			_ = f.Close()
		}
	}()
	for _, ep := range endpoints {
		f, err := ep.File()
		if err != nil {
			return 0, fmt.Errorf("pass %s to child: %w", ep.Network(), err)
		}
		dups = append(dups, f)
		files = append(files, f)
		networks = append(networks, ep.Network())
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(opts.Executable, opts.Args...)
	cmd.Env = append(os.Environ(),
		DetachedEnv+"=1",
		ListenFDsEnv+"="+strings.Join(networks, ","),
		PIDFileEnv+"="+guard.Path(),
		RunIDEnv+"="+opts.RunID,
	)
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.ExtraFiles = files
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch detached daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release detached daemon: %w", err)
	}
	return pid, nil
}

// Inherited reports whether this process was started by Detach and, if so,
// rebuilds what it was handed. The marker variables are removed from the
// environment so they are not passed on again.
func Inherited() (*Handoff, bool, error) {
	if os.Getenv(DetachedEnv) != "1" {
		return nil, false, nil
	}
	handoff := &Handoff{
		PIDFilePath: os.Getenv(PIDFileEnv),
		RunID:       os.Getenv(RunIDEnv),
	}
	layout := os.Getenv(ListenFDsEnv)
	for _, key := range []string{DetachedEnv, ListenFDsEnv, PIDFileEnv, RunIDEnv} {
		_ = os.Unsetenv(key)
	}

	handoff.PIDFile = os.NewFile(pidFileFD, handoff.PIDFilePath)
	networks, err := parseLayout(layout)
	if err != nil {
		return nil, true, err
	}
	for i, n := range networks {
		f := os.NewFile(uintptr(pidFileFD+1+i), n.protocol.Network(n.family))
		ep, err := listener.FromFile(f, n.protocol, n.family)
		if err != nil {
			_ = listener.CloseAll(handoff.Endpoints)
			return nil, true, err
		}
		handoff.Endpoints = append(handoff.Endpoints, ep)
	}
	return handoff, true, nil
}

type network struct {
	protocol record.Protocol
	family   record.Family
}

func parseLayout(layout string) ([]network, error) {
	if strings.TrimSpace(layout) == "" {
		return nil, fmt.Errorf("%s is empty", ListenFDsEnv)
	}
	parts := strings.Split(layout, ",")
	out := make([]network, 0, len(parts))
	for _, part := range parts {
		protocol, family, err := record.ParseTag(strings.ToUpper(strings.TrimSpace(part)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ListenFDsEnv, err)
		}
		if protocol != record.ProtocolTCP && protocol != record.ProtocolUDP {
			return nil, fmt.Errorf("%s: unsupported network %q", ListenFDsEnv, part)
		}
		out = append(out, network{protocol: protocol, family: family})
	}
	return out, nil
}
