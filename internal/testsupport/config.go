package testsupport

import (
	"path/filepath"
	"testing"

	"fsipd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a per-test temp directory. Only UDP
// over IPv4 is enabled unless an option says otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Listen.TCP4 = false
	cfgVal.Listen.TCP6 = false
	cfgVal.Listen.UDP6 = false
	cfgVal.Capture.Path = filepath.Join(base, "capture", "fsipd.log")
	cfgVal.PIDFile.Path = filepath.Join(base, "run", "fsipd.pid")
	cfgVal.Logging.Dir = filepath.Join(base, "logs")
	cfgVal.Daemon.Foreground = true

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithEndpoints replaces the enabled protocol/family combinations.
func WithEndpoints(tcp4, tcp6, udp4, udp6 bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Listen.TCP4 = tcp4
		b.cfg.Listen.TCP6 = tcp6
		b.cfg.Listen.UDP4 = udp4
		b.cfg.Listen.UDP6 = udp6
	}
}

// WithPort sets the listen port.
func WithPort(port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Listen.Port = port
	}
}

// WithWatchRotation turns the capture log rename watch on or off.
func WithWatchRotation(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.WatchRotation = enabled
	}
}

// BaseDir returns the temp directory backing cfg's paths.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(filepath.Dir(cfg.Capture.Path))
}
