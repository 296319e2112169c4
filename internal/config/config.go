package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Listen contains the capture surface: one fixed port across TCP/UDP and
// IPv4/IPv6.
type Listen struct {
	Port               int  `toml:"port"`
	TCP4               bool `toml:"tcp4"`
	TCP6               bool `toml:"tcp6"`
	UDP4               bool `toml:"udp4"`
	UDP6               bool `toml:"udp6"`
	ReadTimeoutSeconds int  `toml:"read_timeout_seconds"`
}

// Capture contains the append-only capture log settings.
type Capture struct {
	Path          string `toml:"path"`
	FileMode      string `toml:"file_mode"`
	MaxLineBytes  int    `toml:"max_line_bytes"`
	WatchRotation bool   `toml:"watch_rotation"`
}

// PIDFile contains the instance lock settings.
type PIDFile struct {
	Path     string `toml:"path"`
	FileMode string `toml:"file_mode"`
}

// Daemon contains process lifecycle settings.
type Daemon struct {
	Foreground bool `toml:"foreground"`
}

// Logging contains configuration for diagnostic log output. Captured traffic
// never goes here; see Capture.
type Logging struct {
	Dir           string `toml:"dir"`
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config is the whole fsipd configuration, one struct per TOML table.
type Config struct {
	Listen  Listen  `toml:"listen"`
	Capture Capture `toml:"capture"`
	PIDFile PIDFile `toml:"pidfile"`
	Daemon  Daemon  `toml:"daemon"`
	Logging Logging `toml:"logging"`
}

const (
	userConfigPath  = "~/.config/fsipd/config.toml"
	localConfigName = "fsipd.toml"
)

// DefaultConfigPath is where `config init` writes when given no path.
func DefaultConfigPath() (string, error) {
	return expandPath(userConfigPath)
}

// Load reads the config at path, or searches the user config directory and
// then ./fsipd.toml when path is empty. A missing file is not an error: the
// defaults apply and exists is false. Unknown keys are rejected. The returned
// config is normalized and validated.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	resolved, exists, err = locate(path)
	if err != nil {
		return nil, "", false, err
	}

	loaded := Default()
	if exists {
		if err := decodeFile(resolved, &loaded); err != nil {
			return nil, "", false, err
		}
	}
	if err := loaded.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, "", false, err
	}
	return &loaded, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse config %s: unknown keys:\n%s", path, strict.String())
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// locate resolves the config file to read. An explicit path is reported even
// when it does not exist; otherwise the first existing candidate wins and the
// user path is reported when none exists.
func locate(path string) (string, bool, error) {
	candidates := []string{path}
	if path == "" {
		candidates = []string{userConfigPath, localConfigName}
	}
	var first string
	for _, candidate := range candidates {
		abs, err := expandPath(candidate)
		if err != nil {
			return "", false, err
		}
		if first == "" {
			first = abs
		}
		info, err := os.Stat(abs)
		switch {
		case err == nil && !info.IsDir():
			return abs, true, nil
		case err == nil:
			if path != "" {
				return "", false, fmt.Errorf("config %s is a directory", abs)
			}
		case !errors.Is(err, fs.ErrNotExist):
			if path != "" {
				return "", false, fmt.Errorf("stat config: %w", err)
			}
		}
	}
	return first, false, nil
}

// EnsureDirectories creates the parent directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Logging.Dir, filepath.Dir(c.Capture.Path), filepath.Dir(c.PIDFile.Path)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CaptureMode returns the parsed capture log permission bits.
func (c *Config) CaptureMode() os.FileMode {
	mode, err := ParseFileMode(c.Capture.FileMode)
	if err != nil {
		return defaultCaptureMode
	}
	return mode
}

// PIDFileMode returns the parsed pid file permission bits.
func (c *Config) PIDFileMode() os.FileMode {
	mode, err := ParseFileMode(c.PIDFile.FileMode)
	if err != nil {
		return defaultPIDFileMode
	}
	return mode
}

// ParseFileMode parses an octal permission string such as "0644".
func ParseFileMode(value string) (os.FileMode, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0o")
	if trimmed == "" {
		return 0, errors.New("file mode is empty")
	}
	parsed, err := strconv.ParseUint(trimmed, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("file mode %q: %w", value, err)
	}
	if parsed&^uint64(os.ModePerm) != 0 {
		return 0, fmt.Errorf("file mode %q: only permission bits are allowed", value)
	}
	return os.FileMode(parsed), nil
}

// ProgramName returns the identity used to derive default file locations.
func ProgramName() string {
	if len(os.Args) > 0 {
		if name := filepath.Base(os.Args[0]); name != "" && name != "." && name != string(filepath.Separator) {
			return name
		}
	}
	return defaultProgramName
}

// DefaultPIDFilePath derives the pid file location from the program name.
func DefaultPIDFilePath() string {
	return filepath.Join(defaultRunDir, ProgramName()+".pid")
}

// DefaultCapturePath derives the capture log location from the program name.
func DefaultCapturePath() string {
	return filepath.Join(defaultCaptureDir, ProgramName()+".log")
}

// ExpandPath resolves a leading "~" to the home directory and makes the
// result absolute. Empty stays empty.
func ExpandPath(p string) (string, error) {
	return expandPath(p)
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return abs, nil
}

// CreateSample writes the commented sample config to path, creating its
// directory.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
