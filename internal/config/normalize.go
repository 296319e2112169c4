package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeDaemon()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Capture.Path) == "" {
		c.Capture.Path = DefaultCapturePath()
	}
	if c.Capture.Path, err = expandPath(c.Capture.Path); err != nil {
		return fmt.Errorf("capture.path: %w", err)
	}
	if strings.TrimSpace(c.PIDFile.Path) == "" {
		c.PIDFile.Path = DefaultPIDFilePath()
	}
	if c.PIDFile.Path, err = expandPath(c.PIDFile.Path); err != nil {
		return fmt.Errorf("pidfile.path: %w", err)
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir
	}
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.FileMode = strings.TrimSpace(c.Capture.FileMode)
	if c.Capture.FileMode == "" {
		c.Capture.FileMode = defaultCaptureModeStr
	}
	c.PIDFile.FileMode = strings.TrimSpace(c.PIDFile.FileMode)
	if c.PIDFile.FileMode == "" {
		c.PIDFile.FileMode = defaultPIDFileModeStr
	}
	if c.Capture.MaxLineBytes == 0 {
		c.Capture.MaxLineBytes = defaultMaxLineBytes
	}
}

func (c *Config) normalizeDaemon() {
	if value, ok := os.LookupEnv(NoForkEnv); ok && strings.TrimSpace(value) == "1" {
		c.Daemon.Foreground = true
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
