package config

import (
	"errors"
	"fmt"

	"fsipd/internal/record"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateListen(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validatePIDFile(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateListen() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be between 1 and 65535, got %d", c.Listen.Port)
	}
	if c.Listen.ReadTimeoutSeconds < 0 {
		return errors.New("listen.read_timeout_seconds must not be negative")
	}
	if !c.Listen.TCP4 && !c.Listen.TCP6 && !c.Listen.UDP4 && !c.Listen.UDP6 {
		return errors.New("listen: at least one of tcp4, tcp6, udp4, udp6 must be enabled")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.Path == "" {
		return errors.New("capture.path must be set")
	}
	if _, err := ParseFileMode(c.Capture.FileMode); err != nil {
		return fmt.Errorf("capture.file_mode: %w", err)
	}
	if c.Capture.MaxLineBytes < 16 || c.Capture.MaxLineBytes > record.MaxPayload {
		return fmt.Errorf("capture.max_line_bytes must be between 16 and %d, got %d", record.MaxPayload, c.Capture.MaxLineBytes)
	}
	return nil
}

func (c *Config) validatePIDFile() error {
	if c.PIDFile.Path == "" {
		return errors.New("pidfile.path must be set")
	}
	if c.PIDFile.Path == c.Capture.Path {
		return errors.New("pidfile.path must differ from capture.path")
	}
	if _, err := ParseFileMode(c.PIDFile.FileMode); err != nil {
		return fmt.Errorf("pidfile.file_mode: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}
