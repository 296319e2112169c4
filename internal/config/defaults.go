package config

import "os"

const (
	defaultProgramName    = "fsipd"
	defaultRunDir         = "/var/run"
	defaultCaptureDir     = "/var/log"
	defaultPort           = 5060
	defaultMaxLineBytes   = 8191
	defaultCaptureModeStr = "0644"
	defaultPIDFileModeStr = "0600"
	defaultLogDir         = "/var/log/fsipd"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultRetentionDays  = 30

	defaultCaptureMode os.FileMode = 0o644
	defaultPIDFileMode os.FileMode = 0o600

	// NoForkEnv forces foreground operation when set to "1".
	NoForkEnv = "FSIPD_NO_FORK"
)

// Default returns a Config populated with repository defaults. The pid file
// and capture log paths stay empty so normalize can derive them from the
// program name.
func Default() Config {
	return Config{
		Listen: Listen{
			Port: defaultPort,
			TCP4: true,
			TCP6: true,
			UDP4: true,
			UDP6: true,
		},
		Capture: Capture{
			FileMode:     defaultCaptureModeStr,
			MaxLineBytes: defaultMaxLineBytes,
		},
		PIDFile: PIDFile{
			FileMode: defaultPIDFileModeStr,
		},
		Logging: Logging{
			Dir:           defaultLogDir,
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}
