package preflight

import (
	"context"
	"path/filepath"

	"fsipd/internal/config"
	"fsipd/internal/listener"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Capture directory", filepath.Dir(cfg.Capture.Path)),
		CheckDirectoryAccess("PID file directory", filepath.Dir(cfg.PIDFile.Path)),
	}
	if cfg.Logging.Dir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Logging.Dir))
	}
	results = append(results, CheckInstance(cfg.PIDFile.Path))
	results = append(results, CheckPorts(ctx, listener.OptionsFromConfig(cfg))...)
	return results
}

// Failed counts the results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}
