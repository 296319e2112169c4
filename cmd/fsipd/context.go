package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fsipd/internal/config"
)

// skipConfigLoad is a command annotation for commands that must run without
// a loadable configuration.
const skipConfigLoad = "skipConfigLoad"

// commandContext carries the lazily loaded configuration shared by every
// subcommand of one invocation.
type commandContext struct {
	configFlag *string

	once       sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration on first use. It creates no
// directories; only the daemon creates what it writes into.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configPath, c.configSeen, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[skipConfigLoad] == "true" {
			return true
		}
	}
	return false
}
