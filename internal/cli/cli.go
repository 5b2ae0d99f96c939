// Package cli implements the figrnet command-line interface.
//
// The commands drive a figrnet client built from a YAML or TOML config
// file:
//   - get: send a GET through the cache, retry and breaker layers
//   - queue list, queue drain, queue clear: inspect and replay the
//     persisted offline queue
//   - version: print build information
//
// All commands support --verbose (-v) for debug-level logging through
// charmbracelet/log.
package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/EmerBV/figrnet"
)

const appName = "figrnet"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	baseURL    string
}

// New creates a new CLI instance logging to w.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "figrnet is a resilient API client",
		Long:         `figrnet sends requests through a response cache, retry engine, per-endpoint circuit breakers and an offline queue configured from a YAML or TOML file.`,
		Version:      figrnet.Version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(figrnet.GetVersion() + "\n")

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/figrnet/config.yaml)")
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", "", "override the configured base URL")

	root.AddCommand(c.getCommand())
	root.AddCommand(c.queueCommand())
	root.AddCommand(c.versionCommand())

	return root
}

// loadConfig reads the config named by --config, falling back to the
// default location when it exists and to an empty config otherwise.
func (c *CLI) loadConfig() (figrnet.Config, error) {
	path := c.configPath
	if path == "" {
		path = os.Getenv("FIGRNET_CONFIG")
	}
	if path == "" {
		if def, err := defaultConfigPath(); err == nil {
			if _, err := os.Stat(def); err == nil {
				path = def
			}
		}
	}

	var cfg figrnet.Config
	if path != "" {
		var err error
		if cfg, err = figrnet.LoadConfig(path); err != nil {
			return figrnet.Config{}, err
		}
		c.Logger.Debug("Loaded config", "path", path)
	}
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	return cfg, nil
}

// newClient builds a client from the loaded config logging through the
// CLI logger.
func (c *CLI) newClient() (*figrnet.Client, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return figrnet.NewFromConfig(cfg, figrnet.WithLogger(clientLogger{c.Logger}))
}

// defaultConfigPath returns $XDG_CONFIG_HOME/figrnet/config.yaml, or the
// ~/.config equivalent.
func defaultConfigPath() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, appName, "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.yaml"), nil
}
