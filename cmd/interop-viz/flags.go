package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerolation/ethereum-interop-viz/internal/config"
	"github.com/nerolation/ethereum-interop-viz/internal/logger"
)

type cliFlags struct {
	configFile string
	backend    string
	network    string
	window     int
}

var flags cliFlags

func addFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "path to config file (default ~/.interop-viz/config.yml)")
	pf.StringVar(&flags.backend, "backend", "", "backend API base URL, e.g. http://localhost:5000/api")
	pf.StringVar(&flags.network, "network", "", "network selected at startup")
	pf.IntVarP(&flags.window, "window", "w", 0, "initial window size in slots")
}

// loadConfig resolves the config path, creating it from the embedded example
// when missing, and applies command line overrides.
func loadConfig() (*config.Config, error) {
	configPath, err := resolveConfigPath(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := ensureDefaultConfig(configPath, configExample); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	logger.Info("INIT", "Loading config from %s...", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, flags)
	logger.Init(cfg.Log.Level, cfg.Log.NoColor)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, f cliFlags) {
	if f.backend != "" {
		cfg.Backend.URL = strings.TrimRight(f.backend, "/")
	}
	if f.network != "" {
		cfg.Poller.Network = strings.TrimSpace(f.network)
	}
	if f.window > 0 {
		cfg.Poller.DefaultWindow = f.window
		if cfg.Poller.DefaultWindow > cfg.Poller.MaxWindow {
			cfg.Poller.DefaultWindow = cfg.Poller.MaxWindow
		}
	}
}

func resolveConfigPath(configFile string) (string, error) {
	if configFile != "" {
		return filepath.Abs(configFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".interop-viz", "config.yml"), nil
}

func ensureDefaultConfig(path string, example []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if len(example) == 0 {
		return fmt.Errorf("embedded config.example.yml is empty")
	}

	return os.WriteFile(path, example, 0o644)
}
