package main

import (
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

var defaultHomeDir = defaultAppDataDir("godcoind")

// defaultAppDataDir mirrors the teacher's util.AppDataDir shape (an
// OS-appropriate per-app data directory) scaled down to what this
// composition root needs: a single Unix-style dotfile location, since the
// core has no Windows/macOS-specific packaging of its own.
func defaultAppDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

// config is the flag surface cmd/godcoind accepts. Everything about
// gossip, RPC transport binding, and the minter's block-production
// schedule lives outside the core per the governing specification; this
// composition root only needs enough to open (or bootstrap) a Chain and
// optionally act as its minter.
type config struct {
	HomeDir   string `long:"home" description:"Directory for the block log and index" default:"~"`
	MinterKey string `long:"minter-key" description:"Path to a 32-byte Ed25519 seed file for the minting key"`
	Genesis   bool   `long:"genesis" description:"Bootstrap a fresh chain if home is empty"`
	Supply    string `long:"supply" description:"Initial token supply (genesis only), e.g. 1000000.0000 GRAEL" default:"1000000.0000 GRAEL"`
	LogLevel  string `long:"loglevel" description:"Log level for all subsystems (trace, debug, info, warn, error, critical)" default:"info"`
}

func loadConfig() (*config, error) {
	cfg := &config{HomeDir: defaultHomeDir}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}
	if cfg.HomeDir == "~" {
		cfg.HomeDir = defaultHomeDir
	}
	if err := os.MkdirAll(cfg.HomeDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "create home directory %s", cfg.HomeDir)
	}
	return cfg, nil
}

func (cfg *config) blocksPath() string { return filepath.Join(cfg.HomeDir, "blocks") }
func (cfg *config) indexPath() string  { return filepath.Join(cfg.HomeDir, "index") }
func (cfg *config) logPath() string    { return filepath.Join(cfg.HomeDir, "logs", "godcoind.log") }
