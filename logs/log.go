// Package logs is GodCoin's logging backend: a single btclog.Backend
// writing to stdout and a rotating log file, with one Logger per
// subsystem so each package's verbosity can be tuned independently.
// Adapted from the teacher's logger package, collapsed onto the
// upstream github.com/btcsuite/btclog (the teacher vendors its own fork
// with per-level writer routing; no source for that fork was retrieved
// into the pack, and upstream btclog's single-writer-per-backend model
// covers everything this scope needs).
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, one per package that logs.
const (
	Chain   = "CHAN" // blockchain
	BlockLog = "BLKL" // blocklog
	Index   = "INDX" // index
	Mempool = "TXMP" // mempool
	Script  = "SCRP" // script
	RPC     = "RPCS" // rpc
	Main    = "GCOD" // cmd/godcoind
)

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if rotatorInitiated {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	backend = btclog.NewBackend(logWriter{})

	logRotator       *rotator.Rotator
	rotatorInitiated bool

	subsystemLoggers = map[string]btclog.Logger{
		Chain:    backend.Logger(Chain),
		BlockLog: backend.Logger(BlockLog),
		Index:    backend.Logger(Index),
		Mempool:  backend.Logger(Mempool),
		Script:   backend.Logger(Script),
		RPC:      backend.Logger(RPC),
		Main:     backend.Logger(Main),
	}
)

// Logger returns the shared Logger for subsystem, creating and
// registering one (at the default level) if it hasn't been asked for
// before — dynamic subsystems added later never need a matching entry
// here to be usable.
func Logger(subsystem string) btclog.Logger {
	if l, ok := subsystemLoggers[subsystem]; ok {
		return l
	}
	l := backend.Logger(subsystem)
	subsystemLoggers[subsystem] = l
	return l
}

// InitLogRotator opens (creating its directory if needed) the rotating
// log file at logFile. Until this is called, log output goes only to
// stdout. Must be called once during startup before any logging that
// needs to be durable.
func InitLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("logs: create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("logs: create log rotator: %w", err)
	}
	logRotator = r
	rotatorInitiated = true
	return nil
}

// SetLogLevel sets the logging level for subsystem. Invalid subsystems
// are ignored; invalid level strings default to Info.
func SetLogLevel(subsystem, levelStr string) {
	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		return
	}
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		level = btclog.LevelInfo
	}
	logger.SetLevel(level)
}

// SetLogLevels sets every registered subsystem to levelStr.
func SetLogLevels(levelStr string) {
	for subsystem := range subsystemLoggers {
		SetLogLevel(subsystem, levelStr)
	}
}

// SupportedSubsystems returns the sorted list of known subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for s := range subsystemLoggers {
		subsystems = append(subsystems, s)
	}
	sort.Strings(subsystems)
	return subsystems
}
