// Package aulog wires every package's btclog.Logger to a single rotating
// backend, the way the teacher's daemon entry point sets up logging:
// one btclog.Backend writing to stdout and a size-rotated log file, with
// a per-subsystem logger handed out via UseLogger on each package.
package aulog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem identifies one package's logger within the shared backend,
// mirroring the teacher's SUBSYSTEM tags (JRNL, TREE, CRMY, THRS, RCVR,
// AMPT, GRD).
type Subsystem string

const (
	SubsystemJournal    Subsystem = "JRNL"
	SubsystemTree       Subsystem = "TREE"
	SubsystemCeremony   Subsystem = "CRMY"
	SubsystemThreshold  Subsystem = "THRS"
	SubsystemRecovery   Subsystem = "RCVR"
	SubsystemAMP        Subsystem = "AMPT"
	SubsystemGuard      Subsystem = "GRD"
	SubsystemStorage    Subsystem = "STOR"
	SubsystemAuthority  Subsystem = "AUTH"
	SubsystemCapability Subsystem = "CAPB"
)

// Manager owns the rotating file writer and hands out a btclog.Logger per
// subsystem, all multiplexed onto the same backend.
type Manager struct {
	backend *btclog.Backend
	rotator *rotator.Rotator
	loggers map[Subsystem]btclog.Logger
}

// Config controls where logs land and how verbose they are.
type Config struct {
	LogDir        string
	LogFilename   string
	MaxRollFiles  int
	MaxLogLineBytes int64
	Level         btclog.Level
}

// DefaultConfig returns sane rotation defaults: 10MB rolls, 3 backups
// kept, info level.
func DefaultConfig(logDir string) Config {
	return Config{
		LogDir:          logDir,
		LogFilename:     "aura.log",
		MaxRollFiles:    3,
		MaxLogLineBytes: 10 * 1024 * 1024,
		Level:           btclog.LevelInfo,
	}
}

// NewManager opens the rotating log file under cfg.LogDir and returns a
// Manager ready to hand out per-subsystem loggers via Logger.
func NewManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
		return nil, fmt.Errorf("aulog: creating log dir: %w", err)
	}
	logPath := filepath.Join(cfg.LogDir, cfg.LogFilename)

	// rotator.New takes its roll threshold in kilobytes.
	r, err := rotator.New(logPath, cfg.MaxLogLineBytes/1024, false, cfg.MaxRollFiles)
	if err != nil {
		return nil, fmt.Errorf("aulog: opening log rotator: %w", err)
	}

	w := io.MultiWriter(os.Stdout, r)
	backend := btclog.NewBackend(w)

	return &Manager{
		backend: backend,
		rotator: r,
		loggers: make(map[Subsystem]btclog.Logger),
	}, nil
}

// Logger returns (creating if needed) the btclog.Logger for sub. A newly
// created logger is set to level; a cached one is returned unchanged.
func (m *Manager) Logger(sub Subsystem, level btclog.Level) btclog.Logger {
	if l, ok := m.loggers[sub]; ok {
		return l
	}
	l := m.backend.Logger(string(sub))
	l.SetLevel(level)
	m.loggers[sub] = l
	return l
}

// SetLevel adjusts every already-created subsystem logger's level, for a
// runtime "set debug level" admin operation.
func (m *Manager) SetLevel(level btclog.Level) {
	for _, l := range m.loggers {
		l.SetLevel(level)
	}
}

// Close flushes and closes the underlying rotator.
func (m *Manager) Close() error {
	return m.rotator.Close()
}
