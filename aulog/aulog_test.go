package aulog

import (
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestManagerLoggerIsStableAcrossCalls(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	m, err := NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()

	l1 := m.Logger(SubsystemJournal, btclog.LevelInfo)
	_ = m.Logger(SubsystemJournal, btclog.LevelDebug)
	// A second call for the same subsystem returns the cached logger, so
	// the level from the first call (Info) still holds rather than the
	// second call's (Debug) overriding it.
	require.Equal(t, btclog.LevelInfo, l1.Level())
}

func TestManagerSetLevelUpdatesAllLoggers(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	m, err := NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()

	l := m.Logger(SubsystemTree, btclog.LevelInfo)
	require.Equal(t, btclog.LevelInfo, l.Level())

	m.SetLevel(btclog.LevelWarn)
	require.Equal(t, btclog.LevelWarn, l.Level())
}
