// Package config loads an authority's runtime configuration: data
// directory, network listen address, flow-budget defaults, ceremony
// timeouts, and the recovery protocol's cooldown/dispute window
// defaults. Loaded the way the teacher loads lnd.conf: a struct of
// jessevdk/go-flags-tagged fields parsed from CLI flags, with
// DefaultConfig supplying every value's fallback. LoadConfig does not read
// an INI file.
package config

import (
	"time"

	"github.com/jessevdk/go-flags"
)

// Config is one authority's runtime configuration.
type Config struct {
	DataDir    string `long:"datadir" description:"Directory to store authority state (journal, tree, capabilities)"`
	ListenAddr string `long:"listenaddr" description:"Address to bind the AMP peer transport to"`

	// RecoveryCooldownDefault is the fallback guardian cooldown applied
	// when a guardian specifies none (spec §4.5 "max of guardians'
	// cooldown settings"). Resolves SPEC_FULL's Open Question 3.
	RecoveryCooldownDefault time.Duration `long:"recovery-cooldown" description:"Default guardian cooldown before a recovery's dispute window opens"`
	// RecoveryDisputeWindow is the default dispute window duration
	// (spec §4.5 step 3, "default 1 hour").
	RecoveryDisputeWindow time.Duration `long:"recovery-dispute-window" description:"Dispute window duration after guardian cooldown elapses"`

	FlowBudgetDefaultBytes uint64        `long:"flow-budget-default" description:"Default per-context flow budget in bytes"`
	CeremonyDefaultTimeout time.Duration `long:"ceremony-timeout" description:"Default ceremony deadline from proposal"`

	LogLevel string `long:"loglevel" description:"Log level for all subsystems (trace, debug, info, warn, error)"`

	Backend     string `long:"backend" description:"Storage backend: memory, bolt, etcd, postgres"`
	EtcdAddr    string `long:"etcdaddr" description:"etcd client endpoint, if backend=etcd"`
	EtcdPrefix  string `long:"etcdprefix" description:"etcd key prefix, if backend=etcd"`
	PostgresDSN string `long:"postgresdsn" description:"postgres connection string, if backend=postgres"`
}

// DefaultConfig returns the baseline configuration before flags or an INI
// file are applied.
func DefaultConfig() *Config {
	return &Config{
		DataDir:                 defaultDataDir,
		ListenAddr:              "127.0.0.1:9735",
		RecoveryCooldownDefault: 15 * time.Minute,
		RecoveryDisputeWindow:   1 * time.Hour,
		FlowBudgetDefaultBytes:  10 << 20, // 10 MiB
		CeremonyDefaultTimeout:  10 * time.Minute,
		LogLevel:                "info",
		Backend:                 "bolt",
		EtcdPrefix:              "/aura/",
	}
}

const defaultDataDir = ".aura"

// LoadConfig parses args (typically os.Args[1:]) over a DefaultConfig
// baseline, matching the teacher's two-pass config loading (defaults,
// then flags) minus the INI pre-pass, which callers may run separately
// via flags.IniParse against the returned *Config.
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
