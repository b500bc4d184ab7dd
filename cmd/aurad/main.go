// aurad is the authority daemon: it loads configuration, opens the
// storage backend, wires up an Authority, and blocks until an interrupt
// signal requests shutdown. Grounded on the teacher's lnd.go, which
// plays the identical role for the lnd process.
package main

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btclog"
	systemd "github.com/coreos/go-systemd/daemon"

	"github.com/aura-project/aura-core/authority"
	"github.com/aura-project/aura-core/aulog"
	"github.com/aura-project/aura-core/config"
	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/journal"
	"github.com/aura-project/aura-core/storage"
	"github.com/aura-project/aura-core/tree"
)

const identityFilename = "identity"

// auradMain is the true entry point; kept separate from main so that
// defers at this scope still run before an os.Exit elsewhere.
func auradMain() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("aurad: creating data dir: %w", err)
	}

	logMgr, err := aulog.NewManager(aulog.DefaultConfig(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("aurad: opening log manager: %w", err)
	}
	defer logMgr.Close()

	level, ok := btclog.LevelFromString(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("aurad: unknown log level %q", cfg.LogLevel)
	}

	journal.UseLogger(logMgr.Logger(aulog.SubsystemJournal, level))
	tree.UseLogger(logMgr.Logger(aulog.SubsystemTree, level))
	authority.UseLogger(logMgr.Logger(aulog.SubsystemAuthority, level))
	storage.UseLogger(logMgr.Logger(aulog.SubsystemStorage, level))

	log := logMgr.Logger(aulog.SubsystemAuthority, level)
	log.Infof("aurad starting, datadir=%s backend=%s", cfg.DataDir, cfg.Backend)

	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("aurad: opening storage backend: %w", err)
	}

	id, signingKey, masterSecret, err := loadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		backend.Close()
		return fmt.Errorf("aurad: loading identity: %w", err)
	}
	log.Infof("authority identity: %s", id.Short())

	a := authority.New(authority.Deps{
		ID:           id,
		SigningKey:   signingKey,
		MasterSecret: masterSecret,
		Backend:      backend,
		Config:       cfg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("aurad: starting authority: %w", err)
	}

	if ok, _ := systemd.SdNotify(false, systemd.SdNotifyReady); ok {
		log.Info("notified systemd readiness")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping authority")
	systemd.SdNotify(false, systemd.SdNotifyStopping)
	return a.Stop()
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case "", "bolt":
		return storage.OpenBolt(filepath.Join(cfg.DataDir, "aura.db"))
	case "etcd":
		return storage.OpenEtcd(storage.EtcdConfig{
			Endpoints: []string{cfg.EtcdAddr},
			Prefix:    cfg.EtcdPrefix,
		})
	case "postgres":
		return storage.OpenPostgres(context.Background(), storage.PostgresConfig{
			DSN: cfg.PostgresDSN,
		})
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unrecognized backend %q", cfg.Backend)
	}
}

// loadOrCreateIdentity reads an authority's signing key, master secret,
// and id from dataDir, generating and persisting them on first run.
func loadOrCreateIdentity(dataDir string) (idhash.AuthorityId, ed25519.PrivateKey, []byte, error) {
	path := filepath.Join(dataDir, identityFilename)

	raw, err := ioutil.ReadFile(path)
	if err == nil {
		return decodeIdentity(raw)
	}
	if !os.IsNotExist(err) {
		return idhash.AuthorityId{}, nil, nil, err
	}

	id, err := idhash.NewAuthorityId(crand.Reader)
	if err != nil {
		return idhash.AuthorityId{}, nil, nil, err
	}
	_, signingKey, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return idhash.AuthorityId{}, nil, nil, err
	}
	masterSecret := make([]byte, 32)
	if _, err := crand.Read(masterSecret); err != nil {
		return idhash.AuthorityId{}, nil, nil, err
	}

	if err := ioutil.WriteFile(path, encodeIdentity(id, signingKey, masterSecret), 0600); err != nil {
		return idhash.AuthorityId{}, nil, nil, err
	}
	return id, signingKey, masterSecret, nil
}

// encodeIdentity serializes id || signingKey || masterSecret as
// hex-encoded, newline-delimited fields. A hand-rolled format is
// deliberate here: this file is local-only process state, never sent
// over the wire, so it has no need of a shared codec.
func encodeIdentity(id idhash.AuthorityId, signingKey ed25519.PrivateKey, masterSecret []byte) []byte {
	out := id.String() + "\n" +
		hex.EncodeToString(signingKey) + "\n" +
		hex.EncodeToString(masterSecret) + "\n"
	return []byte(out)
}

func decodeIdentity(raw []byte) (idhash.AuthorityId, ed25519.PrivateKey, []byte, error) {
	fields := strings.Fields(string(raw))
	if len(fields) != 3 {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("aurad: malformed identity file")
	}
	idHex, keyHex, secretHex := fields[0], fields[1], fields[2]

	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != 16 {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("aurad: malformed identity id")
	}
	var id idhash.AuthorityId
	copy(id[:], idBytes)

	signingKey, err := hex.DecodeString(keyHex)
	if err != nil {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("aurad: malformed signing key")
	}
	masterSecret, err := hex.DecodeString(secretHex)
	if err != nil {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("aurad: malformed master secret")
	}

	return id, ed25519.PrivateKey(signingKey), masterSecret, nil
}

func main() {
	if err := auradMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
