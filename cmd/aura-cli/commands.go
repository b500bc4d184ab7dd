package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/aura-project/aura-core/authority"
	"github.com/aura-project/aura-core/capability"
	"github.com/aura-project/aura-core/config"
	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/storage"
)

// openAuthority loads the identity and storage backend at the flagged
// data directory and wires an Authority against them, without starting
// it (Start replays the journal, which a read-only inspection pass
// doesn't need).
func openAuthority(c *cli.Context) (*authority.Authority, func(), error) {
	dataDir := c.GlobalString("datadir")

	id, signingKey, masterSecret, err := readIdentity(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading identity: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Backend = c.GlobalString("backend")

	var backend storage.Backend
	switch cfg.Backend {
	case "", "bolt":
		backend, err = storage.OpenBolt(filepath.Join(dataDir, "aura.db"))
	case "memory":
		backend = storage.NewMemory()
	default:
		return nil, nil, fmt.Errorf("aura-cli only supports bolt/memory backends directly; use aurad for %q", cfg.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening backend: %w", err)
	}

	a := authority.New(authority.Deps{
		ID:           id,
		SigningKey:   signingKey,
		MasterSecret: masterSecret,
		Backend:      backend,
		Config:       cfg,
	})

	return a, func() { backend.Close() }, nil
}

func readIdentity(dataDir string) (idhash.AuthorityId, ed25519.PrivateKey, []byte, error) {
	raw, err := ioutil.ReadFile(filepath.Join(dataDir, "identity"))
	if err != nil {
		return idhash.AuthorityId{}, nil, nil, err
	}

	fields := strings.Fields(string(raw))
	if len(fields) != 3 {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("malformed identity file")
	}

	idBytes, err := hex.DecodeString(fields[0])
	if err != nil || len(idBytes) != 16 {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("malformed identity id")
	}
	var id idhash.AuthorityId
	copy(id[:], idBytes)

	signingKey, err := hex.DecodeString(fields[1])
	if err != nil {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("malformed signing key")
	}
	masterSecret, err := hex.DecodeString(fields[2])
	if err != nil {
		return idhash.AuthorityId{}, nil, nil, fmt.Errorf("malformed master secret")
	}

	return id, ed25519.PrivateKey(signingKey), masterSecret, nil
}

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "print the authority's identity and lifecycle state",
	Action: func(c *cli.Context) error {
		a, closeFn, err := openAuthority(c)
		if err != nil {
			return err
		}
		defer closeFn()

		fmt.Printf("authority: %s\n", a.ID.Short())
		fmt.Printf("started:   %v\n", a.IsStarted())
		return nil
	},
}

var permissionsCommand = cli.Command{
	Name:  "permissions",
	Usage: "list the operation-to-permission table",
	Action: func(c *cli.Context) error {
		a, closeFn, err := openAuthority(c)
		if err != nil {
			return err
		}
		defer closeFn()

		perms := a.Permissions()
		for op, perm := range perms {
			fmt.Printf("%-24s %s\n", op, perm.String())
		}
		return nil
	},
}

var setPermissionCommand = cli.Command{
	Name:      "setpermission",
	Usage:     "override the permission required for an operation",
	ArgsUsage: "operation action resource",
	Action: func(c *cli.Context) error {
		if c.NArg() != 3 {
			return fmt.Errorf("expected exactly 3 arguments: operation action resource")
		}
		a, closeFn, err := openAuthority(c)
		if err != nil {
			return err
		}
		defer closeFn()

		operation, actionName, resource := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
		action, ok := parseAction(actionName)
		if !ok {
			return fmt.Errorf("unrecognized action %q", actionName)
		}

		a.SetPermission(operation, permissionFor(action, resource))
		fmt.Printf("%s now requires %s:%s\n", operation, actionName, resource)
		return nil
	},
}

var channelsCommand = cli.Command{
	Name:  "channels",
	Usage: "list open AMP channel contexts",
	Action: func(c *cli.Context) error {
		_, closeFn, err := openAuthority(c)
		if err != nil {
			return err
		}
		defer closeFn()

		fmt.Println("channel inspection requires a running aurad; this tool only sees on-disk journal and permission state.")
		return nil
	},
}

func parseAction(name string) (capability.Action, bool) {
	switch name {
	case "read":
		return capability.ActionRead, true
	case "write":
		return capability.ActionWrite, true
	case "delete":
		return capability.ActionDelete, true
	case "execute":
		return capability.ActionExecute, true
	case "delegate":
		return capability.ActionDelegate, true
	case "revoke":
		return capability.ActionRevoke, true
	case "admin":
		return capability.ActionAdmin, true
	default:
		return 0, false
	}
}

func permissionFor(action capability.Action, resource string) capability.Permission {
	return capability.Permission{Action: action, Resource: resource}
}
