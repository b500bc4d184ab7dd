package storage

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd is the multi-process / replicated persistence backend: authority
// state lives in a remote etcd cluster rather than a local file, letting
// several processes cooperate on one authority's journal (e.g. an
// authority that splits guardian duties across machines). Grounded on the
// teacher's kvdb module, which offers the identical interface over an
// etcd backend alongside its default bolt backend.
type Etcd struct {
	cli    *clientv3.Client
	prefix string
}

// EtcdConfig configures the remote backend.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// OpenEtcd dials the etcd cluster described by cfg.
func OpenEtcd(cfg EtcdConfig) (*Etcd, error) {
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: unable to dial etcd: %w", err)
	}
	log.Infof("storage: connected to etcd cluster %v", cfg.Endpoints)
	return &Etcd{cli: cli, prefix: cfg.Prefix}, nil
}

func (e *Etcd) key(k string) string { return e.prefix + k }

func (e *Etcd) Store(ctx context.Context, key string, value []byte) error {
	_, err := e.cli.Put(ctx, e.key(key), string(value))
	return err
}

func (e *Etcd) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := e.cli.Get(ctx, e.key(key))
	if err != nil {
		return nil, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (e *Etcd) Remove(ctx context.Context, key string) error {
	_, err := e.cli.Delete(ctx, e.key(key))
	return err
}

func (e *Etcd) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	resp, err := e.cli.Get(ctx, e.key(prefix), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, string(kv.Key)[len(e.prefix):])
	}
	return out, nil
}

func (e *Etcd) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := e.cli.Get(ctx, e.key(key), clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	return resp.Count > 0, nil
}

func (e *Etcd) StoreBatch(ctx context.Context, pairs map[string][]byte) error {
	ops := make([]clientv3.Op, 0, len(pairs))
	for k, v := range pairs {
		ops = append(ops, clientv3.OpPut(e.key(k), string(v)))
	}
	_, err := e.cli.Txn(ctx).Then(ops...).Commit()
	return err
}

func (e *Etcd) Close() error {
	return e.cli.Close()
}

var _ Backend = (*Etcd)(nil)
