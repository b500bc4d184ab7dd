package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Postgres is a third persistence backend used for multi-authority test
// harnesses that want a real relational store behind the same interface
// bolt and etcd satisfy, grounded on the teacher's kvdb module's
// multi-backend-behind-one-interface shape.
type Postgres struct {
	pool      *pgxpool.Pool
	tableName string
}

// PostgresConfig configures the backend's connection and table.
type PostgresConfig struct {
	DSN       string
	TableName string
}

const defaultPostgresTable = "aura_kv"

// OpenPostgres connects to cfg.DSN and ensures the key-value table
// exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	table := cfg.TableName
	if table == "" {
		table = defaultPostgresTable
	}

	pool, err := pgxpool.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: unable to connect to postgres: %w", err)
	}

	createStmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BYTEA NOT NULL)`, table)
	if _, err := pool.Exec(ctx, createStmt); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: creating postgres kv table: %w", err)
	}

	log.Infof("storage: connected to postgres, table %q", table)
	return &Postgres{pool: pool, tableName: table}, nil
}

func (p *Postgres) Store(ctx context.Context, key string, value []byte) error {
	stmt := fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, p.tableName)
	_, err := p.pool.Exec(ctx, stmt, key, value)
	return err
}

func (p *Postgres) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	stmt := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, p.tableName)
	var value []byte
	err := p.pool.QueryRow(ctx, stmt, key).Scan(&value)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.tableName)
	_, err := p.pool.Exec(ctx, stmt, key)
	return err
}

func (p *Postgres) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE $1 ORDER BY key`, p.tableName)
	rows, err := p.pool.Query(ctx, stmt, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	stmt := fmt.Sprintf(`SELECT 1 FROM %s WHERE key = $1`, p.tableName)
	var x int
	err := p.pool.QueryRow(ctx, stmt, key).Scan(&x)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Postgres) StoreBatch(ctx context.Context, pairs map[string][]byte) error {
	batch := &pgxBatchStmt{table: p.tableName}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	for k, v := range pairs {
		if _, err := tx.Exec(ctx, batch.upsert(), k, v); err != nil {
			tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

type pgxBatchStmt struct {
	table string
}

func (b *pgxBatchStmt) upsert() string {
	return fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, b.table)
}

var _ Backend = (*Postgres)(nil)
