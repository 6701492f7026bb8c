package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds SQLite connection configuration, shared by every store in
// this file since they all open against the same database handle.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps a single SQLite connection used by SQLiteConfigStore,
// SQLiteSecretsStore and SQLiteInstallStore. Opening, WAL setup and
// migration are performed once and shared across the three.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens cfg.Path with the WAL/foreign-key pragmas the provisioning
// stores rely on for transactional upsert semantics.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, path: cfg.Path}, nil
}

// Migrate runs the embedded schema migrations.
func (d *DB) Migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(d.conn, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// SQLiteConfigStore implements provision.ConfigStore over a single
// config_entries table, primary-keyed by (namespace, key) so ApplyPatch
// is a per-key upsert rather than a rewrite of the whole namespace.
type SQLiteConfigStore struct {
	db *DB
}

func NewSQLiteConfigStore(db *DB) *SQLiteConfigStore { return &SQLiteConfigStore{db: db} }

func (s *SQLiteConfigStore) ApplyPatch(ctx context.Context, namespace string, patch *provision.OrderedStringMap[json.RawMessage]) ([]string, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var changed []string
	var rangeErr error
	patch.Range(func(key string, value json.RawMessage) {
		if rangeErr != nil {
			return
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO config_entries (namespace, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			namespace, key, string(value))
		if err != nil {
			rangeErr = err
			return
		}
		changed = append(changed, key)
	})
	if rangeErr != nil {
		return nil, fmt.Errorf("failed to apply config patch: %w", rangeErr)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit config patch: %w", err)
	}
	return changed, nil
}

func (s *SQLiteConfigStore) ReadNamespace(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT key, value FROM config_entries WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to read config namespace: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// SQLiteSecretsStore tracks which secret keys exist per namespace.
// Values are never written to this table — only their names, for
// discoverability via ListKeys. Actual secret material belongs in a
// dedicated secret manager outside this repo's scope; SetSecret here
// records that the provisioning run set a value, not the value itself.
type SQLiteSecretsStore struct {
	db *DB
}

func NewSQLiteSecretsStore(db *DB) *SQLiteSecretsStore { return &SQLiteSecretsStore{db: db} }

func (s *SQLiteSecretsStore) SetSecret(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO secret_keys (namespace, key, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(namespace, key) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		namespace, key)
	if err != nil {
		return fmt.Errorf("failed to record secret key: %w", err)
	}
	return nil
}

func (s *SQLiteSecretsStore) DeleteSecret(ctx context.Context, namespace, key string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM secret_keys WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete secret key: %w", err)
	}
	return nil
}

func (s *SQLiteSecretsStore) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT key FROM secret_keys WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list secret keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan secret key row: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SQLiteInstallStore implements provision.InstallStore over the
// install_records table.
type SQLiteInstallStore struct {
	db *DB
}

func NewSQLiteInstallStore(db *DB) *SQLiteInstallStore { return &SQLiteInstallStore{db: db} }

func (s *SQLiteInstallStore) Get(ctx context.Context, tenant provision.TenantContext, providerID, installID string) (*provision.ProviderInstallRecord, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT environment, tenant, team, provider_id, install_id, config_namespace, secrets_namespace, subscriptions
		 FROM install_records WHERE environment = ? AND tenant = ? AND team = ? AND provider_id = ? AND install_id = ?`,
		tenant.Environment, tenant.Tenant, tenant.Team, providerID, installID)
	record, err := scanInstallRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get install record: %w", err)
	}
	return record, nil
}

func (s *SQLiteInstallStore) Put(ctx context.Context, record provision.ProviderInstallRecord) error {
	subscriptions, err := json.Marshal(record.Subscriptions)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriptions: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO install_records
		   (environment, tenant, team, provider_id, install_id, config_namespace, secrets_namespace, subscriptions, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(environment, tenant, team, provider_id, install_id) DO UPDATE SET
		   config_namespace = excluded.config_namespace,
		   secrets_namespace = excluded.secrets_namespace,
		   subscriptions = excluded.subscriptions,
		   updated_at = CURRENT_TIMESTAMP`,
		record.Tenant.Environment, record.Tenant.Tenant, record.Tenant.Team,
		record.ProviderID, record.InstallID, record.ConfigNamespace, record.SecretsNamespace, string(subscriptions))
	if err != nil {
		return fmt.Errorf("failed to upsert install record: %w", err)
	}
	return nil
}

func (s *SQLiteInstallStore) List(ctx context.Context) ([]provision.ProviderInstallRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT environment, tenant, team, provider_id, install_id, config_namespace, secrets_namespace, subscriptions
		 FROM install_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to list install records: %w", err)
	}
	defer rows.Close()

	var out []provision.ProviderInstallRecord
	for rows.Next() {
		record, err := scanInstallRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install record: %w", err)
		}
		out = append(out, *record)
	}
	return out, rows.Err()
}

func (s *SQLiteInstallStore) Delete(ctx context.Context, tenant provision.TenantContext, providerID, installID string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM install_records WHERE environment = ? AND tenant = ? AND team = ? AND provider_id = ? AND install_id = ?`,
		tenant.Environment, tenant.Tenant, tenant.Team, providerID, installID)
	if err != nil {
		return fmt.Errorf("failed to delete install record: %w", err)
	}
	return nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose
// Scan with the same signature.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstallRecord(row rowScanner) (*provision.ProviderInstallRecord, error) {
	var record provision.ProviderInstallRecord
	var subscriptions string
	if err := row.Scan(
		&record.Tenant.Environment, &record.Tenant.Tenant, &record.Tenant.Team,
		&record.ProviderID, &record.InstallID,
		&record.ConfigNamespace, &record.SecretsNamespace, &subscriptions,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(subscriptions), &record.Subscriptions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscriptions: %w", err)
	}
	return &record, nil
}
