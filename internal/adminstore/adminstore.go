// Package adminstore persists account and provider configuration in
// SQLite so the admin API can create/update/delete them at runtime and
// hot-reload the in-memory account.Table and webhook.Registry, without a
// restart. Account credentials (access tokens, passwords) are AES-256-GCM
// encrypted at rest via internal/crypto, following the same
// encrypt-on-write/decrypt-on-read shape the teacher's own provider store
// uses for LLM API keys. Provider records, webhook secrets included, are
// stored as plain JSON.
package adminstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rakunlabs/muz"

	atcrypto "github.com/feathermark/crosspost/internal/crypto"
)

//go:embed migrations/*
var migrationFS embed.FS

// AccountConfig is the admin-store representation of one account. It
// mirrors config.Account but is its own type so store encoding never
// couples directly to the loader's struct tags.
type AccountConfig struct {
	Kind              string `json:"kind"`
	BaseURL           string `json:"baseUrl"`
	AccessToken       string `json:"accessToken"`
	Identifier        string `json:"identifier"`
	Password          string `json:"password"`
	DefaultVisibility string `json:"defaultVisibility"`
}

// ProviderConfig is the admin-store representation of one provider's
// config blob; Opts carries the kind-specific fields as a raw map, which
// the rest of the system decodes exactly as config.Provider's nested
// pointers would.
type ProviderConfig struct {
	Kind        string            `json:"kind"`
	Cron        string            `json:"cron"`
	Enabled     bool              `json:"enabled"`
	Accounts    []string          `json:"accounts"`
	Visibility  string            `json:"visibility"`
	WebhookPath string            `json:"webhookPath"`
	Template    string            `json:"template"`
	Templates   map[string]string `json:"templates"`
	Opts        json.RawMessage   `json:"opts"`
}

// Record wraps a config value with its store-assigned identity.
type Record[T any] struct {
	ID        string
	Name      string
	Config    T
	CreatedAt string
	UpdatedAt string
}

// Store is the SQLite-backed admin store.
type Store struct {
	db   *sql.DB
	goqu *goqu.Database

	tableAccounts  exp.IdentifierExpression
	tableProviders exp.IdentifierExpression

	encKey   []byte
	encKeyMu sync.RWMutex
}

// Open runs migrations and opens the database. tablePrefix defaults to
// "crosspost_" when empty.
func Open(ctx context.Context, datasource, tablePrefix string, encKey []byte) (*Store, error) {
	if datasource == "" {
		return nil, errors.New("adminstore: datasource is required")
	}
	if tablePrefix == "" {
		tablePrefix = "crosspost_"
	}

	if err := migrate(ctx, datasource, tablePrefix); err != nil {
		return nil, fmt.Errorf("adminstore: migrate: %w", err)
	}

	db, err := sql.Open("sqlite", datasource)
	if err != nil {
		return nil, fmt.Errorf("adminstore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("adminstore: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("adminstore: set WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{
		db:             db,
		goqu:           goqu.New("sqlite3", db),
		tableAccounts:  goqu.T(tablePrefix + "accounts"),
		tableProviders: goqu.T(tablePrefix + "providers"),
		encKey:         encKey,
	}, nil
}

func migrate(ctx context.Context, datasource, tablePrefix string) error {
	db, err := sql.Open("sqlite", datasource)
	if err != nil {
		return err
	}
	defer db.Close()

	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    map[string]string{"TABLE_PREFIX": tablePrefix},
	}
	driver := muz.NewSQLiteDriver(db, tablePrefix+"migrations", slog.Default())
	return m.Migrate(ctx, driver)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SetEncryptionKey(key []byte) {
	s.encKeyMu.Lock()
	s.encKey = key
	s.encKeyMu.Unlock()
}

func (s *Store) key() []byte {
	s.encKeyMu.RLock()
	defer s.encKeyMu.RUnlock()
	return s.encKey
}

type row struct {
	ID        string
	Name      string
	Config    string
	CreatedAt string
	UpdatedAt string
}

func scanRow(scanner interface{ Scan(...any) error }) (row, error) {
	var r row
	err := scanner.Scan(&r.ID, &r.Name, &r.Config, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ─── Accounts ───

func (s *Store) ListAccounts(ctx context.Context) ([]Record[AccountConfig], error) {
	query, _, err := s.goqu.From(s.tableAccounts).
		Select("id", "name", "config", "created_at", "updated_at").
		Order(goqu.I("name").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("adminstore: list accounts: %w", err)
	}
	defer rows.Close()

	encKey := s.key()
	var out []Record[AccountConfig]
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		rec, err := accountRecordFromRow(r, encKey)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, name string) (*Record[AccountConfig], error) {
	query, _, err := s.goqu.From(s.tableAccounts).
		Select("id", "name", "config", "created_at", "updated_at").
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return nil, err
	}

	r, err := scanRow(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adminstore: get account %q: %w", name, err)
	}
	return accountRecordFromRow(r, s.key())
}

func (s *Store) CreateAccount(ctx context.Context, name string, cfg AccountConfig) (*Record[AccountConfig], error) {
	encoded, err := encryptAccount(cfg, s.key())
	if err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("adminstore: marshal account config: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Insert(s.tableAccounts).Rows(goqu.Record{
		"id": id, "name": name, "config": string(configJSON),
		"created_at": now, "updated_at": now,
	}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("adminstore: create account %q: %w", name, err)
	}

	return &Record[AccountConfig]{ID: id, Name: name, Config: cfg, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) UpdateAccount(ctx context.Context, name string, cfg AccountConfig) (*Record[AccountConfig], error) {
	encoded, err := encryptAccount(cfg, s.key())
	if err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Update(s.tableAccounts).Set(goqu.Record{
		"config": string(configJSON), "updated_at": now,
	}).Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("adminstore: update account %q: %w", name, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetAccount(ctx, name)
}

func (s *Store) DeleteAccount(ctx context.Context, name string) error {
	query, _, err := s.goqu.Delete(s.tableAccounts).Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query)
	return err
}

func accountRecordFromRow(r row, encKey []byte) (*Record[AccountConfig], error) {
	var cfg AccountConfig
	if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
		return nil, fmt.Errorf("adminstore: unmarshal account config %q: %w", r.Name, err)
	}
	decrypted, err := decryptAccount(cfg, encKey)
	if err != nil {
		return nil, fmt.Errorf("adminstore: decrypt account config %q: %w", r.Name, err)
	}
	return &Record[AccountConfig]{ID: r.ID, Name: r.Name, Config: decrypted, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}, nil
}

func encryptAccount(cfg AccountConfig, key []byte) (AccountConfig, error) {
	sealed, err := atcrypto.EncryptSealed(atcrypto.Sealed{AccessToken: cfg.AccessToken, Password: cfg.Password}, key)
	if err != nil {
		return cfg, err
	}
	cfg.AccessToken, cfg.Password = sealed.AccessToken, sealed.Password
	return cfg, nil
}

func decryptAccount(cfg AccountConfig, key []byte) (AccountConfig, error) {
	sealed, err := atcrypto.DecryptSealed(atcrypto.Sealed{AccessToken: cfg.AccessToken, Password: cfg.Password}, key)
	if err != nil {
		return cfg, err
	}
	cfg.AccessToken, cfg.Password = sealed.AccessToken, sealed.Password
	return cfg, nil
}

// ─── Providers ───

func (s *Store) ListProviders(ctx context.Context) ([]Record[ProviderConfig], error) {
	query, _, err := s.goqu.From(s.tableProviders).
		Select("id", "name", "config", "created_at", "updated_at").
		Order(goqu.I("name").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("adminstore: list providers: %w", err)
	}
	defer rows.Close()

	var out []Record[ProviderConfig]
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		var cfg ProviderConfig
		if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
			return nil, fmt.Errorf("adminstore: unmarshal provider config %q: %w", r.Name, err)
		}
		out = append(out, Record[ProviderConfig]{ID: r.ID, Name: r.Name, Config: cfg, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt})
	}
	return out, rows.Err()
}

func (s *Store) GetProvider(ctx context.Context, name string) (*Record[ProviderConfig], error) {
	query, _, err := s.goqu.From(s.tableProviders).
		Select("id", "name", "config", "created_at", "updated_at").
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return nil, err
	}

	r, err := scanRow(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adminstore: get provider %q: %w", name, err)
	}
	var cfg ProviderConfig
	if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
		return nil, fmt.Errorf("adminstore: unmarshal provider config %q: %w", r.Name, err)
	}
	return &Record[ProviderConfig]{ID: r.ID, Name: r.Name, Config: cfg, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}, nil
}

func (s *Store) CreateProvider(ctx context.Context, name string, cfg ProviderConfig) (*Record[ProviderConfig], error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	id := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Insert(s.tableProviders).Rows(goqu.Record{
		"id": id, "name": name, "config": string(configJSON),
		"created_at": now, "updated_at": now,
	}).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("adminstore: create provider %q: %w", name, err)
	}
	return &Record[ProviderConfig]{ID: id, Name: name, Config: cfg, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) UpdateProvider(ctx context.Context, name string, cfg ProviderConfig) (*Record[ProviderConfig], error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Update(s.tableProviders).Set(goqu.Record{
		"config": string(configJSON), "updated_at": now,
	}).Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("adminstore: update provider %q: %w", name, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetProvider(ctx, name)
}

func (s *Store) DeleteProvider(ctx context.Context, name string) error {
	query, _, err := s.goqu.Delete(s.tableProviders).Where(goqu.I("name").Eq(name)).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query)
	return err
}

// RotateEncryptionKey re-encrypts every account's sensitive fields under
// newKey within a single transaction, matching the teacher's provider-store
// rotation: decrypt with the old key, re-encrypt with the new one, commit,
// then swap the in-memory key only after the commit succeeds.
func (s *Store) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	s.encKeyMu.Lock()
	defer s.encKeyMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("adminstore: begin rotation tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery, _, err := s.goqu.From(s.tableAccounts).Select("id", "name", "config").ToSQL()
	if err != nil {
		return err
	}
	rows, err := tx.QueryContext(ctx, selectQuery)
	if err != nil {
		return fmt.Errorf("adminstore: list accounts for rotation: %w", err)
	}

	type entry struct{ id, name, config string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.name, &e.config); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		var cfg AccountConfig
		if err := json.Unmarshal([]byte(e.config), &cfg); err != nil {
			return fmt.Errorf("adminstore: unmarshal account %q: %w", e.name, err)
		}
		decrypted, err := decryptAccount(cfg, s.encKey)
		if err != nil {
			return fmt.Errorf("adminstore: decrypt account %q: %w", e.name, err)
		}
		encrypted, err := encryptAccount(decrypted, newKey)
		if err != nil {
			return fmt.Errorf("adminstore: re-encrypt account %q: %w", e.name, err)
		}
		configJSON, err := json.Marshal(encrypted)
		if err != nil {
			return err
		}

		updateQuery, _, err := s.goqu.Update(s.tableAccounts).
			Set(goqu.Record{"config": string(configJSON)}).
			Where(goqu.I("id").Eq(e.id)).ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, updateQuery); err != nil {
			return fmt.Errorf("adminstore: update account %q: %w", e.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("adminstore: commit rotation: %w", err)
	}

	s.encKey = newKey
	slog.Info("adminstore: encryption key rotated", "accounts_updated", len(entries))
	return nil
}
