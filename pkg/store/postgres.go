package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/signalbridge/signalbridge/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// DSN renders the connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool, useful for tests.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool, verifies connectivity, and applies pending
// migrations.
func Connect(ctx context.Context, cfg Config) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(cfg.DSN(), cfg.Database); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// RunMigrations applies the embedded migrations. Migrations run over a
// dedicated database/sql connection; the pgx pool stays untouched.
func RunMigrations(dsn, database string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Create(ctx context.Context, record *models.ProviderRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO providers (id, tenant_id, name, type, installed_by, installation_time, configuration_key, validated_scopes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.TenantID, record.Name, record.Type, record.InstalledBy,
		record.InstallationTime, record.ConfigurationKey, record.ValidatedScopes)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("create provider record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (*models.ProviderRecord, error) {
	var r models.ProviderRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, type, installed_by, installation_time, configuration_key, validated_scopes
		 FROM providers WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&r.ID, &r.TenantID, &r.Name, &r.Type, &r.InstalledBy,
		&r.InstallationTime, &r.ConfigurationKey, &r.ValidatedScopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]*models.ProviderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, type, installed_by, installation_time, configuration_key, validated_scopes
		 FROM providers WHERE tenant_id = $1 ORDER BY installation_time`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list provider records: %w", err)
	}
	defer rows.Close()

	var records []*models.ProviderRecord
	for rows.Next() {
		var r models.ProviderRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Type, &r.InstalledBy,
			&r.InstallationTime, &r.ConfigurationKey, &r.ValidatedScopes); err != nil {
			return nil, fmt.Errorf("scan provider record: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, record *models.ProviderRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET name = $3, installed_by = $4, configuration_key = $5, validated_scopes = $6
		 WHERE tenant_id = $1 AND id = $2`,
		record.TenantID, record.ID, record.Name, record.InstalledBy,
		record.ConfigurationKey, record.ValidatedScopes)
	if err != nil {
		return fmt.Errorf("update provider record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM providers WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete provider record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
