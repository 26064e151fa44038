package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/novafn/internal/domain"
)

// postgresUniqueViolation is the SQLSTATE Postgres raises for a unique
// index conflict. Detecting it via the driver's structured error code
// (rather than matching on Error() text) is the only reliable way to
// distinguish "name taken" from any other insert failure.
const postgresUniqueViolation = "23505"

// PostgresStore is the relational backend: one `functions` table with
// discrete columns (id, name, runtime, handler, memory_mb, timeout_sec,
// environment as JSONB, code inline, code_path, code_hash, created_at,
// updated_at) and a unique index on name enforcing registry-wide
// uniqueness.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Schema is the DDL this backend expects to already exist (applied by an
// operator/migration tool, not by this package).
const Schema = `
CREATE TABLE IF NOT EXISTS functions (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	runtime      TEXT NOT NULL,
	handler      TEXT NOT NULL,
	code         BYTEA NOT NULL,
	code_path    TEXT NOT NULL,
	code_hash    TEXT NOT NULL DEFAULT '',
	memory_mb    INTEGER NOT NULL,
	timeout_sec  INTEGER NOT NULL,
	environment  JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to dsn and returns a ready PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Create(ctx context.Context, fn *domain.Function) error {
	env, err := json.Marshal(fn.Environment)
	if err != nil {
		return domain.NewError(domain.KindInternal, "registry.Create", "marshal environment", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO functions (id, name, runtime, handler, code, code_path, code_hash, memory_mb, timeout_sec, environment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)
	`, fn.ID, fn.Name, string(fn.Runtime), fn.Handler, []byte(fn.Code), fn.CodePath, fn.CodeHash, fn.MemoryMB, fn.TimeoutSec, env, fn.CreatedAt, fn.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
			return domain.NewError(domain.KindAlreadyExists, "registry.Create", "function "+fn.Name+" already exists", nil)
		}
		return domain.NewError(domain.KindBackendUnavailable, "registry.Create", "insert", err)
	}
	return nil
}

func (s *PostgresStore) scanRow(row pgx.Row) (*domain.Function, error) {
	var fn domain.Function
	var runtime string
	var env []byte
	var code []byte
	if err := row.Scan(&fn.ID, &fn.Name, &runtime, &fn.Handler, &code, &fn.CodePath, &fn.CodeHash, &fn.MemoryMB, &fn.TimeoutSec, &env, &fn.CreatedAt, &fn.UpdatedAt); err != nil {
		return nil, err
	}
	fn.Runtime = domain.Runtime(runtime)
	fn.Code = string(code)
	if len(env) > 0 {
		_ = json.Unmarshal(env, &fn.Environment)
	}
	return &fn, nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*domain.Function, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, runtime, handler, code, code_path, code_hash, memory_mb, timeout_sec, environment, created_at, updated_at
		FROM functions WHERE name = $1
	`, name)
	fn, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "registry.Get", "function "+name+" not found", nil)
		}
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.Get", "query", err)
	}
	return fn, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.Function, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, runtime, handler, code, code_path, code_hash, memory_mb, timeout_sec, environment, created_at, updated_at
		FROM functions WHERE id = $1
	`, id)
	fn, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "registry.GetByID", "function "+id+" not found", nil)
		}
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.GetByID", "query", err)
	}
	return fn, nil
}

func (s *PostgresStore) Update(ctx context.Context, fn *domain.Function) error {
	env, err := json.Marshal(fn.Environment)
	if err != nil {
		return domain.NewError(domain.KindInternal, "registry.Update", "marshal environment", err)
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE functions SET runtime=$2, handler=$3, code=$4, code_path=$5, code_hash=$6, memory_mb=$7, timeout_sec=$8, environment=$9::jsonb, updated_at=$10
		WHERE name = $1
	`, fn.Name, string(fn.Runtime), fn.Handler, []byte(fn.Code), fn.CodePath, fn.CodeHash, fn.MemoryMB, fn.TimeoutSec, env, fn.UpdatedAt)
	if err != nil {
		return domain.NewError(domain.KindBackendUnavailable, "registry.Update", "update", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "registry.Update", "function "+fn.Name+" not found", nil)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM functions WHERE name = $1`, name)
	if err != nil {
		return domain.NewError(domain.KindBackendUnavailable, "registry.Delete", "delete", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "registry.Delete", "function "+name+" not found", nil)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*domain.Function, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, runtime, handler, code, code_path, code_hash, memory_mb, timeout_sec, environment, created_at, updated_at
		FROM functions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.List", "query", err)
	}
	defer rows.Close()

	fns := make([]*domain.Function, 0)
	for rows.Next() {
		fn, err := s.scanRow(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindBackendUnavailable, "registry.List", "scan", err)
		}
		fns = append(fns, fn)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.List", "rows", err)
	}
	return fns, nil
}

// SaveCode overwrites the inline code column (and bumps updated_at) of
// the row for name, then returns the canonical db:// locator spec.md §4.1
// names for this backend. There is no separate blob table; Create/Update
// also write the code column from fn.Code.
func (s *PostgresStore) SaveCode(ctx context.Context, name string, code []byte) (string, error) {
	ct, err := s.pool.Exec(ctx, `UPDATE functions SET code = $2, updated_at = $3 WHERE name = $1`, name, code, time.Now())
	if err != nil {
		return "", domain.NewError(domain.KindBackendUnavailable, "registry.SaveCode", "update", err)
	}
	if ct.RowsAffected() == 0 {
		return "", domain.NewError(domain.KindNotFound, "registry.SaveCode", "function "+name+" not found", nil)
	}
	return "db://functions/" + name + "/code", nil
}

func (s *PostgresStore) GetCode(ctx context.Context, locator string) ([]byte, error) {
	name, ok := parseDBLocator(locator)
	if !ok {
		return nil, domain.NewError(domain.KindInvalid, "registry.GetCode", "locator not owned by this backend: "+locator, nil)
	}
	var code []byte
	err := s.pool.QueryRow(ctx, `SELECT code FROM functions WHERE name = $1`, name).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "registry.GetCode", "code not found", nil)
		}
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.GetCode", "query", err)
	}
	return code, nil
}

func parseDBLocator(locator string) (string, bool) {
	const prefix, suffix = "db://functions/", "/code"
	if len(locator) <= len(prefix)+len(suffix) || locator[:len(prefix)] != prefix {
		return "", false
	}
	rest := locator[len(prefix):]
	if len(rest) <= len(suffix) || rest[len(rest)-len(suffix):] != suffix {
		return "", false
	}
	return rest[:len(rest)-len(suffix)], true
}
