package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"liteproxy/internal/store"
	"liteproxy/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Configs() store.ConfigRepository {
	return &configRepo{db: r.executor}
}

func (r *SqliteRepository) Logs() store.LogRepository {
	return &logRepo{db: r.executor}
}

type configRepo struct {
	db DB
}

func (r *configRepo) GetByName(ctx context.Context, name string) (*model.ProxyConfig, error) {
	var cfg model.ProxyConfig
	query := `SELECT * FROM configurations WHERE proxy_model_name = ?`
	if err := r.db.GetContext(ctx, &cfg, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *configRepo) List(ctx context.Context) ([]model.ProxyConfig, error) {
	var configs []model.ProxyConfig
	err := r.db.SelectContext(ctx, &configs, `SELECT * FROM configurations ORDER BY proxy_model_name`)
	return configs, err
}

func (r *configRepo) Create(ctx context.Context, cfg *model.ProxyConfig) error {
	query := `
	INSERT INTO configurations (
		proxy_model_name, base_url, backend_model_name, backend_api_key,
		ignore_ssl_verify, created_at, updated_at
	) VALUES (
		:proxy_model_name, :base_url, :backend_model_name, :backend_api_key,
		:ignore_ssl_verify, :created_at, :updated_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, cfg)
	return err
}

func (r *configRepo) UpdateByName(ctx context.Context, name string, cfg *model.ProxyConfig) error {
	query := `
	UPDATE configurations SET
		base_url = ?, backend_model_name = ?, backend_api_key = ?,
		ignore_ssl_verify = ?, updated_at = ?
	WHERE proxy_model_name = ?`
	res, err := r.db.ExecContext(ctx, query,
		cfg.BaseURL, cfg.BackendModelName, cfg.BackendAPIKey,
		cfg.IgnoreSSLVerify, time.Now().UTC(), name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *configRepo) DeleteByName(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM configurations WHERE proxy_model_name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *configRepo) DistinctBaseURLs(ctx context.Context) ([]string, error) {
	var urls []string
	err := r.db.SelectContext(ctx, &urls, `SELECT DISTINCT base_url FROM configurations ORDER BY base_url`)
	return urls, err
}

type logRepo struct {
	db DB
}

func (r *logRepo) Insert(ctx context.Context, entry *model.LogEntry) error {
	query := `
	INSERT INTO logs (
		id, timestamp, request_method, request_path, request_headers, request_body,
		response_status_code, response_headers, response_body, processing_time, is_stream
	) VALUES (
		:id, :timestamp, :request_method, :request_path, :request_headers, :request_body,
		:response_status_code, :response_headers, :response_body, :processing_time, :is_stream
	)`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	return err
}

// buildFilter renders a LogFilter into a WHERE clause and its arguments.
func buildFilter(filter model.LogFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.Start != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.End.UTC())
	}
	if filter.StatusMin > 0 {
		clauses = append(clauses, "response_status_code >= ?")
		args = append(args, filter.StatusMin)
	}
	if filter.StatusMax > 0 {
		clauses = append(clauses, "response_status_code <= ?")
		args = append(args, filter.StatusMax)
	}
	if filter.PathContains != "" {
		// LIKE is case-insensitive for ASCII in sqlite
		clauses = append(clauses, "request_path LIKE ?")
		args = append(args, "%"+filter.PathContains+"%")
	}
	if filter.Method != "" {
		clauses = append(clauses, "request_method = ?")
		args = append(args, filter.Method)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *logRepo) Find(ctx context.Context, filter model.LogFilter, skip, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	where, args := buildFilter(filter)
	query := fmt.Sprintf(`SELECT * FROM logs%s ORDER BY timestamp DESC LIMIT ? OFFSET ?`, where)
	args = append(args, limit, skip)

	var entries []model.LogEntry
	err := r.db.SelectContext(ctx, &entries, query, args...)
	return entries, err
}

func (r *logRepo) Count(ctx context.Context, filter model.LogFilter) (int64, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM logs%s`, where)

	var count int64
	err := r.db.GetContext(ctx, &count, query, args...)
	return count, err
}

func (r *logRepo) MostRecentByPath(ctx context.Context, path string) (*model.LogEntry, error) {
	var entry model.LogEntry
	query := `SELECT * FROM logs WHERE request_path = ? ORDER BY timestamp DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &entry, query, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *logRepo) UpdateResponseBody(ctx context.Context, id string, body model.Body) error {
	res, err := r.db.ExecContext(ctx, `UPDATE logs SET response_body = ? WHERE id = ?`, body, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}
