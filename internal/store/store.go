package store

import (
	"context"
	"errors"

	"liteproxy/internal/store/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository is the main contract for the data layer.
type Repository interface {
	Configs() ConfigRepository
	Logs() LogRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type ConfigRepository interface {
	// GetByName resolves a proxy model name to its configuration.
	GetByName(ctx context.Context, name string) (*model.ProxyConfig, error)
	// List returns every configuration.
	List(ctx context.Context) ([]model.ProxyConfig, error)
	// Create inserts a new configuration.
	Create(ctx context.Context, cfg *model.ProxyConfig) error
	// UpdateByName replaces the configuration stored under name.
	UpdateByName(ctx context.Context, name string, cfg *model.ProxyConfig) error
	// DeleteByName removes a configuration.
	DeleteByName(ctx context.Context, name string) error
	// DistinctBaseURLs returns the deduplicated set of configured backend roots.
	DistinctBaseURLs(ctx context.Context) ([]string, error)
}

type LogRepository interface {
	// Insert stores a new audit record.
	Insert(ctx context.Context, entry *model.LogEntry) error
	// Find returns matching records, newest first.
	Find(ctx context.Context, filter model.LogFilter, skip, limit int) ([]model.LogEntry, error)
	// Count returns the number of matching records.
	Count(ctx context.Context, filter model.LogFilter) (int64, error)
	// MostRecentByPath returns the newest record for a request path.
	MostRecentByPath(ctx context.Context, path string) (*model.LogEntry, error)
	// UpdateResponseBody patches the response body of an existing record.
	UpdateResponseBody(ctx context.Context, id string, body model.Body) error
}
