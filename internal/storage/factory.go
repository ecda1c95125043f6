package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rookie-ar/markerscene/internal/config"
	"github.com/rookie-ar/markerscene/internal/database"
	"github.com/rookie-ar/markerscene/internal/storage/gormstore"
	"github.com/rookie-ar/markerscene/internal/storage/memory"
	"github.com/rookie-ar/markerscene/internal/storage/stream"
)

// NewBackend creates a storage backend based on configuration. The
// backend is not initialized; call Init before recording.
func NewBackend(cfg config.StorageConfig, db config.DBConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		conn, err := database.OpenPostgres(db, log)
		if err != nil {
			return nil, err
		}
		return gormstore.New(conn, gormstore.Options{Logger: log, CloseDB: true}), nil
	case "sqlite":
		conn, err := database.OpenSQLite(cfg.SQLite.Path, log)
		if err != nil {
			return nil, err
		}
		return gormstore.New(conn, gormstore.Options{Logger: log, CloseDB: true}), nil
	case "stream":
		return stream.New(cfg.Stream, log), nil
	case "memory", "":
		return memory.New(cfg.Memory, log), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
