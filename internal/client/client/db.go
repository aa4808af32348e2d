package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/securechat-dev/securechat/internal/client/migrations"
	"github.com/securechat-dev/securechat/internal/client/repositories/keyrecords"
	"github.com/securechat-dev/securechat/internal/client/repositories/metadata"
)

// Repositories bundles the local persistence layer: durable key records and
// small metadata values (last username, cached ids).
type Repositories struct {
	KeyRecords keyrecords.Repository
	Metadata   metadata.Repository
	DB         *sql.DB
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens (creating if needed) the local sqlite database at dsn,
// migrates it, and returns the repository bundle.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repositories{
		KeyRecords: keyrecords.NewSQLiteRepository(db),
		Metadata:   metadata.NewSQLiteRepository(db),
		DB:         db,
	}, nil
}
