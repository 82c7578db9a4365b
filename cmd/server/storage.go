package main

import (
	"context"
	"database/sql"
	"log/slog"

	"homebank/internal/banking/service"
	"homebank/internal/banking/store"
	"homebank/internal/platform/config"
	"homebank/internal/platform/postgres"
)

type bankingStore interface {
	service.Store
	store.Seeder
}

// storage is the selected persistence backend. tx is nil for the in-memory
// store, which leaves the service on its in-process client locks.
type storage struct {
	store bankingStore
	tx    service.StoreTx
	ping  func(ctx context.Context) error
	db    *sql.DB
}

func (s *storage) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*storage, error) {
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return &storage{
			store: store.NewInMemory(),
			ping:  func(context.Context) error { return nil },
		}, nil
	}

	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("using postgres store")
	return &storage{store: pg, tx: pg, ping: pg.Ping, db: db}, nil
}
