package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"authd/internal/config"
	"authd/internal/storage/mongodb"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var configPath, migrationsPath string

	flag.StringVar(&configPath, "config", "./config/local.yaml", "path to config file")
	flag.StringVar(&migrationsPath, "migrations-path", "./migrations", "path to migrations")
	flag.Parse()

	cfg := config.LoadConfig(configPath)

	switch cfg.Storage.Backend {
	case "sqlite":
		migrateSQLite(cfg.Storage.SQLitePath, migrationsPath)
	case "mongo":
		migrateMongo(cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
	default:
		panic("unknown storage backend: " + cfg.Storage.Backend)
	}
}

func migrateSQLite(storagePath, migrationsPath string) {
	if storagePath == "" {
		panic("storage path is required")
	}

	m, err := migrate.New(
		"file://"+migrationsPath,
		fmt.Sprintf("sqlite3://%s", storagePath),
	)
	if err != nil {
		panic(err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to apply")
			return
		}
		panic(err)
	}

	fmt.Println("migrations applied successfully")
}

func migrateMongo(uri, database string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := mongodb.New(ctx, uri, database)
	if err != nil {
		panic(err)
	}
	defer func() { _ = store.Close(ctx) }()

	if err := store.EnsureIndexes(ctx); err != nil {
		panic(err)
	}

	fmt.Println("indexes ensured successfully")
}
