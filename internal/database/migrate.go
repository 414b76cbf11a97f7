// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// NewMigrator はPostgreSQL用のマイグレーション実行インスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	return newMigrator("migrations/postgres", databaseURL)
}

// NewSQLiteMigrator はSQLiteファイル用のマイグレーション実行インスタンスを生成する。
func NewSQLiteMigrator(path string) (*migrate.Migrate, error) {
	return newMigrator("migrations/sqlite", "sqlite://"+path)
}

func newMigrator(dir, databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はPostgreSQLにすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	return up(m)
}

// RunSQLiteMigrations はSQLiteファイルにすべてのマイグレーションを適用する。
func RunSQLiteMigrations(path string) error {
	m, err := NewSQLiteMigrator(path)
	if err != nil {
		return err
	}
	return up(m)
}

func up(m *migrate.Migrate) error {
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
