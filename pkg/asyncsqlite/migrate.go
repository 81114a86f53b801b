package asyncsqlite

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// BuildMigrateURL строит корректный URL для golang-migrate с учётом особенностей ОС.
// На Windows для путей вида "C:\..." создаёт "sqlite:///C:/...",
// на Unix для "/..." создаёт "sqlite:///...".
func BuildMigrateURL(dbPath string) (string, error) {
	if dbPath == "" || dbPath == MemoryPath {
		return "", errors.New("migrations require a database file")
	}

	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	urlPath := filepath.ToSlash(absPath)

	// C:/path -> /C:/path для правильного URL
	if runtime.GOOS == "windows" && len(urlPath) >= 2 && urlPath[1] == ':' {
		urlPath = "/" + urlPath
	}

	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}

	return "sqlite://" + urlPath, nil
}

// withMigrate открывает отдельное соединение golang-migrate и закрывает его после fn.
func withMigrate(dbPath, sourceURL string, fn func(m *migrate.Migrate) error) error {
	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return fmt.Errorf("failed to build database URL: %w", err)
	}

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	return fn(m)
}

// ApplyMigrations применяет все доступные миграции.
// Повторный вызов безопасен: migrate.ErrNoChange не считается ошибкой.
func ApplyMigrations(dbPath, sourceURL string) error {
	return withMigrate(dbPath, sourceURL, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	})
}

// MigrationVersion возвращает текущую версию применённых миграций.
// Если миграции ещё не применялись, возвращает 0 без ошибки.
func MigrationVersion(dbPath, sourceURL string) (version uint, dirty bool, err error) {
	err = withMigrate(dbPath, sourceURL, func(m *migrate.Migrate) error {
		v, d, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				return nil
			}
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

// MigrateTo переводит схему на указанную версию вверх или вниз.
func MigrateTo(dbPath, sourceURL string, version uint) error {
	return withMigrate(dbPath, sourceURL, func(m *migrate.Migrate) error {
		if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to migrate to version %d: %w", version, err)
		}
		return nil
	})
}

// ResetMigrations откатывает все миграции (опасная операция!).
func ResetMigrations(dbPath, sourceURL string) error {
	return withMigrate(dbPath, sourceURL, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to reset migrations: %w", err)
		}
		return nil
	})
}
