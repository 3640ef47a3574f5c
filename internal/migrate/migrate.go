package migrate

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// SourceURL turns a migrations directory into a file:// source URL.
// Values that already carry a scheme are returned unchanged.
func SourceURL(dir string) (string, error) {
	if strings.Contains(dir, "://") {
		return dir, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Up applies all pending migrations from dir to databaseURL.
func Up(dir, databaseURL string) error {
	src, err := SourceURL(dir)
	if err != nil {
		return err
	}
	m, err := migrate.New(src, databaseURL)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("[Migrate] Schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("[Migrate] Applied migrations", "version", version, "dirty", dirty)
	return nil
}
