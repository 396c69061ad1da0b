package app

import (
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrateCommand is one of up, down, version or force.
type MigrateCommand struct {
	Name    string
	Steps   int
	Version int
}

// RunMigrations applies cmd against the database at databaseURL using the
// migration files under sourceURL (e.g. file://migrations).
func RunMigrations(sourceURL, databaseURL string, cmd MigrateCommand) (uint, bool, error) {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return 0, false, fmt.Errorf("open migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch cmd.Name {
	case "", "up":
		if cmd.Steps > 0 {
			err = m.Steps(cmd.Steps)
		} else {
			err = m.Up()
		}
	case "down":
		steps := cmd.Steps
		if steps <= 0 {
			steps = 1
		}
		err = m.Steps(-steps)
	case "force":
		err = m.Force(cmd.Version)
	case "version":
	default:
		return 0, false, fmt.Errorf("unknown migrate command %q", cmd.Name)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
