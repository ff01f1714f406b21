// Package migration coordinates golang-migrate schema migrations across
// CrossBridge's two databases. It is driven two ways: embedded in
// cmd/server (auto-migrate on startup, gated by observer config) and
// standalone via cmd/migrate (an operator-invoked one-shot runner, for
// environments that don't want schema changes tied to process boot).
package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"

	"crossbridge/internal/config"
	"crossbridge/internal/infrastructure/database"
)

// Manager owns one golang-migrate runner per database, plus the
// connections it was handed at construction (closed again on Shutdown).
type Manager struct {
	config           *config.Config
	logger           *logrus.Logger
	postgresDB       *database.PostgresDB
	clickhouseDB     *database.ClickHouseDB
	postgresRunner   *migrate.Migrate
	clickhouseRunner *migrate.Migrate
}

// NewManager opens both databases and their migration runners. CLI tools
// that only care about one database should dial the database package
// directly instead of going through Manager.
func NewManager(cfg *config.Config) (*Manager, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel) // keep CLI/startup output to warnings+errors only

	m := &Manager{config: cfg, logger: logger}

	pg, err := database.NewPostgresDB(cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	m.postgresDB = pg
	if err := m.initRunner(PostgresDB); err != nil {
		return nil, fmt.Errorf("init postgres migration runner: %w", err)
	}

	ch, err := database.NewClickHouseDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init clickhouse: %w", err)
	}
	m.clickhouseDB = ch
	if err := m.initRunner(ClickHouseDB); err != nil {
		return nil, fmt.Errorf("init clickhouse migration runner: %w", err)
	}

	return m, nil
}

func (m *Manager) initRunner(dbType DatabaseType) error {
	path := m.migrationsPath(dbType)
	source := fmt.Sprintf("file://%s", path)

	switch dbType {
	case PostgresDB:
		sqlDB, err := m.postgresDB.DB.DB()
		if err != nil {
			return fmt.Errorf("unwrap gorm sql.DB: %w", err)
		}
		driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
			MigrationsTable: "schema_migrations",
			DatabaseName:    m.config.Database.Database,
		})
		if err != nil {
			return fmt.Errorf("build postgres driver: %w", err)
		}
		runner, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
		if err != nil {
			return fmt.Errorf("build postgres runner: %w", err)
		}
		m.postgresRunner = runner
	case ClickHouseDB:
		// ClickHouse uses driver.Conn, not sql.DB, so golang-migrate dials
		// it itself from the DSN rather than reusing our open connection.
		runner, err := migrate.New(source, m.config.GetClickHouseURL())
		if err != nil {
			return fmt.Errorf("build clickhouse runner: %w", err)
		}
		m.clickhouseRunner = runner
	}

	m.logger.WithFields(logrus.Fields{"database": dbType, "path": path}).Info("migration runner ready")
	return nil
}

func (m *Manager) migrationsPath(dbType DatabaseType) string {
	switch dbType {
	case PostgresDB:
		if m.config.Database.MigrationsPath != "" {
			return m.config.Database.MigrationsPath
		}
		return filepath.Join("migrations", "postgres")
	case ClickHouseDB:
		if m.config.ClickHouse.MigrationsPath != "" {
			return m.config.ClickHouse.MigrationsPath
		}
		return filepath.Join("migrations", "clickhouse")
	default:
		return "migrations"
	}
}

func (m *Manager) runner(dbType DatabaseType) (*migrate.Migrate, error) {
	switch dbType {
	case PostgresDB:
		if m.postgresRunner == nil {
			return nil, fmt.Errorf("postgres migration runner not initialized")
		}
		return m.postgresRunner, nil
	case ClickHouseDB:
		if m.clickhouseRunner == nil {
			return nil, fmt.Errorf("clickhouse migration runner not initialized")
		}
		return m.clickhouseRunner, nil
	default:
		return nil, fmt.Errorf("unknown database type %q", dbType)
	}
}

// Up applies all pending migrations (steps == 0) or exactly steps of them
// for the named database.
func (m *Manager) Up(dbType DatabaseType, steps int) error {
	runner, err := m.runner(dbType)
	if err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{"database": dbType, "steps": steps}).Info("running migrations up")
	if steps == 0 {
		err = runner.Up()
	} else {
		err = runner.Steps(steps)
	}
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}

// Down rolls back all migrations (steps == 0) or exactly steps of them for
// the named database.
func (m *Manager) Down(dbType DatabaseType, steps int) error {
	runner, err := m.runner(dbType)
	if err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{"database": dbType, "steps": steps}).Info("running migrations down")
	if steps == 0 {
		err = runner.Down()
	} else {
		err = runner.Steps(-steps)
	}
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}

// Status reports the current version and dirty flag for the named
// database, without requiring the runner to be initialized (a database
// that failed to init reports State "not_initialized" rather than
// erroring, so a mixed-health report is still possible).
func (m *Manager) Status(dbType DatabaseType) Status {
	s := Status{Database: dbType, MigrationsPath: m.migrationsPath(dbType)}

	runner, err := m.runner(dbType)
	if err != nil {
		s.State = "not_initialized"
		s.Error = err.Error()
		return s
	}

	version, dirty, err := runner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		s.State = "error"
		s.Error = err.Error()
		return s
	}
	s.CurrentVersion = version
	s.Dirty = dirty
	if dirty {
		s.State = "dirty"
	} else {
		s.State = "healthy"
	}
	return s
}

// AutoMigrate runs both databases up to their latest migration, used by
// cmd/server on startup when database.auto_migrate is set.
func (m *Manager) AutoMigrate(ctx context.Context) error {
	if !m.config.Database.AutoMigrate {
		return fmt.Errorf("auto-migration is disabled (database.auto_migrate is false)")
	}
	m.logger.Info("running auto-migration")
	if err := m.Up(PostgresDB, 0); err != nil {
		return fmt.Errorf("postgres auto-migration: %w", err)
	}
	if err := m.Up(ClickHouseDB, 0); err != nil {
		return fmt.Errorf("clickhouse auto-migration: %w", err)
	}
	m.logger.Info("auto-migration complete")
	return nil
}

// CountMigrations counts the *.up.sql files under a database's migrations
// directory, used by cmd/migrate's status report.
func (m *Manager) CountMigrations(dbType DatabaseType) int {
	path := m.migrationsPath(dbType)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0
	}
	count := 0
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".up.sql") {
			count++
		}
		return nil
	})
	return count
}

// Shutdown closes both migration runners and their underlying database
// connections; the first error encountered is returned but every close is
// still attempted.
func (m *Manager) Shutdown() error {
	var lastErr error
	if m.postgresRunner != nil {
		if srcErr, dbErr := m.postgresRunner.Close(); srcErr != nil || dbErr != nil {
			m.logger.WithError(firstNonNil(srcErr, dbErr)).Error("postgres migration runner close failed")
			lastErr = firstNonNil(lastErr, firstNonNil(srcErr, dbErr))
		}
	}
	if m.clickhouseRunner != nil {
		if srcErr, dbErr := m.clickhouseRunner.Close(); srcErr != nil || dbErr != nil {
			m.logger.WithError(firstNonNil(srcErr, dbErr)).Error("clickhouse migration runner close failed")
			lastErr = firstNonNil(lastErr, firstNonNil(srcErr, dbErr))
		}
	}
	if m.postgresDB != nil {
		if err := m.postgresDB.Close(); err != nil {
			lastErr = firstNonNil(lastErr, err)
		}
	}
	if m.clickhouseDB != nil {
		if err := m.clickhouseDB.Close(); err != nil {
			lastErr = firstNonNil(lastErr, err)
		}
	}
	return lastErr
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
