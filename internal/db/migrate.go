package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/config"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

// MigrationStatus is the schema version recorded in schema_migrations
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	Applied bool `json:"applied"`
}

// MigrationRunner applies the versioned SQL files under migrations/.
// Only postgres is supported; sqlite deployments rely on AutoMigrate.
type MigrationRunner struct {
	path    string
	db      *sql.DB
	migrate *migrate.Migrate
	log     *zap.Logger
}

// PostgresURL renders the connection settings as a postgres:// URL
func PostgresURL(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	if cfg.TimeZone != "" {
		q.Set("TimeZone", cfg.TimeZone)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// ResolveMigrationsPath returns the absolute migrations directory and checks
// that it exists
func ResolveMigrationsPath(path string) (string, error) {
	if path == "" {
		path = "migrations"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("migrations directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("migrations path is not a directory: %s", abs)
	}
	return abs, nil
}

// NewMigrationRunner connects to the database and loads the migration files
func NewMigrationRunner(cfg config.DatabaseConfig, path string) (*MigrationRunner, error) {
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("migrations are not supported for driver %q", cfg.Driver)
	}

	abs, err := ResolveMigrationsPath(path)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("postgres", PostgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create PostgreSQL driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(abs), "postgres", driver)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return &MigrationRunner{
		path:    abs,
		db:      sqlDB,
		migrate: m,
		log:     logging.L().With(zap.String("component", "migrate")),
	}, nil
}

// Up applies n pending migrations, or all of them when n <= 0
func (r *MigrationRunner) Up(n int) error {
	var err error
	if n > 0 {
		err = r.migrate.Steps(n)
	} else {
		err = r.migrate.Up()
	}
	return r.finish("up", err)
}

// Down rolls back n migrations, or every migration when n <= 0
func (r *MigrationRunner) Down(n int) error {
	var err error
	if n > 0 {
		err = r.migrate.Steps(-n)
	} else {
		err = r.migrate.Down()
	}
	return r.finish("down", err)
}

// To migrates up or down to the given version
func (r *MigrationRunner) To(version uint) error {
	return r.finish("goto", r.migrate.Migrate(version))
}

// Force records version without running anything; used to clear a dirty state
func (r *MigrationRunner) Force(version int) error {
	if err := r.migrate.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	r.log.Warn("Forced schema version", zap.Int("version", version))
	return nil
}

// Version reports the current schema version
func (r *MigrationRunner) Version() (MigrationStatus, error) {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, err
	}
	return MigrationStatus{Version: version, Dirty: dirty, Applied: true}, nil
}

// Close releases the source and the database connection
func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.migrate.Close()
	if srcErr != nil {
		return fmt.Errorf("failed to close source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}

func (r *MigrationRunner) finish(op string, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		r.log.Info("No migrations to apply", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", op, err)
	}
	status, verr := r.Version()
	if verr != nil {
		return verr
	}
	r.log.Info("Migrations applied",
		zap.String("op", op),
		zap.Uint("version", status.Version),
		zap.Bool("dirty", status.Dirty),
	)
	return nil
}
