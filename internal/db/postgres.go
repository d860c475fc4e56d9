package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/platform/envutil"
	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := envutil.String("POSTGRES_HOST", "localhost")
	postgresPort := envutil.String("POSTGRES_PORT", "5432")
	postgresUser := envutil.String("POSTGRES_USER", "postgres")
	postgresPassword := envutil.String("POSTGRES_PASSWORD", "")
	postgresName := envutil.String("POSTGRES_NAME", "provgraph")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...", "host", postgresHost, "database", postgresName)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	return AutoMigrate(s.db)
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates or updates the schema for every persisted entity.
// Shared between the postgres service and the sqlite helper so tests run
// against the same table layout.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&types.User{},
		&types.Computer{},
		&types.AuthInfo{},
		&types.Node{},
		&types.Link{},
		&types.NodeLock{},
	)
}
