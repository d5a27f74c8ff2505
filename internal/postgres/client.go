package postgres

import (
	"context"
	"time"

	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// IClient is what repositories depend on.
type IClient interface {
	// Querier returns the transaction carried by ctx, or the pool.
	Querier(ctx context.Context) *gorm.DB
	// WithTx runs fn in a transaction. Nested calls join the outer one.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Dialect() types.DBDialect
	LockKey(ctx context.Context, req types.LockRequest) error
	Ping(ctx context.Context) error
}

type Client struct {
	db      *gorm.DB
	logger  *logger.Logger
	dialect types.DBDialect
}

// NewDB opens the configured database.
func NewDB(cfg *config.Configuration, log *logger.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.New(log.GetGormWriter(), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormLogLevel(cfg.Logging.DBLevel),
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	switch cfg.Postgres.Driver {
	case types.DBDialectSQLite:
		dialector = sqlite.Open(cfg.Postgres.SQLitePath)
	default:
		dialector = postgres.Open(cfg.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to database").
			Mark(ierr.ErrDatabase)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if cfg.Postgres.Driver == types.DBDialectSQLite {
		// a single connection keeps in-memory databases shared and writes serialized
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	}

	log.Infow("database connected", "driver", cfg.Postgres.Driver)
	return db, nil
}

func gormLogLevel(level types.LogLevel) gormlogger.LogLevel {
	switch level {
	case types.LogLevelDebug, types.LogLevelInfo:
		return gormlogger.Info
	case types.LogLevelWarn:
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

// NewClient wraps db.
func NewClient(db *gorm.DB, log *logger.Logger) IClient {
	dialect := types.DBDialectPostgres
	if db.Dialector.Name() == "sqlite" {
		dialect = types.DBDialectSQLite
	}
	return &Client{db: db, logger: log, dialect: dialect}
}

func (c *Client) Dialect() types.DBDialect {
	return c.dialect
}

func (c *Client) Querier(ctx context.Context) *gorm.DB {
	if tx := c.TxFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return c.db.WithContext(ctx)
}

// TxFromContext returns the transaction stored on ctx, if any.
func (c *Client) TxFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(types.CtxDBTx).(*gorm.DB); ok {
		return tx
	}
	return nil
}

func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, types.CtxDBTx, tx))
	})
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
