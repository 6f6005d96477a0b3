// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/txlife/internal/storage"
	"github.com/rovshanmuradov/txlife/internal/storage/models"
)

const migrationLockID = 7301

// gormLogger implements logger.Interface on top of zap.
type gormLogger struct {
	zapLogger     *zap.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger:     zapLogger,
		logLevel:      logger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace logs failed statements at Error and slow ones at Warn. Missing records are not failures.
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.logLevel >= logger.Error:
		l.zapLogger.Error("Query failed", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("Slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Debug("Query", fields...)
	}
}

// postgresStorage implements storage.Storage with gorm.
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to the PostgreSQL database at dsn.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	return Open(postgres.Open(dsn), zapLogger)
}

// Open builds the storage over any gorm dialector. Migrations take an advisory lock only on
// PostgreSQL.
func Open(dialector gorm.Dialector, zapLogger *zap.Logger) (storage.Storage, error) {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger.Named("storage"),
	}, nil
}

// RunMigrations creates or updates the lifecycle_events table. Concurrent callers on
// PostgreSQL serialize on a transaction-scoped advisory lock.
func (p *postgresStorage) RunMigrations() error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockID).Error; err != nil {
				return fmt.Errorf("failed to acquire migration lock: %w", err)
			}
		}
		return tx.AutoMigrate(&models.LifecycleEvent{})
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	p.logger.Info("Migrations applied")
	return nil
}

func (p *postgresStorage) SaveEvent(ctx context.Context, ev *models.LifecycleEvent) error {
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(ev).Error
	if err != nil {
		return fmt.Errorf("failed to save event %s: %w", ev.EventID, err)
	}
	return nil
}

func (p *postgresStorage) History(ctx context.Context, handle string) ([]*models.LifecycleEvent, error) {
	var evs []*models.LifecycleEvent
	err := p.db.WithContext(ctx).
		Where("handle = ?", handle).
		Order("occurred_at asc, id asc").
		Find(&evs).Error
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, fmt.Errorf("%w for %s", storage.ErrNotFound, handle)
	}
	return evs, nil
}

func (p *postgresStorage) ListRecent(ctx context.Context, limit, offset int) ([]*models.LifecycleEvent, error) {
	var evs []*models.LifecycleEvent
	err := p.db.WithContext(ctx).
		Order("occurred_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&evs).Error
	return evs, err
}

func (p *postgresStorage) CountByState(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		State string
		Count int64
	}
	err := p.db.WithContext(ctx).
		Model(&models.LifecycleEvent{}).
		Select("state, count(*) AS count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
