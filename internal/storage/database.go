package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/llm-relay/relay/internal/usage"
	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

// Database manages the usage-log database connection. It doubles as a
// usage.Recorder sink: every routed call ends up as one UsageRecord row.
type Database struct {
	DB     *gorm.DB
	config *types.DatabaseConfig
	logger *utils.Logger
}

// NewDatabase creates a new database connection
func NewDatabase(config *types.DatabaseConfig, log *utils.Logger) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		config.Host,
		config.Port,
		config.Username,
		config.Password,
		config.Database,
	)

	gormLogger := logger.New(
		log,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	database := &Database{
		DB:     db,
		config: config,
		logger: log,
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Successfully connected to PostgreSQL database")

	return database, nil
}

// Ping tests the database connection
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs database migrations
func (d *Database) AutoMigrate() error {
	if err := d.DB.AutoMigrate(&UsageRecord{}); err != nil {
		return fmt.Errorf("failed to migrate usage records: %w", err)
	}
	d.logger.Info("Database migration completed")
	return nil
}

// Record implements usage.Recorder. Persistence failures are logged and
// swallowed so the routed call is never affected.
func (d *Database) Record(ctx context.Context, event *usage.Event) {
	record := &UsageRecord{
		RequestID:    event.RequestID,
		TaskType:     string(event.TaskType),
		ProviderID:   event.ProviderID,
		ModelID:      event.ModelID,
		TokensIn:     event.TokensIn,
		TokensOut:    event.TokensOut,
		CostUsd:      event.CostUsd,
		LatencyMs:    event.LatencyMs,
		FallbackUsed: event.FallbackUsed,
		RetryCount:   event.RetryCount,
		FinalStatus:  event.FinalStatus,
		Streamed:     event.Streamed,
		CreatedAt:    event.CreatedAt,
	}

	if err := d.DB.WithContext(ctx).Create(record).Error; err != nil {
		d.logger.WithError(err).Warn("Failed to persist usage record")
	}
}

// UsageRepository provides read access to persisted usage records
type UsageRepository struct {
	db *gorm.DB
}

// UsageRepo returns the usage record repository
func (d *Database) UsageRepo() *UsageRepository {
	return &UsageRepository{db: d.DB}
}

// Recent returns the newest records, newest first
func (r *UsageRepository) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	var records []UsageRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ByProvider returns records for one provider within a time range
func (r *UsageRepository) ByProvider(ctx context.Context, providerID string, since time.Time, limit int) ([]UsageRecord, error) {
	var records []UsageRecord
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND created_at >= ?", providerID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Stats aggregates usage over a time range
func (r *UsageRepository) Stats(ctx context.Context, startTime, endTime time.Time) (map[string]interface{}, error) {
	var stats struct {
		TotalRequests   int64   `json:"total_requests"`
		SuccessRequests int64   `json:"success_requests"`
		FallbackCount   int64   `json:"fallback_count"`
		TotalTokensIn   int64   `json:"total_tokens_in"`
		TotalTokensOut  int64   `json:"total_tokens_out"`
		TotalCost       float64 `json:"total_cost"`
		AvgLatency      float64 `json:"avg_latency"`
	}

	err := r.db.WithContext(ctx).Model(&UsageRecord{}).
		Where("created_at BETWEEN ? AND ?", startTime, endTime).
		Select(
			"COUNT(*) as total_requests",
			"COUNT(CASE WHEN final_status = 'success' THEN 1 END) as success_requests",
			"COUNT(CASE WHEN fallback_used THEN 1 END) as fallback_count",
			"SUM(tokens_in) as total_tokens_in",
			"SUM(tokens_out) as total_tokens_out",
			"SUM(cost_usd) as total_cost",
			"AVG(latency_ms) as avg_latency",
		).Scan(&stats).Error
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"total_requests":   stats.TotalRequests,
		"success_requests": stats.SuccessRequests,
		"fallback_count":   stats.FallbackCount,
		"total_tokens_in":  stats.TotalTokensIn,
		"total_tokens_out": stats.TotalTokensOut,
		"total_cost_usd":   stats.TotalCost,
		"avg_latency_ms":   stats.AvgLatency,
	}, nil
}
