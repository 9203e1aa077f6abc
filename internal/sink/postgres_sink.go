package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BuildPool creates a pgx pool sized for batch upserts.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("record_sink.pool: %w", err)
	}
	config.MinConns = 1
	config.MaxConns = 8
	config.MaxConnLifetime = 30 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, config)
}

// EnsureSchema creates the record tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS activity_records (
    user_id TEXT NOT NULL,
    id TEXT NOT NULL,
    activity_type TEXT NOT NULL,
    start_time_utc TIMESTAMPTZ NOT NULL,
    timezone TEXT NOT NULL DEFAULT '',
    duration_moving_sec BIGINT NOT NULL DEFAULT 0,
    duration_elapsed_sec BIGINT NOT NULL DEFAULT 0,
    distance_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
    elevation_gain_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
    steps BIGINT NOT NULL DEFAULT 0,
    calories DOUBLE PRECISION NOT NULL DEFAULT 0,
    average_heart_rate_bpm DOUBLE PRECISION NOT NULL DEFAULT 0,
    source TEXT NOT NULL,
    original_id TEXT NOT NULL,
    PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_activity_records_start ON activity_records (user_id, start_time_utc);
CREATE TABLE IF NOT EXISTS sleep_records (
    user_id TEXT NOT NULL,
    log_id TEXT NOT NULL,
    source TEXT NOT NULL,
    original_id TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    efficiency_percent INTEGER NOT NULL DEFAULT 0,
    deep_minutes INTEGER NOT NULL DEFAULT 0,
    light_minutes INTEGER NOT NULL DEFAULT 0,
    rem_minutes INTEGER NOT NULL DEFAULT 0,
    wake_minutes INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, log_id)
);
`)
	return err
}

const upsertActivitySQL = `
INSERT INTO activity_records (user_id, id, activity_type, start_time_utc, timezone, duration_moving_sec, duration_elapsed_sec,
    distance_meters, elevation_gain_meters, steps, calories, average_heart_rate_bpm, source, original_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (user_id, id) DO UPDATE SET
    activity_type = EXCLUDED.activity_type,
    start_time_utc = EXCLUDED.start_time_utc,
    timezone = EXCLUDED.timezone,
    duration_moving_sec = EXCLUDED.duration_moving_sec,
    duration_elapsed_sec = EXCLUDED.duration_elapsed_sec,
    distance_meters = EXCLUDED.distance_meters,
    elevation_gain_meters = EXCLUDED.elevation_gain_meters,
    steps = EXCLUDED.steps,
    calories = EXCLUDED.calories,
    average_heart_rate_bpm = EXCLUDED.average_heart_rate_bpm
`

const upsertSleepSQL = `
INSERT INTO sleep_records (user_id, log_id, source, original_id, start_time, end_time, duration_ms, efficiency_percent,
    deep_minutes, light_minutes, rem_minutes, wake_minutes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (user_id, log_id) DO UPDATE SET
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    duration_ms = EXCLUDED.duration_ms,
    efficiency_percent = EXCLUDED.efficiency_percent,
    deep_minutes = EXCLUDED.deep_minutes,
    light_minutes = EXCLUDED.light_minutes,
    rem_minutes = EXCLUDED.rem_minutes,
    wake_minutes = EXCLUDED.wake_minutes
`

// PostgresSink upserts records through a pgx pool using one batch per write.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink constructs a Postgres sink.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Write implements RecordSink.
func (sink *PostgresSink) Write(ctx context.Context, batch Batch) error {
	if batch.Empty() {
		return nil
	}
	pending := buildPostgresBatch(batch)
	results := sink.pool.SendBatch(ctx, pending)
	defer results.Close()
	for index := 0; index < pending.Len(); index++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("record_sink.write.postgres: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (sink *PostgresSink) Close() {
	sink.pool.Close()
}

func buildPostgresBatch(batch Batch) *pgx.Batch {
	pending := &pgx.Batch{}
	for _, activity := range batch.Activities {
		pending.Queue(upsertActivitySQL,
			batch.UserID, activity.ID, string(activity.Type), activity.StartTimeUTC.UTC(), activity.Timezone,
			activity.DurationMovingSec, activity.DurationElapsedSec, activity.DistanceMeters, activity.ElevationGainMeters,
			activity.Steps, activity.Calories, activity.AverageHeartRateBPM, activity.Source, activity.OriginalID,
		)
	}
	for _, sleep := range batch.Sleep {
		pending.Queue(upsertSleepSQL,
			batch.UserID, sleep.LogID, sleep.Source, sleep.OriginalID, sleep.StartTime.UTC(), sleep.EndTime.UTC(),
			sleep.DurationMs, sleep.EfficiencyPercent, sleep.StageMinutes.Deep, sleep.StageMinutes.Light,
			sleep.StageMinutes.REM, sleep.StageMinutes.Wake,
		)
	}
	return pending
}
