package sink

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tyemirov/healthsync/internal/records"
	"github.com/tyemirov/healthsync/internal/store"
)

type activityRow struct {
	UserID              string    `gorm:"column:user_id;primaryKey;size:255"`
	ID                  string    `gorm:"column:id;primaryKey;size:36"`
	Type                string    `gorm:"column:activity_type;size:32;not null"`
	StartTimeUTC        time.Time `gorm:"column:start_time_utc;not null;index"`
	Timezone            string    `gorm:"column:timezone;size:64"`
	DurationMovingSec   int64     `gorm:"column:duration_moving_sec"`
	DurationElapsedSec  int64     `gorm:"column:duration_elapsed_sec"`
	DistanceMeters      float64   `gorm:"column:distance_meters"`
	ElevationGainMeters float64   `gorm:"column:elevation_gain_meters"`
	Steps               int64     `gorm:"column:steps"`
	Calories            float64   `gorm:"column:calories"`
	AverageHeartRateBPM float64   `gorm:"column:average_heart_rate_bpm"`
	Source              string    `gorm:"column:source;size:64;not null"`
	OriginalID          string    `gorm:"column:original_id;size:255;not null"`
}

func (activityRow) TableName() string {
	return "activity_records"
}

type sleepRow struct {
	UserID            string    `gorm:"column:user_id;primaryKey;size:255"`
	LogID             string    `gorm:"column:log_id;primaryKey;size:36"`
	Source            string    `gorm:"column:source;size:64;not null"`
	OriginalID        string    `gorm:"column:original_id;size:255;not null"`
	StartTime         time.Time `gorm:"column:start_time;not null;index"`
	EndTime           time.Time `gorm:"column:end_time;not null"`
	DurationMs        int64     `gorm:"column:duration_ms"`
	EfficiencyPercent int       `gorm:"column:efficiency_percent"`
	DeepMinutes       int       `gorm:"column:deep_minutes"`
	LightMinutes      int       `gorm:"column:light_minutes"`
	REMMinutes        int       `gorm:"column:rem_minutes"`
	WakeMinutes       int       `gorm:"column:wake_minutes"`
}

func (sleepRow) TableName() string {
	return "sleep_records"
}

// DatabaseSink upserts records through GORM into sqlite or postgres.
type DatabaseSink struct {
	db          *gorm.DB
	driverLabel string
	ownsDB      bool
}

// NewDatabaseSink opens databaseURL with the same resolution rules as the credential store.
func NewDatabaseSink(ctx context.Context, databaseURL string) (*DatabaseSink, error) {
	db, driverLabel, err := store.OpenDatabase(databaseURL)
	if err != nil {
		return nil, err
	}
	databaseSink, err := NewDatabaseSinkWithDB(ctx, db, driverLabel)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	databaseSink.ownsDB = true
	return databaseSink, nil
}

// Close releases the connection pool opened by NewDatabaseSink. Shared handles are left open.
func (sink *DatabaseSink) Close() error {
	if !sink.ownsDB {
		return nil
	}
	sqlDB, err := sink.db.DB()
	if err != nil {
		return fmt.Errorf("record_sink.close.%s: %w", sink.driverLabel, err)
	}
	return sqlDB.Close()
}

// NewDatabaseSinkWithDB migrates the record tables on an existing connection.
func NewDatabaseSinkWithDB(ctx context.Context, db *gorm.DB, driverLabel string) (*DatabaseSink, error) {
	if err := db.WithContext(ctx).AutoMigrate(&activityRow{}, &sleepRow{}); err != nil {
		return nil, fmt.Errorf("record_sink.migrate.%s: %w", driverLabel, err)
	}
	return &DatabaseSink{db: db, driverLabel: driverLabel}, nil
}

// Write implements RecordSink in a single transaction.
func (sink *DatabaseSink) Write(ctx context.Context, batch Batch) error {
	if batch.Empty() {
		return nil
	}
	err := sink.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(batch.Activities) > 0 {
			rows := make([]activityRow, 0, len(batch.Activities))
			for _, activity := range batch.Activities {
				rows = append(rows, toActivityRow(batch.UserID, activity))
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "id"}},
				UpdateAll: true,
			}).Create(&rows).Error; err != nil {
				return err
			}
		}
		if len(batch.Sleep) > 0 {
			rows := make([]sleepRow, 0, len(batch.Sleep))
			for _, sleep := range batch.Sleep {
				rows = append(rows, toSleepRow(batch.UserID, sleep))
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "log_id"}},
				UpdateAll: true,
			}).Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record_sink.write.%s: %w", sink.driverLabel, err)
	}
	return nil
}

// Activities lists stored activities for a user ordered by start time.
func (sink *DatabaseSink) Activities(ctx context.Context, userID string) ([]records.ActivityRecord, error) {
	var rows []activityRow
	if err := sink.db.WithContext(ctx).Where("user_id = ?", userID).Order("start_time_utc, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("record_sink.list.%s: %w", sink.driverLabel, err)
	}
	activities := make([]records.ActivityRecord, 0, len(rows))
	for _, row := range rows {
		activities = append(activities, records.ActivityRecord{
			ID:                  row.ID,
			Type:                records.ActivityType(row.Type),
			StartTimeUTC:        row.StartTimeUTC.UTC(),
			Timezone:            row.Timezone,
			DurationMovingSec:   row.DurationMovingSec,
			DurationElapsedSec:  row.DurationElapsedSec,
			DistanceMeters:      row.DistanceMeters,
			ElevationGainMeters: row.ElevationGainMeters,
			Steps:               row.Steps,
			Calories:            row.Calories,
			AverageHeartRateBPM: row.AverageHeartRateBPM,
			Source:              row.Source,
			OriginalID:          row.OriginalID,
		})
	}
	return activities, nil
}

// CountSleep returns the number of stored sleep records for a user.
func (sink *DatabaseSink) CountSleep(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := sink.db.WithContext(ctx).Model(&sleepRow{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("record_sink.count.%s: %w", sink.driverLabel, err)
	}
	return count, nil
}

func toActivityRow(userID string, activity records.ActivityRecord) activityRow {
	return activityRow{
		UserID:              userID,
		ID:                  activity.ID,
		Type:                string(activity.Type),
		StartTimeUTC:        activity.StartTimeUTC.UTC(),
		Timezone:            activity.Timezone,
		DurationMovingSec:   activity.DurationMovingSec,
		DurationElapsedSec:  activity.DurationElapsedSec,
		DistanceMeters:      activity.DistanceMeters,
		ElevationGainMeters: activity.ElevationGainMeters,
		Steps:               activity.Steps,
		Calories:            activity.Calories,
		AverageHeartRateBPM: activity.AverageHeartRateBPM,
		Source:              activity.Source,
		OriginalID:          activity.OriginalID,
	}
}

func toSleepRow(userID string, sleep records.SleepRecord) sleepRow {
	return sleepRow{
		UserID:            userID,
		LogID:             sleep.LogID,
		Source:            sleep.Source,
		OriginalID:        sleep.OriginalID,
		StartTime:         sleep.StartTime.UTC(),
		EndTime:           sleep.EndTime.UTC(),
		DurationMs:        sleep.DurationMs,
		EfficiencyPercent: sleep.EfficiencyPercent,
		DeepMinutes:       sleep.StageMinutes.Deep,
		LightMinutes:      sleep.StageMinutes.Light,
		REMMinutes:        sleep.StageMinutes.REM,
		WakeMinutes:       sleep.StageMinutes.Wake,
	}
}
