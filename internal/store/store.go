package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"klaerwerk.dev/araflow/internal/pipeline"
)

// ErrNotFound is returned when a requested week does not exist.
var ErrNotFound = errors.New("week not found")

// Store provides week-keyed access to the telemetry database. All writes to
// a week run inside a single transaction, so concurrent saves of the same
// week serialize at the database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a Store on top of an open gorm connection.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Store{db: db, logger: logger}, nil
}

// WeekData is a stored week together with its records and corrections.
type WeekData struct {
	Week        Week               `json:"week"`
	Records     []pipeline.Record  `json:"records"`
	Corrections []ManualCorrection `json:"manualCorrections"`
}

// SaveWeek stores a week's record set, replacing any previous data under the
// same week id. Returns the derived week id.
func (s *Store) SaveWeek(ctx context.Context, startDate, endDate, dataType string, records []pipeline.Record, corrections []ManualCorrection) (string, error) {
	switch dataType {
	case DataTypeTelemetry, DataTypeTotalAmount, DataTypeBoth:
	default:
		return "", fmt.Errorf("invalid data type %q", dataType)
	}

	id := WeekID(startDate, endDate)
	now := time.Now().UTC()

	points, err := toDataPoints(id, records)
	if err != nil {
		return "", fmt.Errorf("failed to encode records: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		week := Week{
			ID:           id,
			StartDate:    startDate,
			EndDate:      endDate,
			DataType:     dataType,
			LastModified: now,
		}
		if err := tx.Save(&week).Error; err != nil {
			return fmt.Errorf("failed to save week: %w", err)
		}

		if err := tx.Where("week_id = ?", id).Delete(&DataPoint{}).Error; err != nil {
			return fmt.Errorf("failed to clear data points: %w", err)
		}
		if len(points) > 0 {
			if err := tx.CreateInBatches(points, 500).Error; err != nil {
				return fmt.Errorf("failed to insert data points: %w", err)
			}
		}

		if len(corrections) > 0 {
			if err := tx.Where("week_id = ?", id).Delete(&ManualCorrection{}).Error; err != nil {
				return fmt.Errorf("failed to clear corrections: %w", err)
			}
			for i := range corrections {
				corrections[i].ID = 0
				corrections[i].WeekID = id
			}
			if err := tx.Create(&corrections).Error; err != nil {
				return fmt.Errorf("failed to insert corrections: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("week saved", "week_id", id, "records", len(records))
	return id, nil
}

// GetWeek loads a week with its records and corrections (newest first).
// Records come back in insertion order, which preserves the parsed sequence;
// the DD/MM/YYYY timestamp strings themselves do not sort chronologically.
// Returns ErrNotFound for an unknown id.
func (s *Store) GetWeek(ctx context.Context, id string) (*WeekData, error) {
	var week Week
	if err := s.db.WithContext(ctx).First(&week, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load week: %w", err)
	}

	var points []DataPoint
	if err := s.db.WithContext(ctx).Where("week_id = ?", id).Order("id").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to load data points: %w", err)
	}

	var corrections []ManualCorrection
	if err := s.db.WithContext(ctx).Where("week_id = ?", id).Order("created_at DESC").Find(&corrections).Error; err != nil {
		return nil, fmt.Errorf("failed to load corrections: %w", err)
	}

	records, err := toRecords(points)
	if err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	return &WeekData{Week: week, Records: records, Corrections: corrections}, nil
}

// ListWeeks returns all stored weeks, newest start date first.
func (s *Store) ListWeeks(ctx context.Context) ([]Week, error) {
	var weeks []Week
	if err := s.db.WithContext(ctx).Order("start_date DESC").Find(&weeks).Error; err != nil {
		return nil, fmt.Errorf("failed to list weeks: %w", err)
	}
	return weeks, nil
}

// DeleteWeek removes a week and, via cascade, its records and corrections.
func (s *Store) DeleteWeek(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Week{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete week: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Info("week deleted", "week_id", id)
	return nil
}

// ReplaceRecords swaps a week's stored record set, e.g. after outlier
// correction, and bumps the week's last-modified timestamp.
func (s *Store) ReplaceRecords(ctx context.Context, id string, records []pipeline.Record) error {
	points, err := toDataPoints(id, records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Week{}).Where("id = ?", id).Update("last_modified", time.Now().UTC())
		if res.Error != nil {
			return fmt.Errorf("failed to touch week: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Where("week_id = ?", id).Delete(&DataPoint{}).Error; err != nil {
			return fmt.Errorf("failed to clear data points: %w", err)
		}
		if len(points) > 0 {
			if err := tx.CreateInBatches(points, 500).Error; err != nil {
				return fmt.Errorf("failed to insert data points: %w", err)
			}
		}
		return nil
	})
}

// ReplaceCorrections swaps a week's manual corrections and bumps the week's
// last-modified timestamp.
func (s *Store) ReplaceCorrections(ctx context.Context, id string, corrections []ManualCorrection) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Week{}).Where("id = ?", id).Update("last_modified", time.Now().UTC())
		if res.Error != nil {
			return fmt.Errorf("failed to touch week: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Where("week_id = ?", id).Delete(&ManualCorrection{}).Error; err != nil {
			return fmt.Errorf("failed to clear corrections: %w", err)
		}
		if len(corrections) == 0 {
			return nil
		}
		for i := range corrections {
			corrections[i].ID = 0
			corrections[i].WeekID = id
		}
		if err := tx.Create(&corrections).Error; err != nil {
			return fmt.Errorf("failed to insert corrections: %w", err)
		}
		return nil
	})
}

// PurgeOlderThan deletes weeks created more than the given number of days
// ago and returns how many were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Week{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge old weeks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("purged old weeks", "count", res.RowsAffected, "cutoff", cutoff)
	}
	return res.RowsAffected, nil
}

func toDataPoints(weekID string, records []pipeline.Record) ([]DataPoint, error) {
	points := make([]DataPoint, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec.Fields)
		if err != nil {
			return nil, err
		}
		points = append(points, DataPoint{WeekID: weekID, Time: rec.Time, Data: string(data)})
	}
	return points, nil
}

func toRecords(points []DataPoint) ([]pipeline.Record, error) {
	records := make([]pipeline.Record, 0, len(points))
	for _, p := range points {
		fields := make(map[string]any)
		if err := json.Unmarshal([]byte(p.Data), &fields); err != nil {
			return nil, err
		}
		records = append(records, pipeline.Record{Time: p.Time, Fields: fields})
	}
	return records, nil
}
