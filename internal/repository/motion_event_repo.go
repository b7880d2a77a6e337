// Package repository implements data access for persisted models.
package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/coopcam/coopcam/internal/models"
)

// MotionEventFilter narrows a history listing.
type MotionEventFilter struct {
	SourceID string
	Since    time.Time
	Limit    int
	Offset   int
}

// MotionEventStats aggregates the stored history.
type MotionEventStats struct {
	Total         int64            `json:"total"`
	BySource      map[string]int64 `json:"bySource"`
	LastEvent     *time.Time       `json:"lastEvent,omitempty"`
	MeanIntensity float64          `json:"meanIntensity"`
}

// ClampLimit normalizes a caller-supplied page size: non-positive or
// oversized values fall back to 100, capped at 500.
func ClampLimit(n int) int {
	if n <= 0 || n > 500 {
		return 100
	}
	return n
}

// MotionEventRepository persists and queries motion events.
type MotionEventRepository interface {
	Create(ctx context.Context, ev *models.MotionEvent) error
	List(ctx context.Context, filter MotionEventFilter) ([]*models.MotionEvent, int64, error)
	Stats(ctx context.Context) (*MotionEventStats, error)
	SetRecordingRef(ctx context.Context, eventID, recordingID string) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type motionEventRepo struct {
	db *gorm.DB
}

// NewMotionEventRepository creates a MotionEventRepository backed by GORM.
func NewMotionEventRepository(db *gorm.DB) MotionEventRepository {
	return &motionEventRepo{db: db}
}

func (r *motionEventRepo) Create(ctx context.Context, ev *models.MotionEvent) error {
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("creating motion event: %w", err)
	}
	return nil
}

// List returns matching events newest-first plus the total match count
// before limit/offset.
func (r *motionEventRepo) List(ctx context.Context, filter MotionEventFilter) ([]*models.MotionEvent, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.MotionEvent{})
	if filter.SourceID != "" {
		q = q.Where("source_id = ?", filter.SourceID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting motion events: %w", err)
	}

	limit := ClampLimit(filter.Limit)

	var events []*models.MotionEvent
	err := q.Order("timestamp DESC").Limit(limit).Offset(filter.Offset).Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing motion events: %w", err)
	}
	return events, total, nil
}

func (r *motionEventRepo) Stats(ctx context.Context) (*MotionEventStats, error) {
	stats := &MotionEventStats{BySource: make(map[string]int64)}

	if err := r.db.WithContext(ctx).Model(&models.MotionEvent{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("counting motion events: %w", err)
	}
	if stats.Total == 0 {
		return stats, nil
	}

	rows := []struct {
		SourceID string
		N        int64
	}{}
	err := r.db.WithContext(ctx).Model(&models.MotionEvent{}).
		Select("source_id, count(*) as n").
		Group("source_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("grouping motion events: %w", err)
	}
	for _, row := range rows {
		stats.BySource[row.SourceID] = row.N
	}

	var last models.MotionEvent
	if err := r.db.WithContext(ctx).Order("timestamp DESC").First(&last).Error; err == nil {
		stats.LastEvent = &last.Timestamp
	}

	var mean float64
	err = r.db.WithContext(ctx).Model(&models.MotionEvent{}).
		Select("avg(intensity)").
		Scan(&mean).Error
	if err != nil {
		return nil, fmt.Errorf("averaging intensity: %w", err)
	}
	stats.MeanIntensity = mean

	return stats, nil
}

// SetRecordingRef links a stored event to the recording it triggered.
func (r *motionEventRepo) SetRecordingRef(ctx context.Context, eventID, recordingID string) error {
	err := r.db.WithContext(ctx).Model(&models.MotionEvent{}).
		Where("id = ?", eventID).
		Update("recording_ref", recordingID).Error
	if err != nil {
		return fmt.Errorf("linking recording to event: %w", err)
	}
	return nil
}

// DeleteBefore removes events older than the cutoff, returning how many
// rows went away. Paired with the recording retention sweep.
func (r *motionEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.MotionEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting motion events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
