// Package models defines the GORM models persisted by coopcam.
package models

import (
	"time"

	"github.com/coopcam/coopcam/internal/motion"
)

// MotionEvent is a persisted motion detection. The primary key is the ULID
// assigned at detection time, so rows sort chronologically by id.
type MotionEvent struct {
	ID           string    `gorm:"primaryKey;size:26" json:"id"`
	SourceID     string    `gorm:"index;size:64;not null" json:"sourceId"`
	Timestamp    time.Time `gorm:"index;not null" json:"timestamp"`
	Intensity    float64   `gorm:"not null" json:"intensity"`
	Threshold    float64   `gorm:"not null" json:"threshold"`
	CreatedAt    time.Time `json:"createdAt"`
	RecordingRef string    `gorm:"size:26" json:"recordingRef,omitempty"`
}

// TableName overrides GORM's pluralization.
func (MotionEvent) TableName() string {
	return "motion_events"
}

// FromDetection converts a live detection into its persisted form.
func FromDetection(ev motion.Event) *MotionEvent {
	return &MotionEvent{
		ID:        ev.ID,
		SourceID:  ev.SourceID,
		Timestamp: ev.Timestamp,
		Intensity: ev.IntensityPct,
		Threshold: ev.Threshold,
	}
}
