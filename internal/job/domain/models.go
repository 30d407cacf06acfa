// Package domain contains models and the status machine for transcription jobs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the closed set of job lifecycle states.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// transitions is the full state machine. Terminal states have no outgoing
// edges; anything not listed here is rejected rather than trusted.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusDownloading:  true,
		StatusTranscribing: true,
		StatusCompleted:    true,
		StatusFailed:       true,
		StatusCancelled:    true,
	},
	StatusDownloading: {
		StatusTranscribing: true,
		StatusCompleted:    true,
		StatusFailed:       true,
		StatusCancelled:    true,
	},
	StatusTranscribing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// NonTerminalStatuses is the set a job can still move out of. Used both by
// conditional updates and by the partial unique index on active jobs.
var NonTerminalStatuses = []Status{StatusPending, StatusDownloading, StatusTranscribing}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusTranscribing,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// TranscriptionJob is one asynchronous transcription run for a video.
type TranscriptionJob struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	UserID             snowflake.ID      `gorm:"not null;index:idx_transcription_jobs_user,priority:1"`
	YoutubeID          string            `gorm:"type:text;not null"`
	VideoID            *string           `gorm:"type:text"`
	Status             Status            `gorm:"type:text;not null"`
	Progress           int               `gorm:"not null;default:0"`
	CurrentStage       string            `gorm:"type:text;not null;default:''"`
	DurationSeconds    *int              `gorm:""`
	EstimatedMinutes   int               `gorm:"not null"`
	EstimatedCostCents int               `gorm:"not null;default:0"`
	TotalChunks        int               `gorm:"not null;default:0"`
	CompletedChunks    int               `gorm:"not null;default:0"`
	TranscriptData     datatypes.JSONMap `gorm:"type:jsonb"`
	ErrorMessage       *string           `gorm:"type:text"`
	StartedAt          *time.Time        `gorm:""`
	CompletedAt        *time.Time        `gorm:""`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_transcription_jobs_user,priority:2"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TranscriptionJob) TableName() string { return "transcription_jobs" }
