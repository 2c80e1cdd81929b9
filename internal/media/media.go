package media

import (
	"fmt"
	"time"
)

// MaxKeywords bounds the number of keywords stored against an item so that
// ranking work per item stays fixed.
const MaxKeywords = 10

type (
	// Status represents the lifecycle state of a media item. Transitions are
	// monotonic (Pending -> Processing -> Completed/Failed), with the single
	// exception of the explicit retry edge from Failed back to Processing.
	Status string

	// Item is the cache record describing one acquired piece of audio and its
	// metadata. Exactly one Item exists per distinct source identifier; the
	// acquisition service is the only component which mutates it.
	Item struct {
		ID                string     `db:"id"`
		Title             string     `db:"title"`
		Artist            string     `db:"artist"`
		DurationSeconds   int        `db:"duration_seconds"`
		DurationFormatted string     `db:"duration_formatted"`
		Keywords          []string   `db:"-"`
		Status            Status     `db:"status"`
		SourceURL         string     `db:"source_url"`
		ThumbnailURL      *string    `db:"thumbnail_url"`
		AudioFilename     *string    `db:"audio_filename"`
		ThumbnailFilename *string    `db:"thumbnail_filename"`
		ErrorMessage      *string    `db:"error_message"`
		CreatedAt         time.Time  `db:"created_at"`
		UpdatedAt         time.Time  `db:"updated_at"`
		CompletedAt       *time.Time `db:"completed_at"`
	}
)

const (
	PendingStatus    Status = "Pending"
	ProcessingStatus Status = "Processing"
	CompletedStatus  Status = "Completed"
	FailedStatus     Status = "Failed"
)

// CanTransitionTo reports whether moving from this status to the 'next'
// status provided is a legal lifecycle transition.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case PendingStatus:
		return next == ProcessingStatus || next == FailedStatus
	case ProcessingStatus:
		return next == CompletedStatus || next == FailedStatus
	case FailedStatus:
		// The explicit retry edge.
		return next == ProcessingStatus
	case CompletedStatus:
		return false
	}

	return false
}

// Progress returns the coarse progress estimate for an item in this status.
// Exact progress tracking is not supported; Processing is reported as a
// fixed mid-value.
func (status Status) Progress() float64 {
	switch status {
	case ProcessingStatus:
		return 0.5
	case CompletedStatus:
		return 1
	}

	return 0
}

// FormatDuration renders a duration in seconds as HH:MM:SS, omitting the
// hour component entirely for durations under an hour.
func FormatDuration(durationSeconds int) string {
	if durationSeconds <= 0 {
		return "00:00"
	}

	hours := durationSeconds / 3600
	minutes := (durationSeconds % 3600) / 60
	seconds := durationSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}

	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ClampKeywords bounds the provided keyword list to MaxKeywords entries,
// discarding empty strings.
func ClampKeywords(keywords []string) []string {
	out := make([]string, 0, MaxKeywords)
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}

		out = append(out, keyword)
		if len(out) == MaxKeywords {
			break
		}
	}

	return out
}
