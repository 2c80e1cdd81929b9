package medias

import (
	"time"

	"github.com/arialabs/aria/internal/media"
)

type (
	StatusDto string

	// Dto is the response shape used by every endpoint that returns a
	// media item (creation, retry, search and the activity stream).
	Dto struct {
		Id              string     `json:"id"`
		SourceURL       string     `json:"source_url"`
		Title           string     `json:"title"`
		Artist          string     `json:"artist"`
		Duration        string     `json:"duration"`
		DurationSeconds int        `json:"duration_seconds"`
		Keywords        []string   `json:"keywords"`
		Status          StatusDto  `json:"status"`
		ErrorMessage    *string    `json:"error_message,omitempty"`
		CreatedAt       time.Time  `json:"created_at"`
		CompletedAt     *time.Time `json:"completed_at,omitempty"`
	}

	ItemStatusDto struct {
		Id           string    `json:"id"`
		Status       StatusDto `json:"status"`
		Progress     float64   `json:"progress_estimate"`
		ErrorMessage *string   `json:"error_message,omitempty"`
	}
)

const (
	PENDING    StatusDto = "PENDING"
	PROCESSING StatusDto = "PROCESSING"
	COMPLETED  StatusDto = "COMPLETED"
	FAILED     StatusDto = "FAILED"
)

func NewDto(item *media.Item) *Dto {
	return &Dto{
		Id:              item.ID,
		SourceURL:       item.SourceURL,
		Title:           item.Title,
		Artist:          item.Artist,
		Duration:        item.DurationFormatted,
		DurationSeconds: item.DurationSeconds,
		Keywords:        item.Keywords,
		Status:          NewStatus(item.Status),
		ErrorMessage:    item.ErrorMessage,
		CreatedAt:       item.CreatedAt,
		CompletedAt:     item.CompletedAt,
	}
}

func NewStatusDto(item *media.Item) *ItemStatusDto {
	return &ItemStatusDto{
		Id:           item.ID,
		Status:       NewStatus(item.Status),
		Progress:     item.Status.Progress(),
		ErrorMessage: item.ErrorMessage,
	}
}

func NewStatus(status media.Status) StatusDto {
	switch status {
	case media.PendingStatus:
		return PENDING
	case media.ProcessingStatus:
		return PROCESSING
	case media.CompletedStatus:
		return COMPLETED
	case media.FailedStatus:
		return FAILED
	}

	return StatusDto(status)
}
