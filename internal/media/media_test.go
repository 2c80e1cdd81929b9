package media

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_FormatDuration(t *testing.T) {
	tests := []struct {
		seconds  int
		expected string
	}{
		{0, "00:00"},
		{-10, "00:00"},
		{9, "00:09"},
		{213, "03:33"},
		{3599, "59:59"},
		{3600, "01:00:00"},
		{7325, "02:02:05"},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%dsec", test.seconds), func(t *testing.T) {
			assert.Equal(t, test.expected, FormatDuration(test.seconds))
		})
	}
}

func Test_Status_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{PendingStatus, ProcessingStatus, true},
		{PendingStatus, FailedStatus, true},
		{PendingStatus, CompletedStatus, false},
		{ProcessingStatus, CompletedStatus, true},
		{ProcessingStatus, FailedStatus, true},
		{ProcessingStatus, PendingStatus, false},
		{FailedStatus, ProcessingStatus, true},
		{FailedStatus, CompletedStatus, false},
		{CompletedStatus, ProcessingStatus, false},
		{CompletedStatus, FailedStatus, false},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", test.from, test.to), func(t *testing.T) {
			assert.Equal(t, test.allowed, test.from.CanTransitionTo(test.to))
		})
	}
}

func Test_Status_Progress(t *testing.T) {
	assert.Equal(t, float64(0), PendingStatus.Progress())
	assert.Equal(t, 0.5, ProcessingStatus.Progress())
	assert.Equal(t, float64(1), CompletedStatus.Progress())
	assert.Equal(t, float64(0), FailedStatus.Progress())
}

func Test_ClampKeywords(t *testing.T) {
	assert.Empty(t, ClampKeywords(nil))
	assert.Equal(t, []string{"pop", "rock"}, ClampKeywords([]string{"pop", "", "rock"}))

	oversized := make([]string, 0, MaxKeywords*2)
	for i := 0; i < MaxKeywords*2; i++ {
		oversized = append(oversized, fmt.Sprintf("keyword-%d", i))
	}
	assert.Len(t, ClampKeywords(oversized), MaxKeywords)
}
