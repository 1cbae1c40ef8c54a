package service

import (
	"strings"
	"testing"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
)

func TestHumanizeOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minutes int
		want    string
	}{
		{minutes: 1, want: "1 minute"},
		{minutes: 15, want: "15 minutes"},
		{minutes: 60, want: "1 hour"},
		{minutes: 90, want: "1 hour 30 minutes"},
		{minutes: 1440, want: "1 day"},
		{minutes: 10080, want: "7 days"},
		{minutes: 1501, want: "1 day 1 hour 1 minute"},
	}

	for _, tt := range tests {
		if got := humanizeOffset(tt.minutes); got != tt.want {
			t.Fatalf("humanizeOffset(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestRenderReminder(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	payload := renderReminder(&domain.ScheduledEvent{Title: "  Raid night ", StartTime: start}, 15)

	if !strings.Contains(payload.Content, "**Raid night** starts in 15 minutes") {
		t.Fatalf("content = %q", payload.Content)
	}
	if !strings.Contains(payload.Content, "<t:1772391600:R>") {
		t.Fatalf("content = %q, want relative discord timestamp", payload.Content)
	}
}
