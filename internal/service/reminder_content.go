package service

import (
	"fmt"
	"strings"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/provider"
)

// renderReminder builds the Discord message for one reminder offset. The start time uses
// Discord's relative timestamp markup so clients render it in the reader's timezone.
func renderReminder(event *domain.ScheduledEvent, offsetMinutes int) provider.Payload {
	return provider.Payload{
		Content: fmt.Sprintf("⏰ **%s** starts in %s (<t:%d:F>, <t:%d:R>)",
			strings.TrimSpace(event.Title),
			humanizeOffset(offsetMinutes),
			event.StartTime.Unix(),
			event.StartTime.Unix(),
		),
	}
}

func humanizeOffset(minutes int) string {
	days := minutes / (24 * 60)
	hours := (minutes % (24 * 60)) / 60
	mins := minutes % 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if mins > 0 || len(parts) == 0 {
		parts = append(parts, plural(mins, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
