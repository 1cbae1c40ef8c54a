package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
)

func TestQueueNames(t *testing.T) {
	if RemindersQueue != "reminders" {
		t.Fatalf("RemindersQueue = %s, want reminders", RemindersQueue)
	}
	if got := DLQName(RemindersQueue); got != "dlq.reminders" {
		t.Fatalf("DLQName = %s, want dlq.reminders", got)
	}
	if got := DLXName(RemindersQueue); got != "reminders.dlx" {
		t.Fatalf("DLXName = %s, want reminders.dlx", got)
	}
}

func TestReminderMessageJSON(t *testing.T) {
	fireTime := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	msg := NewReminderMessage(&domain.ReminderTask{
		ID:            "task-1",
		EventID:       "event-1",
		OffsetMinutes: 15,
		FireTime:      fireTime,
	})

	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	want := `{"taskId":"task-1","eventId":"event-1","offsetMinutes":15,"fireTime":"2026-03-01T18:00:00Z"}`
	if string(payload) != want {
		t.Fatalf("payload = %s, want %s", payload, want)
	}
}

func TestReminderMessageValidate(t *testing.T) {
	valid := ReminderMessage{
		TaskID:        "task-1",
		EventID:       "event-1",
		OffsetMinutes: 60,
		FireTime:      time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(*ReminderMessage)
		wantErr bool
	}{
		{name: "valid", mutate: func(*ReminderMessage) {}},
		{name: "missing task", mutate: func(m *ReminderMessage) { m.TaskID = " " }, wantErr: true},
		{name: "missing event", mutate: func(m *ReminderMessage) { m.EventID = "" }, wantErr: true},
		{name: "zero offset", mutate: func(m *ReminderMessage) { m.OffsetMinutes = 0 }, wantErr: true},
		{name: "offset above week", mutate: func(m *ReminderMessage) { m.OffsetMinutes = domain.MaxOffsetMinutes + 1 }, wantErr: true},
		{name: "zero fire time", mutate: func(m *ReminderMessage) { m.FireTime = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid
			tt.mutate(&msg)
			err := msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
