package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validEvent() Event {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return Event{
		Title:            "Open day",
		Active:           true,
		EnableOn:         now.Add(-24 * time.Hour),
		DisableOn:        now.Add(24 * time.Hour),
		TotalSeats:       20,
		MaxPerRegistrant: 5,
		ReminderDelay:    12 * time.Hour,
		HoldBackDelay:    24 * time.Hour,
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{name: "valid", mutate: func(*Event) {}},
		{name: "missing title", mutate: func(e *Event) { e.Title = "" }, wantErr: "title"},
		{name: "no seats", mutate: func(e *Event) { e.TotalSeats = 0 }, wantErr: "total seats"},
		{name: "no cap", mutate: func(e *Event) { e.MaxPerRegistrant = 0 }, wantErr: "per registrant"},
		{name: "reminder after hold back", mutate: func(e *Event) { e.ReminderDelay = 30 * time.Hour }, wantErr: "shorter"},
		{name: "reminder equals hold back", mutate: func(e *Event) { e.ReminderDelay = e.HoldBackDelay }, wantErr: "shorter"},
		{name: "window reversed", mutate: func(e *Event) { e.DisableOn = e.EnableOn.Add(-time.Hour) }, wantErr: "disable_on"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			err := ev.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEvent_IsOpen(t *testing.T) {
	ev := validEvent()
	now := ev.EnableOn.Add(time.Hour)

	assert.True(t, ev.IsOpen(now))
	assert.True(t, ev.IsOpen(ev.EnableOn))
	assert.False(t, ev.IsOpen(ev.EnableOn.Add(-time.Second)))
	assert.False(t, ev.IsOpen(ev.DisableOn.Add(time.Second)))

	ev.Active = false
	assert.False(t, ev.IsOpen(now))
}

func TestRegistration_State(t *testing.T) {
	tests := []struct {
		progress Progress
		want     State
	}{
		{Progress{}, StateCreated},
		{Progress{RequestSent: true}, StateAwaitingConfirmation},
		{Progress{RequestSent: true, ReminderSent: true}, StateReminded},
		{Progress{RequestSent: true, Confirmed: true}, StateConfirmed},
		{Progress{RequestSent: true, ReminderSent: true, Confirmed: true}, StateConfirmed},
		{Progress{RequestSent: true, Confirmed: true, ConfirmationSent: true}, StateNotified},
	}
	for _, tt := range tests {
		reg := Registration{Progress: tt.progress}
		assert.Equal(t, tt.want, reg.State(), "progress %+v", tt.progress)
	}
}

func TestRegistration_Deadlines(t *testing.T) {
	ev := validEvent()
	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	reg := Registration{CreatedAt: created, Event: &ev}

	assert.False(t, reg.ReminderDue(created.Add(12*time.Hour)))
	assert.True(t, reg.ReminderDue(created.Add(13*time.Hour)))
	assert.False(t, reg.ExpiryDue(created.Add(24*time.Hour)))
	assert.True(t, reg.ExpiryDue(created.Add(25*time.Hour)))

	reg.Event = nil
	assert.False(t, reg.ReminderDue(created.Add(100*time.Hour)))
	assert.False(t, reg.ExpiryDue(created.Add(100*time.Hour)))
}
