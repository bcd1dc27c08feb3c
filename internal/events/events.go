// Package events publishes attendance events for other systems (door
// controllers, dashboards) to consume.
package events

import (
	"context"
	"time"
)

// Event types
const (
	TypeAttendanceMarked   = "attendance.marked"
	TypeAttendanceRejected = "attendance.rejected"
	TypeRecognitionMiss    = "recognition.miss"
)

// Event describes one recognition or attendance attempt.
type Event struct {
	Type       string    `json:"type"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	StudentID  int64     `json:"student_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	RollNumber string    `json:"roll_number,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	State      string    `json:"state,omitempty"`
	Confidence float64   `json:"confidence"`
	Date       string    `json:"date,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }
