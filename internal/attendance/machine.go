// Package attendance turns accepted face matches into per-day attendance records.
//
// Each student has at most one record per calendar day and moves through
// NoRecord -> InOnly -> Complete. Machine applies a single transition; Service
// composes recognition and the machine into one attendance attempt.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Action selects how a mark is interpreted.
type Action string

const (
	// ActionAuto infers entry or exit from today's record.
	ActionAuto Action = "AUTO"
	// ActionIn marks entry only.
	ActionIn Action = "IN"
	// ActionOut marks exit only.
	ActionOut Action = "OUT"
)

// ParseAction parses an action name case-insensitively. Empty means ActionAuto.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ActionAuto:
		return ActionAuto, nil
	case ActionIn:
		return ActionIn, nil
	case ActionOut:
		return ActionOut, nil
	}
	return "", fmt.Errorf("unknown action %q (want AUTO, IN or OUT)", s)
}

// State is the attendance state of one student for one day.
type State string

const (
	StateNoRecord State = "no_record"
	StateInOnly   State = "in_only"
	StateComplete State = "complete"
)

// StateOf derives the state from today's record. A row without an entry time
// counts as NoRecord.
func StateOf(rec *database.AttendanceRecord) State {
	switch {
	case rec.IsComplete():
		return StateComplete
	case rec.HasEntry():
		return StateInOnly
	default:
		return StateNoRecord
	}
}

// Reason is a stable code for the result of a mark.
type Reason string

const (
	ReasonEntryMarked        Reason = "entry_marked"
	ReasonExitMarked         Reason = "exit_marked"
	ReasonStudentNotFound    Reason = "student_not_found"
	ReasonAlreadyComplete    Reason = "already_complete"
	ReasonEntryAlreadyMarked Reason = "entry_already_marked"
	ReasonExitAlreadyMarked  Reason = "exit_already_marked"
	ReasonExitBeforeEntry    Reason = "exit_before_entry"
)

var reasonMessages = map[Reason]string{
	ReasonStudentNotFound:    "Student not found",
	ReasonAlreadyComplete:    "Attendance already complete for today",
	ReasonEntryAlreadyMarked: "Entry already marked today",
	ReasonExitAlreadyMarked:  "Exit already marked today",
	ReasonExitBeforeEntry:    "Cannot mark exit before entry",
}

// Message returns the user-facing text of a rejection reason.
// Success reasons carry a time and are formatted by the machine.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// Outcome is the result of one mark. Rejections are outcomes too, with
// Success false and a Reason saying why.
type Outcome struct {
	Success bool
	Reason  Reason
	Message string
	// State after the mark (unchanged on rejection).
	State State
	// Record is today's record after the mark, nil when none exists.
	Record *database.AttendanceRecord
}

func rejected(reason Reason, rec *database.AttendanceRecord) *Outcome {
	return &Outcome{
		Reason:  reason,
		Message: reason.Message(),
		State:   StateOf(rec),
		Record:  rec,
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Machine applies attendance transitions against the persistence layer.
// It holds no state of its own; the (student, date) uniqueness constraint in
// the store serializes concurrent marks.
type Machine struct {
	Students   database.StudentReader
	Attendance database.AttendanceWriter
	Clock      Clock
	// Location defines the calendar day. nil means time.Local.
	Location *time.Location
	// MarkedBy is stored on records created by Mark.
	MarkedBy string
}

// NewMachine creates a machine using the system clock.
func NewMachine(students database.StudentReader, records database.AttendanceWriter, loc *time.Location, markedBy string) *Machine {
	return &Machine{
		Students:   students,
		Attendance: records,
		Clock:      SystemClock,
		Location:   loc,
		MarkedBy:   markedBy,
	}
}

// now returns the current time in the machine's location.
func (m *Machine) now() time.Time {
	clock := m.Clock
	if clock == nil {
		clock = SystemClock
	}
	loc := m.Location
	if loc == nil {
		loc = time.Local
	}
	return clock.Now().In(loc)
}

// Today returns today's date key.
func (m *Machine) Today() string {
	return m.now().Format(database.DateLayout)
}

// Mark applies action for the student today, recording m.MarkedBy as the source.
func (m *Machine) Mark(ctx context.Context, studentID int64, action Action) (*Outcome, error) {
	return m.MarkBy(ctx, studentID, action, m.MarkedBy)
}

// MarkBy applies action for the student today. Errors are returned only when
// the store fails; every rejection is an Outcome.
func (m *Machine) MarkBy(ctx context.Context, studentID int64, action Action, markedBy string) (*Outcome, error) {
	student, err := m.Students.GetStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("loading student %d: %w", studentID, err)
	}
	if student == nil || !student.IsActive {
		return rejected(ReasonStudentNotFound, nil), nil
	}

	now := m.now()
	date := now.Format(database.DateLayout)

	rec, err := m.Attendance.GetRecord(ctx, studentID, date)
	if err != nil {
		return nil, fmt.Errorf("loading attendance for student %d: %w", studentID, err)
	}

	t := transition{
		m:         m,
		studentID: studentID,
		date:      date,
		now:       now,
		markedBy:  markedBy,
		action:    action,
	}
	return t.apply(ctx, rec, true)
}

// transition is one mark in progress.
type transition struct {
	m         *Machine
	studentID int64
	date      string
	now       time.Time
	markedBy  string
	action    Action
}

// apply evaluates the action against rec. When the insert loses a race, the
// winner's record is re-read and the action evaluated once more against it.
func (t *transition) apply(ctx context.Context, rec *database.AttendanceRecord, retry bool) (*Outcome, error) {
	switch t.action {
	case ActionAuto:
		switch StateOf(rec) {
		case StateNoRecord:
			if rec == nil {
				return t.insert(ctx, retry)
			}
			return t.setEntry(ctx, rec)
		case StateInOnly:
			return t.setExit(ctx, rec, ReasonAlreadyComplete)
		default:
			return rejected(ReasonAlreadyComplete, rec), nil
		}

	case ActionIn:
		switch {
		case rec.HasEntry():
			return rejected(ReasonEntryAlreadyMarked, rec), nil
		case rec == nil:
			return t.insert(ctx, retry)
		default:
			return t.setEntry(ctx, rec)
		}

	case ActionOut:
		switch {
		case !rec.HasEntry():
			return rejected(ReasonExitBeforeEntry, rec), nil
		case rec.TimeOut != nil:
			return rejected(ReasonExitAlreadyMarked, rec), nil
		default:
			return t.setExit(ctx, rec, ReasonExitAlreadyMarked)
		}
	}
	return nil, fmt.Errorf("unknown action %q", t.action)
}

func (t *transition) insert(ctx context.Context, retry bool) (*Outcome, error) {
	rec, err := t.m.Attendance.InsertTimeIn(ctx, t.studentID, t.date, t.now, t.markedBy)
	if err == nil {
		return t.entryMarked(rec), nil
	}
	if !errors.Is(err, database.ErrDuplicate) || !retry {
		return nil, fmt.Errorf("marking entry for student %d: %w", t.studentID, err)
	}

	// Another writer created today's record between our read and insert.
	existing, err := t.m.Attendance.GetRecord(ctx, t.studentID, t.date)
	if err != nil {
		return nil, fmt.Errorf("reloading attendance for student %d: %w", t.studentID, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("attendance for student %d on %s reported duplicate but not found", t.studentID, t.date)
	}
	return t.apply(ctx, existing, false)
}

func (t *transition) setEntry(ctx context.Context, rec *database.AttendanceRecord) (*Outcome, error) {
	ok, err := t.m.Attendance.SetTimeIn(ctx, rec.ID, t.now)
	if err != nil {
		return nil, fmt.Errorf("marking entry for student %d: %w", t.studentID, err)
	}
	if !ok {
		return t.lost(ctx, rec, ReasonEntryAlreadyMarked)
	}
	updated := *rec
	updated.TimeIn = &t.now
	return t.entryMarked(&updated), nil
}

func (t *transition) setExit(ctx context.Context, rec *database.AttendanceRecord, onConflict Reason) (*Outcome, error) {
	ok, err := t.m.Attendance.SetTimeOut(ctx, rec.ID, t.now)
	if err != nil {
		return nil, fmt.Errorf("marking exit for student %d: %w", t.studentID, err)
	}
	if !ok {
		return t.lost(ctx, rec, onConflict)
	}
	updated := *rec
	updated.TimeOut = &t.now
	return &Outcome{
		Success: true,
		Reason:  ReasonExitMarked,
		Message: "Exit marked at " + t.now.Format(time.TimeOnly),
		State:   StateComplete,
		Record:  &updated,
	}, nil
}

// lost reports a conditional update that found the field already set.
func (t *transition) lost(ctx context.Context, rec *database.AttendanceRecord, reason Reason) (*Outcome, error) {
	current, err := t.m.Attendance.GetRecord(ctx, t.studentID, t.date)
	if err != nil {
		return nil, fmt.Errorf("reloading attendance for student %d: %w", t.studentID, err)
	}
	if current == nil {
		current = rec
	}
	return rejected(reason, current), nil
}

func (t *transition) entryMarked(rec *database.AttendanceRecord) *Outcome {
	return &Outcome{
		Success: true,
		Reason:  ReasonEntryMarked,
		Message: "Entry marked at " + t.now.Format(time.TimeOnly),
		State:   StateOf(rec),
		Record:  rec,
	}
}
