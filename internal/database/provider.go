package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	backendName        string
	studentWriter      func() StudentWriter
	attendanceWriter   func() AttendanceWriter
	backendCloser      func() error
	backendInitialized bool
	backendMu          sync.RWMutex
)

// RegisterBackend registers the repository constructors of a storage backend.
// This is called by the backend packages to avoid import cycles.
// Registering again replaces the previous backend.
func RegisterBackend(
	name string,
	students func() StudentWriter,
	attendance func() AttendanceWriter,
	closer func() error,
) {
	backendMu.Lock()
	defer backendMu.Unlock()

	backendName = name
	studentWriter = students
	attendanceWriter = attendance
	backendCloser = closer
	backendInitialized = true
}

// IsInitialized returns whether a storage backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendInitialized
}

// BackendName returns the name of the registered backend, empty if none.
func BackendName() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendName
}

// Close closes the registered backend and unregisters it.
func Close() error {
	backendMu.Lock()
	defer backendMu.Unlock()

	closer := backendCloser
	backendName = ""
	studentWriter = nil
	attendanceWriter = nil
	backendCloser = nil
	backendInitialized = false

	if closer == nil {
		return nil
	}
	if err := closer(); err != nil {
		return fmt.Errorf("closing backend: %w", err)
	}
	return nil
}

var errNotInitialized = errors.New("database backend not initialized: set DATABASE_DRIVER and its connection settings")

// GetStudentReader returns a StudentReader from the registered backend
func GetStudentReader(ctx context.Context) (StudentReader, error) {
	return GetStudentWriter(ctx)
}

// GetStudentWriter returns a StudentWriter from the registered backend
func GetStudentWriter(ctx context.Context) (StudentWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()

	if !backendInitialized {
		return nil, errNotInitialized
	}
	if studentWriter == nil {
		return nil, fmt.Errorf("%s student repository not registered", backendName)
	}
	return studentWriter(), nil
}

// GetAttendanceReader returns an AttendanceReader from the registered backend
func GetAttendanceReader(ctx context.Context) (AttendanceReader, error) {
	return GetAttendanceWriter(ctx)
}

// GetAttendanceWriter returns an AttendanceWriter from the registered backend
func GetAttendanceWriter(ctx context.Context) (AttendanceWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()

	if !backendInitialized {
		return nil, errNotInitialized
	}
	if attendanceWriter == nil {
		return nil, fmt.Errorf("%s attendance repository not registered", backendName)
	}
	return attendanceWriter(), nil
}
