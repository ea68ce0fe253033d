package alarm

import "fmt"

// PersistenceError reports a remote store failure. The mutation it belongs to
// was aborted before any trigger change.
type PersistenceError struct {
	Op  string // fetch, put, patch, delete
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ScheduleError reports that the notification subsystem refused a trigger.
// The persisted record stays authoritative.
type ScheduleError struct {
	TriggerID string
	Err       error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("schedule trigger %s: %v", e.TriggerID, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// ValidationError rejects a draft before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
