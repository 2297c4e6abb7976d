package authoring

import "errors"

var (
	// ErrNotEditable is returned for edits attempted outside the draft state.
	ErrNotEditable = errors.New("record is not editable in its current state")
	// ErrRequestPending is returned when a save or transition is already in flight.
	ErrRequestPending = errors.New("a request for this record is already pending")
	ErrNotSaved       = errors.New("record has not been saved yet")
	ErrNoRecord       = errors.New("no record is open")
	// ErrDictationUnavailable is returned for dictated text when the session
	// has no working speech capture.
	ErrDictationUnavailable = errors.New("dictation is not available in this session")
	// ErrDraftMismatch is returned when a journaled draft belongs to another patient.
	ErrDraftMismatch = errors.New("journaled draft does not belong to the open record")
)
