package dictation

import (
	"context"
	"errors"

	"github.com/ehr/clinrec/internal/domain/record"
)

// DefaultLocale is the recognition locale used when none is configured.
const DefaultLocale = "es-419"

// ErrUnsupported is returned by an unavailable capability's Start.
var ErrUnsupported = errors.New("speech recognition is not available")

// RecognitionConfig describes how the recognizer should capture.
type RecognitionConfig struct {
	Continuous     bool
	InterimResults bool
	Locale         string
}

// Segment is one recognition alternative in a result window.
type Segment struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"is_final"`
}

type EventKind string

const (
	EventResult EventKind = "result"
	EventError  EventKind = "error"
	EventEnd    EventKind = "end"
)

// Event is pushed by a Stream. For results, segments from ResultIndex to the
// end of Results are the ones that changed since the previous update.
type Event struct {
	Kind        EventKind
	ResultIndex int
	Results     []Segment
	Err         error
}

// Stream is a live recognition session. Events is closed when the session
// is over; Stop may be called more than once.
type Stream interface {
	Events() <-chan Event
	Stop() error
}

// Recognizer starts recognition streams.
type Recognizer interface {
	Start(ctx context.Context, cfg RecognitionConfig) (Stream, error)
}

// Capability is the speech-recognition facility of the running environment.
// It is checked once, when the capture is built.
type Capability interface {
	Supported() bool
	Tag() record.Provenance
	Start(ctx context.Context, cfg RecognitionConfig) (Stream, error)
}

type available struct {
	rec Recognizer
	tag record.Provenance
}

// Available wraps a recognizer whose transcripts are tagged with tag.
func Available(rec Recognizer, tag record.Provenance) Capability {
	return available{rec: rec, tag: tag}
}

func (a available) Supported() bool        { return true }
func (a available) Tag() record.Provenance { return a.tag }
func (a available) Start(ctx context.Context, cfg RecognitionConfig) (Stream, error) {
	return a.rec.Start(ctx, cfg)
}

type unavailable struct{}

// Unavailable is the capability of an environment without speech recognition.
func Unavailable() Capability { return unavailable{} }

func (unavailable) Supported() bool        { return false }
func (unavailable) Tag() record.Provenance { return record.ProvenanceManual }
func (unavailable) Start(context.Context, RecognitionConfig) (Stream, error) {
	return nil, ErrUnsupported
}

// Detect returns Available when rec is non-nil, otherwise Unavailable.
func Detect(rec Recognizer, tag record.Provenance) Capability {
	if rec == nil {
		return Unavailable()
	}
	return Available(rec, tag)
}
