package dictation

import "github.com/rs/zerolog"

// Reporter receives capture faults. Faults end the capture session but are
// never fatal to the caller.
type Reporter interface {
	ReportCaptureFault(err error)
}

// LogReporter writes capture faults to a zerolog logger.
type LogReporter struct {
	Logger zerolog.Logger
}

func (r LogReporter) ReportCaptureFault(err error) {
	r.Logger.Warn().Err(err).Msg("speech capture fault")
}
