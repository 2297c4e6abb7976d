package dictation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/clinrec/internal/domain/record"
)

type captureState int

const (
	stateIdle captureState = iota
	stateRecording
)

type trigger int

const (
	triggerStart trigger = iota
	triggerStop
	triggerResult
	triggerError
	triggerEnd
)

// transitions lists every legal (state, trigger) pair. Anything missing is a no-op.
var transitions = map[captureState]map[trigger]captureState{
	stateIdle: {
		triggerStart: stateRecording,
	},
	stateRecording: {
		triggerStop:   stateIdle,
		triggerResult: stateRecording,
		triggerError:  stateIdle,
		triggerEnd:    stateIdle,
	},
}

// Snapshot is the observable state of a capture.
type Snapshot struct {
	Active              bool   `json:"active"`
	FinalizedTranscript string `json:"finalized_transcript"`
	InterimTranscript   string `json:"interim_transcript"`
}

type Option func(*Capture)

func WithLocale(locale string) Option {
	return func(c *Capture) {
		if locale != "" {
			c.locale = locale
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(c *Capture) { c.reporter = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Capture) { c.logger = l }
}

// Capture turns a speech-recognition capability into a start/stop dictation
// session. Finalized text is pushed to the callback given to Start in the
// order it was spoken.
type Capture struct {
	capability Capability
	supported  bool
	locale     string
	reporter   Reporter
	logger     zerolog.Logger

	mu        sync.Mutex
	state     captureState
	gen       uint64
	stream    Stream
	onFinal   func(string)
	finalized strings.Builder
	interim   string
}

func NewCapture(capability Capability, opts ...Option) *Capture {
	if capability == nil {
		capability = Unavailable()
	}
	c := &Capture{
		capability: capability,
		supported:  capability.Supported(),
		locale:     DefaultLocale,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = LogReporter{Logger: c.logger}
	}
	return c
}

func (c *Capture) IsSupported() bool {
	return c.supported
}

// Tag is the provenance stamped on text dictated through this capture.
func (c *Capture) Tag() record.Provenance {
	return c.capability.Tag()
}

func (c *Capture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRecording
}

func (c *Capture) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Active:              c.state == stateRecording,
		FinalizedTranscript: c.finalized.String(),
		InterimTranscript:   c.interim,
	}
}

// fire applies a trigger to the state table and reports whether it was legal.
// Callers hold c.mu.
func (c *Capture) fire(t trigger) bool {
	next, ok := transitions[c.state][t]
	if !ok {
		return false
	}
	c.state = next
	if next == stateIdle {
		c.interim = ""
		c.stream = nil
		c.onFinal = nil
	}
	return true
}

// Start begins a capture session that delivers finalized text to onFinal.
// It is a no-op when the capability is unsupported or a session is already
// recording. A recognizer that fails to start is reported as a capture fault
// and its error returned.
func (c *Capture) Start(ctx context.Context, onFinal func(string)) error {
	if !c.supported {
		return nil
	}

	c.mu.Lock()
	if !c.fire(triggerStart) {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.onFinal = onFinal
	c.finalized.Reset()
	c.interim = ""
	c.mu.Unlock()

	stream, err := c.capability.Start(ctx, RecognitionConfig{
		Continuous:     true,
		InterimResults: true,
		Locale:         c.locale,
	})

	c.mu.Lock()
	if err != nil {
		if c.gen == gen {
			c.fire(triggerError)
		}
		c.mu.Unlock()
		err = fmt.Errorf("start recognition: %w", err)
		c.reporter.ReportCaptureFault(err)
		return err
	}
	if c.gen != gen {
		// stopped while the recognizer was starting
		c.mu.Unlock()
		_ = stream.Stop()
		return nil
	}
	c.stream = stream
	c.mu.Unlock()

	c.logger.Debug().Str("locale", c.locale).Str("tag", string(c.Tag())).Msg("dictation started")
	go c.consume(gen, stream)
	return nil
}

// Stop ends the current session. It is safe to call at any time.
func (c *Capture) Stop() {
	c.mu.Lock()
	stream := c.stream
	if c.fire(triggerStop) {
		c.gen++
	}
	c.interim = ""
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.logger.Debug().Err(err).Msg("stopping recognition stream")
		}
	}
}

func (c *Capture) consume(gen uint64, stream Stream) {
	for ev := range stream.Events() {
		if !c.handle(gen, stream, ev) {
			return
		}
	}
	c.mu.Lock()
	if c.gen == gen {
		c.fire(triggerEnd)
	}
	c.mu.Unlock()
}

// handle applies one stream event and reports whether the stream is still
// the current one.
func (c *Capture) handle(gen uint64, stream Stream, ev Event) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}

	switch ev.Kind {
	case EventResult:
		if !c.fire(triggerResult) {
			c.mu.Unlock()
			return false
		}
		finals, interim := classify(ev)
		c.interim = interim
		c.finalized.WriteString(finals)
		onFinal := c.onFinal
		c.mu.Unlock()
		if finals != "" && onFinal != nil {
			onFinal(finals)
		}
		return true

	case EventError:
		c.fire(triggerError)
		c.gen++
		c.mu.Unlock()
		_ = stream.Stop()
		err := ev.Err
		if err == nil {
			err = fmt.Errorf("recognizer reported an error")
		}
		c.reporter.ReportCaptureFault(err)
		return false

	case EventEnd:
		c.fire(triggerEnd)
		c.gen++
		c.mu.Unlock()
		_ = stream.Stop()
		c.logger.Debug().Msg("dictation ended by recognizer")
		return false
	}

	c.mu.Unlock()
	return true
}

// classify splits the changed window of a result event into the
// concatenated final text and the interim text.
func classify(ev Event) (finals, interim string) {
	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	var f, i strings.Builder
	for n := start; n < len(ev.Results); n++ {
		seg := ev.Results[n]
		if seg.Final {
			f.WriteString(seg.Transcript)
		} else {
			i.WriteString(seg.Transcript)
		}
	}
	return f.String(), i.String()
}
