package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ehr/clinrec/internal/dictation"
)

// Config controls the recognizer websocket.
type Config struct {
	URL   string
	Token string
	// HandshakeTimeout bounds the dial. Zero uses 10s.
	HandshakeTimeout time.Duration
}

// Recognizer implements dictation.Recognizer over a streaming websocket
// service. The service pushes JSON frames; audio capture happens on its side.
type Recognizer struct {
	cfg Config
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Recognizer{cfg: cfg}
}

type startFrame struct {
	Type           string `json:"type"`
	Lang           string `json:"lang"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

type serverFrame struct {
	Type        string              `json:"type"`
	ResultIndex int                 `json:"result_index"`
	Results     []dictation.Segment `json:"results"`
	Message     string              `json:"message"`
}

func (r *Recognizer) Start(ctx context.Context, cfg dictation.RecognitionConfig) (dictation.Stream, error) {
	wsURL, err := websocketURL(r.cfg.URL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if r.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: r.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("connect to speech service: %w", err)
	}

	start := startFrame{
		Type:           "start",
		Lang:           cfg.Locale,
		Continuous:     cfg.Continuous,
		InterimResults: cfg.InterimResults,
	}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send start frame: %w", err)
	}

	s := &stream{
		conn:   conn,
		events:  make(chan dictation.Event, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.done:
		}
	}()
	return s, nil
}

type stream struct {
	conn    *websocket.Conn
	events  chan dictation.Event
	done    chan struct{}
	stopped chan struct{}

	stopOnce sync.Once
}

func (s *stream) Events() <-chan dictation.Event {
	return s.events
}

// Stop asks the service to end recognition and closes the connection.
func (s *stream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)
		werr := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`))
		if werr == nil {
			werr = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		}
		cerr := s.conn.Close()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = fmt.Errorf("stop speech stream: %w", werr)
		} else if cerr != nil {
			err = cerr
		}
	})
	return err
}

func (s *stream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				s.emit(dictation.Event{Kind: dictation.EventEnd})
			} else {
				s.emit(dictation.Event{Kind: dictation.EventError, Err: fmt.Errorf("read speech frame: %w", err)})
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		switch strings.ToLower(frame.Type) {
		case "result":
			s.emit(dictation.Event{Kind: dictation.EventResult, ResultIndex: frame.ResultIndex, Results: frame.Results})
		case "error":
			msg := strings.TrimSpace(frame.Message)
			if msg == "" {
				msg = "speech service returned an unknown error"
			}
			s.emit(dictation.Event{Kind: dictation.EventError, Err: errors.New(msg)})
			return
		case "end":
			s.emit(dictation.Event{Kind: dictation.EventEnd})
			return
		}
	}
}

// emit delivers ev unless the consumer has already stopped the stream.
func (s *stream) emit(ev dictation.Event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// websocketURL rewrites http(s) base URLs to ws(s).
func websocketURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("DICTATION_URL is not configured")
	}
	switch {
	case strings.HasPrefix(raw, "https://"):
		raw = "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		raw = "ws://" + strings.TrimPrefix(raw, "http://")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid speech service URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid speech service URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}
