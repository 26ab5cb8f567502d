// Package live manages a stateful bidirectional audio session against the
// Gemini Live (BidiGenerateContent) WebSocket API.
//
// A session moves through a fixed state machine — Idle, Connecting, Open,
// then terminally Closed or Errored — while raw PCM chunks arrive on the
// channel in transmission order. The controller never reorders, skips, or
// coalesces chunks: receipt order is the only ordering signal and is
// load-bearing for audio correctness. On observing the model's turn
// completion the controller terminates the channel itself rather than
// waiting for the remote side, bounding session lifetime.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/glimpse-ai/glimpse/pkg/wav"
)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultVoice   = "Kore"
)

// DefaultFormat is the PCM layout Gemini Live emits: 24 kHz mono s16le.
var DefaultFormat = wav.Format{SampleRate: 24000, Channels: 1, BitDepth: 16}

// ErrSessionClosed is returned by sends issued after the session reached a
// terminal state.
var ErrSessionClosed = errors.New("live: session closed")

// State identifies where a session is in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateErrored    State = "errored"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool { return s == StateClosed || s == StateErrored }

// Media is one inline media payload sent into the session.
type Media struct {
	MIMEType string
	Data     []byte
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithModel sets the Gemini Live model used for sessions.
func WithModel(model string) Option {
	return func(c *Controller) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Controller) { c.baseURL = url }
}

// WithVoice sets the prebuilt voice used for audio output.
func WithVoice(voice string) Option {
	return func(c *Controller) { c.voice = voice }
}

// WithFormat overrides the PCM format the session reports for its chunks.
func WithFormat(f wav.Format) Option {
	return func(c *Controller) { c.format = f }
}

// Controller owns live session lifecycles. One controller can run many
// sessions; each session is independent and owns its own chunk buffer.
type Controller struct {
	apiKey  string
	model   string
	baseURL string
	voice   string
	format  wav.Format
}

// New creates a Controller with the given API key and options.
func New(apiKey string, opts ...Option) *Controller {
	c := &Controller{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		voice:   defaultVoice,
		format:  DefaultFormat,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials the live channel and sends the setup message. The returned
// session is Open and ready for SendMedia/SendTurn. The dial and setup phase
// is the Connecting state; a failure there surfaces as an error here and the
// session never becomes visible to the caller.
func (c *Controller) Connect(ctx context.Context, systemPrompt string) (*Session, error) {
	if c.apiKey == "" {
		return nil, errors.New("live: missing API key")
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.baseURL, c.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		id:     uuid.NewString(),
		conn:   conn,
		format: c.format,
		state:  StateConnecting,
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := s.sendSetup(c.model, c.voice, systemPrompt); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("live: setup: %w", err)
	}

	s.setState(StateOpen)
	go s.receiveLoop()

	slog.Debug("live session open", "session_id", s.id, "model", c.model)
	return s, nil
}

// RunSession runs one complete narration exchange: connect, send the media
// and the instruction turn, then collect audio chunks until the model
// completes its turn. It returns the terminal session on Closed and an
// error on Errored or cancellation. A session that closed with zero chunks
// is a valid empty outcome, not an error.
func (c *Controller) RunSession(ctx context.Context, media Media, instruction, systemPrompt string) (*Session, error) {
	s, err := c.Connect(ctx, systemPrompt)
	if err != nil {
		return nil, err
	}

	if err := s.SendMedia(media); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SendTurn(instruction); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live exchange. It is created by Controller.Connect and is
// owned by its controller for its lifetime; after reaching a terminal state
// the chunk sequence is immutable.
type Session struct {
	id     string
	conn   *websocket.Conn
	format wav.Format

	mu     sync.Mutex
	state  State
	chunks [][]byte
	errVal error

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format returns the PCM layout of the session's chunks.
func (s *Session) Format() wav.Format { return s.format }

// Chunks returns the received PCM chunks in exact arrival order. Callers
// must treat the returned slices as read-only; after the session reaches a
// terminal state the sequence no longer changes.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// Err returns the error that moved the session to Errored, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// SendMedia delivers one inline media payload (typically the source image)
// to the model. The send is non-blocking with respect to the receive path.
func (s *Session) SendMedia(m Media) error {
	if s.State().Terminal() {
		return ErrSessionClosed
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: m.MIMEType, Data: base64.StdEncoding.EncodeToString(m.Data)},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendTurn sends the user's instruction text and marks the client turn
// complete, prompting the model to respond.
func (s *Session) SendTurn(text string) error {
	if s.State().Terminal() {
		return ErrSessionClosed
	}
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{
				{Role: "user", Parts: []part{{Text: text}}},
			},
			TurnComplete: true,
		},
	}
	return s.writeJSON(msg)
}

// Wait blocks until the session reaches a terminal state or ctx is
// cancelled. It returns nil on Closed, the channel error on Errored, and
// ctx.Err() on cancellation (closing the session as a side effect so the
// transport does not outlive the caller).
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// Close terminates the session. Idempotent; a session already Errored keeps
// its error state, otherwise it moves to Closed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if !s.state.Terminal() {
			s.state = StateClosed
		}
		s.mu.Unlock()

		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		close(s.done)
	})
	return nil
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *Session) sendSetup(model, voice, systemPrompt string) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}
	if voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if systemPrompt != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: systemPrompt}},
		}
	}
	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads server messages and folds them into the session. It is
// the only goroutine that appends chunks, so arrival order is preserved by
// construction. The loop exits on turn completion (proactively closing the
// channel), on a channel error, or when the session is closed locally.
func (s *Session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// A read failure after local close is the expected teardown
			// path, not a channel error.
			if s.ctx.Err() != nil || s.State().Terminal() {
				return
			}
			s.fail(fmt.Errorf("live: read: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if msg.Error != nil {
			text := msg.Error.Message
			if text == "" {
				text = "unknown channel error"
			}
			s.fail(fmt.Errorf("live: channel error: %s", text))
			return
		}

		if msg.ServerContent == nil {
			continue
		}

		if mt := msg.ServerContent.ModelTurn; mt != nil {
			for _, p := range mt.Parts {
				if p.InlineData == nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				s.appendChunk(pcm)
			}
		}

		if msg.ServerContent.TurnComplete {
			slog.Debug("live turn complete", "session_id", s.id, "chunks", len(s.Chunks()))
			s.Close()
			return
		}
	}
}

func (s *Session) appendChunk(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.chunks = append(s.chunks, pcm)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = st
	}
}

// fail records err, moves the session to Errored, and tears down the
// transport. The first error wins.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateErrored
	s.errVal = err
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusInternalError, "session error")
		close(s.done)
	})
}
