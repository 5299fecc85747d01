// Package elevenlabs implements the convai.Provider interface for the
// ElevenLabs Conversational AI service.
//
// A conversation is a single WebSocket connection. The client opens it with a
// conversation_initiation_client_data message and the server answers with the
// conversation metadata (id and audio formats). From then on microphone audio
// flows up as base64 PCM chunks while transcripts, agent responses, agent
// speech and keep-alive pings flow down as JSON events.
//
// Private agents require a signed URL fetched with the account API key; public
// agents can be dialled directly with their agent id.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/chinesetutor/pkg/audio"
	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
)

// Compile-time assertions that Provider and session satisfy the convai interfaces.
var _ convai.Provider = (*Provider)(nil)
var _ convai.Session = (*session)(nil)

const (
	defaultBaseURL    = "wss://api.elevenlabs.io"
	defaultAPIBaseURL = "https://api.elevenlabs.io"

	conversationPath = "/v1/convai/conversation"
	signedURLPath    = "/v1/convai/conversation/get-signed-url"

	// micQueueSize bounds the number of microphone frames waiting to be sent.
	// At 20 ms per frame this is a little over a second of audio.
	micQueueSize = 64

	// handshakeTimeout bounds the wait for conversation metadata.
	handshakeTimeout = 15 * time.Second
)

// ErrHandshake is returned when the service does not answer the initiation
// message with conversation metadata.
var ErrHandshake = errors.New("elevenlabs: conversation handshake failed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the WebSocket base URL (scheme and host). Primarily
// used in tests to point at a local server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithAPIBaseURL overrides the HTTPS base URL used to fetch signed URLs.
func WithAPIBaseURL(u string) Option {
	return func(p *Provider) { p.apiBaseURL = u }
}

// WithHTTPClient sets the HTTP client used for signed URL requests and the
// WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements convai.Provider for ElevenLabs Conversational AI.
type Provider struct {
	baseURL    string
	apiBaseURL string
	httpClient *http.Client
}

// New creates a Provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		apiBaseURL: defaultAPIBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartSession implements convai.Provider. It dials the service, performs the
// initiation handshake, starts audio and launches the receive loop.
func (p *Provider) StartSession(ctx context.Context, cfg convai.SessionConfig) (convai.Session, error) {
	if cfg.AgentID == "" {
		return nil, errors.New("elevenlabs: agent id is required")
	}
	if cfg.Handler == nil || cfg.Audio == nil {
		return nil, errors.New("elevenlabs: handler and audio are required")
	}
	format := cfg.Format
	if format.SampleRate == 0 {
		format = audio.DefaultFormat
	}

	wsURL, err := p.conversationURL(ctx, cfg.AgentID, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: p.httpClient})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	// Agent audio chunks can be large; the default 32 KiB read limit is too small.
	conn.SetReadLimit(4 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		conn:    conn,
		handler: cfg.Handler,
		audio:   cfg.Audio,
		device:  format,
		micCh:   make(chan []byte, micQueueSize),
		ctx:     sessCtx,
		cancel:  sessCancel,
		done:    make(chan struct{}),
	}

	if err := s.handshake(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, err
	}

	if err := cfg.Audio.Start(s.enqueueMic); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "audio start failed")
		return nil, fmt.Errorf("elevenlabs: start audio: %w", err)
	}

	go s.sendLoop()
	go s.receiveLoop()

	return s, nil
}

// conversationURL returns the WebSocket URL for agentID, fetching a signed URL
// when an API key is available.
func (p *Provider) conversationURL(ctx context.Context, agentID, apiKey string) (string, error) {
	if apiKey == "" {
		return p.baseURL + conversationPath + "?agent_id=" + url.QueryEscape(agentID), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.apiBaseURL+signedURLPath+"?agent_id="+url.QueryEscape(agentID), nil)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: signed url: %w", err)
	}
	req.Header.Set("xi-api-key", apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("elevenlabs: signed url: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("elevenlabs: signed url: decode: %w", err)
	}
	if out.SignedURL == "" {
		return "", errors.New("elevenlabs: signed url: empty response")
	}
	return out.SignedURL, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type initiationMessage struct {
	Type string `json:"type"`
}

type userAudioMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

type serverEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	AgentCorrection *struct {
		OriginalAgentResponse  string `json:"original_agent_response"`
		CorrectedAgentResponse string `json:"corrected_agent_response"`
	} `json:"agent_response_correction_event,omitempty"`

	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	Interruption *struct {
		EventID int `json:"event_id"`
	} `json:"interruption_event,omitempty"`

	Ping *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	handler convai.Handler
	audio   audio.Interface
	device  audio.Format

	// Set once during the handshake, read-only afterwards.
	conversationID string
	toDevice       *audio.Converter
	toAgent        *audio.Converter

	micCh chan []byte

	mu               sync.Mutex
	lastInterruptID  int
	ending           bool
	errVal           error
	endOnce          sync.Once
	micDropsReported bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) handshake(ctx context.Context) error {
	if err := s.writeJSON(ctx, initiationMessage{Type: "conversation_initiation_client_data"}); err != nil {
		return fmt.Errorf("%w: send initiation: %w", ErrHandshake, err)
	}

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	for {
		_, data, err := s.conn.Read(hctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if evt.Type != "conversation_initiation_metadata" || evt.Metadata == nil {
			continue
		}

		s.conversationID = evt.Metadata.ConversationID
		s.toDevice = &audio.Converter{From: s.parseFormat(evt.Metadata.AgentOutputAudioFormat), To: s.device}
		s.toAgent = &audio.Converter{From: s.device, To: s.parseFormat(evt.Metadata.UserInputAudioFormat)}
		slog.Debug("elevenlabs: conversation started",
			"conversation_id", s.conversationID,
			"agent_output", evt.Metadata.AgentOutputAudioFormat,
			"user_input", evt.Metadata.UserInputAudioFormat,
		)
		return nil
	}
}

// parseFormat falls back to the device format for empty or non-PCM names.
func (s *session) parseFormat(name string) audio.Format {
	if name == "" {
		return s.device
	}
	f, err := audio.ParseFormat(name)
	if err != nil {
		slog.Warn("elevenlabs: unsupported audio format, assuming device format", "format", name, "err", err)
		return s.device
	}
	return f
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// enqueueMic is the audio input callback. It never blocks the capture thread;
// frames are dropped when the send queue is full.
func (s *session) enqueueMic(frame []byte) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.micCh <- frame:
	default:
		s.mu.Lock()
		first := !s.micDropsReported
		s.micDropsReported = true
		s.mu.Unlock()
		if first {
			slog.Warn("elevenlabs: microphone queue full, dropping frames")
		}
	}
}

// sendLoop forwards queued microphone frames to the service.
func (s *session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.micCh:
			chunk := s.toAgent.Convert(frame)
			if len(chunk) == 0 {
				continue
			}
			msg := userAudioMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(chunk)}
			if err := s.writeJSON(s.ctx, msg); err != nil {
				if s.ctx.Err() == nil {
					slog.Debug("elevenlabs: send audio failed", "err", err)
				}
				return
			}
		}
	}
}

// receiveLoop reads events until the connection closes. It owns shutdown of
// the audio interface and closes done when it exits.
func (s *session) receiveLoop() {
	defer close(s.done)
	defer s.audio.Stop()
	defer s.cancel()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.finish(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("elevenlabs: ignoring malformed event", "err", err)
			continue
		}
		s.handleServerEvent(&evt)
	}
}

// finish records the terminal error unless the end was requested or the
// server closed the conversation normally.
func (s *session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ending || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}
	if s.errVal == nil {
		s.errVal = fmt.Errorf("elevenlabs: connection lost: %w", err)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "user_transcript":
		if evt.UserTranscription != nil {
			s.handler.UserTranscript(evt.UserTranscription.UserTranscript)
		}

	case "agent_response":
		if evt.AgentResponse != nil {
			s.handler.AgentResponse(evt.AgentResponse.AgentResponse)
		}

	case "agent_response_correction":
		if c := evt.AgentCorrection; c != nil {
			s.handler.AgentCorrection(c.OriginalAgentResponse, c.CorrectedAgentResponse)
		}

	case "audio":
		s.handleAudio(evt)

	case "interruption":
		if evt.Interruption == nil {
			return
		}
		s.mu.Lock()
		s.lastInterruptID = evt.Interruption.EventID
		s.mu.Unlock()
		s.audio.Interrupt()

	case "ping":
		if evt.Ping == nil {
			return
		}
		if err := s.writeJSON(s.ctx, pongMessage{Type: "pong", EventID: evt.Ping.EventID}); err != nil && s.ctx.Err() == nil {
			slog.Debug("elevenlabs: pong failed", "err", err)
		}
	}
}

func (s *session) handleAudio(evt *serverEvent) {
	a := evt.Audio
	if a == nil || a.AudioBase64 == "" {
		return
	}
	s.mu.Lock()
	stale := a.EventID <= s.lastInterruptID
	s.mu.Unlock()
	if stale {
		return
	}

	pcm, err := base64.StdEncoding.DecodeString(a.AudioBase64)
	if err != nil || len(pcm) == 0 {
		return
	}
	s.audio.Output(s.toDevice.Convert(pcm))
}

// ── convai.Session methods ─────────────────────────────────────────────────────

// ConversationID returns the id from the conversation metadata.
func (s *session) ConversationID() string { return s.conversationID }

// End closes the conversation. Idempotent.
func (s *session) End() error {
	var err error
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.ending = true
		s.mu.Unlock()

		s.audio.Stop()
		err = s.conn.Close(websocket.StatusNormalClosure, "conversation ended")
		s.cancel()
	})
	if err != nil {
		return fmt.Errorf("elevenlabs: end: %w", err)
	}
	return nil
}

// Wait blocks until the receive loop has exited or ctx is done.
func (s *session) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return s.conversationID, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID, s.errVal
}
