package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"linguaflow/voice/internal/types"
)

// ErrNoCredentials means the provider API key is unconfigured. Fatal at
// session creation, never retried.
var ErrNoCredentials = errors.New("speech provider API key not configured")

// Canonical event kinds emitted by the bridge.
const (
	KindReady           = "ready"
	KindDelta           = "delta"            // partial coach transcript
	KindUserTranscript  = "user_transcript"  // finalized user utterance
	KindCoachTranscript = "coach_transcript" // finalized coach utterance
	KindTurnEnd         = "turn_end"
	KindGap             = "gap" // events may have been missed across a reconnect
	KindError           = "error"
	KindFailed          = "failed" // reconnect budget exhausted
)

type Event struct {
	Kind string
	Text string
	Err  string
}

type Config struct {
	APIKey      string
	URL         string
	Model       string
	Voice       string
	MaxAttempts int
	BackoffBase time.Duration
}

// Bridge owns exactly one upstream websocket connection for one session.
// It translates utterance payloads into provider wire format and provider
// frames into canonical events.
type Bridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg       Config
	sessionID string
	url       string

	sendQ  chan []byte
	events chan Event

	// last committed utterance awaiting provider acknowledgement
	mu             sync.Mutex
	unacked        []byte
	unackedRetried bool
}

// Dial validates credentials and establishes the upstream connection,
// retrying the handshake with capped exponential backoff before failing.
func Dial(parent context.Context, cfg Config, sessionID string, sctx types.Context) (*Bridge, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoCredentials
	}
	if cfg.URL == "" {
		cfg.URL = "wss://api.openai.com/v1/realtime"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(parent)
	b := &Bridge{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		sessionID: sessionID,
		url:       cfg.URL + "?model=" + cfg.Model,
		sendQ:     make(chan []byte, 8),
		events:    make(chan Event, 64),
	}
	ws, err := b.connect(ctx, sctx)
	if err != nil {
		cancel()
		return nil, err
	}
	go b.run(ws, sctx)
	return b, nil
}

// SendUtterance enqueues one committed utterance for upstream delivery.
// Returns an error only when the outbound queue is saturated.
func (b *Bridge) SendUtterance(ctx context.Context, pcm []byte) error {
	select {
	case b.sendQ <- pcm:
		metricUtterances.Inc()
		metricAudioBytes.Add(float64(len(pcm)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return fmt.Errorf("bridge closed")
	}
}

func (b *Bridge) Events() <-chan Event { return b.events }

func (b *Bridge) Close() error {
	b.cancel()
	return nil
}

func (b *Bridge) connect(ctx context.Context, sctx types.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt, b.cfg.BackoffBase)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		hdr := make(http.Header)
		hdr.Set("Authorization", "Bearer "+b.cfg.APIKey)
		hdr.Set("OpenAI-Beta", "realtime=v1")
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		start := time.Now()
		ws, _, err := websocket.Dial(dctx, b.url, &websocket.DialOptions{HTTPHeader: hdr})
		cancel()
		if err != nil {
			log.Printf("[speech] connect attempt %d failed session=%s: %v", attempt+1, b.sessionID, err)
			lastErr = err
			continue
		}
		metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))
		if err := b.configure(ws, sctx); err != nil {
			_ = ws.Close(websocket.StatusInternalError, "configure failed")
			lastErr = err
			continue
		}
		return ws, nil
	}
	return nil, fmt.Errorf("speech provider handshake failed after %d attempts: %w", b.cfg.MaxAttempts, lastErr)
}

// configure pushes the session instructions derived from the practice context.
func (b *Bridge) configure(ws *websocket.Conn, sctx types.Context) error {
	voice := b.cfg.Voice
	if sctx.VoiceSpeaker != "" {
		voice = sctx.VoiceSpeaker
	}
	cfg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions":              instructions(sctx),
			"voice":                     voice,
			"input_audio_format":        "pcm16",
			"output_audio_format":       "pcm16",
			"input_audio_transcription": map[string]any{"model": "whisper-1"},
			"turn_detection":            nil,
		},
	}
	return b.writeJSON(ws, cfg)
}

func instructions(sctx types.Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a friendly language coach practicing spoken conversation about %q with a %s-level student.", sctx.Topic, sctx.StudentLevel)
	if len(sctx.LearningGoals) > 0 {
		fmt.Fprintf(&sb, " Learning goals: %s.", strings.Join(sctx.LearningGoals, ", "))
	}
	if len(sctx.GrammarFocus) > 0 {
		fmt.Fprintf(&sb, " Gently model correct usage of: %s.", strings.Join(sctx.GrammarFocus, ", "))
	}
	sb.WriteString(" Keep replies short and conversational.")
	return sb.String()
}

func (b *Bridge) run(ws *websocket.Conn, sctx types.Context) {
	defer close(b.events)
	gaugeBridges.Inc()
	defer gaugeBridges.Dec()
	for {
		err := b.pump(ws)
		if b.ctx.Err() != nil {
			return
		}
		log.Printf("[speech] connection lost session=%s: %v", b.sessionID, err)
		nws, cerr := b.connect(b.ctx, sctx)
		if cerr != nil {
			metricFailures.Inc()
			b.emit(Event{Kind: KindFailed, Err: cerr.Error()})
			return
		}
		metricReconnects.Inc()
		// events produced upstream during the outage are gone; say so
		b.emit(Event{Kind: KindGap})
		// retry the unacknowledged utterance once, never more
		if u := b.takeUnackedForRetry(); u != nil {
			if werr := b.writeUtterance(nws, u); werr != nil {
				log.Printf("[speech] retry of unacked utterance failed session=%s: %v", b.sessionID, werr)
			}
		}
		ws = nws
	}
}

// pump runs the send and receive loops for one connection and returns the
// error that broke it.
func (b *Bridge) pump(ws *websocket.Conn) error {
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()

	sendErr := make(chan error, 1)
	sendCtx, stopSend := context.WithCancel(b.ctx)
	defer stopSend()
	go func() {
		for {
			select {
			case <-sendCtx.Done():
				return
			case pcm := <-b.sendQ:
				b.mu.Lock()
				b.unacked = pcm
				b.unackedRetried = false
				b.mu.Unlock()
				if err := b.writeUtterance(ws, pcm); err != nil {
					sendErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-sendErr:
			return err
		default:
		}
		_, data, err := ws.Read(b.ctx)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		b.handleFrame(data)
	}
}

// writeUtterance sends one utterance as append + commit + response.create.
func (b *Bridge) writeUtterance(ws *websocket.Conn, pcm []byte) error {
	frames := []map[string]any{
		{"type": "input_audio_buffer.append", "audio": base64.StdEncoding.EncodeToString(pcm)},
		{"type": "input_audio_buffer.commit"},
		{"type": "response.create"},
	}
	for _, f := range frames {
		if err := b.writeJSON(ws, f); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) writeJSON(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func (b *Bridge) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("[speech] bad frame session=%s: %v", b.sessionID, err)
		return
	}
	if f.Type == "input_audio_buffer.committed" {
		b.mu.Lock()
		b.unacked = nil
		b.mu.Unlock()
		return
	}
	if ev, ok := translate(f); ok {
		b.emit(ev)
	}
}

func (b *Bridge) takeUnackedForRetry() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unacked == nil || b.unackedRetried {
		return nil
	}
	b.unackedRetried = true
	return b.unacked
}

func (b *Bridge) emit(e Event) {
	select {
	case b.events <- e:
	case <-b.ctx.Done():
	}
}

type frame struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// translate maps a provider frame to a canonical event, when it carries one.
func translate(f frame) (Event, bool) {
	switch f.Type {
	case "session.created":
		return Event{Kind: KindReady}, true
	case "conversation.item.input_audio_transcription.completed":
		if strings.TrimSpace(f.Transcript) == "" {
			return Event{}, false
		}
		return Event{Kind: KindUserTranscript, Text: strings.TrimSpace(f.Transcript)}, true
	case "response.audio_transcript.delta":
		if f.Delta == "" {
			return Event{}, false
		}
		return Event{Kind: KindDelta, Text: f.Delta}, true
	case "response.audio_transcript.done":
		if strings.TrimSpace(f.Transcript) == "" {
			return Event{}, false
		}
		return Event{Kind: KindCoachTranscript, Text: strings.TrimSpace(f.Transcript)}, true
	case "response.done":
		return Event{Kind: KindTurnEnd}, true
	case "error":
		msg := "provider_error"
		if f.Error != nil && f.Error.Message != "" {
			msg = f.Error.Message
		}
		return Event{Kind: KindError, Err: msg}, true
	}
	return Event{}, false
}

// backoffDelay returns the capped exponential delay before the given attempt
// (attempt 1 waits base, attempt 2 waits 2*base, ...).
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	if attempt > 6 {
		attempt = 6
	}
	return base << uint(attempt-1)
}
