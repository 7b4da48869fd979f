package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"linguaflow/voice/internal/analysis"
	"linguaflow/voice/internal/relay"
	"linguaflow/voice/internal/speech"
	"linguaflow/voice/internal/store"
	"linguaflow/voice/internal/types"
)

// Upstream is the per-session connection to the realtime speech provider.
type Upstream interface {
	SendUtterance(ctx context.Context, pcm []byte) error
	Events() <-chan speech.Event
	Close() error
}

// Dialer opens the upstream connection for a new session. It returns
// speech.ErrNoCredentials when the provider key is unconfigured and any
// other error when the handshake was rejected after bounded retries.
type Dialer func(ctx context.Context, sessionID string, sctx types.Context) (Upstream, error)

type Options struct {
	IdleTTL             time.Duration
	EventCap            int
	AnalysisJoinTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.IdleTTL <= 0 {
		o.IdleTTL = 10 * time.Minute
	}
	if o.EventCap <= 0 {
		o.EventCap = relay.DefaultCapacity
	}
	if o.AnalysisJoinTimeout <= 0 {
		o.AnalysisJoinTimeout = 10 * time.Second
	}
}

// Store is the session registry and the only thing HTTP handlers talk to.
// Operations on different sessions proceed independently; operations on the
// same session serialize on the session's own lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	opts     Options
	dial     Dialer
	repo     *store.Store
	pipeline *analysis.Pipeline

	done     chan struct{}
	stopOnce sync.Once
}

func NewStore(opts Options, dial Dialer, repo *store.Store, pipeline *analysis.Pipeline) *Store {
	opts.withDefaults()
	s := &Store{
		sessions: make(map[string]*session),
		opts:     opts,
		dial:     dial,
		repo:     repo,
		pipeline: pipeline,
		done:     make(chan struct{}),
	}
	go s.reaper()
	return s
}

// Close stops the idle reaper. Live sessions are left to the caller.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Create allocates a session, opens the upstream connection and activates
// the session. The returned secret is the client's polling credential.
func (s *Store) Create(ctx context.Context, studentID, practiceID string, sctx types.Context) (types.Session, string, error) {
	if studentID == "" || sctx.Topic == "" || sctx.StudentLevel == "" {
		return types.Session{}, "", fmt.Errorf("%w: studentId, context.topic and context.studentLevel are required", ErrValidation)
	}

	id := uuid.New().String()
	up, err := s.dial(ctx, id, sctx)
	if err != nil {
		if errors.Is(err, speech.ErrNoCredentials) {
			return types.Session{}, "", fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return types.Session{}, "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	now := time.Now().UTC()
	sess := &session{
		rec: types.Session{
			ID:             id,
			StudentID:      studentID,
			PracticeID:     practiceID,
			Context:        sctx,
			State:          types.StateActive,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		up:       up,
		queue:    relay.New(id, s.opts.EventCap),
		pumpDone: make(chan struct{}),
	}
	sess.queue.Push(types.EventStart, map[string]any{"topic": sctx.Topic, "student_level": sctx.StudentLevel})

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	metricSessionsCreated.Inc()
	gaugeSessionsActive.Inc()

	go s.pump(sess)
	log.Printf("[session] created session=%s student=%s topic=%q", id, studentID, sctx.Topic)
	return sess.snapshot(), uuid.New().String(), nil
}

// AppendAudio buffers one audio chunk for the next commit.
func (s *Store) AppendAudio(id string, payload []byte) error {
	sess := s.lookup(id)
	if sess == nil {
		return ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.rec.State != types.StateActive {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, sess.rec.State)
	}
	sess.chunkSeq++
	sess.buf = append(sess.buf, payload)
	sess.bufBytes += len(payload)
	sess.rec.LastActivityAt = time.Now().UTC()
	return nil
}

// Commit flushes the buffered chunks as one utterance. An empty buffer is a
// no-op so duplicate commit signals are harmless.
func (s *Store) Commit(ctx context.Context, id string) error {
	sess := s.lookup(id)
	if sess == nil {
		return ErrNotFound
	}
	// the session lock is held across the upstream handoff: same-session
	// operations are single-writer, and a chunk must never reach two commits
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.rec.State != types.StateActive {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, sess.rec.State)
	}
	sess.rec.LastActivityAt = time.Now().UTC()
	if len(sess.buf) == 0 {
		return nil
	}
	pcm := make([]byte, 0, sess.bufBytes)
	for _, chunk := range sess.buf {
		pcm = append(pcm, chunk...)
	}
	log.Printf("[session] commit session=%s chunks=%d bytes=%d total_chunks=%d", id, len(sess.buf), sess.bufBytes, sess.chunkSeq)
	sess.buf = nil
	sess.bufBytes = 0
	if err := sess.up.SendUtterance(ctx, pcm); err != nil {
		sess.queue.Push(types.EventError, map[string]any{"reason": "commit_failed", "detail": err.Error()})
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return nil
}

// ConsumeEvents atomically drains the session's outbox. Events are delivered
// at most once; a second poll with no new activity returns an empty list.
func (s *Store) ConsumeEvents(id string) ([]types.Event, error) {
	sess := s.lookup(id)
	if sess == nil {
		return nil, ErrNotFound
	}
	evts := sess.queue.Drain()
	sess.mu.Lock()
	sess.rec.LastActivityAt = time.Now().UTC()
	remove := sess.removeAfterDrain && sess.queue.Len() == 0
	sess.mu.Unlock()
	if remove {
		s.remove(id)
	}
	return evts, nil
}

// End closes the session: ending -> upstream disconnect -> bounded join of
// in-flight analysis -> ended. The registry entry survives until the outbox
// is drained.
func (s *Store) End(ctx context.Context, id string) error {
	sess := s.lookup(id)
	if sess == nil {
		return ErrNotFound
	}
	sess.mu.Lock()
	if sess.rec.State != types.StateActive && sess.rec.State != types.StateCreated {
		sess.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrInvalidState, sess.rec.State)
	}
	sess.rec.State = types.StateEnding
	sess.buf = nil
	sess.bufBytes = 0
	sess.mu.Unlock()

	s.teardown(sess)
	return nil
}

// Get returns a point-in-time snapshot of the session record.
func (s *Store) Get(id string) (types.Session, error) {
	sess := s.lookup(id)
	if sess == nil {
		return types.Session{}, ErrNotFound
	}
	return sess.snapshot(), nil
}

// LiveSessionIDs lists sessions not yet ended, for shutdown sweeps.
func (s *Store) LiveSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, sess := range s.sessions {
		if st := sess.state(); st == types.StateActive || st == types.StateCreated {
			out = append(out, id)
		}
	}
	return out
}

// teardown finishes an ending session. Callers must have moved the state to
// ending already.
func (s *Store) teardown(sess *session) {
	_ = sess.up.Close()

	joined := make(chan struct{})
	go func() {
		sess.analysisWG.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(s.opts.AnalysisJoinTimeout):
		log.Printf("[session] analysis join timed out session=%s", sess.rec.ID)
	}

	// wait for the pump to flush remaining upstream events into the outbox
	select {
	case <-sess.pumpDone:
	case <-time.After(2 * time.Second):
	}

	sess.mu.Lock()
	sess.rec.State = types.StateEnded
	empty := sess.queue.Len() == 0
	sess.removeAfterDrain = !empty
	sess.mu.Unlock()

	metricSessionsEnded.Inc()
	gaugeSessionsActive.Dec()
	if empty {
		s.remove(sess.rec.ID)
	}
	log.Printf("[session] ended session=%s drained=%v", sess.rec.ID, empty)
}

func (s *Store) lookup(id string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *Store) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// reaper proactively ends sessions with no append/commit/poll activity for
// the idle TTL, bounding memory held by abandoned buffers and outboxes.
func (s *Store) reaper() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.mu.RLock()
		var idle []*session
		for _, sess := range s.sessions {
			sess.mu.Lock()
			if sess.rec.State == types.StateActive && time.Since(sess.rec.LastActivityAt) >= s.opts.IdleTTL {
				sess.rec.State = types.StateEnding
				idle = append(idle, sess)
			}
			sess.mu.Unlock()
		}
		s.mu.RUnlock()
		for _, sess := range idle {
			log.Printf("[session] reaping idle session=%s", sess.rec.ID)
			metricSessionsReaped.Inc()
			sess.queue.Push(types.EventError, map[string]any{"reason": "idle_timeout"})
			s.teardown(sess)
		}
	}
}
