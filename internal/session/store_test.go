package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"linguaflow/voice/internal/analysis"
	"linguaflow/voice/internal/speech"
	"linguaflow/voice/internal/store"
	"linguaflow/voice/internal/types"
)

// fakeUpstream echoes each committed utterance as a scripted exchange:
// a user transcript, a coach delta and a turn end.
type fakeUpstream struct {
	events     chan speech.Event
	utterances [][]byte
	closeOnce  sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan speech.Event, 64)}
}

func (f *fakeUpstream) SendUtterance(ctx context.Context, pcm []byte) error {
	f.utterances = append(f.utterances, pcm)
	f.events <- speech.Event{Kind: speech.KindUserTranscript, Text: "I went to the market"}
	f.events <- speech.Event{Kind: speech.KindDelta, Text: "That sounds"}
	f.events <- speech.Event{Kind: speech.KindTurnEnd}
	return nil
}

func (f *fakeUpstream) Events() <-chan speech.Event { return f.events }

func (f *fakeUpstream) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

type okChecker struct{}

func (okChecker) CheckGrammar(ctx context.Context, text, level string) ([]types.AnalysisIssue, error) {
	return nil, nil
}

func newTestStore(t *testing.T) (*Store, *fakeUpstream, *store.Store) {
	t.Helper()
	repo := store.New()
	up := newFakeUpstream()
	dial := func(ctx context.Context, sessionID string, sctx types.Context) (Upstream, error) {
		return up, nil
	}
	s := NewStore(Options{AnalysisJoinTimeout: 2 * time.Second}, dial, repo, analysis.New(repo, okChecker{}))
	t.Cleanup(s.Close)
	return s, up, repo
}

func createSession(t *testing.T, s *Store) types.Session {
	t.Helper()
	sess, secret, err := s.Create(context.Background(), "student-1", "vp-1", types.Context{
		Topic: "Travel", StudentLevel: "B1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if secret == "" {
		t.Fatalf("expected bootstrap credentials")
	}
	if sess.State != types.StateActive {
		t.Fatalf("expected active session, got %s", sess.State)
	}
	return sess
}

func pollUntil(t *testing.T, s *Store, id string, want func([]types.Event) bool) []types.Event {
	t.Helper()
	var all []types.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evts, err := s.ConsumeEvents(id)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		all = append(all, evts...)
		if want(all) {
			return all
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met, got %d events: %+v", len(all), all)
	return nil
}

func hasType(evts []types.Event, typ string) bool {
	for _, e := range evts {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestCreateValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, _, err := s.Create(context.Background(), "", "", types.Context{Topic: "Travel", StudentLevel: "B1"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	_, _, err = s.Create(context.Background(), "student-1", "", types.Context{StudentLevel: "B1"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing topic, got %v", err)
	}
}

func TestCreateWithoutCredentials(t *testing.T) {
	repo := store.New()
	dial := func(ctx context.Context, sessionID string, sctx types.Context) (Upstream, error) {
		return nil, speech.ErrNoCredentials
	}
	s := NewStore(Options{}, dial, repo, nil)
	defer s.Close()
	_, _, err := s.Create(context.Background(), "student-1", "", types.Context{Topic: "Travel", StudentLevel: "B1"})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestCreateUpstreamRejected(t *testing.T) {
	repo := store.New()
	dial := func(ctx context.Context, sessionID string, sctx types.Context) (Upstream, error) {
		return nil, fmt.Errorf("handshake failed after 5 attempts")
	}
	s := NewStore(Options{}, dial, repo, nil)
	defer s.Close()
	_, _, err := s.Create(context.Background(), "student-1", "", types.Context{Topic: "Travel", StudentLevel: "B1"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	s, _, _ := newTestStore(t)
	if err := s.AppendAudio("nope", []byte{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append: expected ErrNotFound, got %v", err)
	}
	if err := s.Commit(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("commit: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ConsumeEvents("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("consume: expected ErrNotFound, got %v", err)
	}
	if err := s.End(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("end: expected ErrNotFound, got %v", err)
	}
}

func TestPracticeExchange(t *testing.T) {
	s, up, repo := newTestStore(t)
	sess := createSession(t, s)

	for i := 0; i < 3; i++ {
		if err := s.AppendAudio(sess.ID, []byte{byte(i), byte(i + 1)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.Commit(context.Background(), sess.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(up.utterances) != 1 {
		t.Fatalf("expected one utterance upstream, got %d", len(up.utterances))
	}
	if want := []byte{0, 1, 1, 2, 2, 3}; string(up.utterances[0]) != string(want) {
		t.Fatalf("chunks must be concatenated in order, got %v", up.utterances[0])
	}

	all := pollUntil(t, s, sess.ID, func(evts []types.Event) bool {
		return hasType(evts, types.EventTranscriptDelta) && hasType(evts, types.EventTurnEnd)
	})
	last := uint64(0)
	for _, e := range all {
		if e.Seq <= last {
			t.Fatalf("event order violated: %d after %d", e.Seq, last)
		}
		last = e.Seq
	}

	segs := repo.Transcripts(sess.ID)
	if len(segs) == 0 || segs[0].Role != types.RoleUser {
		t.Fatalf("expected recorded user transcript, got %+v", segs)
	}
}

func TestCommitEmptyBufferIsNoop(t *testing.T) {
	s, up, _ := newTestStore(t)
	sess := createSession(t, s)

	if err := s.Commit(context.Background(), sess.ID); err != nil {
		t.Fatalf("empty commit must succeed: %v", err)
	}
	if len(up.utterances) != 0 {
		t.Fatalf("empty commit must not reach upstream")
	}
}

func TestChunkNeverInTwoCommits(t *testing.T) {
	s, up, _ := newTestStore(t)
	sess := createSession(t, s)

	_ = s.AppendAudio(sess.ID, []byte{1, 2, 3})
	_ = s.Commit(context.Background(), sess.ID)
	_ = s.AppendAudio(sess.ID, []byte{4})
	_ = s.Commit(context.Background(), sess.ID)

	if len(up.utterances) != 2 {
		t.Fatalf("expected two utterances, got %d", len(up.utterances))
	}
	if string(up.utterances[1]) != string([]byte{4}) {
		t.Fatalf("second commit must only carry new chunks, got %v", up.utterances[1])
	}
}

func TestSecondPollReturnsEmpty(t *testing.T) {
	s, _, _ := newTestStore(t)
	sess := createSession(t, s)

	_ = s.AppendAudio(sess.ID, []byte{1})
	_ = s.Commit(context.Background(), sess.ID)
	pollUntil(t, s, sess.ID, func(evts []types.Event) bool {
		return hasType(evts, types.EventTurnEnd)
	})

	evts, err := s.ConsumeEvents(sess.ID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected empty poll with no new activity, got %d", len(evts))
	}
}

func TestOperationsAfterEnd(t *testing.T) {
	s, _, _ := newTestStore(t)
	sess := createSession(t, s)

	if err := s.End(context.Background(), sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := s.AppendAudio(sess.ID, []byte{1}); err == nil || !errors.Is(err, ErrInvalidState) {
		// the entry may already be torn down once the outbox is drained
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrInvalidState or ErrNotFound, got %v", err)
		}
	}
	if err := s.End(context.Background(), sess.ID); err == nil {
		t.Fatalf("second end must fail")
	}
}

func TestEndJoinsAnalysisAndTearsDown(t *testing.T) {
	s, _, repo := newTestStore(t)
	sess := createSession(t, s)

	_ = s.AppendAudio(sess.ID, []byte{1, 2})
	_ = s.Commit(context.Background(), sess.ID)
	pollUntil(t, s, sess.ID, func(evts []types.Event) bool {
		return hasType(evts, types.EventTurnEnd)
	})

	if err := s.End(context.Background(), sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	// analysis for the committed utterance was joined before ended
	if got := repo.Analyses(sess.ID); len(got) != 4 {
		t.Fatalf("expected 4 analysis results flushed at end, got %d", len(got))
	}

	// drain whatever is left, then the session is fully gone
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.ConsumeEvents(sess.ID); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session must be torn down after the outbox is drained")
}

func TestAnalysisReadyEvent(t *testing.T) {
	s, _, _ := newTestStore(t)
	sess := createSession(t, s)

	_ = s.AppendAudio(sess.ID, []byte{1})
	_ = s.Commit(context.Background(), sess.ID)

	all := pollUntil(t, s, sess.ID, func(evts []types.Event) bool {
		return hasType(evts, types.EventAnalysisReady)
	})
	for _, e := range all {
		if e.Type == types.EventAnalysisReady {
			scores, ok := e.Payload["scores"].(map[string]any)
			if !ok || len(scores) != 4 {
				t.Fatalf("expected four scores in analysis_ready, got %+v", e.Payload)
			}
		}
	}
}

func TestUpstreamFailureEndsSession(t *testing.T) {
	repo := store.New()
	up := newFakeUpstream()
	dial := func(ctx context.Context, sessionID string, sctx types.Context) (Upstream, error) {
		return up, nil
	}
	s := NewStore(Options{}, dial, repo, nil)
	defer s.Close()
	sess, _, err := s.Create(context.Background(), "student-1", "", types.Context{Topic: "Travel", StudentLevel: "B1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	up.events <- speech.Event{Kind: speech.KindFailed, Err: "reconnect budget exhausted"}
	_ = up.Close()

	deadline := time.Now().Add(2 * time.Second)
	sawError := false
	for time.Now().Before(deadline) {
		evts, err := s.ConsumeEvents(sess.ID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		for _, e := range evts {
			if e.Type == types.EventError {
				if r, _ := e.Payload["reason"].(string); r == "upstream_failed" {
					sawError = true
				}
			}
		}
		if snap, err := s.Get(sess.ID); err == nil && snap.State == types.StateEnded && sawError {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !sawError {
		t.Fatalf("expected upstream_failed error event")
	}
}
