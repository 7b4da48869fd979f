package session

import (
	"context"
	"log"
	"sync"

	"linguaflow/voice/internal/relay"
	"linguaflow/voice/internal/speech"
	"linguaflow/voice/internal/types"
)

// session is the per-session state. All mutation goes through mu; the
// registry never touches fields directly.
type session struct {
	mu  sync.Mutex
	rec types.Session

	// ingest buffer: ordered chunks awaiting the next commit
	buf      [][]byte
	bufBytes int
	chunkSeq uint64

	up    Upstream
	queue *relay.Queue

	analysisWG       sync.WaitGroup
	removeAfterDrain bool
	pumpDone         chan struct{}
}

func (c *session) snapshot() types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

func (c *session) state() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.State
}

// pump forwards upstream events into the outbox and the transcript log, and
// fires analysis for each finalized user utterance. It runs until the
// bridge closes its event channel.
func (s *Store) pump(sess *session) {
	defer close(sess.pumpDone)
	id := sess.rec.ID
	level := sess.rec.Context.StudentLevel
	for ev := range sess.up.Events() {
		switch ev.Kind {
		case speech.KindReady:
			// connection-level acknowledgement; the start event is already queued
		case speech.KindDelta:
			sess.queue.Push(types.EventTranscriptDelta, map[string]any{
				"role": types.RoleCoach, "text": ev.Text,
			})
		case speech.KindUserTranscript:
			seg := s.repo.AppendTranscript(id, types.RoleUser, ev.Text)
			sess.queue.Push(types.EventTranscriptDelta, map[string]any{
				"role": types.RoleUser, "text": ev.Text, "sequence_number": seg.Seq,
			})
			s.spawnAnalysis(sess, seg, level)
		case speech.KindCoachTranscript:
			s.repo.AppendTranscript(id, types.RoleCoach, ev.Text)
		case speech.KindTurnEnd:
			sess.queue.Push(types.EventTurnEnd, nil)
		case speech.KindGap:
			// upstream reconnected; events in between are gone for good
			sess.queue.Push(types.EventError, map[string]any{"reason": "upstream_gap"})
		case speech.KindError:
			sess.queue.Push(types.EventError, map[string]any{"reason": "upstream_error", "detail": ev.Err})
		case speech.KindFailed:
			sess.queue.Push(types.EventError, map[string]any{"reason": "upstream_failed", "detail": ev.Err})
			sess.mu.Lock()
			active := sess.rec.State == types.StateActive
			if active {
				sess.rec.State = types.StateEnding
			}
			sess.mu.Unlock()
			if active {
				go s.teardown(sess)
			}
		}
	}
}

// spawnAnalysis runs the pipeline for one segment without blocking the pump.
// End joins these through the session WaitGroup.
func (s *Store) spawnAnalysis(sess *session, seg types.TranscriptSegment, level string) {
	if s.pipeline == nil {
		return
	}
	sess.analysisWG.Add(1)
	go func() {
		defer sess.analysisWG.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[session] analysis panic session=%s seg=%d: %v", seg.SessionID, seg.Seq, r)
			}
		}()
		results := s.pipeline.Analyze(context.Background(), seg, level)
		scores := make(map[string]any, len(results))
		issueCount := 0
		for _, r := range results {
			scores[r.Type] = r.Score
			issueCount += len(r.Issues)
		}
		sess.queue.Push(types.EventAnalysisReady, map[string]any{
			"sequence_number": seg.Seq,
			"scores":          scores,
			"issue_count":     issueCount,
		})
	}()
}
