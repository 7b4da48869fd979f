package store

import (
	"errors"
	"sort"
	"sync"

	"linguaflow/voice/internal/types"
)

var ErrDuplicateAnalysis = errors.New("analysis result already recorded")

// Store is the in-process stand-in for the platform's relational backend:
// transcripts, analysis results and corrections accumulated per session.
// Everything here is best-effort background state; losing it never fails
// the live session path.
type Store struct {
	mu          sync.RWMutex
	transcripts map[string][]types.TranscriptSegment
	nextSeq     map[string]int
	analyses    map[analysisKey]types.AnalysisResult
	corrections map[string][]types.Correction
	corrCount   map[string]int
}

type analysisKey struct {
	sessionID  string
	segmentSeq int
	typ        string
}

func New() *Store {
	return &Store{
		transcripts: make(map[string][]types.TranscriptSegment),
		nextSeq:     make(map[string]int),
		analyses:    make(map[analysisKey]types.AnalysisResult),
		corrections: make(map[string][]types.Correction),
		corrCount:   make(map[string]int),
	}
}

// AppendTranscript records a finalized utterance and assigns the next
// per-session sequence number.
func (s *Store) AppendTranscript(sessionID, role, text string) types.TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq[sessionID]++
	seg := types.TranscriptSegment{
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Seq:       s.nextSeq[sessionID],
	}
	s.transcripts[sessionID] = append(s.transcripts[sessionID], seg)
	return seg
}

func (s *Store) Transcripts(sessionID string) []types.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.transcripts[sessionID]
	out := make([]types.TranscriptSegment, len(src))
	copy(out, src)
	return out
}

// Uncorrected returns the session's user segments with no correction yet,
// in sequence order.
func (s *Store) Uncorrected(sessionID string) []types.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.TranscriptSegment
	for _, seg := range s.transcripts[sessionID] {
		if seg.Role == types.RoleUser && !seg.HasCorrection {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// MarkCorrected flips hasCorrection on the given segment sequences.
func (s *Store) MarkCorrected(sessionID string, seqs []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int]bool, len(seqs))
	for _, q := range seqs {
		want[q] = true
	}
	segs := s.transcripts[sessionID]
	for i := range segs {
		if want[segs[i].Seq] {
			segs[i].HasCorrection = true
		}
	}
}

// PutAnalysis stores an analyzer result once. A later re-run for the same
// segment and analyzer is rejected, never overwritten.
func (s *Store) PutAnalysis(res types.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := analysisKey{res.SessionID, res.SegmentSeq, res.Type}
	if _, ok := s.analyses[k]; ok {
		return ErrDuplicateAnalysis
	}
	s.analyses[k] = res
	return nil
}

func (s *Store) Analyses(sessionID string) []types.AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.AnalysisResult
	for k, v := range s.analyses {
		if k.sessionID == sessionID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SegmentSeq != out[j].SegmentSeq {
			return out[i].SegmentSeq < out[j].SegmentSeq
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// AddCorrections persists a batch of corrections and bumps the session's
// correction counter.
func (s *Store) AddCorrections(sessionID string, cs []types.Correction) {
	if len(cs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections[sessionID] = append(s.corrections[sessionID], cs...)
	s.corrCount[sessionID] += len(cs)
}

func (s *Store) Corrections(sessionID string) []types.Correction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.corrections[sessionID]
	out := make([]types.Correction, len(src))
	copy(out, src)
	return out
}

func (s *Store) CorrectionCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrCount[sessionID]
}
