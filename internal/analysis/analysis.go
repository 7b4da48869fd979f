package analysis

import (
	"context"
	"log"
	"sync"
	"time"

	"linguaflow/voice/internal/store"
	"linguaflow/voice/internal/types"
)

// GrammarChecker is the external grammar-checking collaborator.
type GrammarChecker interface {
	CheckGrammar(ctx context.Context, text, level string) ([]types.AnalysisIssue, error)
}

// Pipeline runs the four analyzers over finalized user segments and persists
// their results. Analyzer failures are absorbed: one failing analyzer never
// aborts the other three.
type Pipeline struct {
	repo    *store.Store
	grammar GrammarChecker
	timeout time.Duration
}

func New(repo *store.Store, grammar GrammarChecker) *Pipeline {
	return &Pipeline{repo: repo, grammar: grammar, timeout: 30 * time.Second}
}

// Analyze runs grammar, pronunciation, fluency and accent concurrently over
// one segment and returns the persisted results.
func (p *Pipeline) Analyze(ctx context.Context, seg types.TranscriptSegment, level string) []types.AnalysisResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]types.AnalysisResult, 4)
	var wg sync.WaitGroup
	run := func(idx int, typ string, fn func() (int, []types.AnalysisIssue)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[analysis] %s analyzer panic session=%s seg=%d: %v", typ, seg.SessionID, seg.Seq, r)
					results[idx] = types.AnalysisResult{SessionID: seg.SessionID, SegmentSeq: seg.Seq, Type: typ, Score: 0}
				}
			}()
			score, issues := fn()
			results[idx] = types.AnalysisResult{
				SessionID:  seg.SessionID,
				SegmentSeq: seg.Seq,
				Type:       typ,
				Score:      score,
				Issues:     issues,
			}
		}()
	}

	run(0, types.AnalysisGrammar, func() (int, []types.AnalysisIssue) {
		issues, err := p.grammar.CheckGrammar(ctx, seg.Text, level)
		if err != nil {
			log.Printf("[analysis] grammar check failed session=%s seg=%d: %v", seg.SessionID, seg.Seq, err)
			return 100, nil
		}
		return grammarScore(issues), issues
	})
	run(1, types.AnalysisPronunciation, func() (int, []types.AnalysisIssue) {
		return analyzePronunciation(seg.Text)
	})
	run(2, types.AnalysisFluency, func() (int, []types.AnalysisIssue) {
		return analyzeFluency(seg.Text)
	})
	run(3, types.AnalysisAccent, func() (int, []types.AnalysisIssue) {
		return analyzeAccent(seg.Text)
	})
	wg.Wait()

	for _, res := range results {
		if err := p.repo.PutAnalysis(res); err != nil {
			// a re-run for the same segment; the first write wins
			log.Printf("[analysis] skip persist %s session=%s seg=%d: %v", res.Type, res.SessionID, res.SegmentSeq, err)
		}
	}
	return results
}
