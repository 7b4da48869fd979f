package corrections

import (
	"context"
	"log"
	"strings"

	"linguaflow/voice/internal/llm"
	"linguaflow/voice/internal/store"
	"linguaflow/voice/internal/types"
)

// Corrector is the batch grammar-correction collaborator.
type Corrector interface {
	CorrectBatch(ctx context.Context, transcripts []string, level string) ([]llm.CorrectionItem, error)
}

// Aggregator turns a session's accumulated uncorrected transcript into
// persisted corrections in one collaborator call.
type Aggregator struct {
	repo      *store.Store
	corrector Corrector
}

func New(repo *store.Store, corrector Corrector) *Aggregator {
	return &Aggregator{repo: repo, corrector: corrector}
}

// Generate fetches the session's uncorrected user segments, sends them as
// one batch, persists the returned corrections and only then marks every
// fetched segment corrected. Collaborator or parse failures are absorbed:
// logged, nothing persisted, nothing marked.
func (a *Aggregator) Generate(ctx context.Context, sessionID, level string) []types.Correction {
	segs := a.repo.Uncorrected(sessionID)
	if len(segs) == 0 {
		return []types.Correction{}
	}

	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}
	items, err := a.corrector.CorrectBatch(ctx, texts, level)
	if err != nil {
		log.Printf("[corrections] batch correction failed session=%s: %v", sessionID, err)
		return []types.Correction{}
	}

	out := make([]types.Correction, 0, len(items))
	for _, it := range items {
		out = append(out, types.Correction{
			SessionID:     sessionID,
			TranscriptSeq: matchSegment(segs, it.OriginalText),
			OriginalText:  it.OriginalText,
			CorrectedText: it.CorrectedText,
			Explanation:   it.Explanation,
			Category:      it.Category,
			Severity:      normalizeSeverity(it.Severity),
		})
	}

	// persist before marking, so a crash in between can at worst cause a
	// duplicate correction attempt, never a silently "corrected" segment
	a.repo.AddCorrections(sessionID, out)
	seqs := make([]int, len(segs))
	for i, s := range segs {
		seqs[i] = s.Seq
	}
	// every fetched segment was part of the batch; the ones without a
	// returned entry were judged issue-free
	a.repo.MarkCorrected(sessionID, seqs)
	return out
}

// matchSegment resolves a returned original_text to the segment it came
// from; 0 when the collaborator paraphrased beyond recognition.
func matchSegment(segs []types.TranscriptSegment, original string) int {
	norm := normalize(original)
	for _, s := range segs {
		if normalize(s.Text) == norm {
			return s.Seq
		}
	}
	for _, s := range segs {
		if norm != "" && strings.Contains(normalize(s.Text), norm) {
			return s.Seq
		}
	}
	return 0
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), ".!?"))
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(s) {
	case types.SeverityModerate:
		return types.SeverityModerate
	case types.SeverityMajor:
		return types.SeverityMajor
	default:
		return types.SeverityMinor
	}
}
