package store

import (
	"testing"

	"linguaflow/voice/internal/types"
)

func TestAppendTranscriptAssignsSequence(t *testing.T) {
	st := New()
	a := st.AppendTranscript("s1", types.RoleUser, "hello")
	b := st.AppendTranscript("s1", types.RoleCoach, "hi there")
	c := st.AppendTranscript("s2", types.RoleUser, "other session")

	if a.Seq != 1 || b.Seq != 2 {
		t.Fatalf("expected seq 1,2 got %d,%d", a.Seq, b.Seq)
	}
	if c.Seq != 1 {
		t.Fatalf("sequences must be per session, got %d", c.Seq)
	}
}

func TestUncorrectedFiltersRoleAndFlag(t *testing.T) {
	st := New()
	st.AppendTranscript("s1", types.RoleUser, "I has two cat")
	st.AppendTranscript("s1", types.RoleCoach, "tell me more")
	seg := st.AppendTranscript("s1", types.RoleUser, "she go home")

	got := st.Uncorrected("s1")
	if len(got) != 2 {
		t.Fatalf("expected 2 uncorrected user segments, got %d", len(got))
	}
	st.MarkCorrected("s1", []int{1, seg.Seq})
	if left := st.Uncorrected("s1"); len(left) != 0 {
		t.Fatalf("expected none after mark, got %d", len(left))
	}
}

func TestPutAnalysisWriteOnce(t *testing.T) {
	st := New()
	res := types.AnalysisResult{SessionID: "s1", SegmentSeq: 1, Type: types.AnalysisFluency, Score: 90}
	if err := st.PutAnalysis(res); err != nil {
		t.Fatalf("first put: %v", err)
	}
	res.Score = 10
	if err := st.PutAnalysis(res); err != ErrDuplicateAnalysis {
		t.Fatalf("expected ErrDuplicateAnalysis, got %v", err)
	}
	got := st.Analyses("s1")
	if len(got) != 1 || got[0].Score != 90 {
		t.Fatalf("original result must survive re-run, got %+v", got)
	}
}

func TestCorrectionCounter(t *testing.T) {
	st := New()
	st.AddCorrections("s1", []types.Correction{{SessionID: "s1", OriginalText: "I has"}})
	st.AddCorrections("s1", []types.Correction{{SessionID: "s1", OriginalText: "she go"}})
	if n := st.CorrectionCount("s1"); n != 2 {
		t.Fatalf("expected counter 2, got %d", n)
	}
	if len(st.Corrections("s1")) != 2 {
		t.Fatalf("expected 2 stored corrections")
	}
}
