package types

import "time"

// Session states. Transitions are monotone: created -> active -> ending -> ended.
const (
	StateCreated = "created"
	StateActive  = "active"
	StateEnding  = "ending"
	StateEnded   = "ended"
)

// Context is the immutable practice context a session is created with.
type Context struct {
	Topic         string   `json:"topic"`
	StudentLevel  string   `json:"studentLevel"`
	LearningGoals []string `json:"learningGoals,omitempty"`
	GrammarFocus  []string `json:"grammarFocus,omitempty"`
	VoiceSpeaker  string   `json:"voiceSpeaker,omitempty"`
}

type Session struct {
	ID             string    `json:"session_id"`
	StudentID      string    `json:"student_id"`
	PracticeID     string    `json:"voice_practice_session_id,omitempty"`
	Context        Context   `json:"context"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Event types delivered to polling clients.
const (
	EventStart           = "start"
	EventTranscriptDelta = "transcript_delta"
	EventTurnEnd         = "turn_end"
	EventAnalysisReady   = "analysis_ready"
	EventError           = "error"
	EventNoAction        = "no_action"
)

type Event struct {
	SessionID string         `json:"session_id"`
	Seq       uint64         `json:"sequence"`
	Type      string         `json:"type"`
	Ts        time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Transcript roles.
const (
	RoleUser  = "user"
	RoleCoach = "coach"
)

type TranscriptSegment struct {
	SessionID     string `json:"session_id"`
	Role          string `json:"role"`
	Text          string `json:"text"`
	Seq           int    `json:"sequence_number"`
	HasCorrection bool   `json:"has_correction"`
}

// Issue/correction severities.
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeverityMajor    = "major"
)

type Correction struct {
	SessionID     string `json:"session_id"`
	TranscriptSeq int    `json:"transcript_id"`
	OriginalText  string `json:"original_text"`
	CorrectedText string `json:"corrected_text"`
	Explanation   string `json:"explanation"`
	Category      string `json:"category"`
	Severity      string `json:"severity"`
}

// Analyzer names.
const (
	AnalysisGrammar       = "grammar"
	AnalysisPronunciation = "pronunciation"
	AnalysisFluency       = "fluency"
	AnalysisAccent        = "accent"
)

type AnalysisIssue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Original    string `json:"original,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Position    int    `json:"position,omitempty"`
}

// AnalysisResult is one analyzer's verdict for one finalized user segment.
// Written once per (session, segment, type) and never overwritten.
type AnalysisResult struct {
	SessionID  string          `json:"session_id"`
	SegmentSeq int             `json:"segment_seq"`
	Type       string          `json:"type"`
	Score      int             `json:"score"`
	Issues     []AnalysisIssue `json:"issues,omitempty"`
}
