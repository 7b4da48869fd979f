package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"linguaflow/voice/internal/corrections"
	"linguaflow/voice/internal/session"
	"linguaflow/voice/internal/store"
	"linguaflow/voice/internal/types"
)

type Handlers struct {
	sessions    *session.Store
	corrections *corrections.Aggregator
	repo        *store.Store
}

func NewHandlers(sessions *session.Store, agg *corrections.Aggregator, repo *store.Store) *Handlers {
	return &Handlers{sessions: sessions, corrections: agg, repo: repo}
}

type createSessionRequest struct {
	VoicePracticeSessionID string        `json:"voicePracticeSessionId"`
	StudentID              string        `json:"studentId"`
	Context                types.Context `json:"context"`
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, secret, err := h.sessions.Create(r.Context(), req.StudentID, req.VoicePracticeSessionID, req.Context)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId":    sess.ID,
		"clientSecret": secret,
		"state":        sess.State,
		"createdAt":    sess.CreatedAt,
	})
}

type appendAudioRequest struct {
	AudioBase64 string `json:"audioBase64"`
}

func (h *Handlers) HandleAppendAudio(w http.ResponseWriter, r *http.Request, id string) {
	var req appendAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AudioBase64 == "" {
		writeJSONError(w, http.StatusBadRequest, "audioBase64 is required")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "audioBase64 is not valid base64")
		return
	}
	if err := h.sessions.AppendAudio(id, payload); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) HandleCommit(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.sessions.Commit(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	events, err := h.sessions.ConsumeEvents(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     events,
	})
}

func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.sessions.End(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":          sess,
		"transcript_count": len(h.repo.Transcripts(id)),
		"correction_count": h.repo.CorrectionCount(id),
	})
}

type correctionsRequest struct {
	SessionID    string `json:"sessionId"`
	StudentID    string `json:"studentId"`
	StudentLevel string `json:"studentLevel"`
}

func (h *Handlers) HandleGenerateCorrections(w http.ResponseWriter, r *http.Request) {
	var req correctionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	result := h.corrections.Generate(r.Context(), req.SessionID, req.StudentLevel)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  req.SessionID,
		"corrections": result,
	})
}

// writeError maps the session error taxonomy to HTTP statuses. Unknown ids
// are client mistakes and logged quieter than real failures.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		log.Printf("[api] unknown session: %v", err)
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrConfiguration):
		log.Printf("[api] ERROR configuration: %v", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, session.ErrUpstream):
		log.Printf("[api] ERROR upstream: %v", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("[api] ERROR internal: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
