package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Handler exposes the session engine as a JSON polling API. Clients re-issue
// reads every few seconds instead of holding connections; there is no
// server-side push.
type Handler struct {
	service *app.SessionService
}

func NewHandler(service *app.SessionService) *Handler {
	return &Handler{service: service}
}

// Register wires all routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.createSession)
	mux.HandleFunc("GET /sessions", h.listSessions)
	mux.HandleFunc("GET /sessions/{code}", h.getSession)
	mux.HandleFunc("POST /sessions/{code}/join", h.join)
	mux.HandleFunc("POST /sessions/{code}/start", h.start)
	mux.HandleFunc("POST /sessions/{code}/end", h.end)
	mux.HandleFunc("GET /sessions/{code}/participants", h.listParticipants)
	mux.HandleFunc("GET /sessions/{code}/questions", h.questionSet)
	mux.HandleFunc("POST /sessions/{code}/answers", h.submitAnswer)
	mux.HandleFunc("GET /sessions/{code}/answers/{questionId}", h.participantAnswer)
	mux.HandleFunc("GET /sessions/{code}/leaderboard", h.leaderboard)
}

type createSessionRequest struct {
	Title        string                  `json:"title"`
	TimerSeconds int                     `json:"timerSeconds"`
	Selector     domain.QuestionSelector `json:"selector"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalidf("malformed request body"))
		return
	}
	session, err := h.service.CreateSession(r.Context(), app.CreateSessionInput{
		Title:        req.Title,
		Selector:     req.Selector,
		TimerSeconds: req.TimerSeconds,
		HostUserID:   userID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: session.ID, Code: session.Code})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("hostUserId")
	if hostID == "" {
		writeError(w, domain.Invalidf("hostUserId is required"))
		return
	}
	summaries, err := h.service.SessionsByHost(r.Context(), hostID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type joinRequest struct {
	DisplayName string `json:"displayName"`
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.Invalidf("malformed request body"))
			return
		}
	}
	participant, err := h.service.Join(r.Context(), r.PathValue("code"), userID, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Start(r.Context(), r.PathValue("code"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) end(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	summary, err := h.service.End(r.Context(), r.PathValue("code"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.service.ListParticipants(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

func (h *Handler) questionSet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	questions, err := h.service.QuestionSet(r.Context(), r.PathValue("code"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

type submitAnswerRequest struct {
	QuestionID           string `json:"questionId"`
	Answer               bool   `json:"answer"`
	TimeRemainingSeconds int    `json:"timeRemainingSeconds"`
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalidf("malformed request body"))
		return
	}
	if req.QuestionID == "" {
		writeError(w, domain.Invalidf("questionId is required"))
		return
	}
	result, err := h.service.SubmitAnswer(r.Context(), r.PathValue("code"), userID, req.QuestionID, req.Answer, req.TimeRemainingSeconds)
	if errors.Is(err, domain.ErrQuestionAnswered) {
		// Duplicate: conflict status, but carry the original result so the
		// operation stays idempotent from the client's perspective.
		writeJSON(w, http.StatusConflict, result)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) participantAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := h.service.ParticipantAnswer(r.Context(), r.PathValue("code"), userID, r.PathValue("questionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.service.Leaderboard(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// identity extracts the caller's user ID. The platform gateway authenticates
// upstream and forwards the identity in a header.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorBody{
			Code:    "authorization",
			Message: "missing X-User-ID header",
		}})
		return "", false
	}
	return userID, true
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	message := err.Error()
	if kind == domain.KindInternal {
		log.Printf("internal error: %v", err)
		message = "internal error"
	}
	writeJSON(w, statusFor(kind), errorResponse{Error: errorBody{
		Code:    kind.Code(),
		Message: message,
	}})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
