package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository. It
// backs tests and the dependency-free demo mode; a single mutex gives it the
// same all-or-nothing scoring semantics as the Postgres transaction.
type SessionStore struct {
	mu           sync.RWMutex
	sessions     map[string]*domain.Session
	byCode       map[string]string
	participants map[string][]*domain.Participant
	answers      map[string]domain.AnswerRecord
	ledger       []domain.LedgerEntry
	totals       map[string]int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:     make(map[string]*domain.Session),
		byCode:       make(map[string]string),
		participants: make(map[string][]*domain.Participant),
		answers:      make(map[string]domain.AnswerRecord),
		totals:       make(map[string]int),
	}
}

func answerKey(sessionID, userID, questionID string) string {
	return sessionID + "|" + userID + "|" + questionID
}

func (s *SessionStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *session
	s.sessions[stored.ID] = &stored
	s.byCode[stored.Code] = stored.ID
	return nil
}

func (s *SessionStore) SessionByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return *s.sessions[id], nil
}

func (s *SessionStore) CodeInUse(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return false, nil
	}
	// Terminal sessions release their code for reuse.
	return s.sessions[id].State != domain.StateEnded, nil
}

func (s *SessionStore) SessionsByHost(_ context.Context, hostID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Session
	for _, session := range s.sessions {
		if session.CreatedBy == hostID {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *SessionStore) TransitionState(_ context.Context, sessionID string, from, to domain.SessionState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.State != from {
		return domain.StateConflict(session.State)
	}
	session.State = to
	switch to {
	case domain.StateActive:
		session.StartedAt = &at
	case domain.StateEnded:
		session.EndedAt = &at
	}
	return nil
}

func (s *SessionStore) AddParticipant(_ context.Context, p domain.Participant) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[p.SessionID]; !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	for _, existing := range s.participants[p.SessionID] {
		if existing.UserID == p.UserID {
			return *existing, nil
		}
	}
	stored := p
	s.participants[p.SessionID] = append(s.participants[p.SessionID], &stored)
	return stored, nil
}

func (s *SessionStore) Participant(_ context.Context, sessionID, userID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants[sessionID] {
		if p.UserID == userID {
			return *p, nil
		}
	}
	return domain.Participant{}, domain.ErrNotParticipant
}

func (s *SessionStore) Participants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := s.participants[sessionID]
	out := make([]domain.Participant, len(roster))
	for i, p := range roster {
		out[i] = *p
	}
	return out, nil
}

func (s *SessionStore) ParticipantCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants[sessionID]), nil
}

func (s *SessionStore) Answer(_ context.Context, sessionID, userID, questionID string) (domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.answers[answerKey(sessionID, userID, questionID)]
	if !ok {
		return domain.AnswerRecord{}, domain.ErrAnswerNotFound
	}
	return rec, nil
}

func (s *SessionStore) ApplyScore(_ context.Context, rec domain.AnswerRecord, ledger domain.LedgerEntry) (app.ScoreOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[rec.SessionID]
	if !ok {
		return app.ScoreOutcome{}, domain.ErrSessionNotFound
	}
	if session.State != domain.StateActive {
		return app.ScoreOutcome{}, domain.StateConflict(session.State)
	}

	var participant *domain.Participant
	for _, p := range s.participants[rec.SessionID] {
		if p.UserID == rec.UserID {
			participant = p
			break
		}
	}
	if participant == nil {
		return app.ScoreOutcome{}, domain.ErrNotParticipant
	}

	key := answerKey(rec.SessionID, rec.UserID, rec.QuestionID)
	if existing, ok := s.answers[key]; ok {
		return app.ScoreOutcome{Answer: existing, TotalScore: participant.Score, Applied: false}, nil
	}

	s.answers[key] = rec
	participant.Score += rec.Points
	s.ledger = append(s.ledger, ledger)
	s.totals[rec.UserID] += ledger.Amount
	return app.ScoreOutcome{Answer: rec, TotalScore: participant.Score, Applied: true}, nil
}

// LedgerEntries exposes the recorded earnings, in append order.
func (s *SessionStore) LedgerEntries() []domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LedgerEntry, len(s.ledger))
	copy(out, s.ledger)
	return out
}

// TotalPoints returns a user's accumulated lifetime points.
func (s *SessionStore) TotalPoints(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals[userID]
}
