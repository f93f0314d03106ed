package app

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

// Timer bounds for a session's per-question countdown.
const (
	MinTimerSeconds = 5
	MaxTimerSeconds = 300
)

// maxCodeAttempts bounds the join-code collision retry loop.
const maxCodeAttempts = 8

// SessionRepository abstracts how sessions, participants and answers are
// stored (in-memory, Postgres). Every method is a self-contained unit of
// consistency; ApplyScore in particular must be atomic.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	SessionByCode(ctx context.Context, code string) (domain.Session, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	SessionsByHost(ctx context.Context, hostID string) ([]domain.Session, error)

	// TransitionState flips a session from exactly `from` to `to`, stamping
	// the transition time. When the session is no longer in `from`, it
	// returns the conflict for the state actually observed.
	TransitionState(ctx context.Context, sessionID string, from, to domain.SessionState, at time.Time) error

	// AddParticipant seats a user, returning the stored record. Inserting an
	// existing (session, user) pair is a no-op that returns the prior seat.
	AddParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	Participant(ctx context.Context, sessionID, userID string) (domain.Participant, error)
	// Participants returns the roster in join order.
	Participants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	ParticipantCount(ctx context.Context, sessionID string) (int, error)

	Answer(ctx context.Context, sessionID, userID, questionID string) (domain.AnswerRecord, error)

	// ApplyScore commits the full scoring mutation atomically: record the
	// answer, bump the participant score, append the ledger entry and
	// increment the user's lifetime total. It re-checks that the session is
	// still active inside the transaction. When the question was already
	// answered it applies nothing and returns the original record.
	ApplyScore(ctx context.Context, rec domain.AnswerRecord, ledger domain.LedgerEntry) (ScoreOutcome, error)
}

// ScoreOutcome reports what ApplyScore did.
type ScoreOutcome struct {
	Answer     domain.AnswerRecord
	TotalScore int
	Applied    bool
}

// QuestionBank loads question content. Full rows (answer key included) never
// leave the server; participant payloads go through domain.PlayQuestion.
type QuestionBank interface {
	QuestionsByIDs(ctx context.Context, ids []string) ([]domain.Question, error)
	SelectQuestions(ctx context.Context, sel domain.QuestionSelector) ([]domain.Question, error)
}

// UserDirectory resolves accounts for host checks and display data.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

// LeaderboardCache absorbs the polling herd on the ranked view. A nil cache
// is valid; every read then recomputes.
type LeaderboardCache interface {
	Get(ctx context.Context, sessionID string) (domain.Leaderboard, bool, error)
	Set(ctx context.Context, sessionID string, lb domain.Leaderboard) error
	Invalidate(ctx context.Context, sessionID string) error
}

// SessionService contains the live quiz use cases.
type SessionService struct {
	repo   SessionRepository
	bank   QuestionBank
	users  UserDirectory
	boards LeaderboardCache
	score  ScoreFunc
	now    func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option tunes a SessionService.
type Option func(*SessionService)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithRand injects a seeded source for code generation and shuffling.
func WithRand(rnd *rand.Rand) Option {
	return func(s *SessionService) { s.rnd = rnd }
}

// WithScoreFunc swaps the scoring curve.
func WithScoreFunc(fn ScoreFunc) Option {
	return func(s *SessionService) { s.score = fn }
}

// WithLeaderboardCache attaches a snapshot cache for leaderboard reads.
func WithLeaderboardCache(cache LeaderboardCache) Option {
	return func(s *SessionService) { s.boards = cache }
}

func NewSessionService(repo SessionRepository, bank QuestionBank, users UserDirectory, opts ...Option) *SessionService {
	s := &SessionService{
		repo:  repo,
		bank:  bank,
		users: users,
		score: DefaultScore,
		now:   time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionInput carries everything needed to open a session.
type CreateSessionInput struct {
	Title        string
	Selector     domain.QuestionSelector
	TimerSeconds int
	HostUserID   string
}

// CreateSession validates the input, resolves the question selector once,
// reserves a unique join code and persists the session in the waiting state.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (domain.Session, error) {
	host, err := s.users.GetUser(ctx, in.HostUserID)
	if err != nil {
		return domain.Session{}, err
	}
	if !host.CanHost() {
		return domain.Session{}, domain.ErrNotHost
	}
	if in.Title == "" {
		return domain.Session{}, domain.Invalidf("title is required")
	}
	if in.TimerSeconds < MinTimerSeconds || in.TimerSeconds > MaxTimerSeconds {
		return domain.Session{}, domain.Invalidf("timer must be between %d and %d seconds", MinTimerSeconds, MaxTimerSeconds)
	}

	ids, err := s.resolveQuestions(ctx, in.Selector)
	if err != nil {
		return domain.Session{}, err
	}

	code, err := s.reserveCode(ctx)
	if err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:           uuid.NewString(),
		Code:         code,
		Title:        in.Title,
		QuestionIDs:  ids,
		TimerSeconds: in.TimerSeconds,
		State:        domain.StateWaiting,
		CreatedBy:    in.HostUserID,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateSession(ctx, &session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// resolveQuestions materializes the selector into a concrete, non-empty,
// ordered (or shuffled) list of question IDs.
func (s *SessionService) resolveQuestions(ctx context.Context, sel domain.QuestionSelector) ([]string, error) {
	var questions []domain.Question
	var err error
	if len(sel.QuestionIDs) > 0 {
		questions, err = s.bank.QuestionsByIDs(ctx, sel.QuestionIDs)
		if err != nil {
			return nil, err
		}
		if len(questions) != len(sel.QuestionIDs) {
			return nil, domain.Invalidf("selection references unknown questions")
		}
	} else {
		if sel.Count <= 0 {
			return nil, domain.Invalidf("selection count must be positive")
		}
		questions, err = s.bank.SelectQuestions(ctx, sel)
		if err != nil {
			return nil, err
		}
	}
	if len(questions) == 0 {
		return nil, domain.Invalidf("question selection is empty")
	}

	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	if sel.Shuffle {
		s.mu.Lock()
		s.rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		s.mu.Unlock()
	}
	return ids, nil
}

// reserveCode draws codes until one is free among non-terminal sessions.
func (s *SessionService) reserveCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		s.mu.Lock()
		code := newCode(s.rnd)
		s.mu.Unlock()

		inUse, err := s.repo.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not reserve a unique join code after %d attempts", maxCodeAttempts)
}

// Summary returns the polling-facing view of a session.
func (s *SessionService) Summary(ctx context.Context, code string) (domain.SessionSummary, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return domain.SessionSummary{}, err
	}
	count, err := s.repo.ParticipantCount(ctx, session.ID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	return summarize(session, count), nil
}

// SessionsByHost lists a host's sessions, newest first.
func (s *SessionService) SessionsByHost(ctx context.Context, hostUserID string) ([]domain.SessionSummary, error) {
	sessions, err := s.repo.SessionsByHost(ctx, hostUserID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		count, err := s.repo.ParticipantCount(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summarize(session, count))
	}
	return summaries, nil
}

func summarize(session domain.Session, participants int) domain.SessionSummary {
	return domain.SessionSummary{
		ID:               session.ID,
		Code:             session.Code,
		Title:            session.Title,
		State:            session.State,
		TimerSeconds:     session.TimerSeconds,
		QuestionCount:    len(session.QuestionIDs),
		ParticipantCount: participants,
		CreatedAt:        session.CreatedAt,
		StartedAt:        session.StartedAt,
		EndedAt:          session.EndedAt,
	}
}

// Join seats a user in a waiting session. Re-joining is idempotent and keeps
// working after start so a participant can reconnect after a page refresh.
func (s *SessionService) Join(ctx context.Context, code, userID, displayName string) (domain.Participant, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Participant{}, err
	}

	if existing, err := s.repo.Participant(ctx, session.ID, userID); err == nil {
		return existing, nil
	}

	if session.State != domain.StateWaiting {
		return domain.Participant{}, domain.StateConflict(session.State)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Participant{}, err
	}
	if displayName == "" {
		displayName = user.DisplayName
	}

	participant, err := s.repo.AddParticipant(ctx, domain.Participant{
		SessionID:   session.ID,
		UserID:      userID,
		DisplayName: displayName,
		AvatarRef:   user.AvatarRef,
		Score:       0,
		JoinedAt:    s.now(),
	})
	if err != nil {
		return domain.Participant{}, err
	}
	s.invalidateBoard(ctx, session.ID)
	return participant, nil
}

// Start flips a waiting session to active. Only the creating host (or an
// admin) may start, and never with an empty lobby.
func (s *SessionService) Start(ctx context.Context, code, userID string) (domain.SessionSummary, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return domain.SessionSummary{}, err
	}
	if err := s.requireHost(ctx, session, userID); err != nil {
		return domain.SessionSummary{}, err
	}
	if session.State != domain.StateWaiting {
		return domain.SessionSummary{}, domain.StateConflict(session.State)
	}
	count, err := s.repo.ParticipantCount(ctx, session.ID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	if count == 0 {
		return domain.SessionSummary{}, domain.ErrNoParticipants
	}
	if err := s.repo.TransitionState(ctx, session.ID, domain.StateWaiting, domain.StateActive, s.now()); err != nil {
		return domain.SessionSummary{}, err
	}
	return s.Summary(ctx, session.Code)
}

// End flips an active session to ended and freezes the roster. Ending twice
// reports a conflict so buggy clients surface instead of spinning silently.
func (s *SessionService) End(ctx context.Context, code, userID string) (domain.SessionSummary, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return domain.SessionSummary{}, err
	}
	if err := s.requireHost(ctx, session, userID); err != nil {
		return domain.SessionSummary{}, err
	}
	if session.State != domain.StateActive {
		return domain.SessionSummary{}, domain.StateConflict(session.State)
	}
	if err := s.repo.TransitionState(ctx, session.ID, domain.StateActive, domain.StateEnded, s.now()); err != nil {
		return domain.SessionSummary{}, err
	}
	s.invalidateBoard(ctx, session.ID)
	return s.Summary(ctx, session.Code)
}

func (s *SessionService) requireHost(ctx context.Context, session domain.Session, userID string) error {
	if userID == session.CreatedBy {
		return nil
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil || user.Role != domain.RoleAdmin {
		return domain.ErrNotHost
	}
	return nil
}

// ListParticipants returns the lobby roster in join order.
func (s *SessionService) ListParticipants(ctx context.Context, code string) ([]domain.Participant, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	return s.repo.Participants(ctx, session.ID)
}

// QuestionSet returns the sanitized question list for an active session.
// Only participants may fetch it, and never before the host starts the game.
func (s *SessionService) QuestionSet(ctx context.Context, code, userID string) ([]domain.PlayQuestion, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if session.State != domain.StateActive {
		return nil, domain.StateConflict(session.State)
	}
	if _, err := s.repo.Participant(ctx, session.ID, userID); err != nil {
		return nil, domain.ErrNotParticipant
	}

	questions, err := s.bank.QuestionsByIDs(ctx, session.QuestionIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	// Preserve the session's fixed (possibly shuffled) order.
	set := make([]domain.PlayQuestion, 0, len(session.QuestionIDs))
	for _, id := range session.QuestionIDs {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("question %s missing from bank", id)
		}
		set = append(set, q.Play())
	}
	return set, nil
}

// SubmitAnswer validates and scores one answer. The full mutation (answer
// record, participant score, point ledger, lifetime total) commits
// atomically in the repository. A duplicate submission applies nothing and
// returns the original result alongside ErrQuestionAnswered.
func (s *SessionService) SubmitAnswer(ctx context.Context, code, userID, questionID string, answer bool, timeRemaining int) (domain.SubmitResult, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if session.State != domain.StateActive {
		return domain.SubmitResult{}, domain.StateConflict(session.State)
	}
	if !containsID(session.QuestionIDs, questionID) {
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}
	if _, err := s.repo.Participant(ctx, session.ID, userID); err != nil {
		return domain.SubmitResult{}, domain.ErrNotParticipant
	}

	questions, err := s.bank.QuestionsByIDs(ctx, []string{questionID})
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if len(questions) == 0 {
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}
	question := questions[0]

	// The client reports time remaining on the shared countdown; clamp it so
	// a spoofed value cannot exceed the configured timer.
	if timeRemaining < 0 {
		timeRemaining = 0
	}
	if timeRemaining > session.TimerSeconds {
		timeRemaining = session.TimerSeconds
	}

	correct := answer == question.CorrectAnswer
	points := s.score(correct, timeRemaining, session.TimerSeconds)

	rec := domain.AnswerRecord{
		SessionID:     session.ID,
		UserID:        userID,
		QuestionID:    questionID,
		Answer:        answer,
		TimeRemaining: timeRemaining,
		IsCorrect:     correct,
		Points:        points,
		AnsweredAt:    s.now(),
	}
	ledger := domain.LedgerEntry{
		UserID:       userID,
		Amount:       points,
		ActivityType: domain.ActivityQuiz,
		ReferenceID:  session.ID + "/" + questionID,
		Description:  "live quiz: " + session.Title,
		CreatedAt:    rec.AnsweredAt,
	}

	outcome, err := s.repo.ApplyScore(ctx, rec, ledger)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	result := domain.SubmitResult{
		QuestionID:    questionID,
		IsCorrect:     outcome.Answer.IsCorrect,
		PointsAwarded: outcome.Answer.Points,
		Explanation:   question.Explanation,
		TotalScore:    outcome.TotalScore,
	}
	if !outcome.Applied {
		result.AlreadyAnswered = true
		return result, domain.ErrQuestionAnswered
	}
	s.invalidateBoard(ctx, session.ID)
	return result, nil
}

// ParticipantAnswer returns the caller's recorded result for one question,
// so a reconnecting client can restore what it already answered.
func (s *SessionService) ParticipantAnswer(ctx context.Context, code, userID, questionID string) (domain.SubmitResult, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return domain.SubmitResult{}, err
	}
	rec, err := s.repo.Answer(ctx, session.ID, userID, questionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	participant, err := s.repo.Participant(ctx, session.ID, userID)
	if err != nil {
		return domain.SubmitResult{}, domain.ErrNotParticipant
	}

	result := domain.SubmitResult{
		QuestionID:      questionID,
		IsCorrect:       rec.IsCorrect,
		PointsAwarded:   rec.Points,
		TotalScore:      participant.Score,
		AlreadyAnswered: true,
	}
	if questions, err := s.bank.QuestionsByIDs(ctx, []string{questionID}); err == nil && len(questions) > 0 {
		result.Explanation = questions[0].Explanation
	}
	return result, nil
}

// Leaderboard ranks participants by score, ties broken by join order. The
// sort is stable over a join-ordered roster, so repeated polls see identical
// ordering for identical scores.
func (s *SessionService) Leaderboard(ctx context.Context, code string) (domain.Leaderboard, error) {
	session, err := s.repo.SessionByCode(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Leaderboard{}, err
	}

	if s.boards != nil {
		if lb, ok, err := s.boards.Get(ctx, session.ID); err == nil && ok {
			return lb, nil
		}
	}

	participants, err := s.repo.Participants(ctx, session.ID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Score > participants[j].Score
	})

	entries := make([]domain.LeaderboardEntry, len(participants))
	for i, p := range participants {
		entries[i] = domain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		}
	}

	lb := domain.Leaderboard{
		SessionCode: session.Code,
		Entries:     entries,
		UpdatedAt:   s.now(),
	}
	if s.boards != nil {
		_ = s.boards.Set(ctx, session.ID, lb)
	}
	return lb, nil
}

func (s *SessionService) invalidateBoard(ctx context.Context, sessionID string) {
	if s.boards != nil {
		_ = s.boards.Invalidate(ctx, sessionID)
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
