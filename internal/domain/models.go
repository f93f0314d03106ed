package domain

import "time"

// SessionState is the lifecycle state of a live quiz session.
// Sessions only ever move forward: waiting -> active -> ended.
type SessionState string

const (
	StateWaiting SessionState = "waiting"
	StateActive  SessionState = "active"
	StateEnded   SessionState = "ended"
)

// Session is one live quiz competition instance with a shared join code.
// QuestionIDs are materialized at creation time and immutable afterwards.
type Session struct {
	ID           string
	Code         string
	Title        string
	QuestionIDs  []string
	TimerSeconds int
	State        SessionState
	CreatedBy    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// SessionSummary is the polling-facing view of a session.
type SessionSummary struct {
	ID               string       `json:"id"`
	Code             string       `json:"code"`
	Title            string       `json:"title"`
	State            SessionState `json:"state"`
	TimerSeconds     int          `json:"timerSeconds"`
	QuestionCount    int          `json:"questionCount"`
	ParticipantCount int          `json:"participantCount"`
	CreatedAt        time.Time    `json:"createdAt"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	EndedAt          *time.Time   `json:"endedAt,omitempty"`
}

// Participant is a single user's seat and running score within one session.
type Participant struct {
	SessionID   string    `json:"-"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	Score       int       `json:"score"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Question is the question bank's full row, answer key included.
// It must never be serialized to a participant; see PlayQuestion.
type Question struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	CorrectAnswer bool   `json:"correctAnswer"`
	Explanation   string `json:"explanation"`
	Category      string `json:"category"`
	Difficulty    string `json:"difficulty"`
}

// PlayQuestion is the participant-facing projection of a question with the
// answer key and explanation stripped.
type PlayQuestion struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

// Play returns the sanitized projection of q.
func (q Question) Play() PlayQuestion {
	return PlayQuestion{ID: q.ID, Text: q.Text, Category: q.Category, Difficulty: q.Difficulty}
}

// QuestionSelector describes how a session's question set is materialized at
// creation time. Explicit IDs win; otherwise Count questions matching the
// filters are drawn from the bank. The selection is resolved exactly once.
type QuestionSelector struct {
	QuestionIDs []string `json:"questionIds,omitempty"`
	Category    string   `json:"category,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
	Count       int      `json:"count,omitempty"`
	Shuffle     bool     `json:"shuffle,omitempty"`
}

// AnswerRecord is a participant's accepted answer for one question.
type AnswerRecord struct {
	SessionID     string
	UserID        string
	QuestionID    string
	Answer        bool
	TimeRemaining int
	IsCorrect     bool
	Points        int
	AnsweredAt    time.Time
}

// SubmitResult is what a participant learns after their answer is accepted.
// Explanation is only ever populated post-submission.
type SubmitResult struct {
	QuestionID      string `json:"questionId"`
	IsCorrect       bool   `json:"isCorrect"`
	PointsAwarded   int    `json:"pointsAwarded"`
	Explanation     string `json:"explanation"`
	TotalScore      int    `json:"totalScore"`
	AlreadyAnswered bool   `json:"alreadyAnswered,omitempty"`
}

// LeaderboardEntry is one ranked row of a session's scoreboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a session. It is a pure
// projection recomputed on demand; UpdatedAt stamps the computation.
type Leaderboard struct {
	SessionCode string             `json:"sessionCode"`
	Entries     []LeaderboardEntry `json:"entries"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// User is the directory's view of an account.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	Role        string `json:"role"`
}

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// CanHost reports whether the user may create and drive live sessions.
func (u User) CanHost() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}

// LedgerEntry is an append-only point earning record.
type LedgerEntry struct {
	UserID       string
	Amount       int
	ActivityType string
	ReferenceID  string
	Description  string
	CreatedAt    time.Time
}

// ActivityQuiz tags ledger entries produced by live quiz scoring.
const ActivityQuiz = "quiz"
