package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// scoreRetries bounds the internal retry of transaction conflicts during
// concurrent scoring. Client-caused errors are never retried.
const scoreRetries = 3

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions,alias:qs"`

	ID           string     `bun:"id,pk"`
	Code         string     `bun:"code,notnull"`
	Title        string     `bun:"title,notnull"`
	State        string     `bun:"state,notnull"`
	QuestionIDs  []string   `bun:"question_ids,array"`
	TimerSeconds int        `bun:"timer_seconds,notnull"`
	CreatedBy    string     `bun:"created_by,notnull"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	StartedAt    *time.Time `bun:"started_at"`
	EndedAt      *time.Time `bun:"ended_at"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:quiz_participants,alias:qp"`

	SessionID   string    `bun:"session_id,pk"`
	UserID      string    `bun:"user_id,pk"`
	DisplayName string    `bun:"display_name,notnull"`
	AvatarRef   string    `bun:"avatar_ref"`
	Score       int       `bun:"score,notnull"`
	JoinedAt    time.Time `bun:"joined_at,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:quiz_answers,alias:qa"`

	SessionID     string    `bun:"session_id,pk"`
	UserID        string    `bun:"user_id,pk"`
	QuestionID    string    `bun:"question_id,pk"`
	Answer        bool      `bun:"answer,notnull"`
	TimeRemaining int       `bun:"time_remaining,notnull"`
	IsCorrect     bool      `bun:"is_correct,notnull"`
	Points        int       `bun:"points,notnull"`
	AnsweredAt    time.Time `bun:"answered_at,notnull"`
}

type ledgerRow struct {
	bun.BaseModel `bun:"table:point_ledger,alias:pl"`

	ID           int64     `bun:"id,pk,autoincrement"`
	UserID       string    `bun:"user_id,notnull"`
	Amount       int       `bun:"amount,notnull"`
	ActivityType string    `bun:"activity_type,notnull"`
	ReferenceID  string    `bun:"reference_id,notnull"`
	Description  string    `bun:"description"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

type profileRow struct {
	bun.BaseModel `bun:"table:user_profiles,alias:up"`

	UserID      string `bun:"user_id,pk"`
	DisplayName string `bun:"display_name"`
	AvatarRef   string `bun:"avatar_ref"`
	Role        string `bun:"role"`
	TotalPoints int    `bun:"total_points,notnull"`
}

// SessionStore is the durable bun-backed implementation of
// app.SessionRepository. Sessions, roster and answers share one database so
// the scoring mutation commits in a single transaction.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	row := sessionRowFrom(*session)
	_, err := s.db.NewInsert().Model(&row).Exec(ctx)
	return err
}

func (s *SessionStore) SessionByCode(ctx context.Context, code string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("code = ?", code).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	return s.db.NewSelect().Model((*sessionRow)(nil)).
		Where("code = ?", code).
		Where("state != ?", string(domain.StateEnded)).
		Exists(ctx)
}

func (s *SessionStore) SessionsByHost(ctx context.Context, hostID string) ([]domain.Session, error) {
	var rows []sessionRow
	err := s.db.NewSelect().Model(&rows).
		Where("created_by = ?", hostID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, len(rows))
	for i, row := range rows {
		sessions[i] = row.toDomain()
	}
	return sessions, nil
}

func (s *SessionStore) TransitionState(ctx context.Context, sessionID string, from, to domain.SessionState, at time.Time) error {
	q := s.db.NewUpdate().Model((*sessionRow)(nil)).
		Set("state = ?", string(to)).
		Where("id = ?", sessionID).
		Where("state = ?", string(from))
	switch to {
	case domain.StateActive:
		q = q.Set("started_at = ?", at)
	case domain.StateEnded:
		q = q.Set("ended_at = ?", at)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// Lost the transition race; report the state actually observed.
	var state string
	err = s.db.NewSelect().Model((*sessionRow)(nil)).
		Column("state").
		Where("id = ?", sessionID).
		Scan(ctx, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return domain.StateConflict(domain.SessionState(state))
}

func (s *SessionStore) AddParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	row := participantRow{
		SessionID:   p.SessionID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
		Score:       p.Score,
		JoinedAt:    p.JoinedAt,
	}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (session_id, user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Participant{}, err
	}
	// Read back: either the fresh seat or the one that won the race.
	return s.Participant(ctx, p.SessionID, p.UserID)
}

func (s *SessionStore) Participant(ctx context.Context, sessionID, userID string) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewSelect().Model(&row).
		Where("session_id = ?", sessionID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrNotParticipant
	}
	if err != nil {
		return domain.Participant{}, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var rows []participantRow
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC", "user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	participants := make([]domain.Participant, len(rows))
	for i, row := range rows {
		participants[i] = row.toDomain()
	}
	return participants, nil
}

func (s *SessionStore) ParticipantCount(ctx context.Context, sessionID string) (int, error) {
	return s.db.NewSelect().Model((*participantRow)(nil)).
		Where("session_id = ?", sessionID).
		Count(ctx)
}

func (s *SessionStore) Answer(ctx context.Context, sessionID, userID, questionID string) (domain.AnswerRecord, error) {
	var row answerRow
	err := s.db.NewSelect().Model(&row).
		Where("session_id = ?", sessionID).
		Where("user_id = ?", userID).
		Where("question_id = ?", questionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnswerRecord{}, domain.ErrAnswerNotFound
	}
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	return row.toDomain(), nil
}

// ApplyScore commits the scoring mutation in one transaction: answer insert
// (the primary key is the at-most-once guarantee), participant score bump,
// ledger append and lifetime-total upsert. Transaction conflicts from benign
// contention are retried a bounded number of times.
func (s *SessionStore) ApplyScore(ctx context.Context, rec domain.AnswerRecord, ledger domain.LedgerEntry) (app.ScoreOutcome, error) {
	var outcome app.ScoreOutcome
	var err error
	for attempt := 0; attempt < scoreRetries; attempt++ {
		outcome, err = s.applyScoreOnce(ctx, rec, ledger)
		if err == nil || !retriable(err) {
			return outcome, err
		}
	}
	return outcome, err
}

func (s *SessionStore) applyScoreOnce(ctx context.Context, rec domain.AnswerRecord, ledger domain.LedgerEntry) (app.ScoreOutcome, error) {
	var outcome app.ScoreOutcome
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Shared lock on the session row: submissions proceed concurrently
		// while an in-flight end transition blocks until they commit.
		var state string
		err := tx.NewSelect().Model((*sessionRow)(nil)).
			Column("state").
			Where("id = ?", rec.SessionID).
			For("SHARE").
			Scan(ctx, &state)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if domain.SessionState(state) != domain.StateActive {
			return domain.StateConflict(domain.SessionState(state))
		}

		row := answerRowFrom(rec)
		res, err := tx.NewInsert().Model(&row).
			On("CONFLICT (session_id, user_id, question_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Already answered: surface the original result unchanged.
			var prior answerRow
			if err := tx.NewSelect().Model(&prior).
				Where("session_id = ?", rec.SessionID).
				Where("user_id = ?", rec.UserID).
				Where("question_id = ?", rec.QuestionID).
				Scan(ctx); err != nil {
				return err
			}
			var score int
			if err := tx.NewSelect().Model((*participantRow)(nil)).
				Column("score").
				Where("session_id = ?", rec.SessionID).
				Where("user_id = ?", rec.UserID).
				Scan(ctx, &score); err != nil {
				return err
			}
			outcome = app.ScoreOutcome{Answer: prior.toDomain(), TotalScore: score, Applied: false}
			return nil
		}

		upd, err := tx.NewUpdate().Model((*participantRow)(nil)).
			Set("score = score + ?", rec.Points).
			Where("session_id = ?", rec.SessionID).
			Where("user_id = ?", rec.UserID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := upd.RowsAffected(); n == 0 {
			return domain.ErrNotParticipant
		}
		var total int
		if err := tx.NewSelect().Model((*participantRow)(nil)).
			Column("score").
			Where("session_id = ?", rec.SessionID).
			Where("user_id = ?", rec.UserID).
			Scan(ctx, &total); err != nil {
			return err
		}

		entry := ledgerRow{
			UserID:       ledger.UserID,
			Amount:       ledger.Amount,
			ActivityType: ledger.ActivityType,
			ReferenceID:  ledger.ReferenceID,
			Description:  ledger.Description,
			CreatedAt:    ledger.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(&entry).Exec(ctx); err != nil {
			return err
		}

		profile := profileRow{UserID: ledger.UserID, TotalPoints: ledger.Amount}
		if _, err := tx.NewInsert().Model(&profile).
			On("CONFLICT (user_id) DO UPDATE").
			Set("total_points = up.total_points + EXCLUDED.total_points").
			Exec(ctx); err != nil {
			return err
		}

		outcome = app.ScoreOutcome{Answer: rec, TotalScore: total, Applied: true}
		return nil
	})
	return outcome, err
}

// retriable reports whether err is a transient serialization or deadlock
// failure worth retrying.
func retriable(err error) bool {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Field('C') {
	case "40001", "40P01":
		return true
	}
	return false
}

func sessionRowFrom(session domain.Session) sessionRow {
	return sessionRow{
		ID:           session.ID,
		Code:         session.Code,
		Title:        session.Title,
		State:        string(session.State),
		QuestionIDs:  session.QuestionIDs,
		TimerSeconds: session.TimerSeconds,
		CreatedBy:    session.CreatedBy,
		CreatedAt:    session.CreatedAt,
		StartedAt:    session.StartedAt,
		EndedAt:      session.EndedAt,
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:           r.ID,
		Code:         r.Code,
		Title:        r.Title,
		State:        domain.SessionState(r.State),
		QuestionIDs:  r.QuestionIDs,
		TimerSeconds: r.TimerSeconds,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
	}
}

func (r participantRow) toDomain() domain.Participant {
	return domain.Participant{
		SessionID:   r.SessionID,
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		AvatarRef:   r.AvatarRef,
		Score:       r.Score,
		JoinedAt:    r.JoinedAt,
	}
}

func answerRowFrom(rec domain.AnswerRecord) answerRow {
	return answerRow{
		SessionID:     rec.SessionID,
		UserID:        rec.UserID,
		QuestionID:    rec.QuestionID,
		Answer:        rec.Answer,
		TimeRemaining: rec.TimeRemaining,
		IsCorrect:     rec.IsCorrect,
		Points:        rec.Points,
		AnsweredAt:    rec.AnsweredAt,
	}
}

func (r answerRow) toDomain() domain.AnswerRecord {
	return domain.AnswerRecord{
		SessionID:     r.SessionID,
		UserID:        r.UserID,
		QuestionID:    r.QuestionID,
		Answer:        r.Answer,
		TimeRemaining: r.TimeRemaining,
		IsCorrect:     r.IsCorrect,
		Points:        r.Points,
		AnsweredAt:    r.AnsweredAt,
	}
}
