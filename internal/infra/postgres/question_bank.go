package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// QuestionBank reads the platform's true/false question bank from Postgres.
// The session engine treats it as read-only.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

func (b *QuestionBank) QuestionsByIDs(ctx context.Context, ids []string) ([]domain.Question, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, text, correct_answer, explanation, category, difficulty
		 FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func (b *QuestionBank) SelectQuestions(ctx context.Context, sel domain.QuestionSelector) ([]domain.Question, error) {
	query := `SELECT id, text, correct_answer, explanation, category, difficulty
		 FROM questions WHERE ($1 = '' OR category = $1) AND ($2 = '' OR difficulty = $2)
		 ORDER BY random() LIMIT $3`
	rows, err := b.pool.Query(ctx, query, sel.Category, sel.Difficulty, sel.Count)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func scanQuestions(rows pgx.Rows) ([]domain.Question, error) {
	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Text, &q.CorrectAnswer, &q.Explanation, &q.Category, &q.Difficulty); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UserDirectory resolves accounts from the platform's user_profiles table.
type UserDirectory struct {
	pool *pgxpool.Pool
}

func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

func (d *UserDirectory) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := d.pool.QueryRow(ctx,
		`SELECT user_id, display_name, avatar_ref, role FROM user_profiles WHERE user_id = $1`,
		userID).Scan(&u.ID, &u.DisplayName, &u.AvatarRef, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}
