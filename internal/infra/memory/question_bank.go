package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// QuestionBank is a static in-memory question bank (useful for tests/demos).
type QuestionBank struct {
	mu        sync.RWMutex
	questions map[string]domain.Question
	order     []string
}

func NewQuestionBank(questions []domain.Question) *QuestionBank {
	bank := &QuestionBank{questions: make(map[string]domain.Question, len(questions))}
	for _, q := range questions {
		bank.questions[q.ID] = q
		bank.order = append(bank.order, q.ID)
	}
	return bank
}

func (b *QuestionBank) QuestionsByIDs(_ context.Context, ids []string) ([]domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := b.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *QuestionBank) SelectQuestions(_ context.Context, sel domain.QuestionSelector) ([]domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Question, 0, sel.Count)
	for _, id := range b.order {
		q := b.questions[id]
		if sel.Category != "" && q.Category != sel.Category {
			continue
		}
		if sel.Difficulty != "" && q.Difficulty != sel.Difficulty {
			continue
		}
		out = append(out, q)
		if len(out) == sel.Count {
			break
		}
	}
	return out, nil
}

// UserDirectory is a static in-memory account directory.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewUserDirectory(users ...domain.User) *UserDirectory {
	dir := &UserDirectory{users: make(map[string]domain.User, len(users))}
	for _, u := range users {
		dir.users[u.ID] = u
	}
	return dir
}

func (d *UserDirectory) GetUser(_ context.Context, userID string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[userID]; ok {
		return u, nil
	}
	return domain.User{}, domain.ErrUserNotFound
}
