package memory

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// QuestionCache caches materialized question sets with TTL to avoid hitting
// the bank on every answer submission. Selection is a creation-time-only
// concern and passes through uncached.
type QuestionCache struct {
	bank  app.QuestionBank
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(bank app.QuestionBank, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		bank:  bank,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedSet),
	}
}

func (c *QuestionCache) QuestionsByIDs(ctx context.Context, ids []string) ([]domain.Question, error) {
	key := strings.Join(ids, ",")
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.questions, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.questions, nil
		}
		c.mu.RUnlock()

		questions, err := c.bank.QuestionsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[key] = cachedSet{questions: questions, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) SelectQuestions(ctx context.Context, sel domain.QuestionSelector) ([]domain.Question, error) {
	return c.bank.SelectQuestions(ctx, sel)
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
