package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// QuestionCache caches question rows in Redis (one JSON value per question)
// and falls back to the bank on cache miss. Every answer submission re-reads
// its question, so this sits directly on the hot path.
// Keys: SET question:{questionID} {json}
type QuestionCache struct {
	client *redis.Client
	bank   app.QuestionBank
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, bank app.QuestionBank, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		bank:   bank,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) QuestionsByIDs(ctx context.Context, ids []string) ([]domain.Question, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = questionKey(id)
	}

	if cached, ok := c.fromCache(ctx, keys); ok {
		return cached, nil
	}

	result, err, _ := c.sf.Do(strings.Join(ids, ","), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if cached, ok := c.fromCache(ctx, keys); ok {
			return cached, nil
		}

		questions, err := c.bank.QuestionsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}

		pipe := c.client.Pipeline()
		for _, q := range questions {
			data, err := json.Marshal(q)
			if err != nil {
				continue
			}
			pipe.Set(ctx, questionKey(q.ID), data, c.ttlWithJitter())
		}
		_, _ = pipe.Exec(ctx)

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) SelectQuestions(ctx context.Context, sel domain.QuestionSelector) ([]domain.Question, error) {
	// Selection happens once at session creation; not worth caching.
	return c.bank.SelectQuestions(ctx, sel)
}

// fromCache returns the cached questions only when every key is present, so
// a partially warm cache never produces a short question set.
func (c *QuestionCache) fromCache(ctx context.Context, keys []string) ([]domain.Question, bool) {
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil || len(values) != len(keys) {
		return nil, false
	}
	questions := make([]domain.Question, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, false
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, false
		}
		questions = append(questions, q)
	}
	return questions, true
}

func questionKey(id string) string {
	return "question:" + id
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
