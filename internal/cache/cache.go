// Package cache keeps classified penalty query outcomes in Redis so repeat
// lookups skip the browser.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ionex/idverify/pkg/penalty"
)

const keyPrefix = "idverify:query:"

// NewClient connects to url and pings it. It returns nil, nil when url is
// empty, meaning caching is off.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// QueryCache implements penalty.Cache.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

type entry struct {
	HasViolation bool      `json:"hasViolation"`
	ResultText   string    `json:"resultText"`
	CheckedAt    time.Time `json:"checkedAt"`
}

func NewQueryCache(client *redis.Client, ttl time.Duration) *QueryCache {
	return &QueryCache{client: client, ttl: ttl}
}

// Key hashes the ID number and birth date so neither is stored in clear.
func Key(idNumber, birthDate string) string {
	sum := sha256.Sum256([]byte(idNumber + "|" + birthDate))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (c *QueryCache) Lookup(ctx context.Context, idNumber, birthDate string) (penalty.Outcome, bool, error) {
	raw, err := c.client.Get(ctx, Key(idNumber, birthDate)).Bytes()
	if errors.Is(err, redis.Nil) {
		return penalty.Outcome{}, false, nil
	}
	if err != nil {
		return penalty.Outcome{}, false, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return penalty.Outcome{}, false, fmt.Errorf("decode cached outcome: %w", err)
	}
	return penalty.Outcome{HasViolation: e.HasViolation, ResultText: e.ResultText}, true, nil
}

// Store records only the classification; attempt counts and errors belong
// to the query that produced it.
func (c *QueryCache) Store(ctx context.Context, idNumber, birthDate string, outcome penalty.Outcome) error {
	data, err := json.Marshal(entry{
		HasViolation: outcome.HasViolation,
		ResultText:   outcome.ResultText,
		CheckedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(idNumber, birthDate), data, c.ttl).Err()
}
