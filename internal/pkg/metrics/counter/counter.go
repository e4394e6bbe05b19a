package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/looplist/looplist/internal/pkg/cache"
)

const (
	loginsKey       = "auth:counters:logins"
	refreshesKey    = "auth:counters:refreshes"
	authFailuresKey = "auth:counters:failures"
)

// AddLogin increments the login counter for today's bucket in Redis
func AddLogin() error {
	return incr(loginsKey)
}

// AddRefresh increments the token refresh counter for today's bucket
func AddRefresh() error {
	return incr(refreshesKey)
}

// AddAuthFailure increments the rejected-credential counter for today's bucket
func AddAuthFailure() error {
	return incr(authFailuresKey)
}

// Today returns today's values for logins, refreshes and failures.
func Today() (logins, refreshes, failures int64) {
	logins = get(loginsKey)
	refreshes = get(refreshesKey)
	failures = get(authFailuresKey)
	return
}

func incr(key string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, key, dayField(), 1).Err()
}

func get(key string) int64 {
	ctx := context.Background()
	raw, err := cache.GetClient().HGet(ctx, key, dayField()).Result()
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func dayField() string {
	return time.Now().Format("2006-01-02")
}
