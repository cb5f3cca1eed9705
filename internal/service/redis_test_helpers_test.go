package service

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// startMiniRedis returns a client bound to a per-test miniredis instance.
// Both are closed when the test ends.
func startMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}
