package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestRedis_UnavailableBypasses(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := NewRedisClient(nil, time.Second, log)
	ctx := context.Background()

	if err := r.SetJSON(ctx, "jobs:status:itad", map[string]int{"total": 1}, 0); err != nil {
		t.Fatalf("set must be a no-op, got %v", err)
	}
	var out map[string]int
	hit, err := r.GetJSON(ctx, "jobs:status:itad", &out)
	if err != nil || hit {
		t.Fatalf("expected a miss without error, got hit=%v err=%v", hit, err)
	}
	if err := r.Delete(ctx, "jobs:status:itad"); err != nil {
		t.Fatalf("delete must be a no-op, got %v", err)
	}
	if err := r.DeleteByPattern(ctx, "jobs:status:*"); err != nil {
		t.Fatalf("delete by pattern must be a no-op, got %v", err)
	}
	if err := r.Ping(ctx); err == nil {
		t.Fatalf("ping must report the cache as unavailable")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRedis_NilReceiver(t *testing.T) {
	var r *Redis
	if hit, err := r.GetJSON(context.Background(), "k", &struct{}{}); hit || err != nil {
		t.Fatalf("nil cache must miss, got hit=%v err=%v", hit, err)
	}
}
