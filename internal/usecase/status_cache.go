package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/progprogect/steamids-parser/internal/domain/item"
)

// StatusCache is the subset of the redis cache the control plane uses.
type StatusCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const statusKeyPrefix = "jobs:status:"

func StatusCacheKey(src item.Source) string {
	return statusKeyPrefix + strings.ToLower(string(src))
}

type noopCache struct{}

func (noopCache) GetJSON(context.Context, string, any) (bool, error)        { return false, nil }
func (noopCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (noopCache) Delete(context.Context, string) error                      { return nil }
