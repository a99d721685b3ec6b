package cache

import (
	"context"
	"errors"
	"time"

	"github.com/zaliubovskiy/chatrelay/internal/domain"
)

// ErrCacheMiss is returned when a key is not present.
var ErrCacheMiss = errors.New("cache miss")

// HistoryPage is one cached page of room history.
type HistoryPage struct {
	Messages []domain.MessageView `json:"messages"`
	MaxPages int                  `json:"max_pages"`
}

// HistoryCache caches history pages per room. A cache is optional; the
// history fetcher works without one. Entries for a room are invalidated
// whenever a new message commits there, because a newest-first page
// numbering shifts every page on write.
type HistoryCache interface {
	BuildKey(roomID string, page, pageSize int) string
	Get(ctx context.Context, key string) (*HistoryPage, error)
	Set(ctx context.Context, key string, page *HistoryPage, ttl time.Duration) error
	InvalidateRoom(ctx context.Context, roomID string) error
}
