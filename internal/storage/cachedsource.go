package storage

import (
	"context"
	"log"

	"github.com/roomlink/roomlink/internal/history"
)

// CachedSource decorates a backlog source with the local cache: pages that
// come back from the server are written through, and when the server is
// unreachable the cached copy is served instead. Counts served from cache
// reflect what was seen, not the room's true total, which the pager already
// tolerates (hasMore simply under-reports offline).
type CachedSource struct {
	upstream history.Source
	db       *DB
}

// NewCachedSource wraps upstream with the cache in db.
func NewCachedSource(upstream history.Source, db *DB) *CachedSource {
	return &CachedSource{upstream: upstream, db: db}
}

// FetchPage fetches from upstream and writes through; on upstream failure it
// serves the cached page.
func (c *CachedSource) FetchPage(ctx context.Context, roomID string, limit, offset int) (*history.Page, error) {
	page, err := c.upstream.FetchPage(ctx, roomID, limit, offset)
	if err == nil {
		if saveErr := c.db.SaveMessages(roomID, page.Results); saveErr != nil {
			log.Printf("BACKLOG [%s]: cache write failed: %v", roomID, saveErr)
		}
		return page, nil
	}

	msgs, total, cacheErr := c.db.FetchPage(ctx, roomID, limit, offset)
	if cacheErr != nil || len(msgs) == 0 {
		return nil, err
	}
	log.Printf("BACKLOG [%s]: serving %d cached messages (server: %v)", roomID, len(msgs), err)
	return &history.Page{Results: msgs, Count: total}, nil
}

// OffsetOf asks upstream first and falls back to the cached ordering.
func (c *CachedSource) OffsetOf(ctx context.Context, roomID, messageID string, pageSize int) (int, error) {
	off, err := c.upstream.OffsetOf(ctx, roomID, messageID, pageSize)
	if err == nil {
		return off, nil
	}
	cachedOff, cacheErr := c.db.OffsetOf(ctx, roomID, messageID, pageSize)
	if cacheErr != nil {
		return 0, err
	}
	log.Printf("BACKLOG [%s]: cached offset for %s (server: %v)", roomID, messageID, err)
	return cachedOff, nil
}
