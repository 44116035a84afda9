package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/roomlink/roomlink/internal/chat"
	"github.com/roomlink/roomlink/internal/history"
)

// flakySource serves count messages until failing is set.
type flakySource struct {
	count   int
	failing bool
}

func (f *flakySource) FetchPage(ctx context.Context, roomID string, limit, offset int) (*history.Page, error) {
	if f.failing {
		return nil, errors.New("server unreachable")
	}
	var out []*chat.Message
	for i := offset; i < offset+limit && i < f.count; i++ {
		out = append(out, cachedMsg(fmt.Sprintf("m%d", i), int64(i*1000)))
	}
	return &history.Page{Results: out, Count: f.count}, nil
}

func (f *flakySource) OffsetOf(ctx context.Context, roomID, messageID string, pageSize int) (int, error) {
	if f.failing {
		return 0, errors.New("server unreachable")
	}
	return 0, nil
}

func TestFetchWritesThroughToCache(t *testing.T) {
	db := testDB(t)
	src := &flakySource{count: 5}
	cs := NewCachedSource(src, db)
	ctx := context.Background()

	if _, err := cs.FetchPage(ctx, "room-1", 5, 0); err != nil {
		t.Fatal(err)
	}

	n, err := db.Count(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("cached = %d, want 5", n)
	}
}

func TestCacheServesWhenUpstreamFails(t *testing.T) {
	db := testDB(t)
	src := &flakySource{count: 5}
	cs := NewCachedSource(src, db)
	ctx := context.Background()

	if _, err := cs.FetchPage(ctx, "room-1", 5, 0); err != nil {
		t.Fatal(err)
	}

	src.failing = true
	page, err := cs.FetchPage(ctx, "room-1", 5, 0)
	if err != nil {
		t.Fatalf("offline fetch failed despite cached copy: %v", err)
	}
	if len(page.Results) != 5 || page.Results[0].ServerID != "m0" {
		t.Errorf("page = %v, want cached [m0..m4]", ids(page.Results))
	}
}

func TestUpstreamErrorPropagatesOnEmptyCache(t *testing.T) {
	db := testDB(t)
	src := &flakySource{count: 5, failing: true}
	cs := NewCachedSource(src, db)

	if _, err := cs.FetchPage(context.Background(), "room-1", 5, 0); err == nil {
		t.Error("fetch succeeded with a failing upstream and an empty cache")
	}
}
