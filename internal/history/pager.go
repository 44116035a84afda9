// Package history maintains the bounded, contiguous window of a room's
// message backlog. Incremental prepends and appends must pass a boundary
// continuity check; a page that fails it is discarded and the window is
// fully reloaded at the requested offset. Correctness over partial-update
// performance: continuity failure always discards incremental state, never
// merges it.
package history

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roomlink/roomlink/internal/chat"
)

// DefaultWindowCap bounds the materialized window.
const DefaultWindowCap = 40

// DefaultContinuitySlack tolerates clock and query skew at page boundaries.
const DefaultContinuitySlack = 60 * time.Second

// WindowState describes which contiguous slice of the room's full history is
// materialized.
type WindowState struct {
	Offset int // messages older than the window
	Size   int // confirmed messages materialized
	Total  int // room total as of the last fetch
}

// Pager pages one room's backlog into a chat.Store.
type Pager struct {
	roomID    string
	src       Source
	store     *chat.Store
	windowCap int
	pageSize  int
	slack     time.Duration

	mu     sync.Mutex
	offset int
	total  int
	epoch  int // bumped on every reset/reload; stale fetch results are dropped
}

// Option configures a Pager.
type Option func(*Pager)

// WithWindowCap overrides the window cap.
func WithWindowCap(n int) Option {
	return func(p *Pager) { p.windowCap = n }
}

// WithPageSize overrides the fetch page size.
func WithPageSize(n int) Option {
	return func(p *Pager) { p.pageSize = n }
}

// WithContinuitySlack overrides the boundary tolerance.
func WithContinuitySlack(d time.Duration) Option {
	return func(p *Pager) { p.slack = d }
}

// New creates a pager for one room over an existing store.
func New(roomID string, src Source, store *chat.Store, opts ...Option) *Pager {
	p := &Pager{
		roomID:    roomID,
		src:       src,
		store:     store,
		windowCap: DefaultWindowCap,
		pageSize:  DefaultWindowCap / 2,
		slack:     DefaultContinuitySlack,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Window returns the current window state.
func (p *Pager) Window() WindowState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return WindowState{Offset: p.offset, Size: p.store.ConfirmedLen(), Total: p.total}
}

// CanPageBackward reports whether older messages exist beyond the window.
func (p *Pager) CanPageBackward() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset > 0
}

// CanPageForward reports whether newer messages exist beyond the window.
func (p *Pager) CanPageForward() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset+p.store.ConfirmedLen() < p.total
}

// LoadLatest materializes the newest page of the room, replacing the window.
func (p *Pager) LoadLatest(ctx context.Context) error {
	p.mu.Lock()
	epoch := p.bumpEpoch()
	p.mu.Unlock()

	// First fetch learns the total; a second fetch lands on the tail when
	// the room is longer than one page.
	page, err := p.src.FetchPage(ctx, p.roomID, p.pageSize, 0)
	if err != nil {
		return fmt.Errorf("fetch latest: %w", err)
	}
	offset := 0
	if page.Count > p.pageSize {
		offset = page.Count - p.pageSize
		page, err = p.src.FetchPage(ctx, p.roomID, p.pageSize, offset)
		if err != nil {
			return fmt.Errorf("fetch tail: %w", err)
		}
	}
	return p.install(epoch, offset, page)
}

// LoadOlder prepends the page preceding the window. On a continuity
// violation the page is discarded and the window fully reloads at the
// requested offset.
func (p *Pager) LoadOlder(ctx context.Context) error {
	p.mu.Lock()
	if p.offset <= 0 {
		p.mu.Unlock()
		return nil
	}
	newOffset := p.offset - p.pageSize
	if newOffset < 0 {
		newOffset = 0
	}
	limit := p.offset - newOffset
	epoch := p.epoch
	p.mu.Unlock()

	page, err := p.src.FetchPage(ctx, p.roomID, limit, newOffset)
	if err != nil {
		return fmt.Errorf("fetch older: %w", err)
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return nil // window was reloaded while the fetch was in flight
	}
	oldest, _, hasWindow := p.store.BoundaryTimestamps()
	if hasWindow && len(page.Results) > 0 {
		pageNewest := page.Results[len(page.Results)-1].Timestamp
		if oldest-pageNewest > p.slack.Milliseconds() {
			p.mu.Unlock()
			log.Printf("HISTORY [%s]: older page discontinuous (gap %dms), reloading at offset %d",
				p.roomID, oldest-pageNewest, newOffset)
			return p.reloadAt(ctx, newOffset)
		}
	}
	// Trimming the tail shrinks the newest end; offset still names the
	// window's oldest edge.
	p.store.PrependPage(page.Results, p.windowCap)
	p.offset = newOffset
	p.total = page.Count
	p.mu.Unlock()
	return nil
}

// LoadNewer appends the page following the window, symmetric to LoadOlder.
func (p *Pager) LoadNewer(ctx context.Context) error {
	p.mu.Lock()
	size := p.store.ConfirmedLen()
	if p.offset+size >= p.total {
		p.mu.Unlock()
		return nil
	}
	fetchAt := p.offset + size
	epoch := p.epoch
	p.mu.Unlock()

	page, err := p.src.FetchPage(ctx, p.roomID, p.pageSize, fetchAt)
	if err != nil {
		return fmt.Errorf("fetch newer: %w", err)
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return nil
	}
	_, newest, hasWindow := p.store.BoundaryTimestamps()
	if hasWindow && len(page.Results) > 0 {
		pageOldest := page.Results[0].Timestamp
		if pageOldest-newest > p.slack.Milliseconds() {
			p.mu.Unlock()
			log.Printf("HISTORY [%s]: newer page discontinuous (gap %dms), reloading at offset %d",
				p.roomID, pageOldest-newest, fetchAt)
			return p.reloadAt(ctx, fetchAt)
		}
	}
	trimmed := p.store.AppendPage(page.Results, p.windowCap)
	p.offset += trimmed
	p.total = page.Count
	p.mu.Unlock()
	return nil
}

// LoadAround jumps to a target message by id: one-shot full load at the
// offset that centers it, never an incremental walk from the current window.
func (p *Pager) LoadAround(ctx context.Context, messageID string) error {
	offset, err := p.src.OffsetOf(ctx, p.roomID, messageID, p.windowCap)
	if err != nil {
		return fmt.Errorf("offset lookup for %s: %w", messageID, err)
	}
	return p.reloadAt(ctx, offset)
}

// Reset drops window bookkeeping. Called on room change alongside a store
// clear; in-flight fetches from before the reset are discarded on arrival.
func (p *Pager) Reset() {
	p.mu.Lock()
	p.bumpEpoch()
	p.offset = 0
	p.total = 0
	p.mu.Unlock()
}

// reloadAt replaces the window with a full fetch at offset. This is the
// recovery path for any protocol inconsistency.
func (p *Pager) reloadAt(ctx context.Context, offset int) error {
	p.mu.Lock()
	epoch := p.bumpEpoch()
	p.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	page, err := p.src.FetchPage(ctx, p.roomID, p.windowCap, offset)
	if err != nil {
		return fmt.Errorf("reload at %d: %w", offset, err)
	}
	return p.install(epoch, offset, page)
}

// install publishes a full-window fetch result unless the pager moved on.
func (p *Pager) install(epoch, offset int, page *Page) error {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return nil
	}
	p.offset = offset
	p.total = page.Count
	p.mu.Unlock()
	p.store.ReplaceWindow(page.Results)
	return nil
}

// bumpEpoch invalidates in-flight fetches. Caller holds the lock.
func (p *Pager) bumpEpoch() int {
	p.epoch++
	return p.epoch
}
