package history

import (
	"context"

	"github.com/roomlink/roomlink/internal/chat"
)

// Page is one backlog fetch result: a contiguous run of messages ordered
// oldest-to-newest, plus the room's total message count at fetch time.
type Page struct {
	Results []*chat.Message
	Count   int
}

// Source is the backlog store the pager reads from. The reference
// implementation is the HTTP client; internal/storage provides a SQLite
// cache with the same contract.
type Source interface {
	// FetchPage returns up to limit messages starting at offset, counted
	// from the oldest message in the room (offset 0 = oldest).
	FetchPage(ctx context.Context, roomID string, limit, offset int) (*Page, error)

	// OffsetOf returns the offset that centers the message with the given
	// id within a page of pageSize, for deep links.
	OffsetOf(ctx context.Context, roomID, messageID string, pageSize int) (int, error)
}
