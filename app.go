// app.go
package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/roomlink/roomlink/internal/avatar"
	"github.com/roomlink/roomlink/internal/call"
	"github.com/roomlink/roomlink/internal/channel"
	"github.com/roomlink/roomlink/internal/chat"
	"github.com/roomlink/roomlink/internal/config"
	"github.com/roomlink/roomlink/internal/history"
	"github.com/roomlink/roomlink/internal/media"
	"github.com/roomlink/roomlink/internal/proto"
	"github.com/roomlink/roomlink/internal/signal"
	"github.com/roomlink/roomlink/internal/state"
	"github.com/roomlink/roomlink/internal/storage"
	"github.com/roomlink/roomlink/internal/util"
)

// Client owns one room channel and the per-room components built around it.
// Selecting a room tears the previous room's components down and builds a
// fresh set; nothing per-room survives a room change.
type Client struct {
	cfg       config.Config
	configDir string

	channel *channel.Manager
	engine  *media.Engine
	backlog *storage.DB // nil when the cache is disabled
	hints   *avatar.Feed
	avatars *avatar.Cache

	mu         sync.RWMutex
	roomID     string
	store      *chat.Store
	reconciler *chat.Reconciler
	pager      *history.Pager
	roster     *state.Roster
	calls      *call.Manager
	router     *signal.Router
	cancels    []func()
}

// NewClient wires the room-independent pieces: the channel manager, media
// engine, backlog cache and avatar feed. No room is joined yet.
func NewClient(cfg config.Config, configDir string) (*Client, error) {
	base := util.NormalizeURL(cfg.Server.BaseURL)
	wsBase := util.WebSocketURL(base)
	urlFor := func(roomID string) string {
		return wsBase + cfg.Server.ChannelPath + roomID + "/"
	}

	c := &Client{
		cfg:       cfg,
		configDir: configDir,
		channel: channel.New(urlFor,
			channel.WithJoinRetry(time.Duration(cfg.Channel.JoinRetryMs)*time.Millisecond),
			channel.WithWriteTimeout(time.Duration(cfg.Channel.WriteTimeoutSec)*time.Second),
		),
		engine: media.New(media.Config{
			ICEServers:    cfg.Call.ICEServers,
			PreferredCam:  cfg.Call.PreferredCam,
			PreferredMic:  cfg.Call.PreferredMic,
			VideoDisabled: cfg.Call.VideoDisabled,
		}),
		hints:   avatar.NewFeed(),
		avatars: avatar.NewCache(configDir),
	}

	if cfg.History.BacklogDBPath != "" {
		dbPath := util.ResolvePath(configDir, cfg.History.BacklogDBPath)
		db, err := storage.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open backlog cache: %w", err)
		}
		c.backlog = db
		log.Printf("CLIENT [%s]: backlog cache at %s", cfg.Identity.UserID, filepath.Base(dbPath))
	}

	return c, nil
}

// SelectRoom joins a room, replacing any current one. Selecting the already
// active room is a no-op. The returned error reflects only the initial
// history load: the channel join keeps retrying in the background either way.
func (c *Client) SelectRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if c.roomID == roomID && c.roomID != "" {
		c.mu.Unlock()
		log.Printf("CLIENT [%s]: room %s already selected", c.cfg.Identity.UserID, roomID)
		return nil
	}
	c.teardownRoomLocked()

	selfID := c.cfg.Identity.UserID
	store := chat.NewStore()
	reconciler := chat.NewReconciler(roomID, c.cfg.Identity.Username, selfID,
		store, c.channel, chat.HeuristicMatcher{Slack: chat.DefaultSlack})
	roster := state.NewRoster(selfID)
	calls := call.New(roomID, selfID, c.channel, c.engine)
	router := signal.New(selfID, reconciler, calls, roster, c.avatars)

	var src history.Source = history.NewHTTPSource(util.NormalizeURL(c.cfg.Server.BaseURL))
	if c.backlog != nil {
		src = storage.NewCachedSource(src, c.backlog)
	}
	pager := history.New(roomID, src, store,
		history.WithWindowCap(c.cfg.History.WindowSize),
		history.WithPageSize(c.cfg.History.PageSize),
		history.WithContinuitySlack(time.Duration(c.cfg.History.ContinuitySlackSec)*time.Second),
	)

	c.roomID = roomID
	c.store = store
	c.reconciler = reconciler
	c.pager = pager
	c.roster = roster
	c.calls = calls
	c.router = router

	if c.backlog != nil {
		c.cancels = append(c.cancels, c.mirrorToBacklog(roomID, store))
	}
	c.mu.Unlock()

	c.channel.OnFrame(router.HandleFrame)
	c.channel.Connect(ctx, roomID)

	if err := pager.LoadLatest(ctx); err != nil {
		return fmt.Errorf("load history for %s: %w", roomID, err)
	}
	return nil
}

// LeaveRoom disconnects the channel and tears down the current room.
func (c *Client) LeaveRoom() {
	c.mu.Lock()
	c.teardownRoomLocked()
	c.mu.Unlock()
	c.channel.Disconnect()
}

// mirrorToBacklog writes confirmed messages through to the cache as they
// land in the store.
func (c *Client) mirrorToBacklog(roomID string, store *chat.Store) (cancel func()) {
	ch, cancel := store.Subscribe()
	go func() {
		for evt := range ch {
			if evt.Message == nil || evt.Message.Pending {
				continue
			}
			if err := c.backlog.SaveMessage(roomID, evt.Message); err != nil {
				log.Printf("CLIENT [%s]: backlog write failed: %v", c.cfg.Identity.UserID, err)
			}
		}
	}()
	return cancel
}

// teardownRoomLocked drops the current room's components. Caller holds c.mu.
func (c *Client) teardownRoomLocked() {
	if c.calls != nil {
		c.calls.Close()
	}
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.roomID = ""
	c.store = nil
	c.reconciler = nil
	c.pager = nil
	c.roster = nil
	c.calls = nil
	c.router = nil
}

// SendText sends a chat message in the current room and returns its
// correlation id, or "" when no room is selected.
func (c *Client) SendText(text string) string {
	c.mu.RLock()
	r := c.reconciler
	c.mu.RUnlock()
	if r == nil {
		return ""
	}
	return r.SendText(text)
}

// Messages returns the current window, oldest first.
func (c *Client) Messages() []*chat.Message {
	c.mu.RLock()
	s := c.store
	c.mu.RUnlock()
	if s == nil {
		return nil
	}
	return s.Snapshot()
}

// Participants returns the current roster.
func (c *Client) Participants() []state.Participant {
	c.mu.RLock()
	r := c.roster
	c.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.List()
}

// LoadOlder pages the window backward.
func (c *Client) LoadOlder(ctx context.Context) error {
	if p := c.currentPager(); p != nil {
		return p.LoadOlder(ctx)
	}
	return errNoRoom
}

// LoadNewer pages the window forward.
func (c *Client) LoadNewer(ctx context.Context) error {
	if p := c.currentPager(); p != nil {
		return p.LoadNewer(ctx)
	}
	return errNoRoom
}

// JumpTo repositions the window around a message, for deep links.
func (c *Client) JumpTo(ctx context.Context, messageID string) error {
	if p := c.currentPager(); p != nil {
		return p.LoadAround(ctx, messageID)
	}
	return errNoRoom
}

// StartCall starts a call with a participant in the current room.
func (c *Client) StartCall(participantID string) error {
	if m := c.currentCalls(); m != nil {
		return m.StartCall(participantID)
	}
	return errNoRoom
}

// RetryCall forces a fresh offer after a failed connection.
func (c *Client) RetryCall(participantID string) error {
	if m := c.currentCalls(); m != nil {
		return m.ForceOffer(participantID)
	}
	return errNoRoom
}

// EndCall hangs up the call with a participant.
func (c *Client) EndCall(participantID string) {
	if m := c.currentCalls(); m != nil {
		m.EndCall(participantID)
	}
}

// StartScreenShare swaps the outbound video to display capture.
func (c *Client) StartScreenShare(participantID string) error {
	if m := c.currentCalls(); m != nil {
		return m.StartScreenShare(participantID)
	}
	return errNoRoom
}

// StopScreenShare restores the camera.
func (c *Client) StopScreenShare(participantID string) error {
	if m := c.currentCalls(); m != nil {
		return m.StopScreenShare(participantID)
	}
	return errNoRoom
}

// SetMuted pauses or resumes outbound audio to a participant.
func (c *Client) SetMuted(participantID string, muted bool) error {
	if m := c.currentCalls(); m != nil {
		return m.SetAudioMuted(participantID, muted)
	}
	return errNoRoom
}

// CallStatus returns diagnostic snapshots of the room's peer entries.
func (c *Client) CallStatus() []call.EntryStatus {
	if m := c.currentCalls(); m != nil {
		return m.Status()
	}
	return nil
}

// FrameTrace returns the router's recent inbound frames.
func (c *Client) FrameTrace() []signal.TraceEntry {
	c.mu.RLock()
	r := c.router
	c.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Trace()
}

// Hints returns the avatar hint feed for the rendering collaborator.
func (c *Client) Hints() *avatar.Feed { return c.hints }

// AnnounceAvatar broadcasts our avatar image to the current room and caches
// it locally under its content hash. Peers store it via the same cache on
// their side of the channel.
func (c *Client) AnnounceAvatar(png []byte) error {
	c.mu.RLock()
	roomID := c.roomID
	c.mu.RUnlock()
	if roomID == "" {
		return errNoRoom
	}

	selfID := c.cfg.Identity.UserID
	sum := sha256.Sum256(png)
	hash := hex.EncodeToString(sum[:])
	if err := c.avatars.Put(selfID, hash, png); err != nil {
		return fmt.Errorf("cache own avatar: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(png)
	if !c.channel.Send(proto.NewAvatarUpdate(roomID, selfID, b64, hash)) {
		return fmt.Errorf("channel not open")
	}
	return nil
}

// Avatar returns a participant's cached avatar at the given content hash.
func (c *Client) Avatar(userID, hash string) ([]byte, error) {
	return c.avatars.Get(userID, hash)
}

// Avatars returns the on-disk participant avatar cache.
func (c *Client) Avatars() *avatar.Cache { return c.avatars }

// Channel exposes the channel manager for state subscriptions.
func (c *Client) Channel() *channel.Manager { return c.channel }

// Close tears everything down: room components, channel, backlog cache.
func (c *Client) Close() {
	c.mu.Lock()
	c.teardownRoomLocked()
	c.mu.Unlock()
	c.channel.Close()
	if c.backlog != nil {
		if err := c.backlog.Close(); err != nil {
			log.Printf("CLIENT [%s]: backlog close: %v", c.cfg.Identity.UserID, err)
		}
	}
}

func (c *Client) currentPager() *history.Pager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pager
}

func (c *Client) currentCalls() *call.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

var errNoRoom = fmt.Errorf("no room selected")
