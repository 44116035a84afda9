package avatar

import (
	"encoding/base64"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roomlink/roomlink/internal/proto"
)

// Cache stores participant avatar images on disk. Files are keyed by user id
// and content hash together, so a changed avatar lands under a new name and
// the stale one is removed on write — there is no separate invalidation step.
type Cache struct {
	mu  sync.Mutex
	dir string
}

// NewCache creates an avatar cache under {configDir}/cache/avatars.
func NewCache(configDir string) *Cache {
	dir := filepath.Join(configDir, "cache", "avatars")
	_ = os.MkdirAll(dir, 0755)
	return &Cache{dir: dir}
}

// fileName is "{userID}.{hash}.png". User ids and hashes come off the wire,
// so anything that could escape the cache dir is flattened first.
func (c *Cache) fileName(userID, hash string) string {
	return filepath.Join(c.dir, safeKey(userID)+"."+safeKey(hash)+".png")
}

func safeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.', 0:
			return '_'
		}
		return r
	}, s)
}

// Get returns the cached avatar for a user at the given content hash, or nil
// when nothing matching is cached.
func (c *Cache) Get(userID, hash string) ([]byte, error) {
	if userID == "" || hash == "" {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.fileName(userID, hash))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Put stores a user's avatar under its content hash, dropping any previously
// cached version for the same user.
func (c *Cache) Put(userID, hash string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale, _ := filepath.Glob(filepath.Join(c.dir, safeKey(userID)+".*.png"))
	for _, f := range stale {
		_ = os.Remove(f)
	}
	return os.WriteFile(c.fileName(userID, hash), data, 0644)
}

// HasHash reports whether the user's avatar is cached at this content hash.
func (c *Cache) HasHash(userID, hash string) bool {
	if userID == "" || hash == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := os.Stat(c.fileName(userID, hash))
	return err == nil
}

// HandleAvatar consumes an inbound avatar_update frame: participants
// broadcast their avatar as base64 PNG plus content hash, and peers cache it.
// A frame whose hash is already cached is a no-op, so rebroadcasts on
// rejoin cost no disk write.
func (c *Cache) HandleAvatar(f *proto.Frame) {
	userID := f.SenderUserID
	if userID == "" || f.AvatarHash == "" || f.Avatar == "" {
		return
	}
	if c.HasHash(userID, f.AvatarHash) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(f.Avatar)
	if err != nil {
		log.Printf("AVATAR: undecodable avatar from %s dropped: %v", userID, err)
		return
	}
	if err := c.Put(userID, f.AvatarHash, data); err != nil {
		log.Printf("AVATAR: caching avatar from %s failed: %v", userID, err)
		return
	}
	log.Printf("AVATAR: cached avatar for %s (%d bytes)", userID, len(data))
}
