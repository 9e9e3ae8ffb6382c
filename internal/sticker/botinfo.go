package sticker

import (
	"context"
	"fmt"
	"sync"
)

// CachedBotInfo resolves the bot identity once and serves it from memory
// afterwards. Link builders hang off it because every public URL embeds the
// bot username.
type CachedBotInfo struct {
	api  API
	host string

	mu   sync.Mutex
	info *BotInfo
}

// NewCachedBotInfo wires the cache to an API and the public link host
// (normally "t.me").
func NewCachedBotInfo(api API, host string) *CachedBotInfo {
	return &CachedBotInfo{api: api, host: host}
}

// Info returns the cached identity, fetching it on first use.
func (c *CachedBotInfo) Info(ctx context.Context) (BotInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info != nil {
		return *c.info, nil
	}
	info, err := c.api.Me(ctx)
	if err != nil {
		return BotInfo{}, err
	}
	c.info = &info
	return info, nil
}

// Username returns the cached bot username.
func (c *CachedBotInfo) Username(ctx context.Context) (string, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.Username, nil
}

// StartLink builds the deep-link URL carrying a start payload.
func (c *CachedBotInfo) StartLink(ctx context.Context, payload string) (string, error) {
	username, err := c.Username(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s/%s?start=%s", c.host, username, payload), nil
}

// PackLink builds the public install URL for a pack.
func (c *CachedBotInfo) PackLink(shortName string) string {
	return fmt.Sprintf("https://%s/addemoji/%s", c.host, shortName)
}
