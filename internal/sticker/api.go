// Package sticker adapts the remote sticker service: raw API transport,
// cached bot identity, and the create-or-extend pack flow with naming and
// quota rules.
package sticker

import (
	"context"
	"fmt"
	"strings"

	"github.com/packsmith/backend/internal/core"
)

// BotInfo is the identity of the bot account as reported by the service.
type BotInfo struct {
	ID       int64
	Username string
}

// Sticker is one member of a sticker set.
type Sticker struct {
	FileID        string `json:"file_id"`
	FileUniqueID  string `json:"file_unique_id"`
	CustomEmojiID string `json:"custom_emoji_id"`
	Emoji         string `json:"emoji"`
}

// StickerSet is a named collection of stickers.
type StickerSet struct {
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	StickerType string    `json:"sticker_type"`
	Stickers    []Sticker `json:"stickers"`
}

// InputSticker describes one sticker to add to a set.
type InputSticker struct {
	Sticker   string   `json:"sticker"`
	Format    string   `json:"format"`
	EmojiList []string `json:"emoji_list"`
}

// API is the minimal remote surface the pack flow depends on. Tests supply
// in-memory fakes.
type API interface {
	Me(ctx context.Context) (BotInfo, error)
	UploadStickerFile(ctx context.Context, userID int64, png []byte) (fileID string, err error)
	GetStickerSet(ctx context.Context, name string) (*StickerSet, error)
	CreateNewStickerSet(ctx context.Context, userID int64, name, title string, stickers []InputSticker) error
	AddStickerToSet(ctx context.Context, userID int64, name string, st InputSticker) error
}

// APIError is a structured failure reply from the remote service.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int // seconds, from a rate-limit reply
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sticker api: %d %s", e.Code, e.Description)
}

// setNotFoundMarkers are the documented error substrings meaning the set
// does not exist yet.
var setNotFoundMarkers = []string{"STICKER_SET_INVALID", "STICKERSET_INVALID"}

// IsSetNotFound reports whether err is the remote "no such set" reply.
func IsSetNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	for _, marker := range setNotFoundMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify maps a raw API failure to a core error kind: rate limits and
// server faults are transient, "no such set" is a contract reply, other
// client errors are retried once network flakiness cannot be ruled out.
func classify(method string, err *APIError) error {
	switch {
	case err.Code == 429 || err.RetryAfter > 0:
		return core.WrapError(core.TransportTransient, method+" rate limited", err)
	case err.Code >= 500:
		return core.WrapError(core.TransportTransient, method, err)
	case IsSetNotFound(err):
		return core.WrapError(core.RemoteContract, method+" set not found", err)
	case err.Code == 400:
		return core.WrapError(core.TransportTransient, method, err)
	default:
		return core.WrapError(core.RemoteContract, method, err)
	}
}
