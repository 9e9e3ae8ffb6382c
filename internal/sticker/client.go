package sticker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/logging"
	"github.com/packsmith/backend/internal/retry"
)

const (
	maxShortNameLen = 64
	// defaultTileEmoji is attached to every uploaded tile.
	defaultTileEmoji = "\U0001F916"
)

// Options tune the create-or-extend flow.
type Options struct {
	// CreationLimit caps the tile count of a single submission.
	CreationLimit int
	// TotalLimit caps the size of a set after extension.
	TotalLimit int
	// FragmentUsername, when set, enables the fragment preview id.
	FragmentUsername string
	// Policy wraps every remote call.
	Policy retry.Policy
}

// Client runs the pack flow: name the set, upload tiles, create or extend,
// and read back the fresh emoji ids.
type Client struct {
	api    API
	bot    *CachedBotInfo
	opts   Options
	logger *logging.Logger
}

// NewClient wires the flow to an API and the cached bot identity.
func NewClient(api API, bot *CachedBotInfo, opts Options, logger *logging.Logger) *Client {
	if opts.TotalLimit <= 0 {
		opts.TotalLimit = 200
	}
	if opts.Policy.Attempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = logging.New("[STICKER] ", logging.LevelInfo)
	}
	return &Client{api: api, bot: bot, opts: opts, logger: logger}
}

// BuildShortName derives the set name for a submission: user id, a
// microsecond timestamp, the grid, the padding level and a 6-char entropy
// token, sanitized to [a-z0-9_] and suffixed "_by_<bot>". The timestamp
// makes repeat submissions of the same image produce fresh names.
func BuildShortName(req core.PackRequest, botName string) string {
	stem := strings.TrimSuffix(filepath.Base(req.FilePath), filepath.Ext(req.FilePath))
	seed := req.FileUniqueID
	if seed == "" {
		seed = stem
	}
	sum := sha256.Sum256([]byte(seed))
	token := hex.EncodeToString(sum[:])[:6]

	base := fmt.Sprintf("e%d_%d_%s_p%d_%s",
		req.UserID, req.RequestedAt.UnixMicro(), req.Grid.String(), req.Padding, token)
	suffix := "_by_" + strings.ToLower(botName)
	return sanitizeName(base, maxShortNameLen-len(suffix)) + suffix
}

// sanitizeName lowercases, replaces anything outside [a-z0-9_] with an
// underscore, truncates to max bytes and right-trims underscores.
func sanitizeName(s string, max int) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return strings.TrimRight(out, "_")
}

// CreateOrExtend uploads the tiles and assembles the pack: extend the set
// when it already exists, create it otherwise. Returns the new emoji ids in
// tile order.
func (c *Client) CreateOrExtend(ctx context.Context, req core.PackRequest, tilePaths []string) (core.PackResult, error) {
	var zero core.PackResult
	if len(tilePaths) == 0 {
		return zero, core.NewError(core.InputInvalid, "no tiles to upload")
	}
	if c.opts.CreationLimit > 0 && len(tilePaths) > c.opts.CreationLimit {
		return zero, core.NewError(core.InputInvalid,
			fmt.Sprintf("%d tiles exceed the creation limit of %d", len(tilePaths), c.opts.CreationLimit))
	}

	botName, err := c.bot.Username(ctx)
	if err != nil {
		return zero, err
	}
	shortName := BuildShortName(req, botName)

	inputs := make([]InputSticker, 0, len(tilePaths))
	for _, path := range tilePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return zero, core.WrapError(core.IO, "read tile "+filepath.Base(path), err)
		}
		fileID, err := retry.Do(ctx, c.opts.Policy, func(ctx context.Context) (string, error) {
			return c.api.UploadStickerFile(ctx, req.UserID, data)
		})
		if err != nil {
			return zero, err
		}
		inputs = append(inputs, InputSticker{
			Sticker:   fileID,
			Format:    "static",
			EmojiList: []string{defaultTileEmoji},
		})
	}

	set, err := retry.Do(ctx, c.opts.Policy, func(ctx context.Context) (*StickerSet, error) {
		return c.api.GetStickerSet(ctx, shortName)
	})
	switch {
	case err == nil:
		if len(set.Stickers)+len(inputs) > c.opts.TotalLimit {
			return zero, core.NewError(core.RemoteContract,
				fmt.Sprintf("set %s holds %d stickers, adding %d would exceed the limit of %d",
					shortName, len(set.Stickers), len(inputs), c.opts.TotalLimit))
		}
		c.logger.Infof("extending set %s with %d tiles", shortName, len(inputs))
		for _, input := range inputs {
			input := input
			if _, err := retry.Do(ctx, c.opts.Policy, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, c.api.AddStickerToSet(ctx, req.UserID, shortName, input)
			}); err != nil {
				return zero, err
			}
		}
	case IsSetNotFound(err):
		title := fmt.Sprintf("Emoji pack %s (pad %d) by %d", req.Grid, req.Padding, req.UserID)
		c.logger.Infof("creating set %s with %d tiles", shortName, len(inputs))
		if _, err := retry.Do(ctx, c.opts.Policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.api.CreateNewStickerSet(ctx, req.UserID, shortName, title, inputs)
		}); err != nil {
			return zero, err
		}
	default:
		return zero, err
	}

	fresh, err := retry.Do(ctx, c.opts.Policy, func(ctx context.Context) (*StickerSet, error) {
		return c.api.GetStickerSet(ctx, shortName)
	})
	if err != nil {
		return zero, err
	}
	if len(fresh.Stickers) < len(inputs) {
		return zero, core.NewError(core.RemoteContract,
			fmt.Sprintf("set %s holds %d stickers after adding %d", shortName, len(fresh.Stickers), len(inputs)))
	}

	ids := make([]string, 0, len(inputs))
	for _, st := range fresh.Stickers[len(fresh.Stickers)-len(inputs):] {
		ids = append(ids, st.CustomEmojiID)
	}
	result := core.PackResult{
		ShortName:      shortName,
		Link:           c.bot.PackLink(shortName),
		CustomEmojiIDs: ids,
	}
	if c.opts.FragmentUsername != "" && len(ids) > 0 {
		result.FragmentPreviewID = ids[0]
	}
	return result, nil
}
