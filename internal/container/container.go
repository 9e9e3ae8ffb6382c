// Package container owns the object graph and the process lifecycle: it
// builds every service from configuration, starts them in dependency order
// and shuts them down in reverse.
package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/packsmith/backend/internal/api"
	"github.com/packsmith/backend/internal/config"
	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/emoji"
	"github.com/packsmith/backend/internal/imagekit"
	"github.com/packsmith/backend/internal/logging"
	"github.com/packsmith/backend/internal/scratch"
	"github.com/packsmith/backend/internal/sticker"
	"github.com/packsmith/backend/internal/storage"
	"github.com/packsmith/backend/internal/textpipe"
	"github.com/packsmith/backend/internal/tracking"
	"github.com/packsmith/backend/internal/usage"
)

// Container holds the wired services of the backend.
type Container struct {
	cfg    *config.Config
	logger *logging.Logger

	// StickerAPI may be injected before Start; nil selects the HTTP
	// adapter.
	StickerAPI sticker.API

	store    *storage.Store
	scratch  *scratch.Manager
	gate     *emoji.Gate
	queue    *emoji.Queue
	settings *emoji.SettingsService
	client   *sticker.Client
	botInfo  *sticker.CachedBotInfo
	tracking *tracking.Service
	usage    *usage.Tracker
	ops      *api.Server
	registry *textpipe.Registry

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds an unstarted container.
func New(cfg *config.Config) *Container {
	return &Container{
		cfg:      cfg,
		logger:   logging.New("[CONTAINER] ", cfg.LogLevel),
		gate:     emoji.NewGate(emoji.DefaultCooldown),
		registry: textpipe.NewDefaultRegistry(),
	}
}

// Start brings the backend up: directories, storage and migrations, the
// scratch sweeper, the worker queue and the ops server.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.cfg.StoragePath), 0o755); err != nil {
		return core.WrapError(core.Fatal, "create storage dir", err)
	}

	store, err := storage.Open(c.cfg.StoragePath)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}
	c.store = store

	mgr, err := scratch.NewManager(c.cfg.TempDir,
		time.Duration(c.cfg.TempRetentionMinutes)*time.Minute,
		logging.New("[SCRATCH] ", c.cfg.LogLevel))
	if err != nil {
		store.Close()
		return core.WrapError(core.Fatal, "scratch manager", err)
	}
	c.scratch = mgr

	stickerAPI := c.StickerAPI
	if stickerAPI == nil {
		stickerAPI = sticker.NewTelegramAPI(c.cfg.TelegramBotToken, nil,
			logging.New("[STICKER] ", c.cfg.LogLevel))
	}
	c.botInfo = sticker.NewCachedBotInfo(stickerAPI, c.cfg.BotLinkHost)
	c.client = sticker.NewClient(stickerAPI, c.botInfo, sticker.Options{
		CreationLimit:    c.cfg.EmojiCreationLimit,
		TotalLimit:       c.cfg.EmojiMaxTiles,
		FragmentUsername: c.cfg.FragmentUsername,
	}, logging.New("[STICKER] ", c.cfg.LogLevel))

	service := emoji.NewService(c.client, c.store, c.scratch.Base(),
		c.cfg.EmojiTileSize, logging.New("[EMOJI] ", c.cfg.LogLevel))
	c.queue = emoji.NewQueue(c.cfg.EmojiQueueWorkers, service,
		logging.New("[QUEUE] ", c.cfg.LogLevel))

	c.settings = emoji.NewSettingsService(c.store, c.cfg.DefaultGrid(),
		c.cfg.EmojiPaddingDefault, c.cfg.GridLimit(),
		logging.New("[SETTINGS] ", c.cfg.LogLevel))
	c.tracking = tracking.NewService(c.store, c.botInfo,
		logging.New("[TRACKING] ", c.cfg.LogLevel))
	c.usage = usage.NewTracker(c.store, c.cfg.UsagePageSize)
	c.ops = api.NewServer(c.cfg.OpsListenAddr, c.store, c.tracking, c.usage,
		logging.New("[API] ", c.cfg.LogLevel))

	c.scratch.Start()
	c.queue.Start()
	c.ops.Start()

	c.started = true
	c.stopped = false
	c.logger.Infof("backend started")
	return nil
}

// Stop shuts the backend down: drain the queue, stop the sweeper and the
// ops server, close storage. Idempotent.
func (c *Container) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopped {
		return
	}
	c.queue.Stop()
	c.scratch.Stop()
	c.ops.Stop(ctx)
	if err := c.store.Close(); err != nil {
		c.logger.Warnf("close storage: %v", err)
	}
	c.stopped = true
	c.started = false
	c.logger.Infof("backend stopped")
}

// SubmitOptions carry the per-submission choices. Nil fields fall back to
// the user's stored defaults.
type SubmitOptions struct {
	Grid         *core.GridOption
	Padding      *int
	FileUniqueID string
}

// SubmitImage runs the admission and validation path for one image and
// enqueues the job. The returned future settles with the outcome; the gate
// is released when it does.
func (c *Container) SubmitImage(ctx context.Context, userID, chatID int64, data []byte, opts SubmitOptions) (*emoji.Future, error) {
	if !c.gate.TryAcquire(userID) {
		return nil, core.NewError(core.InputInvalid, "a submission is already in flight, try again shortly")
	}
	future, err := c.enqueueSubmission(ctx, userID, chatID, data, opts)
	if err != nil {
		c.gate.Release(userID)
		return nil, err
	}
	go func() {
		<-future.Done()
		c.gate.Release(userID)
	}()
	return future, nil
}

func (c *Container) enqueueSubmission(ctx context.Context, userID, chatID int64, data []byte, opts SubmitOptions) (*emoji.Future, error) {
	if len(data) == 0 {
		return nil, core.NewError(core.InputInvalid, "empty image")
	}
	if _, _, err := imagekit.Probe(data); err != nil {
		return nil, err
	}

	settings, err := c.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	grid := settings.DefaultGrid
	if opts.Grid != nil {
		grid = *opts.Grid
	}
	padding := settings.DefaultPadding
	if opts.Padding != nil {
		padding = *opts.Padding
	}
	if grid.Tiles() > c.cfg.GridLimit() {
		return nil, core.NewError(core.InputInvalid,
			fmt.Sprintf("grid %s has %d tiles, the limit is %d", grid, grid.Tiles(), c.cfg.GridLimit()))
	}
	if padding < 0 || padding > 5 {
		return nil, core.NewError(core.InputInvalid,
			fmt.Sprintf("padding %d must be in 0..5", padding))
	}

	jobDir := "job-" + uuid.NewString()
	path, err := c.scratch.WriteBytes(data, ".png", jobDir)
	if err != nil {
		return nil, core.WrapError(core.IO, "persist submission", err)
	}

	req := core.PackRequest{
		UserID:       userID,
		ChatID:       chatID,
		FilePath:     path,
		ImageHash:    imagekit.Hash(data),
		Grid:         grid,
		Padding:      padding,
		FileUniqueID: opts.FileUniqueID,
		RequestedAt:  time.Now().UTC(),
	}
	return c.queue.Submit(req), nil
}

// SuggestGrids proposes grid options for an image.
func (c *Container) SuggestGrids(data []byte) (core.GridPlan, error) {
	w, h, err := imagekit.Probe(data)
	if err != nil {
		return core.GridPlan{}, err
	}
	return imagekit.SuggestGrids(w, h, c.cfg.SuggestTileCap(), 5), nil
}

// NormalizeText runs the default cleanup pipeline over text.
func (c *Container) NormalizeText(text string) textpipe.Result {
	return c.registry.Pipeline().Run(text)
}

// TextRegistry exposes the stage registry for callers that add stages.
func (c *Container) TextRegistry() *textpipe.Registry {
	return c.registry
}

// Settings exposes the user-settings service.
func (c *Container) Settings() *emoji.SettingsService {
	return c.settings
}

// Tracking exposes the tracking core.
func (c *Container) Tracking() *tracking.Service {
	return c.tracking
}

// Usage exposes the usage tracker.
func (c *Container) Usage() *usage.Tracker {
	return c.usage
}

// BotInfo exposes the cached bot identity.
func (c *Container) BotInfo() *sticker.CachedBotInfo {
	return c.botInfo
}

// Config exposes the active configuration.
func (c *Container) Config() *config.Config {
	return c.cfg
}
