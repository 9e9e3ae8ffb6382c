// Package config resolves the runtime configuration from the environment,
// with an optional YAML overlay file for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/logging"
)

// Config is the full configuration surface of the bot backend.
type Config struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	BotUsername      string `yaml:"bot_username"`
	FragmentUsername string `yaml:"fragment_username"`
	BotLinkHost      string `yaml:"bot_link_host"`

	StoragePath          string `yaml:"storage_path"`
	TempDir              string `yaml:"temp_dir"`
	TempRetentionMinutes int    `yaml:"temp_retention_minutes"`

	EmojiPaddingDefault int    `yaml:"emoji_padding_default"`
	EmojiGridDefault    string `yaml:"emoji_grid_default"`
	EmojiQueueWorkers   int    `yaml:"emoji_queue_workers"`
	EmojiMaxTiles       int    `yaml:"emoji_max_tiles"`
	EmojiCreationLimit  int    `yaml:"emoji_creation_limit"`
	EmojiTileSize       int    `yaml:"emoji_tile_size"`
	EmojiGridTileCap    int    `yaml:"emoji_grid_tile_cap"`

	AdminUserIDs []int64 `yaml:"admin_user_ids"`

	OpsListenAddr string `yaml:"ops_listen_addr"`
	UsagePageSize int    `yaml:"usage_page_size"`

	LogLevel logging.Level `yaml:"-"`

	LogLevelName string `yaml:"log_level"`
}

// Defaults returns a Config with every optional key at its default.
func Defaults() Config {
	return Config{
		BotLinkHost:          "t.me",
		StoragePath:          "./data/state.db",
		TempDir:              "./data/tmp",
		TempRetentionMinutes: 15,
		EmojiPaddingDefault:  2,
		EmojiGridDefault:     "2x2",
		EmojiQueueWorkers:    2,
		EmojiMaxTiles:        200,
		EmojiCreationLimit:   50,
		EmojiTileSize:        100,
		UsagePageSize:        20,
		LogLevelName:         "INFO",
	}
}

// Load resolves configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables, then validation.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envString(&cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	envString(&cfg.BotUsername, "TELEGRAM_BOT_USERNAME")
	envString(&cfg.FragmentUsername, "FRAGMENT_USERNAME")
	envString(&cfg.BotLinkHost, "BOT_LINK_HOST")

	envString(&cfg.StoragePath, "STORAGE_PATH")
	envString(&cfg.TempDir, "TMP_DIR")
	envInt(&cfg.TempRetentionMinutes, "TMP_RETENTION_MINUTES")

	envInt(&cfg.EmojiPaddingDefault, "EMOJI_PADDING_DEFAULT")
	envString(&cfg.EmojiGridDefault, "EMOJI_GRID_DEFAULT")
	envInt(&cfg.EmojiQueueWorkers, "EMOJI_QUEUE_WORKERS")
	envInt(&cfg.EmojiMaxTiles, "EMOJI_MAX_TILES")
	envInt(&cfg.EmojiCreationLimit, "EMOJI_CREATION_LIMIT")
	envInt(&cfg.EmojiTileSize, "EMOJI_TILE_SIZE")
	envInt(&cfg.EmojiGridTileCap, "EMOJI_GRID_TILE_CAP")

	if raw := os.Getenv("ADMIN_USER_IDS"); raw != "" {
		cfg.AdminUserIDs = ParseAdminIDs(raw)
	}

	envString(&cfg.OpsListenAddr, "OPS_LISTEN_ADDR")
	envInt(&cfg.UsagePageSize, "USAGE_PAGE_SIZE")
	envString(&cfg.LogLevelName, "LOG_LEVEL")
}

// Validate applies the range checks of the configuration contract and
// resolves derived fields.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return core.NewError(core.Fatal, "TELEGRAM_BOT_TOKEN is required")
	}
	if c.TempRetentionMinutes < 1 || c.TempRetentionMinutes > 120 {
		return core.NewError(core.Fatal, "TMP_RETENTION_MINUTES must be in 1..120")
	}
	if c.EmojiPaddingDefault < 0 || c.EmojiPaddingDefault > 5 {
		return core.NewError(core.Fatal, "EMOJI_PADDING_DEFAULT must be in 0..5")
	}
	if c.EmojiQueueWorkers < 1 || c.EmojiQueueWorkers > 8 {
		return core.NewError(core.Fatal, "EMOJI_QUEUE_WORKERS must be in 1..8")
	}
	if c.EmojiTileSize < 64 || c.EmojiTileSize > 512 {
		return core.NewError(core.Fatal, "EMOJI_TILE_SIZE must be in 64..512")
	}
	if c.EmojiMaxTiles < 1 || c.EmojiCreationLimit < 1 {
		return core.NewError(core.Fatal, "tile limits must be positive")
	}
	if c.EmojiGridTileCap < 0 {
		return core.NewError(core.Fatal, "EMOJI_GRID_TILE_CAP must not be negative")
	}
	if c.UsagePageSize < 1 {
		c.UsagePageSize = 1
	}
	if _, err := core.ParseGrid(c.EmojiGridDefault); err != nil {
		return core.WrapError(core.Fatal, "EMOJI_GRID_DEFAULT", err)
	}
	level, err := logging.ParseLevel(c.LogLevelName)
	if err != nil {
		return core.WrapError(core.Fatal, "LOG_LEVEL", err)
	}
	c.LogLevel = level
	return nil
}

// DefaultGrid returns the parsed default grid. Validate must have passed.
func (c *Config) DefaultGrid() core.GridOption {
	grid, err := core.ParseGrid(c.EmojiGridDefault)
	if err != nil {
		return core.GridOption{Rows: 1, Cols: 1}
	}
	return grid
}

// GridLimit is the cap applied to user-selected grids.
func (c *Config) GridLimit() int {
	limit := c.EmojiMaxTiles
	if c.EmojiCreationLimit < limit {
		limit = c.EmojiCreationLimit
	}
	return limit
}

// SuggestTileCap bounds the tile count of suggested grids. The optional
// EMOJI_GRID_TILE_CAP tightens GridLimit when set; zero means unset.
func (c *Config) SuggestTileCap() int {
	limit := c.GridLimit()
	if c.EmojiGridTileCap > 0 && c.EmojiGridTileCap < limit {
		limit = c.EmojiGridTileCap
	}
	return limit
}

// IsAdmin reports whether the user is on the privileged allow-list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ParseAdminIDs splits a comma/space/semicolon-separated integer list,
// skipping anything unparsable.
func ParseAdminIDs(raw string) []int64 {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}
