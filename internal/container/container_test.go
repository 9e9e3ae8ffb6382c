package container

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packsmith/backend/internal/config"
	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/sticker"
)

type stubAPI struct {
	sets   map[string]*sticker.StickerSet
	nextID int
}

func newStubAPI() *stubAPI {
	return &stubAPI{sets: make(map[string]*sticker.StickerSet)}
}

func (s *stubAPI) Me(ctx context.Context) (sticker.BotInfo, error) {
	return sticker.BotInfo{ID: 1, Username: "PackBot"}, nil
}

func (s *stubAPI) UploadStickerFile(ctx context.Context, userID int64, data []byte) (string, error) {
	s.nextID++
	return fmt.Sprintf("file-%d", s.nextID), nil
}

func (s *stubAPI) GetStickerSet(ctx context.Context, name string) (*sticker.StickerSet, error) {
	set, ok := s.sets[name]
	if !ok {
		return nil, &sticker.APIError{Code: 400, Description: "Bad Request: STICKERSET_INVALID"}
	}
	copied := *set
	return &copied, nil
}

func (s *stubAPI) CreateNewStickerSet(ctx context.Context, userID int64, name, title string, stickers []sticker.InputSticker) error {
	set := &sticker.StickerSet{Name: name, Title: title, StickerType: "custom_emoji"}
	for range stickers {
		s.nextID++
		set.Stickers = append(set.Stickers, sticker.Sticker{CustomEmojiID: fmt.Sprintf("emoji-%d", s.nextID)})
	}
	s.sets[name] = set
	return nil
}

func (s *stubAPI) AddStickerToSet(ctx context.Context, userID int64, name string, st sticker.InputSticker) error {
	set, ok := s.sets[name]
	if !ok {
		return &sticker.APIError{Code: 400, Description: "Bad Request: STICKERSET_INVALID"}
	}
	s.nextID++
	set.Stickers = append(set.Stickers, sticker.Sticker{CustomEmojiID: fmt.Sprintf("emoji-%d", s.nextID)})
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.TelegramBotToken = "123:abc"
	cfg.StoragePath = filepath.Join(dir, "data", "state.db")
	cfg.TempDir = filepath.Join(dir, "tmp")
	require.NoError(t, cfg.Validate())
	return &cfg
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(200, 200, color.NRGBA{R: 9, G: 9, B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func startedContainer(t *testing.T) *Container {
	t.Helper()
	c := New(testConfig(t))
	c.StickerAPI = newStubAPI()
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop(context.Background()) })
	return c
}

func TestStartStopIdempotent(t *testing.T) {
	c := New(testConfig(t))
	c.StickerAPI = newStubAPI()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx))
	c.Stop(ctx)
	c.Stop(ctx)
}

func TestSubmitImageEndToEnd(t *testing.T) {
	c := startedContainer(t)
	ctx := context.Background()

	future, err := c.SubmitImage(ctx, 500, 500, testImage(t), SubmitOptions{})
	require.NoError(t, err)

	outcome, err := future.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	// Default settings: 2x2 grid.
	assert.Len(t, outcome.Result.CustomEmojiIDs, 4)
	assert.Contains(t, outcome.Result.ShortName, "_by_packbot")
	assert.Contains(t, outcome.Result.Link, "https://t.me/addemoji/")
}

func TestSubmitImageRejectsSecondWhileBusy(t *testing.T) {
	c := startedContainer(t)
	ctx := context.Background()
	data := testImage(t)

	_, err := c.SubmitImage(ctx, 600, 600, data, SubmitOptions{})
	require.NoError(t, err)

	_, err = c.SubmitImage(ctx, 600, 600, data, SubmitOptions{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.InputInvalid))
}

func TestSubmitImageRejectsGarbage(t *testing.T) {
	c := startedContainer(t)

	_, err := c.SubmitImage(context.Background(), 700, 700, []byte("not an image"), SubmitOptions{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.InputInvalid))
}

func TestSubmitImageRejectsOversizedGrid(t *testing.T) {
	c := startedContainer(t)

	grid := core.GridOption{Rows: 10, Cols: 10}
	_, err := c.SubmitImage(context.Background(), 800, 800, testImage(t), SubmitOptions{Grid: &grid})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.InputInvalid))
}

func TestSuggestGridsFromContainer(t *testing.T) {
	c := startedContainer(t)

	plan, err := c.SuggestGrids(testImage(t))
	require.NoError(t, err)
	require.NotEmpty(t, plan.Options)
	assert.Equal(t, plan.Options[0], plan.Fallback)
}

func TestSuggestGridsHonorsTileCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmojiGridTileCap = 4
	c := New(cfg)
	c.StickerAPI = newStubAPI()
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop(context.Background()) })

	plan, err := c.SuggestGrids(testImage(t))
	require.NoError(t, err)
	require.NotEmpty(t, plan.Options)
	for _, opt := range plan.Options {
		assert.LessOrEqual(t, opt.Tiles(), 4, "option %s exceeds the suggestion cap", opt)
	}
}

func TestNormalizeTextThroughContainer(t *testing.T) {
	c := New(testConfig(t))
	res := c.NormalizeText("text—with “artifacts” turn0search1")
	assert.Equal(t, "text-with \"artifacts\"", res.Text)
}
