package sticker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/retry"
)

type fakeAPI struct {
	sets        map[string]*StickerSet
	uploads     int
	uploadFails int // fail this many uploads with a rate limit first
	getSetCalls int
	addCalls    int
	createCalls int
	failGetSet  error
	nextEmojiID int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{sets: make(map[string]*StickerSet)}
}

func (f *fakeAPI) Me(ctx context.Context) (BotInfo, error) {
	return BotInfo{ID: 42, Username: "PackBot"}, nil
}

func (f *fakeAPI) UploadStickerFile(ctx context.Context, userID int64, png []byte) (string, error) {
	if f.uploadFails > 0 {
		f.uploadFails--
		return "", classify("uploadStickerFile", &APIError{Code: 429, Description: "Too Many Requests", RetryAfter: 1})
	}
	f.uploads++
	return fmt.Sprintf("file-%d", f.uploads), nil
}

func (f *fakeAPI) GetStickerSet(ctx context.Context, name string) (*StickerSet, error) {
	f.getSetCalls++
	if f.failGetSet != nil {
		return nil, f.failGetSet
	}
	set, ok := f.sets[name]
	if !ok {
		return nil, classify("getStickerSet", &APIError{Code: 400, Description: "Bad Request: STICKERSET_INVALID"})
	}
	copied := *set
	return &copied, nil
}

func (f *fakeAPI) CreateNewStickerSet(ctx context.Context, userID int64, name, title string, stickers []InputSticker) error {
	f.createCalls++
	set := &StickerSet{Name: name, Title: title, StickerType: "custom_emoji"}
	for _, st := range stickers {
		f.nextEmojiID++
		set.Stickers = append(set.Stickers, Sticker{
			FileID:        st.Sticker,
			CustomEmojiID: fmt.Sprintf("emoji-%d", f.nextEmojiID),
		})
	}
	f.sets[name] = set
	return nil
}

func (f *fakeAPI) AddStickerToSet(ctx context.Context, userID int64, name string, st InputSticker) error {
	f.addCalls++
	set, ok := f.sets[name]
	if !ok {
		return classify("addStickerToSet", &APIError{Code: 400, Description: "Bad Request: STICKERSET_INVALID"})
	}
	f.nextEmojiID++
	set.Stickers = append(set.Stickers, Sticker{
		FileID:        st.Sticker,
		CustomEmojiID: fmt.Sprintf("emoji-%d", f.nextEmojiID),
	})
	return nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1.0}
}

func testClient(t *testing.T, api API, opts Options) *Client {
	t.Helper()
	if opts.Policy.Attempts == 0 {
		opts.Policy = fastPolicy()
	}
	if opts.CreationLimit == 0 {
		opts.CreationLimit = 50
	}
	bot := NewCachedBotInfo(api, "t.me")
	return NewClient(api, bot, opts, nil)
}

func writeTiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("tile_%d.png", i))
		require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G', byte(i)}, 0o644))
		paths = append(paths, path)
	}
	return paths
}

func testRequest() core.PackRequest {
	return core.PackRequest{
		UserID:       777,
		ChatID:       777,
		FilePath:     "/tmp/job/tmp_abc.png",
		ImageHash:    "deadbeef",
		Grid:         core.GridOption{Rows: 2, Cols: 2},
		Padding:      1,
		FileUniqueID: "AQADBAAD",
		RequestedAt:  time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
	}
}

func TestBuildShortNameShape(t *testing.T) {
	name := BuildShortName(testRequest(), "PackBot")
	assert.LessOrEqual(t, len(name), 64)
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9_]+$`), name)
	assert.Regexp(t, regexp.MustCompile(`_by_packbot$`), name)
}

func TestBuildShortNameFreshPerSubmission(t *testing.T) {
	req := testRequest()
	later := req
	later.RequestedAt = req.RequestedAt.Add(time.Microsecond)
	assert.NotEqual(t, BuildShortName(req, "PackBot"), BuildShortName(later, "PackBot"))
}

func TestBuildShortNameTruncation(t *testing.T) {
	req := testRequest()
	req.UserID = 999999999999999999
	req.Grid = core.GridOption{Rows: 10, Cols: 10}
	name := BuildShortName(req, "a_very_long_bot_username_here")
	assert.LessOrEqual(t, len(name), 64)
	assert.Regexp(t, regexp.MustCompile(`_by_a_very_long_bot_username_here$`), name)
}

func TestCreateFlow(t *testing.T) {
	api := newFakeAPI()
	client := testClient(t, api, Options{})
	tiles := writeTiles(t, 4)

	result, err := client.CreateOrExtend(context.Background(), testRequest(), tiles)
	require.NoError(t, err)

	assert.Equal(t, 1, api.createCalls)
	assert.Equal(t, 0, api.addCalls)
	assert.Equal(t, 4, api.uploads)
	assert.Len(t, result.CustomEmojiIDs, 4)
	assert.Equal(t, "https://t.me/addemoji/"+result.ShortName, result.Link)
	assert.Empty(t, result.FragmentPreviewID)
}

func TestExtendFlow(t *testing.T) {
	api := newFakeAPI()
	client := testClient(t, api, Options{})
	req := testRequest()

	name := BuildShortName(req, "PackBot")
	require.NoError(t, api.CreateNewStickerSet(context.Background(), req.UserID, name, "seed", []InputSticker{
		{Sticker: "file-seed", Format: "static"},
	}))
	api.createCalls = 0

	result, err := client.CreateOrExtend(context.Background(), req, writeTiles(t, 2))
	require.NoError(t, err)

	assert.Equal(t, 0, api.createCalls)
	assert.Equal(t, 2, api.addCalls)
	require.Len(t, result.CustomEmojiIDs, 2)
	// The seed sticker's id is not among the returned ids.
	assert.NotContains(t, result.CustomEmojiIDs, "emoji-1")
}

func TestCreationLimitRejectedSynchronously(t *testing.T) {
	api := newFakeAPI()
	client := testClient(t, api, Options{CreationLimit: 3})

	_, err := client.CreateOrExtend(context.Background(), testRequest(), writeTiles(t, 4))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.InputInvalid))
	assert.Equal(t, 0, api.uploads)
	assert.Equal(t, 0, api.getSetCalls)
}

func TestTotalLimitEnforced(t *testing.T) {
	api := newFakeAPI()
	client := testClient(t, api, Options{TotalLimit: 4})
	req := testRequest()

	name := BuildShortName(req, "PackBot")
	seed := make([]InputSticker, 3)
	for i := range seed {
		seed[i] = InputSticker{Sticker: fmt.Sprintf("seed-%d", i), Format: "static"}
	}
	require.NoError(t, api.CreateNewStickerSet(context.Background(), req.UserID, name, "seed", seed))

	_, err := client.CreateOrExtend(context.Background(), req, writeTiles(t, 2))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.RemoteContract))
	assert.Equal(t, 0, api.addCalls)
}

func TestUploadRetriesOnRateLimit(t *testing.T) {
	api := newFakeAPI()
	api.uploadFails = 2
	client := testClient(t, api, Options{})

	result, err := client.CreateOrExtend(context.Background(), testRequest(), writeTiles(t, 1))
	require.NoError(t, err)
	assert.Len(t, result.CustomEmojiIDs, 1)
}

func TestUploadGivesUpAfterAttempts(t *testing.T) {
	api := newFakeAPI()
	api.uploadFails = 10
	client := testClient(t, api, Options{})

	_, err := client.CreateOrExtend(context.Background(), testRequest(), writeTiles(t, 1))
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestFragmentPreviewID(t *testing.T) {
	api := newFakeAPI()
	client := testClient(t, api, Options{FragmentUsername: "fragment"})

	result, err := client.CreateOrExtend(context.Background(), testRequest(), writeTiles(t, 3))
	require.NoError(t, err)
	require.NotEmpty(t, result.CustomEmojiIDs)
	assert.Equal(t, result.CustomEmojiIDs[0], result.FragmentPreviewID)
}

func TestGetSetFailurePropagates(t *testing.T) {
	api := newFakeAPI()
	api.failGetSet = classify("getStickerSet", &APIError{Code: 403, Description: "Forbidden"})
	client := testClient(t, api, Options{})

	_, err := client.CreateOrExtend(context.Background(), testRequest(), writeTiles(t, 1))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.RemoteContract))
}

func TestIsSetNotFound(t *testing.T) {
	assert.True(t, IsSetNotFound(classify("getStickerSet",
		&APIError{Code: 400, Description: "Bad Request: sticker_set_invalid"})))
	assert.True(t, IsSetNotFound(classify("getStickerSet",
		&APIError{Code: 400, Description: "STICKERSET_INVALID"})))
	assert.False(t, IsSetNotFound(classify("getStickerSet",
		&APIError{Code: 400, Description: "PEER_ID_INVALID"})))
	assert.False(t, IsSetNotFound(nil))
}
