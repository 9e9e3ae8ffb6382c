package sticker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/logging"
	"github.com/packsmith/backend/internal/metrics"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramAPI talks to the Bot API over HTTP.
type TelegramAPI struct {
	token  string
	base   string
	httpc  *http.Client
	logger *logging.Logger
}

// NewTelegramAPI builds the HTTP adapter. A nil client gets a 30s-timeout
// default.
func NewTelegramAPI(token string, httpc *http.Client, logger *logging.Logger) *TelegramAPI {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.New("[STICKER] ", logging.LevelInfo)
	}
	return &TelegramAPI{
		token:  token,
		base:   defaultAPIBase,
		httpc:  httpc,
		logger: logger,
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (t *TelegramAPI) SetBaseURL(base string) {
	t.base = base
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramAPI) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
}

// call posts form values and decodes the envelope into result (when non-nil).
func (t *TelegramAPI) call(ctx context.Context, method string, form url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL(method),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return core.WrapError(core.TransportTransient, method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(method, req, result)
}

func (t *TelegramAPI) do(method string, req *http.Request, result interface{}) error {
	resp, err := t.httpc.Do(req)
	if err != nil {
		metrics.StickerCalls.WithLabelValues(method, "network_error").Inc()
		return core.WrapError(core.TransportTransient, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.StickerCalls.WithLabelValues(method, "network_error").Inc()
		return core.WrapError(core.TransportTransient, method+" read body", err)
	}
	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		metrics.StickerCalls.WithLabelValues(method, "bad_envelope").Inc()
		return core.WrapError(core.TransportTransient, method+" decode reply", err)
	}
	if !envelope.OK {
		apiErr := &APIError{
			Code:        envelope.ErrorCode,
			Description: envelope.Description,
			RetryAfter:  envelope.Parameters.RetryAfter,
		}
		metrics.StickerCalls.WithLabelValues(method, strconv.Itoa(apiErr.Code)).Inc()
		t.logger.Debugf("%s failed: %v", method, apiErr)
		return classify(method, apiErr)
	}
	metrics.StickerCalls.WithLabelValues(method, "ok").Inc()
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return core.WrapError(core.RemoteContract, method+" decode result", err)
		}
	}
	return nil
}

// Me fetches the bot account identity.
func (t *TelegramAPI) Me(ctx context.Context) (BotInfo, error) {
	var raw struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := t.call(ctx, "getMe", url.Values{}, &raw); err != nil {
		return BotInfo{}, err
	}
	return BotInfo{ID: raw.ID, Username: raw.Username}, nil
}

// UploadStickerFile uploads one PNG tile and returns its file identifier.
func (t *TelegramAPI) UploadStickerFile(ctx context.Context, userID int64, png []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("user_id", strconv.FormatInt(userID, 10)); err != nil {
		return "", core.WrapError(core.IO, "uploadStickerFile form", err)
	}
	if err := w.WriteField("sticker_format", "static"); err != nil {
		return "", core.WrapError(core.IO, "uploadStickerFile form", err)
	}
	part, err := w.CreateFormFile("sticker", "tile.png")
	if err != nil {
		return "", core.WrapError(core.IO, "uploadStickerFile form", err)
	}
	if _, err := part.Write(png); err != nil {
		return "", core.WrapError(core.IO, "uploadStickerFile form", err)
	}
	if err := w.Close(); err != nil {
		return "", core.WrapError(core.IO, "uploadStickerFile form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.methodURL("uploadStickerFile"), &buf)
	if err != nil {
		return "", core.WrapError(core.TransportTransient, "uploadStickerFile", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var raw struct {
		FileID string `json:"file_id"`
	}
	if err := t.do("uploadStickerFile", req, &raw); err != nil {
		return "", err
	}
	return raw.FileID, nil
}

// GetStickerSet reads the named set.
func (t *TelegramAPI) GetStickerSet(ctx context.Context, name string) (*StickerSet, error) {
	form := url.Values{}
	form.Set("name", name)
	var set StickerSet
	if err := t.call(ctx, "getStickerSet", form, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// CreateNewStickerSet creates a custom-emoji set with the given stickers.
func (t *TelegramAPI) CreateNewStickerSet(ctx context.Context, userID int64, name, title string, stickers []InputSticker) error {
	payload, err := json.Marshal(stickers)
	if err != nil {
		return core.WrapError(core.IO, "createNewStickerSet encode", err)
	}
	form := url.Values{}
	form.Set("user_id", strconv.FormatInt(userID, 10))
	form.Set("name", name)
	form.Set("title", title)
	form.Set("sticker_type", "custom_emoji")
	form.Set("stickers", string(payload))
	return t.call(ctx, "createNewStickerSet", form, nil)
}

// AddStickerToSet appends one sticker to an existing set.
func (t *TelegramAPI) AddStickerToSet(ctx context.Context, userID int64, name string, st InputSticker) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return core.WrapError(core.IO, "addStickerToSet encode", err)
	}
	form := url.Values{}
	form.Set("user_id", strconv.FormatInt(userID, 10))
	form.Set("name", name)
	form.Set("sticker", string(payload))
	return t.call(ctx, "addStickerToSet", form, nil)
}
