package tracking

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/packsmith/backend/internal/core"
)

const (
	payloadHeaderLen = 8  // 4 salt bytes + 4 wall-time bytes
	maxPayloadLen    = 64 // platform cap on the start parameter
)

// EncodePayload packs a link id into a start parameter: 4 random salt
// bytes, 4 big-endian wall-time bytes, then the id in minimal big-endian
// form, base64url-encoded without padding. The salt and timestamp make
// every issued URL unique.
func EncodePayload(linkID int64) (string, error) {
	if linkID <= 0 {
		return "", core.NewError(core.InputInvalid, "link id must be positive")
	}

	buf := make([]byte, payloadHeaderLen, payloadHeaderLen+8)
	if _, err := rand.Read(buf[:4]); err != nil {
		return "", core.WrapError(core.IO, "payload salt", err)
	}
	binary.BigEndian.PutUint32(buf[4:8], uint32(time.Now().Unix()))

	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(linkID))
	i := 0
	for i < 7 && id[i] == 0 {
		i++
	}
	buf = append(buf, id[i:]...)

	payload := base64.RawURLEncoding.EncodeToString(buf)
	if len(payload) > maxPayloadLen {
		return "", core.NewError(core.InputInvalid, "payload exceeds 64 characters")
	}
	return payload, nil
}

// DecodePayload recovers the link id: base64url-decode, skip the 8 header
// bytes, read the remainder as a big-endian unsigned integer.
func DecodePayload(payload string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return 0, core.WrapError(core.InputInvalid, "decode payload", err)
	}
	if len(raw) <= payloadHeaderLen {
		return 0, core.NewError(core.InputInvalid, "payload too short")
	}
	idBytes := raw[payloadHeaderLen:]
	if len(idBytes) > 8 {
		return 0, core.NewError(core.InputInvalid, "payload id too long")
	}
	var id uint64
	for _, b := range idBytes {
		id = id<<8 | uint64(b)
	}
	if id == 0 || id > 1<<62 {
		return 0, core.NewError(core.InputInvalid, "payload id out of range")
	}
	return int64(id), nil
}
