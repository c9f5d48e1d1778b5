package plantid

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidDataURI は埋め込み画像のdata URIが不正な形式の場合に返される。
var ErrInvalidDataURI = errors.New("invalid image data URI")

// IsEmbeddedImage は画像フィールドが埋め込み画像（data URI）かどうかを判定する。
// 通常のURLや空文字列はfalseを返す。スキームの大文字小文字は区別しない。
func IsEmbeddedImage(image string) bool {
	s := strings.TrimSpace(image)
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

// StripDataURIPrefix は "data:image/<type>;base64,<payload>" 形式から
// base64ペイロード部分のみを取り出す。
// メディアタイプがimage/*でない場合、base64指定がない場合、
// ペイロードが空またはbase64として不正な場合はErrInvalidDataURIを返す。
func StripDataURIPrefix(dataURI string) (string, error) {
	s := strings.TrimSpace(dataURI)
	if !IsEmbeddedImage(s) {
		return "", ErrInvalidDataURI
	}

	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", ErrInvalidDataURI
	}

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if !strings.HasPrefix(mediaType, "image/") || len(mediaType) == len("image/") {
		return "", ErrInvalidDataURI
	}
	if !strings.EqualFold(strings.TrimSpace(params[len(params)-1]), "base64") {
		return "", ErrInvalidDataURI
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", ErrInvalidDataURI
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", ErrInvalidDataURI
	}

	return payload, nil
}
