package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/plantdex/internal/middleware"
	"github.com/hitoshi/plantdex/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFTokenInvalid:
		return http.StatusForbidden
	case model.ErrCodePlantNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeUsernameTaken:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		// IDENTIFICATION_FAILED, IDENTIFICATION_TIMEOUT を含む
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はリクエストボディをJSONオブジェクトとしてdstにデコードする。
// 未知のフィールドは無視する。null、後続データ、型の不一致や不正なJSONは検証エラー、
// 上限超過はリクエストサイズエラーとして返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) *model.APIError {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	dec := json.NewDecoder(r.Body)

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return decodeError(err)
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.NewValidationError("リクエストボディはJSONオブジェクトである必要があります。")
	}
	// 最初の値の後に続くデータは受け付けない
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return model.NewRequestTooLargeError(maxBytesErr.Limit)
		}
		return model.NewValidationError("リクエストボディには1つのJSONオブジェクトのみを指定してください。")
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return decodeError(err)
	}
	return nil
}

// decodeError はJSONの読み取りエラーを利用者向けのエラーに変換する。
func decodeError(err error) *model.APIError {
	var maxBytesErr *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &maxBytesErr):
		return model.NewRequestTooLargeError(maxBytesErr.Limit)
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return model.NewValidationError("リクエストボディはJSONオブジェクトである必要があります。")
		}
		return model.NewValidationError(fmt.Sprintf("フィールド %s は%sである必要があります（%sが指定されました）。",
			typeErr.Field, jsonTypeName(typeErr.Type.Kind().String()), typeErr.Value))
	case errors.As(err, &syntaxErr):
		return model.NewValidationError(fmt.Sprintf("JSONの構文が不正です（offset %d）: %s", syntaxErr.Offset, syntaxErr.Error()))
	case errors.Is(err, io.EOF):
		return model.NewValidationError("リクエストボディが空です。")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return model.NewValidationError("JSONが途中で終了しています。")
	default:
		return model.NewValidationError("リクエストボディの解析に失敗しました: " + err.Error())
	}
}

// jsonTypeName はGoの型種別をJSONの型名に変換する。
func jsonTypeName(kind string) string {
	switch kind {
	case "string":
		return "string"
	case "bool":
		return "boolean"
	case "struct", "map":
		return "object"
	case "slice", "array":
		return "array"
	default:
		return "number"
	}
}
