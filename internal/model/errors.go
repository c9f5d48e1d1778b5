// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, plant, identification, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodePlantNotFound         = "PLANT_NOT_FOUND"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeRequestTooLarge       = "REQUEST_TOO_LARGE"
	ErrCodeUsernameTaken         = "USERNAME_TAKEN"
	ErrCodeIdentificationFailed  = "IDENTIFICATION_FAILED"
	ErrCodeIdentificationTimeout = "IDENTIFICATION_TIMEOUT"
	ErrCodeCSRFTokenInvalid      = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザー名の存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewForbiddenError は他ユーザー所有のリソースへのアクセスエラーを生成する。
// 所有者やレコード内容は含めない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このリソースへのアクセス権がありません。",
		Category: "auth",
		Action:   "自分のコレクションの植物のみ操作できます。",
	}
}

// NewPlantNotFoundError は植物レコード未検出エラーを生成する。
func NewPlantNotFoundError(plantID string) *APIError {
	return &APIError{
		Code:     ErrCodePlantNotFound,
		Message:  fmt.Sprintf("指定された植物が見つかりません: %s", plantID),
		Category: "plant",
		Action:   "植物IDを確認してください。",
	}
}

// NewValidationError はリクエスト形式の検証エラーを生成する。
// reasonは呼び出し元にそのまま返される。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewRequestTooLargeError はリクエストボディが上限を超えた場合のエラーを生成する。
func NewRequestTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeRequestTooLarge,
		Message:  fmt.Sprintf("リクエストボディが上限（%dバイト）を超えています。", limit),
		Category: "validation",
		Action:   "画像の解像度を下げてから再度お試しください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使用されています。",
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewIdentificationFailedError は植物識別の失敗エラーを生成する。
// upstreamMessageには識別APIが返したメッセージを含める。
func NewIdentificationFailedError(upstreamMessage string) *APIError {
	msg := "植物の識別に失敗しました。"
	if upstreamMessage != "" {
		msg = fmt.Sprintf("植物の識別に失敗しました: %s", upstreamMessage)
	}
	return &APIError{
		Code:     ErrCodeIdentificationFailed,
		Message:  msg,
		Category: "identification",
		Action:   "別の画像で試すか、名前と学名を入力して登録してください。",
	}
}

// NewIdentificationTimeoutError は植物識別APIのタイムアウトエラーを生成する。
func NewIdentificationTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentificationTimeout,
		Message:  "植物識別サービスの応答がタイムアウトしました。",
		Category: "identification",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
