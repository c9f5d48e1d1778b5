// Package repository はデータ永続化のインターフェースと実装を提供する。
// PostgreSQL実装（永続）とメモリ実装（揮発）は同一の契約を満たす。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/plantdex/internal/model"
)

var (
	// ErrNotFound は削除対象などのレコードが存在しない場合に返される。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateUsername はユーザー名が既に登録済みの場合に返される。
	ErrDuplicateUsername = errors.New("username already exists")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成し、IDと作成日時を割り当てて返す。
	// ユーザー名が重複する場合はErrDuplicateUsernameを返す。
	Create(ctx context.Context, username, passwordHash string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PlantRepository は植物レコードの永続化インターフェース。
type PlantRepository interface {
	// ListByUserID はユーザーが所有する植物レコードを挿入順（ID昇順）で返す。
	ListByUserID(ctx context.Context, userID int64) ([]model.Plant, error)

	// FindByID は指定IDの植物レコードを取得する。見つからない場合はnilを返す。
	// 所有者の検証は呼び出し元で行う。
	FindByID(ctx context.Context, id int64) (*model.Plant, error)

	// Create は植物レコードを作成する。
	// IDは単調増加で割り当てられ、作成日時はストア側で設定される。
	Create(ctx context.Context, userID int64, fields model.PlantFields) (*model.Plant, error)

	// Delete は指定IDの植物レコードを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id int64) error
}
