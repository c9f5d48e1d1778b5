package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes はbcryptが扱えるパスワードの最大バイト長。
const maxPasswordBytes = 72

// dummyHash は存在しないユーザーのログイン時に比較対象として使うハッシュ。
// ユーザーの有無によって応答時間が変わらないようにする。
var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// hashPassword はパスワードをソルト付きbcryptハッシュに変換する。
func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// checkPassword はハッシュとパスワードを定数時間で比較する。
// 不一致の場合はfalse、ハッシュ自体が不正な場合はエラーを返す。
func checkPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password: %w", err)
}

// burnPasswordCheck は存在しないユーザーに対してもbcrypt比較を1回実行する。
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("plantdex-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
