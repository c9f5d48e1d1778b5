// Package auth はユーザー登録、パスワード認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/plantdex/internal/model"
	"github.com/hitoshi/plantdex/internal/repository"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 8
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Register はユーザーを登録し、そのままログイン状態のセッションを発行する。
// 入力が不正な場合はバリデーションエラー、ユーザー名が使用済みの場合は
// USERNAME_TAKENエラーを返す。
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, *model.Session, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, nil, err
	}

	hash, err := hashPassword(password, s.config.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.userRepo.Create(ctx, username, hash)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, nil, model.NewUsernameTakenError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("new user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, session, nil
}

// Login はユーザー名とパスワードを検証し、セッションを発行する。
// ユーザーが存在しない場合もパスワード比較を行い、応答時間から存在を推測できないようにする。
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, *model.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, nil, model.NewValidationError("ユーザー名とパスワードを入力してください")
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		burnPasswordCheck(password)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	ok, err := checkPassword(user.PasswordHash, password)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		s.logger.Warn("login failed",
			slog.Int64("user_id", user.ID),
		)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("user logged in", slog.Int64("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションミドルウェアが注入したユーザーIDからユーザーを取得する。
// ユーザーが存在しない場合はUNAUTHORIZEDエラーを返す。
func (s *Service) GetCurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID int64) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// validateCredentials は登録時のユーザー名とパスワードの形式を検証する。
func validateCredentials(username, password string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return model.NewValidationError(
			fmt.Sprintf("ユーザー名は%d〜%d文字で入力してください", minUsernameLength, maxUsernameLength))
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordBytes {
		return model.NewValidationError(
			fmt.Sprintf("パスワードは%d〜%dバイトで入力してください", minPasswordLength, maxPasswordBytes))
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
