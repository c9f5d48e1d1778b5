package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/plantdex/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func validSessionRepo(userID int64) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "valid-session-id" {
				return &model.Session{
					ID:        id,
					UserID:    userID,
					ExpiresAt: time.Now().Add(time.Hour),
				}, nil
			}
			return nil, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsUserID(t *testing.T) {
	var buf bytes.Buffer
	mw := NewSessionMiddleware(validSessionRepo(42), newTestLogger(&buf))

	var capturedUserID int64
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/plants", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedUserID != 42 {
		t.Errorf("userID = %d, want 42", capturedUserID)
	}
}

func TestSessionMiddleware_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		repo   *mockSessionRepository
	}{
		{
			name:   "Cookieなし",
			cookie: nil,
			repo:   validSessionRepo(1),
		},
		{
			name:   "空のCookie",
			cookie: &http.Cookie{Name: SessionCookieName, Value: ""},
			repo:   validSessionRepo(1),
		},
		{
			name:   "存在しない・期限切れのセッション",
			cookie: &http.Cookie{Name: SessionCookieName, Value: "expired-session"},
			repo:   validSessionRepo(1),
		},
		{
			name:   "リポジトリエラー",
			cookie: &http.Cookie{Name: SessionCookieName, Value: "valid-session-id"},
			repo: &mockSessionRepository{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return nil, errors.New("db down")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			mw := NewSessionMiddleware(tt.repo, newTestLogger(&buf))

			called := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/plants", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if called {
				t.Error("未認証リクエストは後続ハンドラーに到達してはならない")
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}

	ctx := ContextWithUserID(context.Background(), 7)
	got, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext() error = %v", err)
	}
	if got != 7 {
		t.Errorf("userID = %d, want 7", got)
	}

	if _, err := UserIDFromContext(ContextWithUserID(context.Background(), 0)); err == nil {
		t.Error("expected error for zero user ID")
	}
}
