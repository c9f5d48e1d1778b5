package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/plantdex/internal/model"
	"github.com/hitoshi/plantdex/internal/repository"
)

// mockPurger はDeleteExpiredの呼び出しを記録するモック。
type mockPurger struct {
	mu       sync.Mutex
	calls    int
	deleted  int64
	err      error
	calledCh chan struct{}
}

func (m *mockPurger) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.calledCh != nil {
		select {
		case m.calledCh <- struct{}{}:
		default:
		}
	}
	return m.deleted, m.err
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockMetrics は削除件数の記録を保持する。
type mockMetrics struct {
	mu     sync.Mutex
	purged []int64
}

func (m *mockMetrics) RecordIdentificationSuccess() {}
func (m *mockMetrics) RecordIdentificationFailure(string) {}
func (m *mockMetrics) RecordIdentificationLatency(time.Duration) {}
func (m *mockMetrics) RecordPlantCreated(string) {}
func (m *mockMetrics) RecordHTTPStatus(int) {}
func (m *mockMetrics) RecordSessionsPurged(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, n)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestCleanupJob_Run_LogsDeletedCountAndRecordsMetric(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{deleted: 42}
	m := &mockMetrics{}
	job := NewCleanupJob(purger, m, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if purger.callCount() != 1 {
		t.Errorf("DeleteExpired calls = %d, want 1", purger.callCount())
	}
	if len(m.purged) != 1 || m.purged[0] != 42 {
		t.Errorf("purged metric = %v, want [42]", m.purged)
	}

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["deleted_count"] == float64(42) {
			found = true
		}
	}
	if !found {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	m := &mockMetrics{}
	job := NewCleanupJob(&mockPurger{err: dbErr}, m, newTestLogger(&buf))

	err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, dbErr)
	}
	if len(m.purged) != 0 {
		t.Error("失敗時にメトリクスを記録してはならない")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_NilMetrics(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, nil, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

// メモリ実装と組み合わせて期限切れセッションのみが削除されることを検証
func TestCleanupJob_Run_WithMemoryRepository(t *testing.T) {
	var buf bytes.Buffer
	repo := repository.NewMemorySessionRepo()
	ctx := context.Background()
	now := time.Now()

	_ = repo.Create(ctx, &model.Session{ID: "live", UserID: 1, ExpiresAt: now.Add(time.Hour)})
	_ = repo.Create(ctx, &model.Session{ID: "dead1", UserID: 1, ExpiresAt: now.Add(-time.Hour)})
	_ = repo.Create(ctx, &model.Session{ID: "dead2", UserID: 2, ExpiresAt: now.Add(-time.Minute)})

	m := &mockMetrics{}
	job := NewCleanupJob(repo, m, newTestLogger(&buf))

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.purged) != 1 || m.purged[0] != 2 {
		t.Errorf("purged = %v, want [2]", m.purged)
	}
	if s, _ := repo.FindByID(ctx, "live"); s == nil {
		t.Error("有効なセッションは削除されてはならない")
	}

	// 2回目は削除対象なし
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if m.purged[1] != 0 {
		t.Errorf("second purge = %d, want 0", m.purged[1])
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{calledCh: make(chan struct{}, 10)}
	job := NewCleanupJob(purger, nil, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	// 起動直後の1回と、ティッカーによる少なくとも1回
	for i := 0; i < 2; i++ {
		select {
		case <-purger.calledCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("DeleteExpired was not called (call %d)", i+1)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
