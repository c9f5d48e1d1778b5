package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/plantdex/internal/model"
)

// memoryClock はメモリ実装で使用する時刻源。
// 挿入順に対して作成日時が単調非減少となるよう、前回値より過去を返さない。
type memoryClock struct {
	now  func() time.Time
	last time.Time
}

func (c *memoryClock) next() time.Time {
	t := c.now()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
// テストおよびSTORE_BACKEND=memoryでの起動に使用する。
type MemoryUserRepo struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]model.User
	clock  memoryClock
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		nextID: 1,
		byID:   make(map[int64]model.User),
		clock:  memoryClock{now: time.Now},
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.Username == username {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。ユーザー名の重複チェックとID採番を同一ロック内で行う。
func (r *MemoryUserRepo) Create(ctx context.Context, username, passwordHash string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.byID {
		if u.Username == username {
			return nil, ErrDuplicateUsername
		}
	}

	u := model.User{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    r.clock.next(),
	}
	r.byID[u.ID] = u
	r.nextID++

	return &u, nil
}

// MemorySessionRepo はプロセス内メモリを使用したセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// MemoryPlantRepo はプロセス内メモリを使用した植物レコードリポジトリ。
// ID採番は単一のミューテックスで直列化され、プロセス内で狭義単調増加となる。
type MemoryPlantRepo struct {
	mu     sync.RWMutex
	nextID int64
	plants map[int64]model.Plant
	clock  memoryClock
}

// NewMemoryPlantRepo はMemoryPlantRepoを生成する。
func NewMemoryPlantRepo() *MemoryPlantRepo {
	return &MemoryPlantRepo{
		nextID: 1,
		plants: make(map[int64]model.Plant),
		clock:  memoryClock{now: time.Now},
	}
}

// ListByUserID はユーザーの植物レコードをID昇順で返す。
func (r *MemoryPlantRepo) ListByUserID(ctx context.Context, userID int64) ([]model.Plant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plants := []model.Plant{}
	for _, p := range r.plants {
		if p.UserID == userID {
			plants = append(plants, p)
		}
	}
	sort.Slice(plants, func(i, j int) bool {
		return plants[i].ID < plants[j].ID
	})
	return plants, nil
}

// FindByID は指定IDの植物レコードを取得する。見つからない場合はnilを返す。
func (r *MemoryPlantRepo) FindByID(ctx context.Context, id int64) (*model.Plant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plants[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Create は植物レコードを作成する。
func (r *MemoryPlantRepo) Create(ctx context.Context, userID int64, fields model.PlantFields) (*model.Plant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := model.Plant{
		ID:             r.nextID,
		UserID:         userID,
		Name:           fields.Name,
		ScientificName: fields.ScientificName,
		ImageURL:       fields.ImageURL,
		Habitat:        fields.Habitat,
		CareTips:       fields.CareTips,
		CreatedAt:      r.clock.next(),
	}
	r.plants[p.ID] = p
	r.nextID++

	return &p, nil
}

// Delete は指定IDの植物レコードを削除する。
func (r *MemoryPlantRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plants[id]; !ok {
		return ErrNotFound
	}
	delete(r.plants, id)
	return nil
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
	_ PlantRepository   = (*MemoryPlantRepo)(nil)
)
