package promo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/promogate/internal/model"
)

// --- モック ---

type mockInventoryRepo struct {
	listAvailableFn func(ctx context.Context, app string) ([]*model.PromoRow, error)
	findClaimFn     func(ctx context.Context, app, userID string) (*model.PromoRow, error)
	tryClaimFn      func(ctx context.Context, app string, rowIndex int, claim *model.Claim) error
}

func (m *mockInventoryRepo) ListAvailable(ctx context.Context, app string) ([]*model.PromoRow, error) {
	if m.listAvailableFn != nil {
		return m.listAvailableFn(ctx, app)
	}
	return nil, nil
}

func (m *mockInventoryRepo) FindClaim(ctx context.Context, app, userID string) (*model.PromoRow, error) {
	if m.findClaimFn != nil {
		return m.findClaimFn(ctx, app, userID)
	}
	return nil, nil
}

func (m *mockInventoryRepo) TryClaim(ctx context.Context, app string, rowIndex int, claim *model.Claim) error {
	if m.tryClaimFn != nil {
		return m.tryClaimFn(ctx, app, rowIndex, claim)
	}
	return nil
}

// memoryInventoryRepo は条件付き更新の意味論を持つインメモリ在庫。
// 並行割り当てのプロパティテストに使用する。
type memoryInventoryRepo struct {
	mu   sync.Mutex
	rows []*model.PromoRow
}

func newMemoryInventoryRepo(app string, codes ...string) *memoryInventoryRepo {
	repo := &memoryInventoryRepo{}
	for i, code := range codes {
		repo.rows = append(repo.rows, &model.PromoRow{App: app, RowIndex: i + 1, Code: code})
	}
	return repo
}

func (m *memoryInventoryRepo) ListAvailable(ctx context.Context, app string) ([]*model.PromoRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var available []*model.PromoRow
	for _, row := range m.rows {
		if row.App == app && row.ClaimedBy == "" {
			copied := *row
			available = append(available, &copied)
		}
	}
	return available, nil
}

func (m *memoryInventoryRepo) FindClaim(ctx context.Context, app, userID string) (*model.PromoRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.App == app && row.ClaimedBy == userID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryInventoryRepo) TryClaim(ctx context.Context, app string, rowIndex int, claim *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.App == app && row.RowIndex == rowIndex {
			if row.ClaimedBy != "" {
				return model.ErrClaimConflict
			}
			row.ClaimedBy = claim.UserID
			at := claim.ClaimedAt
			row.ClaimedAt = &at
			row.Src = claim.Src
			row.Email = claim.Email
			return nil
		}
	}
	return model.ErrClaimConflict
}

// --- テスト ---

// TestAllocate_FreshUser_ClaimsFirstRow は新規ユーザーへの割り当てが
// 最小row_indexの行を確保することを検証する。
func TestAllocate_FreshUser_ClaimsFirstRow(t *testing.T) {
	repo := newMemoryInventoryRepo("game1", "A1", "A2")
	engine := NewEngine(repo, nil)

	row, err := engine.Allocate(context.Background(), "game1", "user-1", model.Attribution{})
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if row == nil {
		t.Fatal("expected a claimed row")
	}
	if row.Code != "A1" {
		t.Errorf("code = %q, want A1 (smallest row_index first)", row.Code)
	}
	if row.ClaimedBy != "user-1" {
		t.Errorf("claimed_by = %q, want user-1", row.ClaimedBy)
	}
	if row.ClaimedAt == nil {
		t.Error("claimed_at should be set atomically with claimed_by")
	}
}

// TestAllocate_Idempotent は同一ユーザーの再リデンプションが同じコードを
// 返し、2行目を消費しないことを検証する。
func TestAllocate_Idempotent(t *testing.T) {
	repo := newMemoryInventoryRepo("game1", "A1", "A2")
	engine := NewEngine(repo, nil)
	ctx := context.Background()

	first, err := engine.Allocate(ctx, "game1", "user-1", model.Attribution{})
	if err != nil {
		t.Fatalf("first Allocate returned error: %v", err)
	}

	second, err := engine.Allocate(ctx, "game1", "user-1", model.Attribution{})
	if err != nil {
		t.Fatalf("second Allocate returned error: %v", err)
	}

	if second == nil || second.Code != first.Code {
		t.Errorf("second allocation = %+v, want same code %q", second, first.Code)
	}

	available, _ := repo.ListAvailable(ctx, "game1")
	if len(available) != 1 {
		t.Errorf("available rows = %d, want 1 (inventory decreases by at most one)", len(available))
	}
}

// TestAllocate_Scenario_TwoRowsThreeUsers は在庫2行に対して3ユーザーが
// 順にリデンプションするシナリオを検証する。
func TestAllocate_Scenario_TwoRowsThreeUsers(t *testing.T) {
	repo := newMemoryInventoryRepo("game1", "A1", "A2")
	engine := NewEngine(repo, nil)
	ctx := context.Background()

	row, err := engine.Allocate(ctx, "game1", "U1", model.Attribution{})
	if err != nil || row == nil || row.Code != "A1" {
		t.Fatalf("U1 first redeem = %+v, %v; want A1", row, err)
	}

	row, err = engine.Allocate(ctx, "game1", "U1", model.Attribution{})
	if err != nil || row == nil || row.Code != "A1" {
		t.Fatalf("U1 repeat redeem = %+v, %v; want A1 again", row, err)
	}

	row, err = engine.Allocate(ctx, "game1", "U2", model.Attribution{})
	if err != nil || row == nil || row.Code != "A2" {
		t.Fatalf("U2 redeem = %+v, %v; want A2", row, err)
	}

	row, err = engine.Allocate(ctx, "game1", "U3", model.Attribution{})
	if err != nil {
		t.Fatalf("U3 redeem returned error: %v", err)
	}
	if row != nil {
		t.Errorf("U3 redeem = %+v, want absent (inventory exhausted)", row)
	}
}

// TestLookupForUser_NeverAllocates は読み取りパスが副作用として
// 割り当てを行わないことを検証する。
func TestLookupForUser_NeverAllocates(t *testing.T) {
	repo := newMemoryInventoryRepo("game1", "A1")
	engine := NewEngine(repo, nil)
	ctx := context.Background()

	row, err := engine.LookupForUser(ctx, "game1", "user-1")
	if err != nil {
		t.Fatalf("LookupForUser returned error: %v", err)
	}
	if row != nil {
		t.Errorf("lookup without prior claim = %+v, want nil", row)
	}

	available, _ := repo.ListAvailable(ctx, "game1")
	if len(available) != 1 {
		t.Errorf("available rows after lookup = %d, want 1 (no row mutated)", len(available))
	}
}

// TestAllocate_ConflictAdvancesToNextRow は先頭候補行での競合時に
// 次の行へ進んで割り当てが成功することを検証する。
func TestAllocate_ConflictAdvancesToNextRow(t *testing.T) {
	conflictOnFirst := true
	var claimedIndexes []int

	repo := &mockInventoryRepo{
		listAvailableFn: func(ctx context.Context, app string) ([]*model.PromoRow, error) {
			return []*model.PromoRow{
				{App: app, RowIndex: 1, Code: "A1"},
				{App: app, RowIndex: 2, Code: "A2"},
			}, nil
		},
		tryClaimFn: func(ctx context.Context, app string, rowIndex int, claim *model.Claim) error {
			claimedIndexes = append(claimedIndexes, rowIndex)
			if rowIndex == 1 && conflictOnFirst {
				return model.ErrClaimConflict
			}
			return nil
		},
	}
	engine := NewEngine(repo, nil)

	row, err := engine.Allocate(context.Background(), "game1", "user-1", model.Attribution{})
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if row == nil || row.Code != "A2" {
		t.Fatalf("allocated row = %+v, want A2 after conflict on row 1", row)
	}
	if len(claimedIndexes) != 2 || claimedIndexes[0] != 1 || claimedIndexes[1] != 2 {
		t.Errorf("TryClaim call order = %v, want [1 2] (no retry on same row)", claimedIndexes)
	}
}

// TestAllocate_AllRowsConflicted は全候補行で競合に敗れた場合に
// エラーではなくnil（在庫なし）が返ることを検証する。
func TestAllocate_AllRowsConflicted(t *testing.T) {
	repo := &mockInventoryRepo{
		listAvailableFn: func(ctx context.Context, app string) ([]*model.PromoRow, error) {
			return []*model.PromoRow{
				{App: app, RowIndex: 1, Code: "A1"},
				{App: app, RowIndex: 2, Code: "A2"},
			}, nil
		},
		tryClaimFn: func(ctx context.Context, app string, rowIndex int, claim *model.Claim) error {
			return model.ErrClaimConflict
		},
	}
	engine := NewEngine(repo, nil)

	row, err := engine.Allocate(context.Background(), "game1", "user-1", model.Attribution{})
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if row != nil {
		t.Errorf("allocation = %+v, want nil when all rows conflicted", row)
	}
}

// TestAllocate_StoreError_Propagates はストア障害が「在庫なし」に
// 化けずエラーとして伝播することを検証する。
func TestAllocate_StoreError_Propagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &mockInventoryRepo{
		listAvailableFn: func(ctx context.Context, app string) ([]*model.PromoRow, error) {
			return nil, storeErr
		},
	}
	engine := NewEngine(repo, nil)

	_, err := engine.Allocate(context.Background(), "game1", "user-1", model.Attribution{})
	if err == nil {
		t.Fatal("expected error when store is unavailable")
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped store error", err)
	}
}

// TestAllocate_AttributionPersisted はsrc/emailが割り当てに
// 書き込まれることを検証する。
func TestAllocate_AttributionPersisted(t *testing.T) {
	repo := newMemoryInventoryRepo("game1", "A1")
	engine := NewEngine(repo, nil)

	attr := model.Attribution{Src: "newsletter", Email: "player@example.com"}
	row, err := engine.Allocate(context.Background(), "game1", "user-1", attr)
	if err != nil || row == nil {
		t.Fatalf("Allocate = %+v, %v", row, err)
	}
	if row.Src != "newsletter" || row.Email != "player@example.com" {
		t.Errorf("attribution = (%q, %q), want (newsletter, player@example.com)", row.Src, row.Email)
	}
}

// TestAllocate_Concurrent_NoDoubleClaim は同時リデンプションにおいて
// 各行が高々1ユーザーにしか割り当てられないことを検証する。
func TestAllocate_Concurrent_NoDoubleClaim(t *testing.T) {
	const users = 20
	const codes = 10

	codeList := make([]string, codes)
	for i := range codeList {
		codeList[i] = "CODE-" + string(rune('A'+i))
	}
	repo := newMemoryInventoryRepo("game1", codeList...)
	engine := NewEngine(repo, nil)

	results := make([]*model.PromoRow, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := "user-" + string(rune('a'+i))
			row, err := engine.Allocate(context.Background(), "game1", uid, model.Attribution{})
			if err != nil {
				t.Errorf("Allocate for %s returned error: %v", uid, err)
				return
			}
			results[i] = row
		}(i)
	}
	wg.Wait()

	claimed := make(map[string]int)
	for _, row := range results {
		if row != nil {
			claimed[row.Code]++
		}
	}
	for code, n := range claimed {
		if n > 1 {
			t.Errorf("code %s claimed by %d users, want at most 1", code, n)
		}
	}
	if len(claimed) != codes {
		t.Errorf("claimed codes = %d, want %d (all inventory consumed)", len(claimed), codes)
	}
}

// TestEngine_ClockInjection はClaimedAtがエンジンのクロックから
// 取られることを検証する。
func TestEngine_ClockInjection(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemoryInventoryRepo("game1", "A1")
	engine := NewEngine(repo, nil)
	engine.now = func() time.Time { return fixed }

	row, err := engine.Allocate(context.Background(), "game1", "user-1", model.Attribution{})
	if err != nil || row == nil {
		t.Fatalf("Allocate = %+v, %v", row, err)
	}
	if !row.ClaimedAt.Equal(fixed) {
		t.Errorf("claimed_at = %v, want %v", row.ClaimedAt, fixed)
	}
}
