package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

func newGuardFixture(t *testing.T, timeout time.Duration) (*usecase.AccountGuard, *memory.MemoryLedger) {
	t.Helper()
	ledger, err := memory.NewMemoryLedger(nil)
	require.NoError(t, err)
	return usecase.NewAccountGuard(ledger, timeout), ledger
}

func createAccount(t *testing.T, ledger *memory.MemoryLedger, owner string) *domain.Account {
	t.Helper()
	acct, err := domain.NewAccount(owner, domain.AccountKindChecking)
	require.NoError(t, err)
	require.NoError(t, ledger.CreateAccount(context.Background(), acct))
	return acct
}

func TestAcquireExclusive(t *testing.T) {
	guard, ledger := newGuardFixture(t, 100*time.Millisecond)
	acct := createAccount(t, ledger, "alice")
	ctx := context.Background()

	lease, err := guard.Acquire(ctx, acct.ID)
	require.NoError(t, err)

	// 同一帳戶的第二個租約必須等到釋放，逾時回 ErrLockTimeout
	_, err = guard.Acquire(ctx, acct.ID)
	require.ErrorIs(t, err, domain.ErrLockTimeout)

	lease.Release()
	lease2, err := guard.Acquire(ctx, acct.ID)
	require.NoError(t, err)
	lease2.Release()

	// Release 重複呼叫為 no-op
	lease2.Release()
}

func TestAcquireUnknownOrInactive(t *testing.T) {
	guard, ledger := newGuardFixture(t, time.Second)
	ctx := context.Background()

	_, err := guard.Acquire(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	acct := createAccount(t, ledger, "alice")
	require.NoError(t, ledger.SetAccountActive(ctx, acct.ID, false))
	_, err = guard.Acquire(ctx, acct.ID)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	// 失敗路徑不得殘留鎖：重新啟用後可正常取得
	require.NoError(t, ledger.SetAccountActive(ctx, acct.ID, true))
	lease, err := guard.Acquire(ctx, acct.ID)
	require.NoError(t, err)
	lease.Release()
}

// TestOppositeOrderAcquire 驗證死鎖自由：
// 兩個 goroutine 分別以 (a,b) 與 (b,a) 的順序反覆取鎖，必須全部完成
func TestOppositeOrderAcquire(t *testing.T) {
	guard, ledger := newGuardFixture(t, 5*time.Second)
	a := createAccount(t, ledger, "alice")
	b := createAccount(t, ledger, "bob")
	ctx := context.Background()

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(2)

	run := func(first, second uuid.UUID) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			lease, err := guard.Acquire(ctx, first, second)
			require.NoError(t, err)
			lease.Release()
		}
	}
	go run(a.ID, b.ID)
	go run(b.ID, a.ID)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("deadlock: opposite-order acquires did not finish")
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	guard, ledger := newGuardFixture(t, 30*time.Second)
	acct := createAccount(t, ledger, "alice")

	blocker, err := guard.Acquire(context.Background(), acct.ID)
	require.NoError(t, err)
	defer blocker.Release()

	// 呼叫端取消必須回報 context 錯誤，不可偽裝成鎖競爭逾時
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = guard.Acquire(ctx, acct.ID)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, domain.ErrLockTimeout)
}

func TestAcquireTimeoutReleasesPartial(t *testing.T) {
	guard, ledger := newGuardFixture(t, 100*time.Millisecond)
	a := createAccount(t, ledger, "alice")
	b := createAccount(t, ledger, "bob")
	ctx := context.Background()

	ordered := domain.OrderedIDs(a.ID, b.ID)

	// 先佔住順序靠後的那把鎖，讓雙鎖取得在第二步逾時
	blocker, err := guard.Acquire(ctx, ordered[1])
	require.NoError(t, err)

	_, err = guard.Acquire(ctx, a.ID, b.ID)
	require.ErrorIs(t, err, domain.ErrLockTimeout)

	// 逾時後第一步取得的鎖必須已釋放
	lease, err := guard.Acquire(ctx, ordered[0])
	require.NoError(t, err)
	lease.Release()
	blocker.Release()
}
