package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAccount(t *testing.T, owner string) *domain.Account {
	t.Helper()
	acct, err := domain.NewAccount(owner, domain.AccountKindChecking)
	require.NoError(t, err)
	return acct
}

func deposit(to uuid.UUID, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		Kind:      domain.TransactionKindDeposit,
		To:        to,
		Amount:    dec(amount),
		Timestamp: time.Now(),
	}
}

func TestCreateAndGetAccount(t *testing.T) {
	ledger, err := NewMemoryLedger(nil)
	require.NoError(t, err)
	ctx := context.Background()

	acct := newAccount(t, "alice")
	require.NoError(t, ledger.CreateAccount(ctx, acct))
	require.ErrorIs(t, ledger.CreateAccount(ctx, acct), domain.ErrAccountAlreadyExists)

	got, err := ledger.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, acct.ID, got.ID)

	// 回傳的是拷貝，改動不可污染內部狀態
	got.Balance = dec("999")
	again, err := ledger.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, again.Balance.IsZero())

	_, err = ledger.GetAccount(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestCommitIdempotentAndSequenced(t *testing.T) {
	ledger, err := NewMemoryLedger(nil)
	require.NoError(t, err)
	ctx := context.Background()

	acct := newAccount(t, "alice")
	require.NoError(t, ledger.CreateAccount(ctx, acct))

	t1 := deposit(acct.ID, "100.00")
	acct.Balance = dec("100.00")
	require.NoError(t, ledger.Commit(ctx, []*domain.Account{acct}, t1))
	require.Equal(t, uint64(1), t1.Sequence)

	// 同一交易 ID 再 Commit 一次必須是 no-op
	require.NoError(t, ledger.Commit(ctx, []*domain.Account{acct}, t1))

	t2 := deposit(acct.ID, "50.00")
	acct.Balance = dec("150.00")
	require.NoError(t, ledger.Commit(ctx, []*domain.Account{acct}, t2))
	require.Equal(t, uint64(2), t2.Sequence)

	got, err := ledger.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("150.00")))

	prior, err := ledger.GetTransaction(ctx, t1.ID)
	require.NoError(t, err)
	require.True(t, prior.Amount.Equal(dec("100.00")))
	_, err = ledger.GetTransaction(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)

	history, err := ledger.TransactionsByAccount(ctx, acct.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// 尾端往回走：最新的在最前面
	require.Equal(t, t2.ID, history[0].ID)
	require.Equal(t, t1.ID, history[1].ID)
}

// TestCommitPreservesAdminState Commit 只套用餘額異動；
// 夾在引擎重讀與 commit 之間的管理操作 (停用、對帳修復) 不得被舊快照蓋掉，
// 且在線狀態必須與 WAL 重放後的狀態一致
func TestCommitPreservesAdminState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	ctx := context.Background()

	w, err := wal.Open(path)
	require.NoError(t, err)

	ledger, err := NewMemoryLedger(w)
	require.NoError(t, err)
	acct := newAccount(t, "alice")
	require.NoError(t, ledger.CreateAccount(ctx, acct))

	// 引擎視角的快照 (Active=true)；commit 前管理端停用了帳戶
	stale := acct.Clone()
	require.NoError(t, stale.Deposit(dec("100.00")))
	require.NoError(t, ledger.SetAccountActive(ctx, acct.ID, false))

	t1 := deposit(acct.ID, "100.00")
	require.NoError(t, ledger.Commit(ctx, []*domain.Account{stale}, t1))

	live, err := ledger.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.False(t, live.Active)
	require.True(t, live.Balance.Equal(dec("100.00")))
	require.NoError(t, w.Close())

	w2, err := wal.Open(path)
	require.NoError(t, err)
	defer w2.Close()
	recovered, err := NewMemoryLedger(w2)
	require.NoError(t, err)

	got, err := recovered.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, live.Active, got.Active)
	require.True(t, got.Balance.Equal(live.Balance))
}

func TestWALRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	ctx := context.Background()

	w, err := wal.Open(path)
	require.NoError(t, err)

	ledger, err := NewMemoryLedger(w)
	require.NoError(t, err)

	acct := newAccount(t, "alice")
	require.NoError(t, ledger.CreateAccount(ctx, acct))

	t1 := deposit(acct.ID, "100.00")
	acct.Balance = dec("100.00")
	require.NoError(t, ledger.Commit(ctx, []*domain.Account{acct}, t1))
	require.NoError(t, ledger.SetAccountActive(ctx, acct.ID, false))
	require.NoError(t, w.Close())

	// 重新開啟並重放：帳戶、餘額、停用旗標、交易歷史全數重建
	w2, err := wal.Open(path)
	require.NoError(t, err)
	defer w2.Close()

	recovered, err := NewMemoryLedger(w2)
	require.NoError(t, err)

	got, err := recovered.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("100.00")))
	require.False(t, got.Active)

	prior, err := recovered.GetTransaction(ctx, t1.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), prior.Sequence)

	// Sequence 從重放的最大值接續
	require.NoError(t, recovered.SetAccountActive(ctx, acct.ID, true))
	t2 := deposit(acct.ID, "25.00")
	got.Balance = dec("125.00")
	require.NoError(t, recovered.Commit(ctx, []*domain.Account{got}, t2))
	require.Equal(t, uint64(2), t2.Sequence)

	history, err := recovered.TransactionsByAccount(ctx, acct.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestWALRecoveryAfterRepair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	ctx := context.Background()

	w, err := wal.Open(path)
	require.NoError(t, err)

	ledger, err := NewMemoryLedger(w)
	require.NoError(t, err)
	acct := newAccount(t, "alice")
	require.NoError(t, ledger.CreateAccount(ctx, acct))
	require.NoError(t, ledger.SetAccountBalance(ctx, acct.ID, dec("77.00")))
	require.NoError(t, w.Close())

	w2, err := wal.Open(path)
	require.NoError(t, err)
	defer w2.Close()
	recovered, err := NewMemoryLedger(w2)
	require.NoError(t, err)

	got, err := recovered.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("77.00")))
}

func TestStatsCounters(t *testing.T) {
	ledger, err := NewMemoryLedger(nil)
	require.NoError(t, err)
	ctx := context.Background()

	a := newAccount(t, "alice")
	b := newAccount(t, "bob")
	require.NoError(t, ledger.CreateAccount(ctx, a))
	require.NoError(t, ledger.CreateAccount(ctx, b))

	t1 := deposit(a.ID, "100.00")
	a.Balance = dec("100.00")
	require.NoError(t, ledger.Commit(ctx, []*domain.Account{a}, t1))

	stats, err := ledger.Stats(ctx, a.CreatedAt)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalAccounts)
	require.Equal(t, int64(1), stats.TotalTransactions)
	require.True(t, stats.TotalBalance.Equal(dec("100.00")))
	require.Equal(t, int64(2), stats.RecentAccounts)
	require.Equal(t, int64(1), stats.RecentTransactions)
}
