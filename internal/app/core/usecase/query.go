package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

const (
	// DefaultHistoryLimit 歷史查詢預設筆數
	DefaultHistoryLimit = 50
	// MaxHistoryLimit 歷史查詢單頁上限
	MaxHistoryLimit = 500
	// DefaultStatsWindow 統計 recency 窗口預設值
	DefaultStatsWindow = 24 * time.Hour
)

// Query 提供帳本的讀取路徑 (Ledger Query Service)
// 餘額讀取反映最後一筆已提交的交易 (read-after-write)；
// 唯一的寫入是對帳修復，且必須與 Transaction Engine 共用同一個 Account Guard
type Query struct {
	ledger Ledger
	guard  *AccountGuard
	log    *zap.Logger
}

// NewQuery 建立 Query Service
func NewQuery(ledger Ledger, guard *AccountGuard, log *zap.Logger) *Query {
	if log == nil {
		log = zap.NewNop()
	}
	return &Query{ledger: ledger, guard: guard, log: log}
}

// Account 取得帳戶；不屬於 ownerID 時一律回傳 ErrAccountNotFound
func (q *Query) Account(ctx context.Context, ownerID string, accountID uuid.UUID) (*domain.Account, error) {
	acct, err := q.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.OwnerID != ownerID {
		return nil, domain.ErrAccountNotFound
	}
	return acct, nil
}

// AccountsByOwner 取得擁有者的所有帳戶
func (q *Query) AccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	return q.ledger.AccountsByOwner(ctx, ownerID)
}

// Balance 取得帳戶目前餘額 (擁有者限定)
func (q *Query) Balance(ctx context.Context, ownerID string, accountID uuid.UUID) (decimal.Decimal, error) {
	acct, err := q.Account(ctx, ownerID, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// History 取得帳戶的交易歷史 (擁有者限定)
// 依 Timestamp 倒序，同一時間戳以寫入順序 tie-break
func (q *Query) History(ctx context.Context, ownerID string, accountID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	if _, err := q.Account(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return q.ledger.TransactionsByAccount(ctx, accountID, limit, offset)
}

// Stats 全系統統計
// window <= 0 時使用 DefaultStatsWindow
func (q *Query) Stats(ctx context.Context, window time.Duration) (*domain.Stats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	stats, err := q.ledger.Stats(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	stats.Window = window
	return stats, nil
}

// Discrepancy 對帳差異：儲存的餘額與歷史重放結果不一致
type Discrepancy struct {
	AccountID uuid.UUID       `json:"account_id"`
	Stored    decimal.Decimal `json:"stored"`
	Replayed  decimal.Decimal `json:"replayed"`
}

// Reconcile 對帳：從零重放每個帳戶的完整交易歷史，
// 偵測餘額與 append-only 歷史不一致的帳戶。
//
// repair 為 true 時以重放結果覆寫餘額 (歷史是唯一權威，修復不寫交易紀錄)。
func (q *Query) Reconcile(ctx context.Context, repair bool) ([]Discrepancy, error) {
	accounts, err := q.ledger.AllAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var diffs []Discrepancy
	for _, acct := range accounts {
		diff, err := q.reconcileAccount(ctx, acct.ID, repair)
		if err != nil {
			return diffs, err
		}
		if diff != nil {
			diffs = append(diffs, *diff)
		}
	}
	return diffs, nil
}

// reconcileAccount 在帳戶的租約內重讀、重放、比對並 (選擇性) 修復
//
// 餘額只能在持有該帳戶租約時異動 (引擎 commit 也遵守同一規則)，
// 否則夾在重放與覆寫之間提交的交易會被過期的重放結果蓋掉。
// 刻意用 guard.hold 而非 Acquire：停用中的帳戶也要對帳。
func (q *Query) reconcileAccount(ctx context.Context, accountID uuid.UUID, repair bool) (*Discrepancy, error) {
	lease, err := q.guard.hold(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	acct, err := q.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	replayed, err := q.replayBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if replayed.Equal(acct.Balance) {
		return nil, nil
	}

	q.log.Warn("balance discrepancy detected",
		zap.String("account_id", accountID.String()),
		zap.String("stored", acct.Balance.String()),
		zap.String("replayed", replayed.String()))
	if repair {
		if err := q.ledger.SetAccountBalance(ctx, accountID, replayed); err != nil {
			return nil, err
		}
		q.log.Info("balance repaired from history",
			zap.String("account_id", accountID.String()))
	}
	return &Discrepancy{
		AccountID: accountID,
		Stored:    acct.Balance,
		Replayed:  replayed,
	}, nil
}

// replayBalance 加總帳戶歷史上所有交易的 SignedAmount
func (q *Query) replayBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for offset := 0; ; offset += MaxHistoryLimit {
		page, err := q.ledger.TransactionsByAccount(ctx, accountID, MaxHistoryLimit, offset)
		if err != nil {
			return decimal.Zero, err
		}
		for _, tran := range page {
			sum = sum.Add(tran.SignedAmount(accountID))
		}
		if len(page) < MaxHistoryLimit {
			return sum, nil
		}
	}
}
