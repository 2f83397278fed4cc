package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Ledger 是帳本儲存層的介面 (Ledger Store port)
//
// 實作必須保證：
//   - GetAccount 回傳的是快照拷貝，呼叫端修改不影響儲存層狀態
//   - Commit 將餘額更新與交易紀錄視為單一原子單位，不可部分套用
//   - 交易紀錄 append-only，寫入後不可修改或刪除
type Ledger interface {
	// CreateAccount 新增帳戶；ID 重複時回傳 ErrAccountAlreadyExists
	CreateAccount(ctx context.Context, account *domain.Account) error
	// GetAccount 取得帳戶目前狀態；不存在時回傳 ErrAccountNotFound
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// AccountsByOwner 取得指定擁有者的所有帳戶
	AccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error)
	// AllAccounts 載入所有帳戶 (對帳用)
	AllAccounts(ctx context.Context) ([]*domain.Account, error)
	// SetAccountActive 啟用/停用帳戶 (管理操作)
	SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error
	// SetAccountBalance 直接覆寫餘額，僅供對帳修復使用
	SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	// GetTransaction 以交易 ID 查詢，冪等性檢查用
	// 不存在時回傳 ErrTransactionNotFound
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// Commit 以單一原子單位寫入更新後的餘額與一筆交易紀錄
	// 同一交易 ID 重複 commit 時不重複套用 (no-op)
	Commit(ctx context.Context, accounts []*domain.Account, tran *domain.Transaction) error
	// TransactionsByAccount 回傳影響指定帳戶的交易紀錄
	// 依 Timestamp 倒序，相同時間戳以 Sequence 倒序 tie-break
	TransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Transaction, error)
	// Stats 在一致性快照內計算統計，since 為 recency 窗口起點
	Stats(ctx context.Context, since time.Time) (*domain.Stats, error)
}
