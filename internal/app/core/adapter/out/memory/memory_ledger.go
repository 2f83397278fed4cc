// Package memory 提供 WAL-backed 的 in-memory Ledger Store。
// 所有狀態變更先寫入 WAL 並 fsync，再套用到記憶體；
// 重啟時重放 WAL 即可完整重建帳戶、交易歷史與冪等性索引。
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// walRecord WAL 紀錄；Kind 決定重放方式
type walRecord struct {
	Kind        string              `json:"kind"`
	Account     *domain.Account     `json:"account,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	AccountID   uuid.UUID           `json:"account_id,omitempty"`
	Active      bool                `json:"active,omitempty"`
	Balance     decimal.Decimal     `json:"balance"`
}

const (
	recordAccount = "account"
	recordCommit  = "commit"
	recordActive  = "active"
	recordBalance = "balance"
)

// MemoryLedger 是以記憶體為主的 Ledger Store
//
// 結構:
//
//	accounts: 帳戶資料 Map (canonical state)
//	transactions: append-only 交易序列，依寫入順序
//	byAccount: 帳戶 -> 影響它的交易 (寫入順序)
//	byID: 交易 ID 索引，冪等性檢查用
//	wal: Write-Ahead Log，可為 nil (純記憶體模式，測試用)
type MemoryLedger struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*domain.Account
	transactions []*domain.Transaction
	byAccount    map[uuid.UUID][]*domain.Transaction
	byID         map[uuid.UUID]*domain.Transaction
	sequence     uint64
	wal          *wal.WAL
}

// NewMemoryLedger 建立 MemoryLedger 並重放 WAL
//
// 參數:
//
//	w: Write-Ahead Log 實例，nil 時不持久化
//
// 回傳:
//
//	*MemoryLedger: 實例
//	error: WAL 重放失敗
func NewMemoryLedger(w *wal.WAL) (*MemoryLedger, error) {
	l := &MemoryLedger{
		accounts:  make(map[uuid.UUID]*domain.Account),
		byAccount: make(map[uuid.UUID][]*domain.Transaction),
		byID:      make(map[uuid.UUID]*domain.Transaction),
		wal:       w,
	}
	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

// recover 重放 WAL 重建全部狀態
// 只有 NewMemoryLedger 呼叫，無需 Lock (單執行緒)
func (l *MemoryLedger) recover() error {
	if l.wal == nil {
		return nil
	}
	return l.wal.Replay(func(raw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		return l.applyRecord(&rec)
	})
}

// applyRecord 重放單筆 WAL 紀錄 (不回寫 WAL)
func (l *MemoryLedger) applyRecord(rec *walRecord) error {
	switch rec.Kind {
	case recordAccount:
		l.accounts[rec.Account.ID] = rec.Account.Clone()
	case recordCommit:
		tran := rec.Transaction
		if _, ok := l.byID[tran.ID]; ok {
			return nil
		}
		for _, id := range tran.LockIDs() {
			acct, ok := l.accounts[id]
			if !ok {
				return fmt.Errorf("wal replay: %w: %s", domain.ErrAccountNotFound, id)
			}
			acct.Balance = acct.Balance.Add(tran.SignedAmount(id))
		}
		if tran.Sequence > l.sequence {
			l.sequence = tran.Sequence
		}
		l.index(tran)
	case recordActive:
		if acct, ok := l.accounts[rec.AccountID]; ok {
			acct.Active = rec.Active
		}
	case recordBalance:
		if acct, ok := l.accounts[rec.AccountID]; ok {
			acct.Balance = rec.Balance
		}
	}
	return nil
}

// index 將交易掛入所有索引
func (l *MemoryLedger) index(tran *domain.Transaction) {
	l.transactions = append(l.transactions, tran)
	l.byID[tran.ID] = tran
	for _, id := range tran.LockIDs() {
		l.byAccount[id] = append(l.byAccount[id], tran)
	}
}

// append 寫入 WAL；wal 為 nil 時直接成功
func (l *MemoryLedger) append(rec *walRecord) error {
	if l.wal == nil {
		return nil
	}
	if err := l.wal.Append(rec); err != nil {
		return fmt.Errorf("%w: wal append: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// CreateAccount implements usecase.Ledger.
func (l *MemoryLedger) CreateAccount(ctx context.Context, account *domain.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[account.ID]; ok {
		return domain.ErrAccountAlreadyExists
	}
	if err := l.append(&walRecord{Kind: recordAccount, Account: account}); err != nil {
		return err
	}
	l.accounts[account.ID] = account.Clone()
	return nil
}

// GetAccount 回傳帳戶快照拷貝
func (l *MemoryLedger) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acct.Clone(), nil
}

// AccountsByOwner implements usecase.Ledger.
func (l *MemoryLedger) AccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*domain.Account
	for _, acct := range l.accounts {
		if acct.OwnerID == ownerID {
			out = append(out, acct.Clone())
		}
	}
	return out, nil
}

// AllAccounts implements usecase.Ledger.
func (l *MemoryLedger) AllAccounts(ctx context.Context) ([]*domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*domain.Account, 0, len(l.accounts))
	for _, acct := range l.accounts {
		out = append(out, acct.Clone())
	}
	return out, nil
}

// SetAccountActive implements usecase.Ledger.
func (l *MemoryLedger) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if err := l.append(&walRecord{Kind: recordActive, AccountID: id, Active: active}); err != nil {
		return err
	}
	acct.Active = active
	return nil
}

// SetAccountBalance 直接覆寫餘額，僅供對帳修復
func (l *MemoryLedger) SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if err := l.append(&walRecord{Kind: recordBalance, AccountID: id, Balance: balance}); err != nil {
		return err
	}
	acct.Balance = balance
	return nil
}

// GetTransaction implements usecase.Ledger.
func (l *MemoryLedger) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tran, ok := l.byID[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cp := *tran
	return &cp, nil
}

// Commit 以單一 critical section 寫入餘額與交易紀錄
//
// 順序: Idempotency Check -> 分配 Sequence -> WAL (Critical Path) -> 套用記憶體
// WAL 失敗時記憶體不變，餘額與歷史永遠一致。
//
// 只對儲存中的帳戶套用 SignedAmount (與 WAL 重放完全相同的算式)，
// 不以呼叫端的帳戶快照整份覆寫：Active 旗標等管理狀態只能由
// SetAccountActive 異動，且重啟後的重放結果必須與在線狀態一致。
func (l *MemoryLedger) Commit(ctx context.Context, accounts []*domain.Account, tran *domain.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[tran.ID]; ok {
		return nil
	}
	for _, id := range tran.LockIDs() {
		if _, ok := l.accounts[id]; !ok {
			return domain.ErrAccountNotFound
		}
	}

	tran.Sequence = l.sequence + 1
	if err := l.append(&walRecord{Kind: recordCommit, Transaction: tran}); err != nil {
		tran.Sequence = 0
		return err
	}
	l.sequence++

	for _, id := range tran.LockIDs() {
		acct := l.accounts[id]
		acct.Balance = acct.Balance.Add(tran.SignedAmount(id))
	}
	cp := *tran
	l.index(&cp)
	return nil
}

// TransactionsByAccount implements usecase.Ledger.
//
// byAccount 內的切片依寫入順序遞增，而同一帳戶的時間戳單調不遞減，
// 因此由尾端往回走就是 Timestamp 倒序加上穩定的寫入順序 tie-break。
func (l *MemoryLedger) TransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	history := l.byAccount[accountID]
	out := make([]*domain.Transaction, 0, limit)
	for i := len(history) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *history[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Stats 在單一 read lock 內計算，不會重複計算或遺漏已提交的紀錄
func (l *MemoryLedger) Stats(ctx context.Context, since time.Time) (*domain.Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &domain.Stats{
		TotalAccounts:     int64(len(l.accounts)),
		TotalTransactions: int64(len(l.transactions)),
		TotalBalance:      decimal.Zero,
	}
	for _, acct := range l.accounts {
		stats.TotalBalance = stats.TotalBalance.Add(acct.Balance)
		if !acct.CreatedAt.Before(since) {
			stats.RecentAccounts++
		}
	}
	for _, tran := range l.transactions {
		if !tran.Timestamp.Before(since) {
			stats.RecentTransactions++
		}
	}
	return stats, nil
}

var _ usecase.Ledger = (*MemoryLedger)(nil)
