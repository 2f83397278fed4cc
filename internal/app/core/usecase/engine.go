package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Engine 是唯一允許改變帳戶餘額的路徑 (Transaction Engine)
//
// 每筆操作都是同一個六步驟流程：
//
//	Validate -> Acquire -> Re-read -> Apply -> Commit -> Release
//
// 驗證失敗不取鎖也不留任何紀錄；所有不變量都以租約內重新讀到的值
// 重新檢查，關閉 read-then-write 的 TOCTOU 空窗。
type Engine struct {
	ledger Ledger
	guard  *AccountGuard
	log    *zap.Logger
	clock  commitClock
}

// Result 交易結果：寫入的交易紀錄與異動後各帳戶餘額
type Result struct {
	Transaction *domain.Transaction
	Balances    map[uuid.UUID]decimal.Decimal
}

// NewEngine 建立 Transaction Engine
func NewEngine(ledger Ledger, guard *AccountGuard, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		ledger: ledger,
		guard:  guard,
		log:    log,
		clock:  commitClock{last: make(map[uuid.UUID]time.Time)},
	}
}

// CreateAccount 建立帳戶 (餘額為零)
func (e *Engine) CreateAccount(ctx context.Context, ownerID string, kind domain.AccountKind) (*domain.Account, error) {
	account, err := domain.NewAccount(ownerID, kind)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	e.log.Info("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("owner_id", ownerID),
		zap.String("kind", string(kind)))
	return account, nil
}

// SetAccountActive 啟用/停用帳戶 (管理操作)
// 不異動餘額，因此不經過 Account Guard
func (e *Engine) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := e.ledger.SetAccountActive(ctx, id, active); err != nil {
		return err
	}
	e.log.Info("account active flag changed",
		zap.String("account_id", id.String()),
		zap.Bool("active", active))
	return nil
}

// Deposit 存款
//
// refID 為冪等性鍵，uuid.Nil 時由引擎產生。
// 帳戶必須存在、啟用、且屬於 ownerID，否則回傳 ErrAccountNotFound。
func (e *Engine) Deposit(ctx context.Context, refID uuid.UUID, ownerID string, accountID uuid.UUID, amount decimal.Decimal, description string) (*Result, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := e.precheckOwned(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	return e.post(ctx, &domain.Transaction{
		ID:          refOrNew(refID),
		Kind:        domain.TransactionKindDeposit,
		To:          accountID,
		Amount:      amount,
		Description: description,
		InitiatedBy: ownerID,
	})
}

// Withdraw 提款
// 餘額不足時回傳 ErrInsufficientFunds，不留任何異動與紀錄
func (e *Engine) Withdraw(ctx context.Context, refID uuid.UUID, ownerID string, accountID uuid.UUID, amount decimal.Decimal, description string) (*Result, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := e.precheckOwned(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	return e.post(ctx, &domain.Transaction{
		ID:          refOrNew(refID),
		Kind:        domain.TransactionKindWithdrawal,
		From:        accountID,
		Amount:      amount,
		Description: description,
		InitiatedBy: ownerID,
	})
}

// Transfer 轉帳
//
// from 必須屬於 ownerID；to 只需存在且啟用，允許轉給其他人的帳戶。
// 成功時兩邊餘額一起更新，且只寫入一筆同時帶有 from/to 的交易紀錄。
func (e *Engine) Transfer(ctx context.Context, refID uuid.UUID, ownerID string, from, to uuid.UUID, amount decimal.Decimal, description string) (*Result, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if from == to {
		return nil, domain.ErrInvalidTransfer
	}
	if err := e.precheckOwned(ctx, ownerID, from); err != nil {
		return nil, err
	}
	if err := e.precheckActive(ctx, to); err != nil {
		return nil, err
	}
	return e.post(ctx, &domain.Transaction{
		ID:          refOrNew(refID),
		Kind:        domain.TransactionKindTransfer,
		From:        from,
		To:          to,
		Amount:      amount,
		Description: description,
		InitiatedBy: ownerID,
	})
}

// post 執行共用的交易流程 (Acquire 之後的步驟)
func (e *Engine) post(ctx context.Context, tran *domain.Transaction) (*Result, error) {
	lockIDs := tran.LockIDs()

	lease, err := e.guard.Acquire(ctx, lockIDs...)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	// Idempotency Check：已寫入過的交易不可重複套用餘額異動
	// 重送必須是同一個操作；同鍵不同內容視為呼叫端錯誤，不回傳舊紀錄
	prior, err := e.ledger.GetTransaction(ctx, tran.ID)
	if err == nil {
		if !sameOperation(prior, tran) {
			e.log.Warn("idempotency key reused with different operation",
				zap.String("transaction_id", tran.ID.String()))
			return nil, domain.ErrIdempotencyMismatch
		}
		e.log.Info("duplicate transaction, returning prior record",
			zap.String("transaction_id", tran.ID.String()))
		return e.resultUnderLease(ctx, prior, lockIDs)
	}
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}

	// Re-read：租約內重新讀取，驗證階段讀到的值一律不可信
	accounts := make(map[uuid.UUID]*domain.Account, len(lockIDs))
	for _, id := range lockIDs {
		acct, err := e.ledger.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = acct
	}
	if err := e.recheck(tran, accounts); err != nil {
		return nil, err
	}

	// Apply：以新鮮值計算新餘額
	if err := apply(tran, accounts); err != nil {
		return nil, err
	}

	// Commit：餘額與交易紀錄以單一原子單位寫入
	tran.Timestamp = e.clock.next(lockIDs)
	updated := make([]*domain.Account, 0, len(lockIDs))
	for _, id := range lockIDs {
		updated = append(updated, accounts[id])
	}
	if err := e.ledger.Commit(ctx, updated, tran); err != nil {
		e.log.Error("commit failed",
			zap.String("transaction_id", tran.ID.String()),
			zap.Error(err))
		return nil, err
	}

	balances := make(map[uuid.UUID]decimal.Decimal, len(lockIDs))
	for id, acct := range accounts {
		balances[id] = acct.Balance
	}
	e.log.Info("transaction committed",
		zap.String("transaction_id", tran.ID.String()),
		zap.String("kind", string(tran.Kind)),
		zap.String("amount", tran.Amount.String()))
	return &Result{Transaction: tran, Balances: balances}, nil
}

// recheck 在租約內重新驗證帳戶狀態與擁有權
func (e *Engine) recheck(tran *domain.Transaction, accounts map[uuid.UUID]*domain.Account) error {
	switch tran.Kind {
	case domain.TransactionKindDeposit:
		return checkOwned(accounts[tran.To], tran.InitiatedBy)
	case domain.TransactionKindWithdrawal:
		return checkOwned(accounts[tran.From], tran.InitiatedBy)
	case domain.TransactionKindTransfer:
		if err := checkOwned(accounts[tran.From], tran.InitiatedBy); err != nil {
			return err
		}
		return checkActive(accounts[tran.To])
	}
	return nil
}

// apply 依交易類型套用餘額異動；任一步失敗時不留部分異動
func apply(tran *domain.Transaction, accounts map[uuid.UUID]*domain.Account) error {
	switch tran.Kind {
	case domain.TransactionKindDeposit:
		return accounts[tran.To].Deposit(tran.Amount)
	case domain.TransactionKindWithdrawal:
		return accounts[tran.From].Withdraw(tran.Amount)
	case domain.TransactionKindTransfer:
		if err := accounts[tran.From].Withdraw(tran.Amount); err != nil {
			return err
		}
		return accounts[tran.To].Deposit(tran.Amount)
	}
	return nil
}

// resultUnderLease 組出冪等重送的回覆：原紀錄加上目前餘額
func (e *Engine) resultUnderLease(ctx context.Context, tran *domain.Transaction, ids []uuid.UUID) (*Result, error) {
	balances := make(map[uuid.UUID]decimal.Decimal, len(ids))
	for _, id := range ids {
		acct, err := e.ledger.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		balances[id] = acct.Balance
	}
	return &Result{Transaction: tran, Balances: balances}, nil
}

// precheckOwned 驗證階段的帳戶檢查：存在、啟用、屬於呼叫者
func (e *Engine) precheckOwned(ctx context.Context, ownerID string, accountID uuid.UUID) error {
	acct, err := e.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return checkOwned(acct, ownerID)
}

// precheckActive 驗證階段的帳戶檢查：存在且啟用 (不要求擁有權)
func (e *Engine) precheckActive(ctx context.Context, accountID uuid.UUID) error {
	acct, err := e.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return checkActive(acct)
}

func checkOwned(acct *domain.Account, ownerID string) error {
	if acct == nil || !acct.Active || acct.OwnerID != ownerID {
		return domain.ErrAccountNotFound
	}
	return nil
}

func checkActive(acct *domain.Account) error {
	if acct == nil || !acct.Active {
		return domain.ErrAccountNotFound
	}
	return nil
}

// sameOperation 比對冪等重送的內容與原紀錄是否為同一個操作
// Description 不參與比對，重試時允許帶不同的說明文字
func sameOperation(prior, tran *domain.Transaction) bool {
	return prior.Kind == tran.Kind &&
		prior.From == tran.From &&
		prior.To == tran.To &&
		prior.Amount.Equal(tran.Amount) &&
		prior.InitiatedBy == tran.InitiatedBy
}

func refOrNew(refID uuid.UUID) uuid.UUID {
	if refID == uuid.Nil {
		return uuid.New()
	}
	return refID
}

// commitClock 讓同一帳戶的交易時間戳單調不遞減，即使 wall clock 倒退
type commitClock struct {
	mu   sync.Mutex
	last map[uuid.UUID]time.Time
}

func (c *commitClock) next(ids []uuid.UUID) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if t, ok := c.last[id]; ok && t.After(now) {
			now = t
		}
	}
	for _, id := range ids {
		c.last[id] = now
	}
	return now
}
