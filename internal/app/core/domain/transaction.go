package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind 交易類型
type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
	TransactionKindTransfer   TransactionKind = "transfer"
)

// Transaction 交易紀錄，寫入後不可修改也不可刪除 (append-only ledger)
//
// ID 同時是冪等性鍵 (Idempotency Key)：重試時以同一 ID 重送，
// 引擎會偵測到已存在的紀錄並且不重複套用餘額異動。
type Transaction struct {
	ID uuid.UUID `json:"id"`
	// Sequence: 全局遞增序號，由 Ledger Store 在 commit 時分配
	// 作為同一時間戳下歷史排序的 tie-break
	Sequence uint64          `json:"sequence"`
	Kind     TransactionKind `json:"kind"`
	// From 只在 withdrawal / transfer 有值；To 只在 deposit / transfer 有值
	// 缺值以 uuid.Nil 表示
	From        uuid.UUID       `json:"from_account,omitempty"`
	To          uuid.UUID       `json:"to_account,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	InitiatedBy string          `json:"initiated_by"`
	// Timestamp: commit 當下的時間，單一帳戶內單調不遞減
	Timestamp time.Time `json:"timestamp"`
}

// LockIDs 回傳此交易需要鎖定的帳戶 ID
// 涉及兩個帳戶時依固定的全域順序排列，這是唯一的死鎖預防機制
func (t *Transaction) LockIDs() []uuid.UUID {
	switch t.Kind {
	case TransactionKindTransfer:
		return OrderedIDs(t.From, t.To)
	case TransactionKindDeposit:
		return []uuid.UUID{t.To}
	case TransactionKindWithdrawal:
		return []uuid.UUID{t.From}
	}
	return nil
}

// Touches 回傳此交易是否影響指定帳戶
func (t *Transaction) Touches(accountID uuid.UUID) bool {
	return t.From == accountID || t.To == accountID
}

// SignedAmount 回傳此交易對指定帳戶餘額的影響值 (入帳為正、出帳為負)
// 重放交易歷史加總 SignedAmount 必須等於帳戶目前餘額
func (t *Transaction) SignedAmount(accountID uuid.UUID) decimal.Decimal {
	var d decimal.Decimal
	if t.To == accountID {
		d = d.Add(t.Amount)
	}
	if t.From == accountID {
		d = d.Sub(t.Amount)
	}
	return d
}

// OrderedIDs 依 UUID byte 序排列兩個帳戶 ID
// 所有需要同時鎖定兩個帳戶的路徑都必須使用這個順序
func OrderedIDs(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}
