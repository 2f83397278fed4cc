package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// AccountKind 帳戶類型
type AccountKind string

const (
	AccountKindChecking AccountKind = "checking"
	AccountKindSavings  AccountKind = "savings"
)

// Valid 回傳是否為支援的帳戶類型
func (k AccountKind) Valid() bool {
	return k == AccountKindChecking || k == AccountKindSavings
}

// Account 帳戶
// Balance 只能透過 Transaction Engine 異動，任何已提交狀態下皆不為負
type Account struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Number    string          `json:"account_number"`
	Kind      AccountKind     `json:"kind"`
	Balance   decimal.Decimal `json:"balance"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewAccount 建立新帳戶，餘額為零
//
// 參數:
//
//	ownerID: 擁有者 ID (由外部身分層解析)
//	kind: 帳戶類型
//
// 回傳:
//
//	*Account: 新帳戶
//	error: 類型不合法時回傳 ErrInvalidAccountKind
func NewAccount(ownerID string, kind AccountKind) (*Account, error) {
	if !kind.Valid() {
		return nil, ErrInvalidAccountKind
	}
	return &Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Number:    NewAccountNumber(),
		Kind:      kind,
		Balance:   decimal.Zero,
		Active:    true,
		CreatedAt: time.Now(),
	}, nil
}

// NewAccountNumber 產生對外顯示用的帳號
// 使用 ULID：唯一、可排序、且不重複使用
func NewAccountNumber() string {
	return ulid.Make().String()
}

// Deposit 存入金額
func (a *Account) Deposit(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

// Withdraw 扣除金額，餘額不足時回傳 ErrInsufficientFunds
// 扣款後餘額必定非負
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

// Clone 回傳值拷貝，避免呼叫端越權修改內部狀態
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}
