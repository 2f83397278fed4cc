package domain

import "errors"

var (
	// ErrInvalidAmount 金額必須為正數，且精度不可超過 CurrencyScale
	ErrInvalidAmount = errors.New("amount must be positive with valid precision")

	// ErrInvalidTransfer 不可轉帳給同一個帳戶
	ErrInvalidTransfer = errors.New("cannot transfer to the same account")

	// ErrAccountNotFound 帳戶不存在、已停用、或不屬於呼叫者
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockTimeout 無法在時限內取得帳戶租約
	ErrLockTimeout = errors.New("account lease acquisition timed out")

	// ErrTransactionNotFound 找不到交易紀錄
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrIdempotencyMismatch 同一冪等性鍵重送，但操作內容與原紀錄不一致
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different operation")

	// ErrStoreUnavailable 底層儲存失敗
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrInvalidAccountKind 不支援的帳戶類型
	ErrInvalidAccountKind = errors.New("invalid account kind")
)
