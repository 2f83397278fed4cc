package domain

import "github.com/shopspring/decimal"

// CurrencyScale 金額精度：小數點後 4 位
// 金額一律使用 decimal，嚴禁 float，避免長期存提款累積出 rounding drift
const CurrencyScale = 4

// ValidateAmount 檢查交易金額是否合法
// 必須為正數，且精度不可超過 CurrencyScale
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(CurrencyScale)) {
		return ErrInvalidAmount
	}
	return nil
}
