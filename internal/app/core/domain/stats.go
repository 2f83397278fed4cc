package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats 全系統統計，在單一一致性快照內計算
type Stats struct {
	TotalAccounts     int64           `json:"total_accounts"`
	TotalTransactions int64           `json:"total_transactions"`
	TotalBalance      decimal.Decimal `json:"total_balance"`
	// 統計窗口內的新增數量
	RecentAccounts     int64         `json:"recent_accounts"`
	RecentTransactions int64         `json:"recent_transactions"`
	Window             time.Duration `json:"-"`
}
