// Package mysql 提供以 MySQL 為後端的 Ledger Store。
// commit 路徑使用單一資料庫事務：冪等性檢查、row lock、
// 餘額更新與交易寫入要嘛全部生效、要嘛全部不生效。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// sqlAccount 對應 accounts 表
type sqlAccount struct {
	ID        string          `gorm:"primaryKey;type:char(36)"`
	OwnerID   string          `gorm:"index;type:varchar(64)"`
	Number    string          `gorm:"uniqueIndex;type:varchar(26)"`
	Kind      string          `gorm:"type:varchar(16)"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4)"`
	Active    bool
	CreatedAt time.Time
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應 transactions 表
// Sequence 由 auto increment 分配，是全局寫入順序；ref_id 上的唯一索引
// 讓同一筆交易的重複 commit 在資料庫層也無法發生
type sqlTransaction struct {
	Sequence      uint64          `gorm:"primaryKey;autoIncrement"`
	RefID         string          `gorm:"column:ref_id;type:char(36);uniqueIndex"`
	Kind          string          `gorm:"type:varchar(16)"`
	FromAccountID string          `gorm:"index;type:char(36)"`
	ToAccountID   string          `gorm:"index;type:char(36)"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4)"`
	Description   string          `gorm:"type:varchar(255)"`
	InitiatedBy   string          `gorm:"type:varchar(64)"`
	Timestamp     time.Time       `gorm:"index"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

type MySQLLedger struct {
	client *mysql.Client
}

// NewMySQLLedger 建立 MySQL Ledger Store 並確保 schema 存在
func NewMySQLLedger(client *mysql.Client) (*MySQLLedger, error) {
	if err := client.DB().AutoMigrate(&sqlAccount{}, &sqlTransaction{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStoreUnavailable, err)
	}
	return &MySQLLedger{client: client}, nil
}

// CreateAccount implements usecase.Ledger.
func (l *MySQLLedger) CreateAccount(ctx context.Context, account *domain.Account) error {
	row := accountToSQL(account)
	err := l.client.DB().WithContext(ctx).Create(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAccountAlreadyExists
		}
		return storeErr(err)
	}
	return nil
}

// GetAccount implements usecase.Ledger.
func (l *MySQLLedger) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var row sqlAccount
	err := l.client.DB().WithContext(ctx).Where("id = ?", id.String()).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, storeErr(err)
	}
	return accountFromSQL(&row)
}

// AccountsByOwner implements usecase.Ledger.
func (l *MySQLLedger) AccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	var rows []sqlAccount
	err := l.client.DB().WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return accountsFromSQL(rows)
}

// AllAccounts implements usecase.Ledger.
func (l *MySQLLedger) AllAccounts(ctx context.Context) ([]*domain.Account, error) {
	var rows []sqlAccount
	if err := l.client.DB().WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, storeErr(err)
	}
	return accountsFromSQL(rows)
}

// SetAccountActive implements usecase.Ledger.
func (l *MySQLLedger) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := l.client.DB().WithContext(ctx).
		Model(&sqlAccount{}).
		Where("id = ?", id.String()).
		Update("active", active)
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// SetAccountBalance implements usecase.Ledger.
func (l *MySQLLedger) SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	res := l.client.DB().WithContext(ctx).
		Model(&sqlAccount{}).
		Where("id = ?", id.String()).
		Update("balance", balance)
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// GetTransaction implements usecase.Ledger.
func (l *MySQLLedger) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var row sqlTransaction
	err := l.client.DB().WithContext(ctx).Where("ref_id = ?", id.String()).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, storeErr(err)
	}
	return transactionFromSQL(&row)
}

// Commit implements usecase.Ledger.
func (l *MySQLLedger) Commit(ctx context.Context, accounts []*domain.Account, tran *domain.Transaction) error {
	err := l.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 冪等性：先查 ref_id，已存在就視為成功，不重複套用
		var existing sqlTransaction
		err := tx.Where("ref_id = ?", tran.ID.String()).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return storeErr(err)
		}

		// 悲觀鎖：跨 process 部署時引擎的 in-process 租約不夠，
		// 依與 Account Guard 相同的全域順序鎖定資料列
		ids := make([]string, 0, len(accounts))
		for _, acct := range accounts {
			ids = append(ids, acct.ID.String())
		}
		var rows []sqlAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Find(&rows).Error; err != nil {
			return storeErr(err)
		}
		if len(rows) != len(accounts) {
			return domain.ErrAccountNotFound
		}

		for _, acct := range accounts {
			if err := tx.Model(&sqlAccount{}).
				Where("id = ?", acct.ID.String()).
				Update("balance", acct.Balance).Error; err != nil {
				return storeErr(err)
			}
		}

		row := transactionToSQL(tran)
		if err := tx.Create(row).Error; err != nil {
			return storeErr(err)
		}
		tran.Sequence = row.Sequence
		return nil
	})
	return err
}

// TransactionsByAccount implements usecase.Ledger.
func (l *MySQLLedger) TransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	var rows []sqlTransaction
	err := l.client.DB().WithContext(ctx).
		Where("from_account_id = ? OR to_account_id = ?", accountID.String(), accountID.String()).
		Order("timestamp DESC, sequence DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tran, err := transactionFromSQL(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, tran)
	}
	return out, nil
}

// Stats implements usecase.Ledger.
// 包在單一事務內 (REPEATABLE READ)，取得一致性快照
func (l *MySQLLedger) Stats(ctx context.Context, since time.Time) (*domain.Stats, error) {
	stats := &domain.Stats{TotalBalance: decimal.Zero}
	err := l.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sqlAccount{}).Count(&stats.TotalAccounts).Error; err != nil {
			return storeErr(err)
		}
		if err := tx.Model(&sqlTransaction{}).Count(&stats.TotalTransactions).Error; err != nil {
			return storeErr(err)
		}
		var total decimal.NullDecimal
		if err := tx.Model(&sqlAccount{}).
			Select("SUM(balance)").
			Row().Scan(&total); err != nil {
			return storeErr(err)
		}
		if total.Valid {
			stats.TotalBalance = total.Decimal
		}
		if err := tx.Model(&sqlAccount{}).
			Where("created_at >= ?", since).
			Count(&stats.RecentAccounts).Error; err != nil {
			return storeErr(err)
		}
		if err := tx.Model(&sqlTransaction{}).
			Where("timestamp >= ?", since).
			Count(&stats.RecentTransactions).Error; err != nil {
			return storeErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func accountToSQL(a *domain.Account) *sqlAccount {
	return &sqlAccount{
		ID:        a.ID.String(),
		OwnerID:   a.OwnerID,
		Number:    a.Number,
		Kind:      string(a.Kind),
		Balance:   a.Balance,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
	}
}

func accountFromSQL(row *sqlAccount) (*domain.Account, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt account id %q", domain.ErrStoreUnavailable, row.ID)
	}
	return &domain.Account{
		ID:        id,
		OwnerID:   row.OwnerID,
		Number:    row.Number,
		Kind:      domain.AccountKind(row.Kind),
		Balance:   row.Balance,
		Active:    row.Active,
		CreatedAt: row.CreatedAt,
	}, nil
}

func accountsFromSQL(rows []sqlAccount) ([]*domain.Account, error) {
	out := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		acct, err := accountFromSQL(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func transactionToSQL(t *domain.Transaction) *sqlTransaction {
	return &sqlTransaction{
		RefID:         t.ID.String(),
		Kind:          string(t.Kind),
		FromAccountID: uuidOrEmpty(t.From),
		ToAccountID:   uuidOrEmpty(t.To),
		Amount:        t.Amount,
		Description:   t.Description,
		InitiatedBy:   t.InitiatedBy,
		Timestamp:     t.Timestamp,
	}
}

func transactionFromSQL(row *sqlTransaction) (*domain.Transaction, error) {
	id, err := uuid.Parse(row.RefID)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt transaction ref_id %q", domain.ErrStoreUnavailable, row.RefID)
	}
	return &domain.Transaction{
		ID:          id,
		Sequence:    row.Sequence,
		Kind:        domain.TransactionKind(row.Kind),
		From:        parseOrNil(row.FromAccountID),
		To:          parseOrNil(row.ToAccountID),
		Amount:      row.Amount,
		Description: row.Description,
		InitiatedBy: row.InitiatedBy,
		Timestamp:   row.Timestamp,
	}, nil
}

// uuidOrEmpty 缺值 (uuid.Nil) 存成空字串
func uuidOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func parseOrNil(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// storeErr 將底層驅動錯誤統一映射為 ErrStoreUnavailable
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

var _ usecase.Ledger = (*MySQLLedger)(nil)
