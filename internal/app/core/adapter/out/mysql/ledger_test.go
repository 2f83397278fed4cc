package mysql

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

func TestAccountConversion(t *testing.T) {
	acct, err := domain.NewAccount("alice", domain.AccountKindSavings)
	require.NoError(t, err)
	acct.Balance = decimal.RequireFromString("123.4500")

	row := accountToSQL(acct)
	require.Equal(t, acct.ID.String(), row.ID)
	require.Equal(t, "savings", row.Kind)

	back, err := accountFromSQL(row)
	require.NoError(t, err)
	require.Equal(t, acct.ID, back.ID)
	require.Equal(t, acct.Number, back.Number)
	require.True(t, back.Balance.Equal(acct.Balance))
	require.True(t, back.Active)

	_, err = accountFromSQL(&sqlAccount{ID: "not-a-uuid"})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestTransactionConversion(t *testing.T) {
	from := uuid.New()
	tran := &domain.Transaction{
		ID:          uuid.New(),
		Kind:        domain.TransactionKindWithdrawal,
		From:        from,
		Amount:      decimal.RequireFromString("300.00"),
		InitiatedBy: "alice",
	}

	row := transactionToSQL(tran)
	require.Equal(t, tran.ID.String(), row.RefID)
	require.Equal(t, from.String(), row.FromAccountID)
	// 缺值的 to 存成空字串，不是零值 UUID
	require.Empty(t, row.ToAccountID)

	row.Sequence = 42
	back, err := transactionFromSQL(row)
	require.NoError(t, err)
	require.Equal(t, tran.ID, back.ID)
	require.Equal(t, uint64(42), back.Sequence)
	require.Equal(t, from, back.From)
	require.Equal(t, uuid.Nil, back.To)
	require.True(t, back.Amount.Equal(tran.Amount))
}

func TestStoreErr(t *testing.T) {
	require.NoError(t, storeErr(nil))
	err := storeErr(domain.ErrStoreUnavailable)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	// 已是 ErrStoreUnavailable 的錯誤不再重複包裝
	require.Equal(t, domain.ErrStoreUnavailable, err)
}
