package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	"ai-task-platform/internal/testutil"
)

func TestLedger_GrantAndDebit(t *testing.T) {
	l := New(testutil.NewDB(t), logger.NewNop())
	ctx := context.Background()

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	_, err = l.Grant(ctx, 1, 10, "")
	require.NoError(t, err)
	require.NoError(t, l.Debit(ctx, 1, 3, models.TxTaskCost, models.RefTask, 42))

	balance, err = l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)

	entries, err := l.Entries(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-3), entries[0].Amount)
	assert.Equal(t, models.TxTaskCost, entries[0].TransactionType)
	assert.Equal(t, uint(42), entries[0].ReferenceID)
	assert.Equal(t, models.CreditRegular, entries[1].CreditType)
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	l := New(testutil.NewDB(t), logger.NewNop())
	ctx := context.Background()

	assert.Error(t, l.Debit(ctx, 1, 0, models.TxTaskCost, models.RefTask, 1))
	_, err := l.Grant(ctx, 1, -5, models.CreditBonus)
	assert.Error(t, err)
}

func TestLedger_ChargeCappedAtBalance(t *testing.T) {
	l := New(testutil.NewDB(t), logger.NewNop())
	ctx := context.Background()

	_, err := l.Grant(ctx, 5, 2, models.CreditBonus)
	require.NoError(t, err)

	charged, err := l.Charge(ctx, 5, 3, models.TxAPIUsage, models.RefAPILog, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), charged)
	balance, err := l.Balance(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	charged, err = l.Charge(ctx, 5, 1, models.TxAPIUsage, models.RefAPILog, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), charged)

	entries, err := l.Entries(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-2), entries[0].Amount)
	assert.Equal(t, models.TxAPIUsage, entries[0].TransactionType)
}

func TestLedger_ConcurrentChargesNeverOverdraw(t *testing.T) {
	l := New(testutil.NewDB(t), logger.NewNop())
	ctx := context.Background()

	_, err := l.Grant(ctx, 9, 5, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var total atomic.Int64
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			charged, err := l.Charge(ctx, 9, 2, models.TxAPIUsage, models.RefAPILog, 0)
			if err == nil {
				total.Add(charged)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), total.Load())
	balance, err := l.Balance(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}
