// Package ledger keeps the append-only credit ledger. A user's balance is the
// sum of their signed entries.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/db"
)

type Ledger struct {
	db  *gorm.DB
	log *logger.Logger

	mu    sync.Mutex
	users map[uint]*sync.Mutex
}

func New(gormDB *gorm.DB, log *logger.Logger) *Ledger {
	return &Ledger{
		db:    gormDB,
		log:   log.Named("ledger"),
		users: make(map[uint]*sync.Mutex),
	}
}

// Lock serializes balance checks and debits for one user. Callers must invoke
// the returned func to release it.
func (l *Ledger) Lock(userID uint) func() {
	l.mu.Lock()
	m, ok := l.users[userID]
	if !ok {
		m = &sync.Mutex{}
		l.users[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Balance returns the user's current credit balance.
func (l *Ledger) Balance(ctx context.Context, userID uint) (int64, error) {
	var balance int64
	err := l.db.WithContext(ctx).Model(&db.CreditEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum credits for user %d: %w", userID, err)
	}
	return balance, nil
}

// Debit appends a negative entry of amount. It does not check the balance and
// does not take the user lock; use Charge for a capped debit.
func (l *Ledger) Debit(ctx context.Context, userID uint, amount int64, txType models.TransactionType, refType models.ReferenceType, refID uint) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	entry := db.CreditEntry{
		UserID:          userID,
		Amount:          -amount,
		CreditType:      models.CreditRegular,
		TransactionType: txType,
		ReferenceType:   refType,
		ReferenceID:     refID,
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.log.Errorw("credit debit failed", "user_id", userID, "amount", amount, "transaction_type", txType, "error", err)
		return fmt.Errorf("failed to debit credits: %w", err)
	}
	l.log.Debugw("credits debited", "user_id", userID, "amount", amount, "transaction_type", txType, "reference_type", refType, "reference_id", refID)
	return nil
}

// Charge debits amount under the user lock, capped at the current balance so
// the balance never goes negative. It returns the amount actually debited.
func (l *Ledger) Charge(ctx context.Context, userID uint, amount int64, txType models.TransactionType, refType models.ReferenceType, refID uint) (int64, error) {
	unlock := l.Lock(userID)
	defer unlock()

	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if amount > balance {
		l.log.Warnw("charge exceeds balance, debit capped", "user_id", userID, "amount", amount, "balance", balance, "reference_type", refType, "reference_id", refID)
		amount = balance
	}
	if amount <= 0 {
		return 0, nil
	}
	if err := l.Debit(ctx, userID, amount, txType, refType, refID); err != nil {
		return 0, err
	}
	return amount, nil
}

// Grant adds amount credits to the user.
func (l *Ledger) Grant(ctx context.Context, userID uint, amount int64, creditType models.CreditType) (*db.CreditEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if creditType == "" {
		creditType = models.CreditRegular
	}
	unlock := l.Lock(userID)
	defer unlock()

	entry := &db.CreditEntry{
		UserID:          userID,
		Amount:          amount,
		CreditType:      creditType,
		TransactionType: models.TxGrant,
		ReferenceType:   models.RefManual,
	}
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}
	l.log.Infow("credits granted", "user_id", userID, "amount", amount, "credit_type", creditType)
	return entry, nil
}

// Entries returns the user's newest ledger rows first.
func (l *Ledger) Entries(ctx context.Context, userID uint, limit int) ([]db.CreditEntry, error) {
	query := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []db.CreditEntry
	err := query.Find(&entries).Error
	return entries, err
}
