package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransferService moves money between two cards of the same owner
type TransferService struct {
	store     repository.Store
	log       *logrus.Logger
	maxAmount decimal.Decimal
	attempts  int
	now       func() time.Time
}

// NewTransferService initializes a new transfer service. attempts bounds how
// many times a unit of work is run when it loses a lock race.
func NewTransferService(store repository.Store, log *logrus.Logger, maxAmount decimal.Decimal, attempts int) *TransferService {
	if attempts < 1 {
		attempts = 1
	}
	return &TransferService{store: store, log: log, maxAmount: maxAmount, attempts: attempts, now: time.Now}
}

// Execute validates and applies a transfer. Either both balances change and a
// COMPLETED transfer is recorded, or nothing is written.
func (s *TransferService) Execute(ctx context.Context, principal string, fromCardID, toCardID int64, amount decimal.Decimal) (*models.Transfer, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	user, err := s.store.Users().FindByUsername(ctx, principal)
	if err != nil {
		return nil, userLookupError(err)
	}

	fields := logrus.Fields{
		"owner_id":     user.ID,
		"from_card_id": fromCardID,
		"to_card_id":   toCardID,
		"amount":       amount.String(),
	}

	var transfer *models.Transfer
	for attempt := 1; ; attempt++ {
		transfer, err = s.execute(ctx, user, fromCardID, toCardID, amount)
		if !errors.Is(err, repository.ErrLockConflict) {
			break
		}
		if attempt >= s.attempts {
			s.log.WithFields(fields).WithField("attempts", attempt).Warn("Transfer gave up on lock contention")
			return nil, ErrCardBusy
		}
		s.log.WithFields(fields).WithField("attempt", attempt).Debug("Transfer lost a lock race, retrying")
	}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Info("Transfer rejected")
		return nil, err
	}

	s.log.WithFields(fields).WithField("transfer_id", transfer.ID).Info("Transfer completed")
	return transfer, nil
}

func (s *TransferService) execute(ctx context.Context, user *models.User, fromCardID, toCardID int64, amount decimal.Decimal) (*models.Transfer, error) {
	var transfer *models.Transfer
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		cards, err := tx.Cards().LockByIDs(ctx, fromCardID, toCardID)
		if err != nil {
			return fmt.Errorf("failed to lock cards: %w", err)
		}
		// from and to are the same pointer when both ids match
		from, ok := cards[fromCardID]
		if !ok {
			return ErrSenderNotFound
		}
		to, ok := cards[toCardID]
		if !ok {
			return ErrRecipientNotFound
		}

		if from.OwnerID != user.ID || to.OwnerID != user.ID {
			return ErrNotCardOwner
		}
		if amount.GreaterThan(s.maxAmount) {
			return ErrAmountExceedsLimit
		}
		if from.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		if !from.IsActive() {
			return ErrSenderInactive
		}
		if !to.IsActive() {
			return ErrRecipientInactive
		}

		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		if err := tx.Cards().Save(ctx, from); err != nil {
			return fmt.Errorf("failed to save sender card: %w", err)
		}
		if to != from {
			if err := tx.Cards().Save(ctx, to); err != nil {
				return fmt.Errorf("failed to save recipient card: %w", err)
			}
		}

		t := &models.Transfer{
			FromCardID: fromCardID,
			ToCardID:   toCardID,
			OwnerID:    user.ID,
			Amount:     amount,
			CreatedAt:  s.now(),
			Status:     models.TransferStatusCompleted,
		}
		if err := tx.Transfers().Save(ctx, t); err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}
		transfer = t
		return nil
	})
	return transfer, err
}

// ListAll lists every recorded transfer
func (s *TransferService) ListAll(ctx context.Context, page models.PageRequest) (models.Page[*models.Transfer], error) {
	result, err := s.store.Transfers().FindAll(ctx, page)
	if err != nil {
		return result, fmt.Errorf("failed to list transfers: %w", err)
	}
	return result, nil
}

// ListMine lists the transfers the principal initiated
func (s *TransferService) ListMine(ctx context.Context, principal string, page models.PageRequest) (models.Page[*models.Transfer], error) {
	user, err := s.store.Users().FindByUsername(ctx, principal)
	if err != nil {
		return models.Page[*models.Transfer]{}, userLookupError(err)
	}
	result, err := s.store.Transfers().FindByOwner(ctx, user.ID, page)
	if err != nil {
		return result, fmt.Errorf("failed to list transfers: %w", err)
	}
	return result, nil
}
