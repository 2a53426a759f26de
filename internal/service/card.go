package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/cardnumber"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxNumberAttempts bounds regeneration when a fresh number collides with a stored one
const maxNumberAttempts = 5

// NumberCodec protects card numbers at rest
type NumberCodec interface {
	Generate() (string, error)
	Encrypt(plain string) (string, error)
	Decrypt(encrypted string) (string, error)
	Fingerprint(plain string) string
}

// CardService manages the card lifecycle
type CardService struct {
	store           repository.Store
	codec           NumberCodec
	guard           *AccessGuard
	log             *logrus.Logger
	expirationYears int
	now             func() time.Time
}

// NewCardService initializes a new card service
func NewCardService(store repository.Store, codec NumberCodec, guard *AccessGuard, log *logrus.Logger, expirationYears int) *CardService {
	return &CardService{
		store:           store,
		codec:           codec,
		guard:           guard,
		log:             log,
		expirationYears: expirationYears,
		now:             time.Now,
	}
}

// Create issues an ACTIVE card with a fresh number to an existing user
func (s *CardService) Create(ctx context.Context, ownerID int64, initialBalance decimal.Decimal) (*models.CardView, error) {
	if initialBalance.IsNegative() {
		return nil, ErrNegativeBalance
	}
	owner, err := s.store.Users().FindByID(ctx, ownerID)
	if err != nil {
		return nil, userLookupError(err)
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		plain, err := s.codec.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate card number: %w", err)
		}
		encrypted, err := s.codec.Encrypt(plain)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt card number: %w", err)
		}

		card := &models.Card{
			Number:     encrypted,
			NumberHMAC: s.codec.Fingerprint(plain),
			OwnerID:    owner.ID,
			ExpiryDate: s.now().AddDate(s.expirationYears, 0, 0),
			Balance:    initialBalance,
			Status:     models.CardStatusActive,
		}
		err = s.store.Cards().Save(ctx, card)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			s.log.WithField("attempt", attempt).Warn("Generated card number already issued, retrying")
			continue
		case errors.Is(err, repository.ErrReferenced):
			return nil, ErrUserNotFound
		case err != nil:
			return nil, fmt.Errorf("failed to save card: %w", err)
		}

		s.log.WithFields(logrus.Fields{"card_id": card.ID, "owner_id": owner.ID}).Info("Card created")
		return s.viewWithPlain(card, plain, owner.Username)
	}
	return nil, ErrCardNumberTaken
}

// UpdateStatus overwrites the status and expiry date of a card
func (s *CardService) UpdateStatus(ctx context.Context, cardID int64, status models.CardStatus, expiry time.Time) (*models.CardView, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	card, err := s.mutate(ctx, cardID, func(tx repository.Store, card *models.Card) error {
		card.Status = status
		card.ExpiryDate = expiry
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"card_id": card.ID, "status": card.Status}).Info("Card updated")
	return s.view(ctx, card, nil)
}

// Block sets the card to BLOCKED. Only the owner may do this, administrators included.
func (s *CardService) Block(ctx context.Context, cardID int64, actingUsername string) (*models.CardView, error) {
	card, err := s.mutate(ctx, cardID, func(tx repository.Store, card *models.Card) error {
		owner, err := tx.Users().FindByID(ctx, card.OwnerID)
		if err != nil {
			return userLookupError(err)
		}
		if owner.Username != actingUsername {
			return ErrNotCardOwner
		}
		card.Status = models.CardStatusBlocked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("card_id", card.ID).Info("Card blocked")
	return s.view(ctx, card, nil)
}

// Delete removes a card permanently
func (s *CardService) Delete(ctx context.Context, cardID int64) error {
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		card, err := lockCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		return tx.Cards().Delete(ctx, card)
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrCardNotFound
	case errors.Is(err, repository.ErrReferenced):
		return fmt.Errorf("card %d has transfers: %w", cardID, ErrStillReferenced)
	case err != nil:
		return err
	}
	s.log.WithField("card_id", cardID).Info("Card deleted")
	return nil
}

// GetBalance returns the balance of a card the principal may access
func (s *CardService) GetBalance(ctx context.Context, cardID int64, principal string) (decimal.Decimal, error) {
	card, err := s.accessible(ctx, cardID, principal)
	if err != nil {
		return decimal.Zero, err
	}
	return card.Balance, nil
}

// Get returns a card the principal may access
func (s *CardService) Get(ctx context.Context, cardID int64, principal string) (*models.CardView, error) {
	card, err := s.accessible(ctx, cardID, principal)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, card, nil)
}

// ListAll lists every card, optionally narrowed by status and owner
func (s *CardService) ListAll(ctx context.Context, filter models.CardFilter, page models.PageRequest) (models.Page[models.CardView], error) {
	cards := s.store.Cards()
	var (
		result models.Page[*models.Card]
		err    error
	)
	if filter.OwnerUsername != "" {
		owner, lookupErr := s.store.Users().FindByUsername(ctx, filter.OwnerUsername)
		if lookupErr != nil {
			return models.Page[models.CardView]{}, userLookupError(lookupErr)
		}
		if filter.Status != nil {
			result, err = cards.FindByOwnerAndStatus(ctx, owner.ID, *filter.Status, page)
		} else {
			result, err = cards.FindByOwner(ctx, owner.ID, page)
		}
	} else if filter.Status != nil {
		result, err = cards.FindByStatus(ctx, *filter.Status, page)
	} else {
		result, err = cards.FindAll(ctx, page)
	}
	if err != nil {
		return models.Page[models.CardView]{}, fmt.Errorf("failed to list cards: %w", err)
	}
	return s.viewPage(ctx, result)
}

// ListMine lists the principal's own cards, optionally narrowed by status
func (s *CardService) ListMine(ctx context.Context, principal string, status *models.CardStatus, page models.PageRequest) (models.Page[models.CardView], error) {
	user, err := s.store.Users().FindByUsername(ctx, principal)
	if err != nil {
		return models.Page[models.CardView]{}, userLookupError(err)
	}
	var result models.Page[*models.Card]
	if status != nil {
		result, err = s.store.Cards().FindByOwnerAndStatus(ctx, user.ID, *status, page)
	} else {
		result, err = s.store.Cards().FindByOwner(ctx, user.ID, page)
	}
	if err != nil {
		return models.Page[models.CardView]{}, fmt.Errorf("failed to list cards: %w", err)
	}
	return s.viewPage(ctx, result)
}

func (s *CardService) accessible(ctx context.Context, cardID int64, principal string) (*models.Card, error) {
	card, err := s.store.Cards().FindByID(ctx, cardID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}
	if err := s.guard.Authorize(ctx, principal, card); err != nil {
		return nil, err
	}
	return card, nil
}

// mutate applies fn to the locked card row and saves it in one transaction
func (s *CardService) mutate(ctx context.Context, cardID int64, fn func(tx repository.Store, card *models.Card) error) (*models.Card, error) {
	var card *models.Card
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		locked, err := lockCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if err := fn(tx, locked); err != nil {
			return err
		}
		if err := tx.Cards().Save(ctx, locked); err != nil {
			return fmt.Errorf("failed to save card: %w", err)
		}
		card = locked
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCardNotFound
	}
	return card, err
}

func lockCard(ctx context.Context, tx repository.Store, cardID int64) (*models.Card, error) {
	cards, err := tx.Cards().LockByIDs(ctx, cardID)
	if errors.Is(err, repository.ErrLockConflict) {
		return nil, fmt.Errorf("card %d: %w", cardID, ErrCardBusy)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock card: %w", err)
	}
	card, ok := cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	return card, nil
}

// view decrypts the number only to mask it. owners caches usernames by id and may be nil.
func (s *CardService) view(ctx context.Context, card *models.Card, owners map[int64]string) (*models.CardView, error) {
	username, ok := owners[card.OwnerID]
	if !ok {
		owner, err := s.store.Users().FindByID(ctx, card.OwnerID)
		if err != nil {
			return nil, userLookupError(err)
		}
		username = owner.Username
		if owners != nil {
			owners[card.OwnerID] = username
		}
	}
	plain, err := s.codec.Decrypt(card.Number)
	if err != nil {
		s.log.WithFields(logrus.Fields{"card_id": card.ID, "error": err}).Error("Failed to decrypt card number")
		return nil, fmt.Errorf("card %d: %w", card.ID, ErrInvalidCardNumber)
	}
	return s.viewWithPlain(card, plain, username)
}

func (s *CardService) viewWithPlain(card *models.Card, plain, ownerUsername string) (*models.CardView, error) {
	masked, err := cardnumber.Mask(plain)
	if err != nil {
		return nil, fmt.Errorf("card %d: %w", card.ID, ErrInvalidCardNumber)
	}
	return &models.CardView{
		ID:            card.ID,
		Number:        masked,
		OwnerUsername: ownerUsername,
		ExpiryDate:    card.ExpiryDate,
		Balance:       card.Balance,
		Status:        card.Status,
	}, nil
}

func (s *CardService) viewPage(ctx context.Context, page models.Page[*models.Card]) (models.Page[models.CardView], error) {
	owners := make(map[int64]string)
	return models.MapPage(page, func(card *models.Card) (models.CardView, error) {
		v, err := s.view(ctx, card, owners)
		if err != nil {
			return models.CardView{}, err
		}
		return *v, nil
	})
}
