package repository

import (
	"context"
	"errors"

	"github.com/Dan9191/bank-cards/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("duplicate")
	// ErrReferenced is returned when a row cannot be deleted because other rows point at it
	ErrReferenced = errors.New("still referenced")
	// ErrLockConflict is returned when a transaction lost a lock race and may be retried
	ErrLockConflict = errors.New("lock conflict")
)

// CardStore provides card persistence
type CardStore interface {
	FindByID(ctx context.Context, id int64) (*models.Card, error)
	FindByOwnerAndStatus(ctx context.Context, ownerID int64, status models.CardStatus, page models.PageRequest) (models.Page[*models.Card], error)
	FindByOwner(ctx context.Context, ownerID int64, page models.PageRequest) (models.Page[*models.Card], error)
	FindByStatus(ctx context.Context, status models.CardStatus, page models.PageRequest) (models.Page[*models.Card], error)
	FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.Card], error)
	// LockByIDs loads the cards and holds their row locks until the enclosing
	// transaction ends. Rows are locked in ascending id order. Missing ids are
	// absent from the result.
	LockByIDs(ctx context.Context, ids ...int64) (map[int64]*models.Card, error)
	// Save inserts a card with a zero ID and updates it otherwise
	Save(ctx context.Context, card *models.Card) error
	Delete(ctx context.Context, card *models.Card) error
}

// UserStore provides user persistence
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.User], error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	// Save inserts a user with a zero ID and updates it otherwise
	Save(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, user *models.User) error
}

// TransferStore is an append-only log of completed transfers
type TransferStore interface {
	Save(ctx context.Context, transfer *models.Transfer) error
	FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.Transfer], error)
	FindByOwner(ctx context.Context, ownerID int64, page models.PageRequest) (models.Page[*models.Transfer], error)
}

// Store groups the stores and runs units of work atomically
type Store interface {
	Cards() CardStore
	Users() UserStore
	Transfers() TransferStore
	// WithinTx runs fn with a Store bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise. Calling WithinTx on
	// a transactional Store reuses the open transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
