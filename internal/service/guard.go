package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
)

// AccessGuard decides whether a principal may see or operate on a card
type AccessGuard struct {
	users repository.UserStore
}

// NewAccessGuard returns a guard that resolves principals through users
func NewAccessGuard(users repository.UserStore) *AccessGuard {
	return &AccessGuard{users: users}
}

// CanAccess reports whether principal is an administrator or owns card.
// An unknown principal is simply denied; only store failures are errors.
func (g *AccessGuard) CanAccess(ctx context.Context, principal string, card *models.Card) (bool, error) {
	user, err := g.users.FindByUsername(ctx, principal)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, userLookupError(err)
	}
	if user.IsAdmin() {
		return true, nil
	}
	owner, err := g.users.FindByID(ctx, card.OwnerID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load card owner: %w", err)
	}
	return owner.Username == user.Username, nil
}

// Authorize is CanAccess in guard form
func (g *AccessGuard) Authorize(ctx context.Context, principal string, card *models.Card) error {
	ok, err := g.CanAccess(ctx, principal, card)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCardOwner
	}
	return nil
}

func userLookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("failed to load user: %w", err)
}
