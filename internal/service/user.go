package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// UserService handles user administration
type UserService struct {
	users repository.UserStore
	log   *logrus.Logger
}

// NewUserService initializes a new user service
func NewUserService(users repository.UserStore, log *logrus.Logger) *UserService {
	return &UserService{users: users, log: log}
}

// Me returns the principal's own record
func (s *UserService) Me(ctx context.Context, principal string) (*models.User, error) {
	user, err := s.users.FindByUsername(ctx, principal)
	if err != nil {
		return nil, userLookupError(err)
	}
	return user, nil
}

// IsAdmin reports whether principal currently holds the ADMIN role
func (s *UserService) IsAdmin(ctx context.Context, principal string) (bool, error) {
	user, err := s.Me(ctx, principal)
	if err != nil {
		return false, err
	}
	return user.IsAdmin(), nil
}

func (s *UserService) List(ctx context.Context, page models.PageRequest) (models.Page[*models.User], error) {
	result, err := s.users.FindAll(ctx, page)
	if err != nil {
		return result, fmt.Errorf("failed to list users: %w", err)
	}
	return result, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, userLookupError(err)
	}
	return user, nil
}

// Update applies the non-nil fields of patch. A new password is stored hashed.
func (s *UserService) Update(ctx context.Context, id int64, patch models.UserUpdate) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, userLookupError(err)
	}

	if patch.Username != nil {
		username := strings.TrimSpace(*patch.Username)
		if username == "" {
			return nil, fmt.Errorf("%w: username must not be empty", ErrBadRequest)
		}
		if username != user.Username {
			exists, err := s.users.ExistsByUsername(ctx, username)
			if err != nil {
				return nil, fmt.Errorf("failed to check username: %w", err)
			}
			if exists {
				return nil, ErrUsernameTaken
			}
			user.Username = username
		}
	}
	if patch.Password != nil {
		if *patch.Password == "" {
			return nil, fmt.Errorf("%w: password must not be empty", ErrBadRequest)
		}
		hash, err := hashPassword(*patch.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if patch.Role != nil {
		role, err := models.ParseRole(string(*patch.Role))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		user.Role = role
	}

	if err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("User updated")
	return user, nil
}

// Delete removes a user that owns no cards and initiated no transfers
func (s *UserService) Delete(ctx context.Context, id int64) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return userLookupError(err)
	}
	err = s.users.Delete(ctx, user)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrReferenced):
		return fmt.Errorf("user %d: %w", id, ErrStillReferenced)
	case err != nil:
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.log.WithField("user_id", id).Info("User deleted")
	return nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
