package service

import (
	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/sirupsen/logrus"
)

// Service handles business logic
type Service struct {
	Cards     *CardService
	Transfers *TransferService
	Users     *UserService
	Auth      *AuthService
	Guard     *AccessGuard
}

// NewService initializes the services over one store
func NewService(store repository.Store, codec NumberCodec, log *logrus.Logger, cfg *config.Config) *Service {
	guard := NewAccessGuard(store.Users())
	return &Service{
		Cards:     NewCardService(store, codec, guard, log, cfg.CardExpirationYears),
		Transfers: NewTransferService(store, log, cfg.MaxTransferAmount, cfg.TransferRetryAttempts),
		Users:     NewUserService(store.Users(), log),
		Auth:      NewAuthService(store.Users(), log, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		Guard:     guard,
	}
}
