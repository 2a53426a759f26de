package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/cardnumber"
	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *repository.MemoryStore
	codec *cardnumber.Codec
	svc   *Service
	logs  *test.Hook
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:             "test-secret",
		JWTIssuer:             "bank-cards",
		JWTTTL:                time.Hour,
		CardExpirationYears:   2,
		MaxTransferAmount:     decimal.NewFromInt(250000),
		TransferRetryAttempts: 3,
	}
}

func newTestCodec(t *testing.T) *cardnumber.Codec {
	t.Helper()
	codec, err := cardnumber.NewCodec(cardnumber.AlgorithmGCM, []byte("0123456789abcdef0123456789abcdef"), []byte("hmac-secret"), cardnumber.DefaultBIN)
	require.NoError(t, err)
	return codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	store := repository.NewMemoryStore()
	codec := newTestCodec(t)
	svc := NewService(store, codec, log, testConfig())
	svc.Cards.now = func() time.Time { return testNow }
	svc.Transfers.now = func() time.Time { return testNow }
	return &fixture{store: store, codec: codec, svc: svc, logs: hook}
}

func (f *fixture) user(t *testing.T, username string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Username: username, PasswordHash: "x", Role: role}
	require.NoError(t, f.store.Users().Save(context.Background(), u))
	return u
}

func (f *fixture) card(t *testing.T, owner *models.User, balance int64) *models.CardView {
	t.Helper()
	v, err := f.svc.Cards.Create(context.Background(), owner.ID, decimal.NewFromInt(balance))
	require.NoError(t, err)
	return v
}

func (f *fixture) setStatus(t *testing.T, cardID int64, status models.CardStatus) {
	t.Helper()
	c, err := f.store.Cards().FindByID(context.Background(), cardID)
	require.NoError(t, err)
	c.Status = status
	require.NoError(t, f.store.Cards().Save(context.Background(), c))
}

func (f *fixture) balance(t *testing.T, cardID int64) decimal.Decimal {
	t.Helper()
	c, err := f.store.Cards().FindByID(context.Background(), cardID)
	require.NoError(t, err)
	return c.Balance
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func logrusDiscard() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}
