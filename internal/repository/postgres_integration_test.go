//go:build integration

package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: TEST_DB_CONN=postgres://... go test -tags integration ./internal/repository/
func openTestStore(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	conn := os.Getenv("TEST_DB_CONN")
	if conn == "" {
		t.Skip("TEST_DB_CONN is not set")
	}
	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgresStore(db)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))
	return store, db
}

func seedPair(t *testing.T, store *PostgresStore, db *sql.DB, fromBalance, toBalance string) (*models.User, *models.Card, *models.Card) {
	t.Helper()
	ctx := context.Background()
	owner := &models.User{Username: "it-" + uuid.NewString(), PasswordHash: "hash", Role: models.RoleUser}
	require.NoError(t, store.Users().Save(ctx, owner))

	newCard := func(balance string) *models.Card {
		c := &models.Card{
			Number:     uuid.NewString(),
			NumberHMAC: uuid.NewString(),
			OwnerID:    owner.ID,
			ExpiryDate: time.Now().AddDate(2, 0, 0),
			Balance:    decimal.RequireFromString(balance),
			Status:     models.CardStatusActive,
		}
		require.NoError(t, store.Cards().Save(ctx, c))
		return c
	}
	from, to := newCard(fromBalance), newCard(toBalance)

	t.Cleanup(func() {
		db.Exec(`DELETE FROM bank.transfers WHERE owner_id = $1`, owner.ID)
		db.Exec(`DELETE FROM bank.cards WHERE owner_id = $1`, owner.ID)
		db.Exec(`DELETE FROM bank.users WHERE id = $1`, owner.ID)
	})
	return owner, from, to
}

// move debits a and credits b under row locks, refusing to overdraw
func move(ctx context.Context, store Store, ownerID, fromID, toID int64, amount decimal.Decimal) (bool, error) {
	moved := false
	err := store.WithinTx(ctx, func(tx Store) error {
		cards, err := tx.Cards().LockByIDs(ctx, toID, fromID)
		if err != nil {
			return err
		}
		from, to := cards[fromID], cards[toID]
		if from.Balance.LessThan(amount) {
			return nil
		}
		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		if err := tx.Cards().Save(ctx, from); err != nil {
			return err
		}
		if err := tx.Cards().Save(ctx, to); err != nil {
			return err
		}
		moved = true
		return tx.Transfers().Save(ctx, &models.Transfer{
			FromCardID: fromID,
			ToCardID:   toID,
			OwnerID:    ownerID,
			Amount:     amount,
			Status:     models.TransferStatusCompleted,
			CreatedAt:  time.Now(),
		})
	})
	return moved && err == nil, err
}

func TestPostgresStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()
	owner, from, to := seedPair(t, store, db, "100", "0")

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := move(ctx, store, owner.ID, from.ID, to.ID, decimal.NewFromInt(30))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	gotFrom, err := store.Cards().FindByID(ctx, from.ID)
	require.NoError(t, err)
	gotTo, err := store.Cards().FindByID(ctx, to.ID)
	require.NoError(t, err)
	assert.True(t, gotFrom.Balance.Equal(decimal.NewFromInt(10)), gotFrom.Balance.String())
	assert.True(t, gotTo.Balance.Equal(decimal.NewFromInt(90)), gotTo.Balance.String())

	transfers, err := store.Transfers().FindByOwner(ctx, owner.ID, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), transfers.Total)
}

func TestPostgresStore_OpposingTransfersDoNotDeadlock(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()
	owner, a, b := seedPair(t, store, db, "1000", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := move(ctx, store, owner.ID, a.ID, b.ID, decimal.NewFromInt(1))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := move(ctx, store, owner.ID, b.ID, a.ID, decimal.NewFromInt(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	gotA, err := store.Cards().FindByID(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := store.Cards().FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Balance.Add(gotB.Balance).Equal(decimal.NewFromInt(2000)))
}

func TestPostgresStore_LockTimeoutIsConflict(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()
	_, card, _ := seedPair(t, store, db, "10", "0")

	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- store.WithinTx(ctx, func(tx Store) error {
			if _, err := tx.Cards().LockByIDs(ctx, card.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := store.WithinTx(ctx, func(tx Store) error {
		_, err := tx.Cards().LockByIDs(ctx, card.ID)
		return err
	})
	close(release)
	require.True(t, errors.Is(err, ErrLockConflict), "got %v", err)
	require.NoError(t, <-holder)
}
