package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryAudit_Run(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	owner := &models.User{Username: "alice", Role: models.RoleUser}
	require.NoError(t, store.Users().Save(ctx, owner))

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var want []int64
	// enough cards to span several pages
	for i := 0; i < 230; i++ {
		card := &models.Card{
			Number:     fmt.Sprintf("n-%d", i),
			NumberHMAC: fmt.Sprintf("h-%d", i),
			OwnerID:    owner.ID,
			ExpiryDate: now.AddDate(0, 0, 1),
			Balance:    decimal.Zero,
			Status:     models.CardStatusActive,
		}
		if i%50 == 0 {
			card.ExpiryDate = now.AddDate(0, -1, 0)
		}
		if i == 7 {
			card.ExpiryDate = now.AddDate(-1, 0, 0)
			card.Status = models.CardStatusBlocked
		}
		require.NoError(t, store.Cards().Save(ctx, card))
		if i%50 == 0 {
			want = append(want, card.ID)
		}
	}

	log, hook := test.NewNullLogger()
	audit := NewExpiryAudit(store.Cards(), log)
	audit.now = func() time.Time { return now }

	overdue, err := audit.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, overdue)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, len(want), entry.Data["count"])

	// nothing was changed
	page, err := store.Cards().FindByStatus(ctx, models.CardStatusExpired, models.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewScheduler(NewExpiryAudit(repository.NewMemoryStore().Cards(), log), "every tuesday", log)
	require.Error(t, s.Start())

	s = NewScheduler(NewExpiryAudit(repository.NewMemoryStore().Cards(), log), "@daily", log)
	require.NoError(t, s.Start())
	<-s.Stop().Done()
}
