package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ExpiryAudit reports ACTIVE cards whose expiry date has passed. Cards are
// left untouched; moving one to EXPIRED is an administrator's decision.
type ExpiryAudit struct {
	cards repository.CardStore
	log   *logrus.Logger
	now   func() time.Time
}

// NewExpiryAudit initializes a new audit over cards
func NewExpiryAudit(cards repository.CardStore, log *logrus.Logger) *ExpiryAudit {
	return &ExpiryAudit{cards: cards, log: log, now: time.Now}
}

// Run scans every ACTIVE card and returns the ids of the overdue ones
func (a *ExpiryAudit) Run(ctx context.Context) ([]int64, error) {
	now := a.now()
	var overdue []int64
	page := models.PageRequest{Size: models.MaxPageSize}
	for {
		result, err := a.cards.FindByStatus(ctx, models.CardStatusActive, page)
		if err != nil {
			return overdue, fmt.Errorf("failed to list active cards: %w", err)
		}
		for _, card := range result.Items {
			if card.ExpiryDate.Before(now) {
				overdue = append(overdue, card.ID)
			}
		}
		if len(result.Items) < page.Size || int64((page.Number+1)*page.Size) >= result.Total {
			break
		}
		page.Number++
	}

	if len(overdue) > 0 {
		a.log.WithFields(logrus.Fields{"count": len(overdue), "card_ids": overdue}).Warn("Active cards past expiry date")
	} else {
		a.log.Debug("No active cards past expiry date")
	}
	return overdue, nil
}

// Scheduler manages the cron jobs
type Scheduler struct {
	cron     *cron.Cron
	audit    *ExpiryAudit
	schedule string
	log      *logrus.Logger
}

// NewScheduler creates a new scheduler instance
func NewScheduler(audit *ExpiryAudit, schedule string, log *logrus.Logger) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log))))
	return &Scheduler{cron: c, audit: audit, schedule: schedule, log: log}
}

// Start registers the jobs and starts the cron scheduler
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.audit.Run(context.Background()); err != nil {
			s.log.WithError(err).Error("Expiry audit failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule expiry audit %q: %w", s.schedule, err)
	}
	s.log.WithField("schedule", s.schedule).Info("Scheduled expiry audit")
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and returns a context that is done once running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
