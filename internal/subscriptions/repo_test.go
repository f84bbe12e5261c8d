package subscriptions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dustout/dustout-backend/pkg/db/models"
	"github.com/dustout/dustout-backend/pkg/enums"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	for _, stmt := range []string{
		`CREATE TABLE subscription_plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			price TEXT NOT NULL,
			features TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			plan_name TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			revenue TEXT NOT NULL,
			email TEXT NOT NULL,
			stripe_subscription_id TEXT NOT NULL UNIQUE,
			stripe_customer_id TEXT,
			start_date DATETIME NOT NULL,
			expiry_date DATETIME NOT NULL,
			current_period_start DATETIME NOT NULL,
			current_period_end DATETIME NOT NULL,
			cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
			cancelled_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
	} {
		require.NoError(t, conn.Exec(stmt).Error)
	}

	return conn
}

func seedSubscription(t *testing.T, repo Repository, stripeID string, status enums.SubscriptionStatus) *models.Subscription {
	t.Helper()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               "u1",
		PlanID:               "p1",
		PlanName:             "Basic (residential)",
		PlanType:             enums.PlanTypeResidential,
		Status:               status,
		Revenue:              decimal.RequireFromString("29.99"),
		Email:                "a@b.com",
		StripeSubscriptionID: stripeID,
		StartDate:            now,
		ExpiryDate:           now.AddDate(0, 1, 0),
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.AddDate(0, 1, 0),
	}
	require.NoError(t, repo.CreateSubscription(context.Background(), sub))
	return sub
}

func TestActivateByStripeIDRefreshesDates(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	seedSubscription(t, repo, "sub_a", enums.SubscriptionStatusPending)

	period := PeriodUpdate{
		StartDate:          time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	matched, err := repo.ActivateByStripeID(ctx, "sub_a", period)
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	sub, err := repo.FindByStripeID(ctx, "sub_a")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, period.ExpiryDate, sub.ExpiryDate.UTC())
}

func TestCancelledSubscriptionIsNeverResurrected(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	seedSubscription(t, repo, "sub_b", enums.SubscriptionStatusActive)

	matched, err := repo.MarkCancelledByStripeID(ctx, "sub_b", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	period := PeriodUpdate{
		StartDate:          time.Now().UTC(),
		ExpiryDate:         time.Now().UTC().AddDate(0, 1, 0),
		CurrentPeriodStart: time.Now().UTC(),
		CurrentPeriodEnd:   time.Now().UTC().AddDate(0, 1, 0),
	}

	matched, err = repo.ActivateByStripeID(ctx, "sub_b", period)
	require.NoError(t, err)
	assert.Zero(t, matched)

	matched, err = repo.MarkActiveFromInvoice(ctx, "sub_b", time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, matched)

	matched, err = repo.MarkPastDueByStripeID(ctx, "sub_b")
	require.NoError(t, err)
	assert.Zero(t, matched)

	matched, err = repo.MarkCancelledByStripeID(ctx, "sub_b", time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, matched)

	sub, err := repo.FindByStripeID(ctx, "sub_b")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.NotNil(t, sub.CancelledAt)
}

func TestActivatePendingOnlyMatchesPendingRows(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	seedSubscription(t, repo, "sub_c", enums.SubscriptionStatusActive)

	period := PeriodUpdate{
		StartDate:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ExpiryDate:         time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
		CurrentPeriodStart: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
	}
	matched, err := repo.ActivatePendingByStripeID(ctx, "sub_c", period)
	require.NoError(t, err)
	assert.Zero(t, matched)

	seedSubscription(t, repo, "sub_d", enums.SubscriptionStatusPending)
	matched, err = repo.ActivatePendingByStripeID(ctx, "sub_d", period)
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	sub, err := repo.FindByStripeID(ctx, "sub_d")
	require.NoError(t, err)
	assert.Equal(t, period.ExpiryDate, sub.ExpiryDate.UTC())
	assert.Equal(t, period.ExpiryDate, sub.CurrentPeriodEnd.UTC())
}

func TestPastDueRecoversOnInvoicePayment(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	seedSubscription(t, repo, "sub_e", enums.SubscriptionStatusActive)

	matched, err := repo.MarkPastDueByStripeID(ctx, "sub_e")
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	periodEnd := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	matched, err = repo.MarkActiveFromInvoice(ctx, "sub_e", periodEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	sub, err := repo.FindByStripeID(ctx, "sub_e")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, periodEnd, sub.ExpiryDate.UTC())
	assert.Equal(t, periodEnd, sub.CurrentPeriodEnd.UTC())
}

func TestApplyUpgradeByStripeIDReplacesPlan(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	seedSubscription(t, repo, "sub_f", enums.SubscriptionStatusActive)

	plan := PlanUpdate{
		PlanID:             "p2",
		PlanName:           "Premium (industrial)",
		PlanType:           enums.PlanTypeIndustrial,
		Revenue:            decimal.RequireFromString("49.99"),
		ExpiryDate:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	matched, err := repo.ApplyUpgradeByStripeID(ctx, "sub_f", plan)
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	sub, err := repo.FindByStripeID(ctx, "sub_f")
	require.NoError(t, err)
	assert.Equal(t, "p2", sub.PlanID)
	assert.Equal(t, "Premium (industrial)", sub.PlanName)
	assert.True(t, sub.Revenue.Equal(decimal.RequireFromString("49.99")))
	assert.False(t, sub.CancelAtPeriodEnd)
}
