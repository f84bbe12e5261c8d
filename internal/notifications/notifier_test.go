package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/dustout/dustout-backend/pkg/mail"
)

func TestNotifierSwallowsMailerFailures(t *testing.T) {
	mailer := &failingMailer{err: errors.New("provider down")}
	notifier := NewNotifier(mailer, nil)

	ctx := context.Background()
	notifier.BookingConfirmed(ctx, mail.BookingConfirmationParams{To: "a@b.com"})
	notifier.BookingAdminAlert(ctx, mail.BookingAdminParams{})
	notifier.SubscriptionConfirmed(ctx, mail.SubscriptionConfirmationParams{To: "a@b.com"})
	notifier.SubscriptionCancelled(ctx, mail.SubscriptionCancellationParams{To: "a@b.com"})
	notifier.SubscriptionAdminAlert(ctx, mail.SubscriptionAdminParams{})
	notifier.SubscriptionUpgraded(ctx, mail.SubscriptionUpgradeParams{To: "a@b.com"})

	if mailer.calls != 6 {
		t.Fatalf("expected all six dispatches attempted, got %d", mailer.calls)
	}
}

func TestNotifierNilMailerIsNoOp(t *testing.T) {
	notifier := NewNotifier(nil, nil)
	notifier.BookingConfirmed(context.Background(), mail.BookingConfirmationParams{To: "a@b.com"})

	var nilNotifier *Notifier
	nilNotifier.SubscriptionConfirmed(context.Background(), mail.SubscriptionConfirmationParams{})
}

type failingMailer struct {
	err   error
	calls int
}

func (f *failingMailer) SendBookingConfirmation(ctx context.Context, p mail.BookingConfirmationParams) error {
	f.calls++
	return f.err
}

func (f *failingMailer) SendBookingAdminAlert(ctx context.Context, p mail.BookingAdminParams) error {
	f.calls++
	return f.err
}

func (f *failingMailer) SendSubscriptionConfirmation(ctx context.Context, p mail.SubscriptionConfirmationParams) error {
	f.calls++
	return f.err
}

func (f *failingMailer) SendSubscriptionCancellation(ctx context.Context, p mail.SubscriptionCancellationParams) error {
	f.calls++
	return f.err
}

func (f *failingMailer) SendSubscriptionAdminAlert(ctx context.Context, p mail.SubscriptionAdminParams) error {
	f.calls++
	return f.err
}

func (f *failingMailer) SendSubscriptionUpgrade(ctx context.Context, p mail.SubscriptionUpgradeParams) error {
	f.calls++
	return f.err
}
