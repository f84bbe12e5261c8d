package notifications

import (
	"context"

	"github.com/dustout/dustout-backend/pkg/logger"
	"github.com/dustout/dustout-backend/pkg/mail"
)

// Mailer is the outbound email surface the notifier dispatches through.
type Mailer interface {
	SendBookingConfirmation(ctx context.Context, p mail.BookingConfirmationParams) error
	SendBookingAdminAlert(ctx context.Context, p mail.BookingAdminParams) error
	SendSubscriptionConfirmation(ctx context.Context, p mail.SubscriptionConfirmationParams) error
	SendSubscriptionCancellation(ctx context.Context, p mail.SubscriptionCancellationParams) error
	SendSubscriptionAdminAlert(ctx context.Context, p mail.SubscriptionAdminParams) error
	SendSubscriptionUpgrade(ctx context.Context, p mail.SubscriptionUpgradeParams) error
}

// Notifier dispatches transactional email after domain state has been
// committed. Every call is best effort: failures are logged and swallowed so
// a slow or broken mail provider can never roll back or fail reconciliation.
type Notifier struct {
	mailer Mailer
	logg   *logger.Logger
}

// NewNotifier wires the notifier. A nil mailer yields a no-op notifier,
// which keeps local setups without Sendgrid credentials working.
func NewNotifier(mailer Mailer, logg *logger.Logger) *Notifier {
	return &Notifier{mailer: mailer, logg: logg}
}

func (n *Notifier) BookingConfirmed(ctx context.Context, p mail.BookingConfirmationParams) {
	if n == nil || n.mailer == nil {
		return
	}
	if err := n.mailer.SendBookingConfirmation(ctx, p); err != nil {
		n.warn(ctx, "booking confirmation email failed", err)
	}
}

func (n *Notifier) BookingAdminAlert(ctx context.Context, p mail.BookingAdminParams) {
	if n == nil || n.mailer == nil {
		return
	}
	if err := n.mailer.SendBookingAdminAlert(ctx, p); err != nil {
		n.warn(ctx, "booking admin email failed", err)
	}
}

func (n *Notifier) SubscriptionConfirmed(ctx context.Context, p mail.SubscriptionConfirmationParams) {
	if n == nil || n.mailer == nil {
		return
	}
	if err := n.mailer.SendSubscriptionConfirmation(ctx, p); err != nil {
		n.warn(ctx, "subscription confirmation email failed", err)
	}
}

func (n *Notifier) SubscriptionCancelled(ctx context.Context, p mail.SubscriptionCancellationParams) {
	if n == nil || n.mailer == nil {
		return
	}
	if err := n.mailer.SendSubscriptionCancellation(ctx, p); err != nil {
		n.warn(ctx, "subscription cancellation email failed", err)
	}
}

func (n *Notifier) SubscriptionAdminAlert(ctx context.Context, p mail.SubscriptionAdminParams) {
	if n == nil || n.mailer == nil {
		return
	}
	if err := n.mailer.SendSubscriptionAdminAlert(ctx, p); err != nil {
		n.warn(ctx, "subscription admin email failed", err)
	}
}

func (n *Notifier) SubscriptionUpgraded(ctx context.Context, p mail.SubscriptionUpgradeParams) {
	if n == nil || n.mailer == nil {
		return
	}
	if err := n.mailer.SendSubscriptionUpgrade(ctx, p); err != nil {
		n.warn(ctx, "subscription upgrade email failed", err)
	}
}

func (n *Notifier) warn(ctx context.Context, msg string, err error) {
	if n.logg == nil {
		return
	}
	n.logg.Warn(n.logg.WithField(ctx, "email_error", err.Error()), msg)
}
