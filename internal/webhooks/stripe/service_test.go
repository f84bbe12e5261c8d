package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/dustout/dustout-backend/pkg/errors"
)

type stubBookings struct {
	sessions []*stripe.CheckoutSession
	err      error
}

func (s *stubBookings) HandleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	s.sessions = append(s.sessions, session)
	return s.err
}

type stubSubscriptions struct {
	checkouts     []*stripe.CheckoutSession
	setups        []*stripe.CheckoutSession
	upgrades      []*stripe.CheckoutSession
	activations   []*stripe.Subscription
	upgradeSyncs  []*stripe.Subscription
	cancellations []*stripe.Subscription
	invoicesPaid  []*stripe.Invoice
	invoicesFail  []*stripe.Invoice
	err           error
}

func (s *stubSubscriptions) HandleSubscriptionCheckout(ctx context.Context, session *stripe.CheckoutSession) error {
	s.checkouts = append(s.checkouts, session)
	return s.err
}

func (s *stubSubscriptions) HandleActivation(ctx context.Context, sub *stripe.Subscription) error {
	s.activations = append(s.activations, sub)
	return s.err
}

func (s *stubSubscriptions) HandleUpgradeSync(ctx context.Context, sub *stripe.Subscription) error {
	s.upgradeSyncs = append(s.upgradeSyncs, sub)
	return s.err
}

func (s *stubSubscriptions) HandleUpgradePayment(ctx context.Context, session *stripe.CheckoutSession) error {
	s.upgrades = append(s.upgrades, session)
	return s.err
}

func (s *stubSubscriptions) HandleCancellation(ctx context.Context, sub *stripe.Subscription) error {
	s.cancellations = append(s.cancellations, sub)
	return s.err
}

func (s *stubSubscriptions) HandleInvoicePaid(ctx context.Context, invoice *stripe.Invoice) error {
	s.invoicesPaid = append(s.invoicesPaid, invoice)
	return s.err
}

func (s *stubSubscriptions) HandleInvoiceFailed(ctx context.Context, invoice *stripe.Invoice) error {
	s.invoicesFail = append(s.invoicesFail, invoice)
	return s.err
}

func (s *stubSubscriptions) HandleSetupCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	s.setups = append(s.setups, session)
	return s.err
}

type stubGuard struct {
	seen     map[string]bool
	deleted  []string
	checkErr error
}

func newStubGuard() *stubGuard {
	return &stubGuard{seen: map[string]bool{}}
}

func (g *stubGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if g.checkErr != nil {
		return false, g.checkErr
	}
	if g.seen[eventID] {
		return true, nil
	}
	g.seen[eventID] = true
	return false, nil
}

func (g *stubGuard) Delete(ctx context.Context, eventID string) error {
	g.deleted = append(g.deleted, eventID)
	delete(g.seen, eventID)
	return nil
}

func newTestService(t *testing.T, bookings *stubBookings, subs *stubSubscriptions, guard *stubGuard) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Bookings:      bookings,
		Subscriptions: subs,
		Guard:         guard,
	})
	require.NoError(t, err)
	return svc
}

func eventOf(t *testing.T, id string, eventType stripe.EventType, payload any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   id,
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventRoutesCheckoutModes(t *testing.T) {
	tests := []struct {
		name    string
		session stripe.CheckoutSession
		check   func(t *testing.T, bookings *stubBookings, subs *stubSubscriptions)
	}{
		{
			name:    "subscription mode",
			session: stripe.CheckoutSession{ID: "cs_1", Mode: stripe.CheckoutSessionModeSubscription},
			check: func(t *testing.T, bookings *stubBookings, subs *stubSubscriptions) {
				assert.Len(t, subs.checkouts, 1)
			},
		},
		{
			name:    "setup mode",
			session: stripe.CheckoutSession{ID: "cs_2", Mode: stripe.CheckoutSessionModeSetup},
			check: func(t *testing.T, bookings *stubBookings, subs *stubSubscriptions) {
				assert.Len(t, subs.setups, 1)
			},
		},
		{
			name: "upgrade flag",
			session: stripe.CheckoutSession{
				ID:       "cs_3",
				Mode:     stripe.CheckoutSessionModePayment,
				Metadata: map[string]string{"isUpgrade": "true"},
			},
			check: func(t *testing.T, bookings *stubBookings, subs *stubSubscriptions) {
				assert.Len(t, subs.upgrades, 1)
			},
		},
		{
			name:    "booking payment",
			session: stripe.CheckoutSession{ID: "cs_4", Mode: stripe.CheckoutSessionModePayment},
			check: func(t *testing.T, bookings *stubBookings, subs *stubSubscriptions) {
				assert.Len(t, bookings.sessions, 1)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bookings := &stubBookings{}
			subs := &stubSubscriptions{}
			svc := newTestService(t, bookings, subs, newStubGuard())

			event := eventOf(t, "evt_"+tc.session.ID, stripe.EventTypeCheckoutSessionCompleted, tc.session)
			outcome, err := svc.HandleEvent(context.Background(), event)
			require.NoError(t, err)
			assert.Equal(t, OutcomeProcessed, outcome)
			tc.check(t, bookings, subs)
		})
	}
}

func TestHandleEventRoutesSubscriptionLifecycle(t *testing.T) {
	bookings := &stubBookings{}
	subs := &stubSubscriptions{}
	svc := newTestService(t, bookings, subs, newStubGuard())
	ctx := context.Background()

	created := eventOf(t, "evt_1", stripe.EventTypeCustomerSubscriptionCreated, stripe.Subscription{ID: "sub_1"})
	_, err := svc.HandleEvent(ctx, created)
	require.NoError(t, err)
	assert.Len(t, subs.activations, 1)

	updatedPlain := eventOf(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, stripe.Subscription{ID: "sub_1"})
	_, err = svc.HandleEvent(ctx, updatedPlain)
	require.NoError(t, err)
	assert.Empty(t, subs.upgradeSyncs)

	updatedUpgrade := eventOf(t, "evt_3", stripe.EventTypeCustomerSubscriptionUpdated, stripe.Subscription{
		ID:       "sub_1",
		Metadata: map[string]string{"upgradedAt": "2024-03-01T12:00:00Z"},
	})
	_, err = svc.HandleEvent(ctx, updatedUpgrade)
	require.NoError(t, err)
	assert.Len(t, subs.upgradeSyncs, 1)

	deleted := eventOf(t, "evt_4", stripe.EventTypeCustomerSubscriptionDeleted, stripe.Subscription{ID: "sub_1"})
	_, err = svc.HandleEvent(ctx, deleted)
	require.NoError(t, err)
	assert.Len(t, subs.cancellations, 1)
}

func TestHandleEventRoutesInvoices(t *testing.T) {
	subs := &stubSubscriptions{}
	svc := newTestService(t, &stubBookings{}, subs, newStubGuard())
	ctx := context.Background()

	paid := eventOf(t, "evt_5", stripe.EventTypeInvoicePaymentSucceeded, stripe.Invoice{
		Metadata: map[string]string{"subscription_id": "sub_1"},
	})
	_, err := svc.HandleEvent(ctx, paid)
	require.NoError(t, err)
	require.Len(t, subs.invoicesPaid, 1)
	assert.Equal(t, "sub_1", subs.invoicesPaid[0].Metadata["subscription_id"])

	failed := eventOf(t, "evt_6", stripe.EventTypeInvoicePaymentFailed, stripe.Invoice{
		Metadata: map[string]string{"subscription_id": "sub_1"},
	})
	_, err = svc.HandleEvent(ctx, failed)
	require.NoError(t, err)
	assert.Len(t, subs.invoicesFail, 1)
}

func TestHandleEventBackfillsInvoiceSubscriptionID(t *testing.T) {
	subs := &stubSubscriptions{}
	svc := newTestService(t, &stubBookings{}, subs, newStubGuard())

	event := eventOf(t, "evt_7", stripe.EventTypeInvoicePaymentSucceeded, stripe.Invoice{})
	event.Data.Object = map[string]any{"subscription": "sub_obj"}

	_, err := svc.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, subs.invoicesPaid, 1)
	assert.Equal(t, "sub_obj", subs.invoicesPaid[0].Metadata["subscription_id"])
}

func TestHandleEventUnknownTypeIsAcknowledged(t *testing.T) {
	bookings := &stubBookings{}
	subs := &stubSubscriptions{}
	svc := newTestService(t, bookings, subs, newStubGuard())

	event := eventOf(t, "evt_8", "charge.refunded", map[string]string{})
	outcome, err := svc.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Empty(t, bookings.sessions)
	assert.Empty(t, subs.activations)
}

func TestHandleEventSkipsDuplicates(t *testing.T) {
	bookings := &stubBookings{}
	svc := newTestService(t, bookings, &stubSubscriptions{}, newStubGuard())
	ctx := context.Background()

	event := eventOf(t, "evt_dup", stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:   "cs_dup",
		Mode: stripe.CheckoutSessionModePayment,
	})

	outcome, err := svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	outcome, err = svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Len(t, bookings.sessions, 1)
}

func TestHandleEventDropsValidationFailures(t *testing.T) {
	bookings := &stubBookings{err: pkgerrors.New(pkgerrors.CodeValidation, "metadata missing")}
	guard := newStubGuard()
	svc := newTestService(t, bookings, &stubSubscriptions{}, guard)

	event := eventOf(t, "evt_bad", stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:   "cs_bad",
		Mode: stripe.CheckoutSessionModePayment,
	})

	outcome, err := svc.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
	// The event stays marked: Stripe retries cannot fix stale metadata.
	assert.Empty(t, guard.deleted)
}

func TestHandleEventUnmarksOnDependencyFailure(t *testing.T) {
	bookings := &stubBookings{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "create booking")}
	guard := newStubGuard()
	svc := newTestService(t, bookings, &stubSubscriptions{}, guard)

	event := eventOf(t, "evt_fail", stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:   "cs_fail",
		Mode: stripe.CheckoutSessionModePayment,
	})

	outcome, err := svc.HandleEvent(context.Background(), event)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{"evt_fail"}, guard.deleted)
}
