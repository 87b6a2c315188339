package payment

import (
	"context"
	"net/netip"
	"strconv"
	"testing"

	"storefront-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransitioner struct {
	applied   bool
	err       error
	calls     int
	lastOrder int64
	lastTo    string
}

func (f *fakeTransitioner) TransitionOrderStatus(_ context.Context, orderID int64, status string) (bool, error) {
	f.calls++
	f.lastOrder = orderID
	f.lastTo = status
	return f.applied, f.err
}

type fakePublisher struct {
	events []*models.OrderStatusChangedEvent
}

func (f *fakePublisher) PublishOrderStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	f.events = append(f.events, event)
	return nil
}

var providerIP = netip.MustParseAddr("91.194.226.10")

func testReconciler(t *testing.T, store *fakeTransitioner, pub *fakePublisher) *Reconciler {
	t.Helper()
	r, err := NewReconciler(ReconcilerConfig{
		TerminalKey: "terminal-1",
		SecretKey:   "secret-1",
		VerifyToken: true,
	}, store, pub)
	require.NoError(t, err)
	return r
}

func signedNotification(status string, success bool) *Notification {
	notif := &Notification{
		TerminalKey: "terminal-1",
		Amount:      54990,
		OrderID:     42,
		Success:     success,
		Status:      status,
		PaymentID:   9001,
		CardID:      7,
	}
	notif.Token = signToken(map[string]string{
		"TerminalKey": notif.TerminalKey,
		"Amount":      strconv.FormatInt(notif.Amount, 10),
		"OrderId":     strconv.FormatInt(notif.OrderID, 10),
		"Success":     strconv.FormatBool(notif.Success),
		"Status":      notif.Status,
		"PaymentId":   strconv.FormatInt(notif.PaymentID, 10),
		"CardId":      strconv.FormatInt(notif.CardID, 10),
	}, "secret-1")
	return notif
}

func TestHandleConfirmedMarksOrderPaid(t *testing.T) {
	store := &fakeTransitioner{applied: true}
	pub := &fakePublisher{}
	r := testReconciler(t, store, pub)

	applied, err := r.Handle(context.Background(), signedNotification(StatusConfirmed, true), providerIP)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(42), store.lastOrder)
	assert.Equal(t, models.OrderStatusPaid, store.lastTo)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.OrderStatusPaid, pub.events[0].Status)
	assert.NotEmpty(t, pub.events[0].ProviderPayload)
}

func TestHandleRefundStatusesCancelOrder(t *testing.T) {
	for _, status := range []string{
		StatusRejected, StatusReversed, StatusPartialReversed,
		StatusRefunded, StatusPartialRefunded, StatusDeadlineExpired,
	} {
		store := &fakeTransitioner{applied: true}
		r := testReconciler(t, store, &fakePublisher{})

		applied, err := r.Handle(context.Background(), signedNotification(status, true), providerIP)
		require.NoError(t, err, status)
		assert.True(t, applied, status)
		assert.Equal(t, models.OrderStatusCancelled, store.lastTo, status)
	}
}

func TestHandleIntermediateStatusIsAckedWithoutTransition(t *testing.T) {
	store := &fakeTransitioner{}
	pub := &fakePublisher{}
	r := testReconciler(t, store, pub)

	applied, err := r.Handle(context.Background(), signedNotification("AUTHORIZED", true), providerIP)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, store.calls)
	assert.Empty(t, pub.events)
}

func TestHandleStaleNotificationIsAcked(t *testing.T) {
	// A CONFIRMED arriving after the order was already cancelled must be
	// acknowledged so the provider stops retrying, but apply nothing.
	store := &fakeTransitioner{applied: false}
	pub := &fakePublisher{}
	r := testReconciler(t, store, pub)

	applied, err := r.Handle(context.Background(), signedNotification(StatusConfirmed, true), providerIP)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, pub.events)
}

func TestHandleRepeatedConfirmedIsIdempotent(t *testing.T) {
	store := &fakeTransitioner{applied: true}
	pub := &fakePublisher{}
	r := testReconciler(t, store, pub)

	notif := signedNotification(StatusConfirmed, true)
	_, err := r.Handle(context.Background(), notif, providerIP)
	require.NoError(t, err)

	// The guarded update reports no change on replay.
	store.applied = false
	applied, err := r.Handle(context.Background(), notif, providerIP)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, pub.events, 1)
}

func TestHandleRejectsForeignTerminal(t *testing.T) {
	store := &fakeTransitioner{}
	r := testReconciler(t, store, &fakePublisher{})

	notif := signedNotification(StatusConfirmed, true)
	notif.TerminalKey = "other-terminal"

	_, err := r.Handle(context.Background(), notif, providerIP)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Zero(t, store.calls)
}

func TestHandleRejectsUnknownSource(t *testing.T) {
	store := &fakeTransitioner{}
	r := testReconciler(t, store, &fakePublisher{})

	_, err := r.Handle(context.Background(), signedNotification(StatusConfirmed, true),
		netip.MustParseAddr("203.0.113.5"))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Zero(t, store.calls)
}

func TestHandleRejectsBadToken(t *testing.T) {
	store := &fakeTransitioner{}
	r := testReconciler(t, store, &fakePublisher{})

	notif := signedNotification(StatusConfirmed, true)
	notif.Token = "deadbeef"

	_, err := r.Handle(context.Background(), notif, providerIP)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Zero(t, store.calls)
}

func TestHandleSkipsTokenCheckWhenDisabled(t *testing.T) {
	store := &fakeTransitioner{applied: true}
	r, err := NewReconciler(ReconcilerConfig{
		TerminalKey: "terminal-1",
		SecretKey:   "secret-1",
		VerifyToken: false,
	}, store, &fakePublisher{})
	require.NoError(t, err)

	notif := signedNotification(StatusConfirmed, true)
	notif.Token = ""

	applied, err := r.Handle(context.Background(), notif, providerIP)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestHandleCustomAllowedNets(t *testing.T) {
	store := &fakeTransitioner{applied: true}
	r, err := NewReconciler(ReconcilerConfig{
		TerminalKey: "terminal-1",
		SecretKey:   "secret-1",
		VerifyToken: true,
		AllowedNets: []string{"10.0.0.0/8"},
	}, store, &fakePublisher{})
	require.NoError(t, err)

	_, err = r.Handle(context.Background(), signedNotification(StatusConfirmed, true), providerIP)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	applied, err := r.Handle(context.Background(), signedNotification(StatusConfirmed, true),
		netip.MustParseAddr("10.1.2.3"))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestNewReconcilerRejectsBadCIDR(t *testing.T) {
	_, err := NewReconciler(ReconcilerConfig{
		TerminalKey: "terminal-1",
		SecretKey:   "secret-1",
		AllowedNets: []string{"not-a-cidr"},
	}, &fakeTransitioner{}, &fakePublisher{})
	assert.Error(t, err)
}

func TestOrderStatusForRequiresSuccessOnConfirmed(t *testing.T) {
	_, ok := orderStatusFor(StatusConfirmed, false)
	assert.False(t, ok)

	target, ok := orderStatusFor(StatusConfirmed, true)
	assert.True(t, ok)
	assert.Equal(t, models.OrderStatusPaid, target)
}
