package payment

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/domain"
	"github.com/narvaro/busline/internal/gateway"
	"github.com/narvaro/busline/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakePayments struct {
	rows map[uuid.UUID]*domain.Payment
}

func newFakePayments(ps ...*domain.Payment) *fakePayments {
	f := &fakePayments{rows: make(map[uuid.UUID]*domain.Payment)}
	for _, p := range ps {
		cp := *p
		f.rows[p.ID] = &cp
	}
	return f
}

func (f *fakePayments) Create(_ context.Context, p *domain.Payment) error {
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakePayments) GetByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePayments) MarkCompleted(_ context.Context, id uuid.UUID, externalRef string) error {
	p, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Status != domain.PaymentInitiated {
		return repository.ErrAlreadyProcessed
	}
	p.Status = domain.PaymentCompleted
	p.TransactionID = externalRef
	return nil
}

func (f *fakePayments) MarkFailed(_ context.Context, id uuid.UUID) error {
	p, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Status != domain.PaymentInitiated {
		return repository.ErrAlreadyProcessed
	}
	p.Status = domain.PaymentFailed
	return nil
}

func (f *fakePayments) HasCompletedForBooking(_ context.Context, bookingID uuid.UUID) (bool, error) {
	for _, p := range f.rows {
		if p.BookingID == bookingID && p.Status == domain.PaymentCompleted {
			return true, nil
		}
	}
	return false, nil
}

type fakeBookings struct {
	rows       map[uuid.UUID]*domain.Booking
	paymentIDs map[uuid.UUID]uuid.UUID
}

func newFakeBookings(bs ...*domain.Booking) *fakeBookings {
	f := &fakeBookings{
		rows:       make(map[uuid.UUID]*domain.Booking),
		paymentIDs: make(map[uuid.UUID]uuid.UUID),
	}
	for _, b := range bs {
		cp := *b
		f.rows[b.ID] = &cp
	}
	return f
}

func (f *fakeBookings) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) SetPaymentID(_ context.Context, id, paymentID uuid.UUID) error {
	f.paymentIDs[id] = paymentID
	return nil
}

type fakeConfirmer struct {
	confirmed []uuid.UUID
	err       error
}

func (f *fakeConfirmer) Confirm(_ context.Context, bookingID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.confirmed = append(f.confirmed, bookingID)
	return nil
}

type fakeGateway struct {
	provider    domain.GatewayProvider
	initiateErr error
	verifyRes   *gateway.VerifyResult
	verifyErr   error
	verified    []string
}

func (g *fakeGateway) Provider() domain.GatewayProvider { return g.provider }

func (g *fakeGateway) Initiate(_ context.Context, _ *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &gateway.InitiateResult{RedirectURL: "https://pay.example/redirect"}, nil
}

func (g *fakeGateway) Verify(_ context.Context, correlationID string) (*gateway.VerifyResult, error) {
	g.verified = append(g.verified, correlationID)
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyRes, nil
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingBooking(userID int64, totalCents int) *domain.Booking {
	return &domain.Booking{
		ID:         uuid.New(),
		UserID:     userID,
		BusID:      1,
		TotalCents: totalCents,
		Status:     domain.BookingPending,
	}
}

func initiatedPayment(b *domain.Booking, provider domain.GatewayProvider) *domain.Payment {
	return &domain.Payment{
		ID:          uuid.New(),
		UserID:      b.UserID,
		BookingID:   b.ID,
		AmountCents: b.TotalCents,
		Gateway:     provider,
		Status:      domain.PaymentInitiated,
	}
}

func newService(
	payments *fakePayments,
	bookings *fakeBookings,
	confirmer *fakeConfirmer,
	gws ...gateway.Gateway,
) *Service {
	return New(payments, bookings, confirmer, gateway.NewRegistry(gws...), testLogger(), Config{})
}

// --- Initiate ---

func TestInitiate_CreatesPaymentAndReturnsRedirect(t *testing.T) {
	b := pendingBooking(7, 4500)
	payments := newFakePayments()
	bookings := newFakeBookings(b)
	gw := &fakeGateway{provider: domain.GatewaySwiftPay}

	svc := newService(payments, bookings, &fakeConfirmer{}, gw)

	h, err := svc.Initiate(context.Background(), 7, b.ID, domain.GatewaySwiftPay)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/redirect", h.RedirectURL)

	p, err := payments.GetByID(context.Background(), h.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, p.Status)
	assert.Equal(t, 4500, p.AmountCents)
	assert.Equal(t, h.PaymentID, bookings.paymentIDs[b.ID])
}

func TestInitiate_RejectsForeignBooking(t *testing.T) {
	b := pendingBooking(7, 4500)
	svc := newService(newFakePayments(), newFakeBookings(b), &fakeConfirmer{},
		&fakeGateway{provider: domain.GatewaySwiftPay})

	_, err := svc.Initiate(context.Background(), 99, b.ID, domain.GatewaySwiftPay)
	assert.ErrorIs(t, err, ErrInvalidBooking)
}

func TestInitiate_RejectsNonPendingBooking(t *testing.T) {
	b := pendingBooking(7, 4500)
	b.Status = domain.BookingConfirmed
	svc := newService(newFakePayments(), newFakeBookings(b), &fakeConfirmer{},
		&fakeGateway{provider: domain.GatewaySwiftPay})

	_, err := svc.Initiate(context.Background(), 7, b.ID, domain.GatewaySwiftPay)
	assert.ErrorIs(t, err, ErrInvalidBooking)
}

func TestInitiate_UnknownBooking(t *testing.T) {
	svc := newService(newFakePayments(), newFakeBookings(), &fakeConfirmer{},
		&fakeGateway{provider: domain.GatewaySwiftPay})

	_, err := svc.Initiate(context.Background(), 7, uuid.New(), domain.GatewaySwiftPay)
	assert.ErrorIs(t, err, ErrInvalidBooking)
}

func TestInitiate_UnsupportedGateway(t *testing.T) {
	b := pendingBooking(7, 4500)
	svc := newService(newFakePayments(), newFakeBookings(b), &fakeConfirmer{},
		&fakeGateway{provider: domain.GatewaySwiftPay})

	_, err := svc.Initiate(context.Background(), 7, b.ID, domain.GatewayProvider("cashapp"))
	assert.ErrorIs(t, err, ErrUnsupportedGateway)
}

func TestInitiate_GatewayDownFailsPayment(t *testing.T) {
	b := pendingBooking(7, 4500)
	payments := newFakePayments()
	gw := &fakeGateway{provider: domain.GatewaySwiftPay, initiateErr: gateway.ErrUnreachable}

	svc := newService(payments, newFakeBookings(b), &fakeConfirmer{}, gw)

	_, err := svc.Initiate(context.Background(), 7, b.ID, domain.GatewaySwiftPay)
	assert.ErrorIs(t, err, ErrGatewayUnreachable)

	for _, p := range payments.rows {
		assert.Equal(t, domain.PaymentFailed, p.Status)
	}
}

// --- Reconcile ---

func TestReconcile_ConfirmsBookingOnVerifiedSuccess(t *testing.T) {
	b := pendingBooking(7, 4500)
	p := initiatedPayment(b, domain.GatewaySwiftPay)
	payments := newFakePayments(p)
	confirmer := &fakeConfirmer{}
	gw := &fakeGateway{
		provider: domain.GatewaySwiftPay,
		verifyRes: &gateway.VerifyResult{
			Succeeded:   true,
			Amount:      decimal.New(4500, -2),
			ExternalRef: "ext-1",
		},
	}

	svc := newService(payments, newFakeBookings(b), confirmer, gw)

	outcome, err := svc.Reconcile(context.Background(), domain.GatewaySwiftPay, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Equal(t, []uuid.UUID{b.ID}, confirmer.confirmed)

	got, _ := payments.GetByID(context.Background(), p.ID)
	assert.Equal(t, domain.PaymentCompleted, got.Status)
	assert.Equal(t, "ext-1", got.TransactionID)
}

func TestReconcile_UnknownCorrelationID(t *testing.T) {
	svc := newService(newFakePayments(), newFakeBookings(), &fakeConfirmer{},
		&fakeGateway{provider: domain.GatewaySwiftPay})

	_, err := svc.Reconcile(context.Background(), domain.GatewaySwiftPay, uuid.New())
	assert.ErrorIs(t, err, ErrUnknownPayment)
}

func TestReconcile_RejectsWrongProvider(t *testing.T) {
	b := pendingBooking(7, 4500)
	p := initiatedPayment(b, domain.GatewaySwiftPay)
	gw := &fakeGateway{provider: domain.GatewayTransPay}

	svc := newService(newFakePayments(p), newFakeBookings(b), &fakeConfirmer{}, gw)

	// a swiftpay correlation ID arriving on the transpay callback
	_, err := svc.Reconcile(context.Background(), domain.GatewayTransPay, p.ID)
	assert.ErrorIs(t, err, ErrUnknownPayment)
	assert.Empty(t, gw.verified, "no verification round trip for a mismatched provider")
}

func TestReconcile_ReplayOfCompletedPaymentIsNoOp(t *testing.T) {
	b := pendingBooking(7, 4500)
	p := initiatedPayment(b, domain.GatewaySwiftPay)
	p.Status = domain.PaymentCompleted
	confirmer := &fakeConfirmer{}
	gw := &fakeGateway{provider: domain.GatewaySwiftPay}

	svc := newService(newFakePayments(p), newFakeBookings(b), confirmer, gw)

	outcome, err := svc.Reconcile(context.Background(), domain.GatewaySwiftPay, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, outcome)
	assert.Empty(t, confirmer.confirmed)
	assert.Empty(t, gw.verified, "replay must not trigger another verification")
}

func TestReconcile_UnreachableGatewayLeavesStateUntouched(t *testing.T) {
	b := pendingBooking(7, 4500)
	p := initiatedPayment(b, domain.GatewaySwiftPay)
	payments := newFakePayments(p)
	gw := &fakeGateway{provider: domain.GatewaySwiftPay, verifyErr: gateway.ErrUnreachable}

	svc := newService(payments, newFakeBookings(b), &fakeConfirmer{}, gw)

	_, err := svc.Reconcile(context.Background(), domain.GatewaySwiftPay, p.ID)
	assert.ErrorIs(t, err, ErrGatewayUnreachable)

	got, _ := payments.GetByID(context.Background(), p.ID)
	assert.Equal(t, domain.PaymentInitiated, got.Status, "retryable failure must not burn the payment")
}

func TestReconcile_VerifiedFailureFailsPaymentOnly(t *testing.T) {
	b := pendingBooking(7, 4500)
	p := initiatedPayment(b, domain.GatewaySwiftPay)
	payments := newFakePayments(p)
	confirmer := &fakeConfirmer{}
	gw := &fakeGateway{
		provider:  domain.GatewaySwiftPay,
		verifyRes: &gateway.VerifyResult{Succeeded: false},
	}

	svc := newService(payments, newFakeBookings(b), confirmer, gw)

	outcome, err := svc.Reconcile(context.Background(), domain.GatewaySwiftPay, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, confirmer.confirmed)

	got, _ := payments.GetByID(context.Background(), p.ID)
	assert.Equal(t, domain.PaymentFailed, got.Status)
}

func TestReconcile_AmountMismatchFailsClosed(t *testing.T) {
	b := pendingBooking(7, 4500)
	p := initiatedPayment(b, domain.GatewaySwiftPay)
	payments := newFakePayments(p)
	confirmer := &fakeConfirmer{}
	gw := &fakeGateway{
		provider: domain.GatewaySwiftPay,
		verifyRes: &gateway.VerifyResult{
			Succeeded: true,
			Amount:    decimal.New(100, -2), // paid 1.00 for a 45.00 booking
		},
	}

	svc := newService(payments, newFakeBookings(b), confirmer, gw)

	_, err := svc.Reconcile(context.Background(), domain.GatewaySwiftPay, p.ID)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Empty(t, confirmer.confirmed, "booking must never confirm on a mismatched amount")

	got, _ := payments.GetByID(context.Background(), p.ID)
	assert.Equal(t, domain.PaymentFailed, got.Status)
}

func TestReconcile_SecondCompletedPaymentForSameBooking(t *testing.T) {
	b := pendingBooking(7, 4500)
	done := initiatedPayment(b, domain.GatewaySwiftPay)
	done.Status = domain.PaymentCompleted
	second := initiatedPayment(b, domain.GatewaySwiftPay)
	payments := newFakePayments(done, second)
	confirmer := &fakeConfirmer{}
	gw := &fakeGateway{
		provider: domain.GatewaySwiftPay,
		verifyRes: &gateway.VerifyResult{
			Succeeded: true,
			Amount:    decimal.New(4500, -2),
		},
	}

	svc := newService(payments, newFakeBookings(b), confirmer, gw)

	outcome, err := svc.Reconcile(context.Background(), domain.GatewaySwiftPay, second.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, outcome)
	assert.Empty(t, confirmer.confirmed)
}
