package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSubStore struct {
	mu      sync.Mutex
	nextID  uint
	byExtID map[string]*models.Subscriber
	creates int
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{byExtID: make(map[string]*models.Subscriber)}
}

func (f *fakeSubStore) GetByExternalUserID(externalUserID string) (*models.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byExtID[externalUserID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeSubStore) Create(sub *models.Subscriber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.nextID++
	sub.ID = f.nextID
	cp := *sub
	f.byExtID[sub.ExternalUserID] = &cp
	return nil
}

type fakeMemberships struct {
	byExtID map[string]*models.Membership
	upserts int
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{byExtID: make(map[string]*models.Membership)}
}

func (f *fakeMemberships) Upsert(m *models.Membership) error {
	f.upserts++
	cp := *m
	f.byExtID[m.ExternalMembershipID] = &cp
	return nil
}

func (f *fakeMemberships) GetByExternalID(id string) (*models.Membership, error) {
	m, ok := f.byExtID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMemberships) ListBySubscriber(subscriberID uint) ([]models.Membership, error) {
	var out []models.Membership
	for _, m := range f.byExtID {
		if m.SubscriberID == subscriberID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMemberships) InvalidateByCompany(externalCompanyID string, canceledAt time.Time) (int64, error) {
	var n int64
	for _, m := range f.byExtID {
		if m.ExternalCompanyID == externalCompanyID && m.Status == models.MembershipStatusValid {
			m.Status = models.MembershipStatusInvalid
			at := canceledAt
			m.CanceledAt = &at
			n++
		}
	}
	return n, nil
}

type fakePayments struct {
	byExtID map[string]*models.Payment
}

func newFakePayments() *fakePayments {
	return &fakePayments{byExtID: make(map[string]*models.Payment)}
}

func (f *fakePayments) UpsertByExternalID(p *models.Payment) (bool, error) {
	if _, ok := f.byExtID[p.ExternalPaymentID]; ok {
		return false, nil
	}
	cp := *p
	f.byExtID[p.ExternalPaymentID] = &cp
	return true, nil
}

func (f *fakePayments) ListBySubscriber(subscriberID uint) ([]models.Payment, error) {
	return nil, nil
}

type fakeCompanies struct {
	byExtID map[string]*models.Company
}

func newFakeCompanies() *fakeCompanies {
	return &fakeCompanies{byExtID: make(map[string]*models.Company)}
}

func (f *fakeCompanies) Upsert(c *models.Company) error {
	cp := *c
	f.byExtID[c.ExternalCompanyID] = &cp
	return nil
}

func (f *fakeCompanies) GetByExternalID(id string) (*models.Company, error) {
	c, ok := f.byExtID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCompanies) MarkUninstalled(id string, at time.Time) error {
	c, ok := f.byExtID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t := at
	c.UninstalledAt = &t
	return nil
}

type fakeEvents struct {
	nextID  uint
	byKey   map[string]*models.WebhookEvent
	creates int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{byKey: make(map[string]*models.WebhookEvent)}
}

func (f *fakeEvents) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := f.byKey[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	f.creates++
	f.nextID++
	event.ID = f.nextID
	cp := *event
	f.byKey[key] = &cp
	out := cp
	return true, &out, nil
}

func (f *fakeEvents) MarkProcessed(id uint, processingError string) error {
	for _, ev := range f.byKey {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type fakeFetcher struct {
	membership *WhopMembership
	err        error
	calls      int

	order      *WhopOrder
	orderErr   error
	orderCalls int
}

func (f *fakeFetcher) GetMembership(ctx context.Context, membershipID string) (*WhopMembership, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.membership, nil
}

func (f *fakeFetcher) GetOrder(ctx context.Context, orderID string) (*WhopOrder, error) {
	f.orderCalls++
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	if f.order == nil {
		return nil, ErrNotFound
	}
	return f.order, nil
}

type applierFixture struct {
	applier     *Applier
	subs        *fakeSubStore
	memberships *fakeMemberships
	payments    *fakePayments
	companies   *fakeCompanies
	events      *fakeEvents
	fetcher     *fakeFetcher
}

func newApplierFixture(secret string) *applierFixture {
	fx := &applierFixture{
		subs:        newFakeSubStore(),
		memberships: newFakeMemberships(),
		payments:    newFakePayments(),
		companies:   newFakeCompanies(),
		events:      newFakeEvents(),
		fetcher:     &fakeFetcher{},
	}
	fx.applier = NewApplier(secret, fx.fetcher, fx.subs, fx.memberships, fx.payments, fx.companies, fx.events)
	fx.applier.now = func() time.Time {
		return time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)
	}
	return fx
}

func TestApplyRejectsBadSignature(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	payload := []byte(`{"action":"membership.went_valid","id":"evt_1","data":{"id":"mem_1","user_id":"u_1"}}`)

	_, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "wrong_secret"))
	assert.ErrorIs(t, err, ErrBadSignature)

	// A rejected delivery must leave no trace anywhere.
	assert.Zero(t, fx.events.creates)
	assert.Zero(t, fx.subs.creates)
	assert.Zero(t, fx.memberships.upserts)
}

func TestApplyMembershipActivatedUsesCanonicalDetails(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	expires := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	fx.fetcher.membership = &WhopMembership{
		ID:           "mem_1",
		UserID:       "u_canonical",
		AccessPassID: "pass_pro",
		CompanyID:    "biz_1",
		Valid:        true,
		ExpiresAt:    &expires,
	}
	payload := []byte(`{"action":"membership.went_valid","id":"evt_1","data":{"id":"mem_1","user_id":"u_webhook"}}`)

	res, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "whsec_1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, EventMembershipActivated, res.Kind)
	assert.False(t, res.Duplicate)

	assert.Equal(t, 1, fx.fetcher.calls)

	// The API response wins over the webhook-embedded user id.
	sub, err := fx.subs.GetByExternalUserID("u_canonical")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), sub.ResetDate)
	assert.Nil(t, sub.Tier)

	m, err := fx.memberships.GetByExternalID("mem_1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, m.SubscriberID)
	assert.Equal(t, models.MembershipStatusValid, m.Status)
	assert.Equal(t, "pass_pro", m.AccessPassID)
	assert.Equal(t, "biz_1", m.ExternalCompanyID)
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, expires, *m.ExpiresAt)
}

func TestApplyMembershipActivatedFallsBackToWebhookFields(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	fx.fetcher.err = errors.New("api down")
	payload := []byte(`{"action":"membership.went_valid","id":"evt_1","data":{"id":"mem_2","user_id":"u_2","company_id":"biz_2","plan_id":"pass_starter"}}`)

	_, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "whsec_1"))
	require.NoError(t, err)

	m, err := fx.memberships.GetByExternalID("mem_2")
	require.NoError(t, err)
	assert.Equal(t, "biz_2", m.ExternalCompanyID)
	assert.Equal(t, "pass_starter", m.AccessPassID)
	assert.Equal(t, models.MembershipStatusValid, m.Status)
}

func TestApplyReplayedDeliveryIsIdempotent(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	fx.fetcher.membership = &WhopMembership{ID: "mem_1", UserID: "u_1"}
	payload := []byte(`{"action":"membership.went_valid","id":"evt_dup","data":{"id":"mem_1","user_id":"u_1"}}`)
	sig := signPayload(payload, "whsec_1")

	first, err := fx.applier.Apply(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := fx.applier.Apply(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, second.Accepted)
	assert.True(t, second.Duplicate)

	// The replay must not run the handler again.
	assert.Equal(t, 1, fx.fetcher.calls)
	assert.Equal(t, 1, fx.memberships.upserts)
	assert.Equal(t, 1, fx.events.creates)
}

func TestApplyMembershipDeactivated(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	require.NoError(t, fx.memberships.Upsert(&models.Membership{
		ExternalMembershipID: "mem_1",
		SubscriberID:         7,
		ExternalCompanyID:    "biz_1",
		Status:               models.MembershipStatusValid,
	}))
	payload := []byte(`{"action":"membership.went_invalid","id":"evt_1","data":{"id":"mem_1"}}`)

	_, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "whsec_1"))
	require.NoError(t, err)

	m, err := fx.memberships.GetByExternalID("mem_1")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipStatusInvalid, m.Status)
	require.NotNil(t, m.CanceledAt)
	assert.Equal(t, uint(7), m.SubscriberID)
}

func TestApplyAppLifecycle(t *testing.T) {
	fx := newApplierFixture("whsec_1")

	install := []byte(`{"action":"app.installed","id":"evt_1","data":{"company_id":"biz_1"}}`)
	_, err := fx.applier.Apply(context.Background(), install, signPayload(install, "whsec_1"))
	require.NoError(t, err)

	c, err := fx.companies.GetByExternalID("biz_1")
	require.NoError(t, err)
	assert.Nil(t, c.UninstalledAt)

	require.NoError(t, fx.memberships.Upsert(&models.Membership{
		ExternalMembershipID: "mem_1",
		ExternalCompanyID:    "biz_1",
		Status:               models.MembershipStatusValid,
	}))
	require.NoError(t, fx.memberships.Upsert(&models.Membership{
		ExternalMembershipID: "mem_other",
		ExternalCompanyID:    "biz_2",
		Status:               models.MembershipStatusValid,
	}))

	uninstall := []byte(`{"action":"app.uninstalled","id":"evt_2","data":{"company_id":"biz_1"}}`)
	_, err = fx.applier.Apply(context.Background(), uninstall, signPayload(uninstall, "whsec_1"))
	require.NoError(t, err)

	c, err = fx.companies.GetByExternalID("biz_1")
	require.NoError(t, err)
	assert.NotNil(t, c.UninstalledAt)

	m, _ := fx.memberships.GetByExternalID("mem_1")
	assert.Equal(t, models.MembershipStatusInvalid, m.Status)
	other, _ := fx.memberships.GetByExternalID("mem_other")
	assert.Equal(t, models.MembershipStatusValid, other.Status)
}

func TestApplyPaymentCompleted(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	require.NoError(t, fx.subs.Create(&models.Subscriber{ExternalUserID: "u_1"}))
	payload := []byte(`{"action":"payment.succeeded","id":"evt_1","data":{"id":"pay_1","membership_id":"mem_1","user_id":"u_1","final_amount":9.99,"currency":"usd","payment_method":"card"}}`)

	res, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "whsec_1"))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentCompleted, res.Kind)
	assert.Equal(t, "u_1", res.UserID)

	p, ok := fx.payments.byExtID["pay_1"]
	require.True(t, ok)
	assert.Equal(t, int64(999), p.AmountCents)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, "mem_1", p.ExternalMembershipID)
	require.NotNil(t, p.SubscriberID)
	assert.Equal(t, uint(1), *p.SubscriberID)

	// Payment events never create subscriber rows, and a payload that already
	// carries the amount needs no order lookup.
	assert.Equal(t, 1, fx.subs.creates)
	assert.Zero(t, fx.fetcher.orderCalls)
}

func TestApplyPaymentFetchesOrderWhenAmountMissing(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	require.NoError(t, fx.subs.Create(&models.Subscriber{ExternalUserID: "u_3"}))
	fx.fetcher.order = &WhopOrder{
		ID:           "pay_3",
		UserID:       "u_3",
		AmountCents:  2499,
		Currency:     "usd",
		MembershipID: "mem_3",
	}
	payload := []byte(`{"action":"payment.succeeded","id":"evt_1","data":{"id":"pay_3"}}`)

	res, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "whsec_1"))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.orderCalls)
	assert.Equal(t, "u_3", res.UserID)

	p, ok := fx.payments.byExtID["pay_3"]
	require.True(t, ok)
	assert.Equal(t, int64(2499), p.AmountCents)
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, "mem_3", p.ExternalMembershipID)
	require.NotNil(t, p.SubscriberID)
}

func TestApplyPaymentFailed(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	payload := []byte(`{"action":"payment.failed","id":"evt_1","data":{"id":"pay_2","final_amount":9.99}}`)

	_, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "whsec_1"))
	require.NoError(t, err)

	p, ok := fx.payments.byExtID["pay_2"]
	require.True(t, ok)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Nil(t, p.SubscriberID)
}

func TestApplyUnhandledEventIsAcknowledged(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	payload := []byte(`{"action":"dispute.created","id":"evt_1","data":{"id":"pay_1"}}`)

	res, err := fx.applier.Apply(context.Background(), payload, signPayload(payload, "whsec_1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, EventUnhandled, res.Kind)

	// Acknowledged and recorded, but nothing applied.
	assert.Equal(t, 1, fx.events.creates)
	assert.Empty(t, fx.payments.byExtID)
	assert.Zero(t, fx.memberships.upserts)
}

func TestApplyWithoutEventIDDedupesOnPayloadHash(t *testing.T) {
	fx := newApplierFixture("whsec_1")
	fx.fetcher.membership = &WhopMembership{ID: "mem_1", UserID: "u_1"}
	payload := []byte(`{"action":"membership.went_valid","data":{"id":"mem_1","user_id":"u_1"}}`)
	sig := signPayload(payload, "whsec_1")

	_, err := fx.applier.Apply(context.Background(), payload, sig)
	require.NoError(t, err)
	second, err := fx.applier.Apply(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, fx.events.creates)
}
